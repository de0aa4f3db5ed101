package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/escolaplus/escola-api/internal/models"
)

func newEnrollmentRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestEnrollmentRepositoryExistsActiveForYear(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM enrollments WHERE student_id = $1 AND school_year = $2 AND status = $3`)).
		WithArgs("s1", 2025, models.EnrollmentStatusActive).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	exists, err := repo.ExistsActiveForYear(context.Background(), "s1", 2025)
	require.NoError(t, err)
	require.True(t, exists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryCreateFillsDefaults(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec(`INSERT INTO enrollments`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	enrollment := &models.Enrollment{
		StudentID:  "s1",
		SchoolYear: 2025,
		DueDay:     10,
		StartDate:  time.Date(2025, time.February, 15, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, repo.Create(context.Background(), enrollment))
	require.NotEmpty(t, enrollment.ID)
	require.Equal(t, models.EnrollmentStatusActive, enrollment.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryFindDetailJoinsStudent(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "student_id", "school_year", "annual_tuition", "registration_fee",
		"due_day", "start_date", "status", "created_at", "student_name", "student_ra",
	}).AddRow("e1", "s1", 2025, "12000.00", "1200.00", 10, now, models.EnrollmentStatusActive, now, "Alice", "RA100")
	mock.ExpectQuery(`SELECT e\.id, .+ FROM enrollments e\s+JOIN students s`).
		WithArgs("e1").
		WillReturnRows(rows)

	detail, err := repo.FindDetailByID(context.Background(), "e1")
	require.NoError(t, err)
	require.Equal(t, "Alice", detail.StudentName)
	require.Equal(t, "RA100", detail.StudentRA)
	require.NoError(t, mock.ExpectationsWereMet())
}
