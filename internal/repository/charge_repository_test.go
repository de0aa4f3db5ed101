package repository

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/escolaplus/escola-api/internal/models"
)

func newChargeRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestChargeRepositoryMarkPaidWinsOnOpenCharge(t *testing.T) {
	db, mock, cleanup := newChargeRepoMock(t)
	defer cleanup()
	repo := NewChargeRepository(db)

	paidDate := time.Date(2025, time.March, 12, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(`UPDATE charges SET status = .+ WHERE id = .+ AND status = .+`).
		WithArgs("c1", models.ChargeStatusPaid, decimal.RequireFromString("1080.67"), paidDate,
			61, decimal.RequireFromString("40.00"), decimal.RequireFromString("40.67"),
			sqlmock.AnyArg(), models.ChargeStatusOpen).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.MarkPaid(context.Background(), "c1", decimal.RequireFromString("1080.67"), paidDate,
		61, decimal.RequireFromString("40.00"), decimal.RequireFromString("40.67"))
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChargeRepositoryMarkPaidLosesWhenAlreadySettled(t *testing.T) {
	db, mock, cleanup := newChargeRepoMock(t)
	defer cleanup()
	repo := NewChargeRepository(db)

	mock.ExpectExec(`UPDATE charges SET status = .+ WHERE id = .+ AND status = .+`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.MarkPaid(context.Background(), "c1", decimal.Zero, time.Now().UTC(),
		0, decimal.Zero, decimal.Zero)
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChargeRepositoryUpdateStatusRequiresOpen(t *testing.T) {
	db, mock, cleanup := newChargeRepoMock(t)
	defer cleanup()
	repo := NewChargeRepository(db)

	mock.ExpectExec(`UPDATE charges SET status = .+ WHERE id = .+ AND status = .+`).
		WithArgs("c1", models.ChargeStatusCancelled, sqlmock.AnyArg(), models.ChargeStatusOpen).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.UpdateStatus(context.Background(), "c1", models.ChargeStatusCancelled)
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChargeRepositoryExistsInMonthScopedByKind(t *testing.T) {
	db, mock, cleanup := newChargeRepoMock(t)
	defer cleanup()
	repo := NewChargeRepository(db)

	dueDate := time.Date(2025, time.February, 10, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM charges`).
		WithArgs("e1", dueDate, models.ChargeStatusOpen, models.ChargeStatusPaid, "Installment%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	exists, err := repo.ExistsInMonth(context.Background(), "e1", dueDate, "Installment")
	require.NoError(t, err)
	require.True(t, exists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChargeRepositoryCreateFillsDefaults(t *testing.T) {
	db, mock, cleanup := newChargeRepoMock(t)
	defer cleanup()
	repo := NewChargeRepository(db)

	mock.ExpectExec(`INSERT INTO charges`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	charge := &models.Charge{
		EnrollmentID: "e1",
		BaseAmount:   decimal.RequireFromString("900.00"),
		DueDate:      time.Date(2025, time.February, 10, 0, 0, 0, 0, time.UTC),
		Description:  "Installment 1/12",
	}
	require.NoError(t, repo.Create(context.Background(), charge))
	require.NotEmpty(t, charge.ID)
	require.Equal(t, models.ChargeStatusOpen, charge.Status)
	require.False(t, charge.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChargeRepositoryListOverdueOpen(t *testing.T) {
	db, mock, cleanup := newChargeRepoMock(t)
	defer cleanup()
	repo := NewChargeRepository(db)

	asOf := time.Date(2025, time.March, 12, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"id", "enrollment_id", "base_amount", "due_date", "description", "status",
		"penalty_monthly", "penalty_daily", "days_late", "paid_amount", "paid_date",
		"created_at", "updated_at", "student_name", "student_ra",
	}).AddRow("c1", "e1", "1000.00", asOf.AddDate(0, -2, -2), "Installment 1/12", models.ChargeStatusOpen,
		"0.00", "0.00", 0, nil, nil, asOf, asOf, "Alice", "RA100")
	mock.ExpectQuery(`SELECT .+ FROM charges c\s+JOIN enrollments e`).
		WithArgs(models.ChargeStatusOpen, asOf).
		WillReturnRows(rows)

	charges, err := repo.ListOverdueOpen(context.Background(), asOf)
	require.NoError(t, err)
	require.Len(t, charges, 1)
	require.Equal(t, "RA100", charges[0].StudentRA)
	require.NoError(t, mock.ExpectationsWereMet())
}
