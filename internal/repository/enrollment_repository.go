package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/escolaplus/escola-api/internal/models"
)

// EnrollmentRepository handles persistence of annual tuition agreements.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// FindByID returns an enrollment by its ID.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	const query = `SELECT id, student_id, school_year, annual_tuition, registration_fee, due_day,
        start_date, status, created_at FROM enrollments WHERE id = $1`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindDetailByID returns an enrollment with the owning student attached.
func (r *EnrollmentRepository) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	const query = `SELECT e.id, e.student_id, e.school_year, e.annual_tuition, e.registration_fee,
        e.due_day, e.start_date, e.status, e.created_at,
        s.full_name AS student_name, s.ra AS student_ra
        FROM enrollments e
        JOIN students s ON s.id = e.student_id
        WHERE e.id = $1`
	var detail models.EnrollmentDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// ExistsActiveForYear checks if the student already holds an active agreement
// for the school year.
func (r *EnrollmentRepository) ExistsActiveForYear(ctx context.Context, studentID string, schoolYear int) (bool, error) {
	const query = `SELECT COUNT(*) FROM enrollments WHERE student_id = $1 AND school_year = $2 AND status = $3`
	var count int
	if err := r.db.GetContext(ctx, &count, query, studentID, schoolYear, models.EnrollmentStatusActive); err != nil {
		return false, fmt.Errorf("check active enrollment: %w", err)
	}
	return count > 0, nil
}

// Create persists a new enrollment record.
func (r *EnrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	if enrollment.CreatedAt.IsZero() {
		enrollment.CreatedAt = time.Now().UTC()
	}
	if enrollment.Status == "" {
		enrollment.Status = models.EnrollmentStatusActive
	}
	const query = `INSERT INTO enrollments (id, student_id, school_year, annual_tuition, registration_fee,
        due_day, start_date, status, created_at)
        VALUES (:id, :student_id, :school_year, :annual_tuition, :registration_fee,
        :due_day, :start_date, :status, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, enrollment); err != nil {
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// UpdateStatus updates the enrollment's agreement status.
func (r *EnrollmentRepository) UpdateStatus(ctx context.Context, id string, status models.EnrollmentStatus) error {
	const query = `UPDATE enrollments SET status = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status); err != nil {
		return fmt.Errorf("update enrollment status: %w", err)
	}
	return nil
}

// Delete removes an enrollment permanently. Used by the saga's compensating
// cleanup when downstream billing setup fails irrecoverably.
func (r *EnrollmentRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM enrollments WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete enrollment: %w", err)
	}
	return nil
}
