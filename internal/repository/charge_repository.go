package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/escolaplus/escola-api/internal/models"
)

// ChargeRepository handles persistence of installment and registration charges.
type ChargeRepository struct {
	db *sqlx.DB
}

// NewChargeRepository constructs the repository.
func NewChargeRepository(db *sqlx.DB) *ChargeRepository {
	return &ChargeRepository{db: db}
}

const chargeColumns = `c.id, c.enrollment_id, c.base_amount, c.due_date, c.description, c.status,
        c.penalty_monthly, c.penalty_daily, c.days_late, c.paid_amount, c.paid_date, c.created_at, c.updated_at`

// List returns charges filtered by the provided criteria, joined with student identification.
func (r *ChargeRepository) List(ctx context.Context, filter models.ChargeFilter) ([]models.ChargeDetail, int, error) {
	base := `FROM charges c
JOIN enrollments e ON e.id = c.enrollment_id
JOIN students s ON s.id = e.student_id`
	var conditions []string
	var args []interface{}

	if filter.EnrollmentID != "" {
		conditions = append(conditions, fmt.Sprintf("c.enrollment_id = $%d", len(args)+1))
		args = append(args, filter.EnrollmentID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("c.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.DateFrom != nil {
		conditions = append(conditions, fmt.Sprintf("c.due_date >= $%d", len(args)+1))
		args = append(args, *filter.DateFrom)
	}
	if filter.DateTo != nil {
		conditions = append(conditions, fmt.Sprintf("c.due_date <= $%d", len(args)+1))
		args = append(args, *filter.DateTo)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s, s.full_name AS student_name, s.ra AS student_ra
        %s ORDER BY c.due_date %s LIMIT %d OFFSET %d`, chargeColumns, base+clause, order, size, offset)

	var charges []models.ChargeDetail
	if err := r.db.SelectContext(ctx, &charges, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list charges: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count charges: %w", err)
	}
	return charges, total, nil
}

// FindByID returns a charge by its ID.
func (r *ChargeRepository) FindByID(ctx context.Context, id string) (*models.Charge, error) {
	const query = `SELECT id, enrollment_id, base_amount, due_date, description, status,
        penalty_monthly, penalty_daily, days_late, paid_amount, paid_date, created_at, updated_at
        FROM charges WHERE id = $1`
	var charge models.Charge
	if err := r.db.GetContext(ctx, &charge, query, id); err != nil {
		return nil, err
	}
	return &charge, nil
}

// FindDetailByID returns a charge joined with student identification.
func (r *ChargeRepository) FindDetailByID(ctx context.Context, id string) (*models.ChargeDetail, error) {
	query := fmt.Sprintf(`SELECT %s, s.full_name AS student_name, s.ra AS student_ra
        FROM charges c
        JOIN enrollments e ON e.id = c.enrollment_id
        JOIN students s ON s.id = e.student_id
        WHERE c.id = $1`, chargeColumns)
	var detail models.ChargeDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// ListByEnrollment returns all charges on an enrollment ordered by due date.
func (r *ChargeRepository) ListByEnrollment(ctx context.Context, enrollmentID string) ([]models.Charge, error) {
	const query = `SELECT id, enrollment_id, base_amount, due_date, description, status,
        penalty_monthly, penalty_daily, days_late, paid_amount, paid_date, created_at, updated_at
        FROM charges WHERE enrollment_id = $1 ORDER BY due_date ASC`
	var charges []models.Charge
	if err := r.db.SelectContext(ctx, &charges, query, enrollmentID); err != nil {
		return nil, fmt.Errorf("list enrollment charges: %w", err)
	}
	return charges, nil
}

// ListByStudentRA returns every charge across a student's enrollments.
func (r *ChargeRepository) ListByStudentRA(ctx context.Context, ra string) ([]models.Charge, error) {
	const query = `SELECT c.id, c.enrollment_id, c.base_amount, c.due_date, c.description, c.status,
        c.penalty_monthly, c.penalty_daily, c.days_late, c.paid_amount, c.paid_date, c.created_at, c.updated_at
        FROM charges c
        JOIN enrollments e ON e.id = c.enrollment_id
        JOIN students s ON s.id = e.student_id
        WHERE s.ra = $1 ORDER BY c.due_date ASC`
	var charges []models.Charge
	if err := r.db.SelectContext(ctx, &charges, query, ra); err != nil {
		return nil, fmt.Errorf("list student charges: %w", err)
	}
	return charges, nil
}

// ExistsInMonth checks whether the enrollment already holds an OPEN or PAID
// charge of the same kind due in the same calendar month as the provided date.
// The description prefix scopes the guard so a registration charge and the
// first installment can share a month without tripping it.
func (r *ChargeRepository) ExistsInMonth(ctx context.Context, enrollmentID string, dueDate time.Time, descriptionPrefix string) (bool, error) {
	const query = `SELECT COUNT(*) FROM charges
        WHERE enrollment_id = $1
        AND date_trunc('month', due_date) = date_trunc('month', $2::date)
        AND status IN ($3, $4)
        AND description LIKE $5`
	var count int
	if err := r.db.GetContext(ctx, &count, query, enrollmentID, dueDate,
		models.ChargeStatusOpen, models.ChargeStatusPaid, descriptionPrefix+"%"); err != nil {
		return false, fmt.Errorf("check charge month: %w", err)
	}
	return count > 0, nil
}

// Create persists a new charge record.
func (r *ChargeRepository) Create(ctx context.Context, charge *models.Charge) error {
	if charge.ID == "" {
		charge.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if charge.CreatedAt.IsZero() {
		charge.CreatedAt = now
	}
	charge.UpdatedAt = now
	if charge.Status == "" {
		charge.Status = models.ChargeStatusOpen
	}
	const query = `INSERT INTO charges (id, enrollment_id, base_amount, due_date, description, status,
        penalty_monthly, penalty_daily, days_late, created_at, updated_at)
        VALUES (:id, :enrollment_id, :base_amount, :due_date, :description, :status,
        :penalty_monthly, :penalty_daily, :days_late, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, charge); err != nil {
		return fmt.Errorf("create charge: %w", err)
	}
	return nil
}

// UpdateLateFees overwrites the derived penalty cache on a charge. It never
// touches base_amount or status, so repeated refreshes stay idempotent.
func (r *ChargeRepository) UpdateLateFees(ctx context.Context, id string, daysLate int, monthly, daily decimal.Decimal) error {
	const query = `UPDATE charges SET days_late = $2, penalty_monthly = $3, penalty_daily = $4, updated_at = $5
        WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, daysLate, monthly, daily, time.Now().UTC()); err != nil {
		return fmt.Errorf("update charge late fees: %w", err)
	}
	return nil
}

// MarkPaid atomically transitions an OPEN charge to PAID, freezing the penalty
// fields computed at the payment date. Returns false when the charge was not
// OPEN, so exactly one of two concurrent payment attempts succeeds.
func (r *ChargeRepository) MarkPaid(ctx context.Context, id string, paidAmount decimal.Decimal, paidDate time.Time, daysLate int, monthly, daily decimal.Decimal) (bool, error) {
	const query = `UPDATE charges SET status = $2, paid_amount = $3, paid_date = $4,
        days_late = $5, penalty_monthly = $6, penalty_daily = $7, updated_at = $8
        WHERE id = $1 AND status = $9`
	res, err := r.db.ExecContext(ctx, query, id, models.ChargeStatusPaid, paidAmount, paidDate,
		daysLate, monthly, daily, time.Now().UTC(), models.ChargeStatusOpen)
	if err != nil {
		return false, fmt.Errorf("register payment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("register payment result: %w", err)
	}
	return affected > 0, nil
}

// UpdateStatus applies a terminal disposition to an OPEN charge. Returns false
// when the charge was not OPEN.
func (r *ChargeRepository) UpdateStatus(ctx context.Context, id string, status models.ChargeStatus) (bool, error) {
	const query = `UPDATE charges SET status = $2, updated_at = $3 WHERE id = $1 AND status = $4`
	res, err := r.db.ExecContext(ctx, query, id, status, time.Now().UTC(), models.ChargeStatusOpen)
	if err != nil {
		return false, fmt.Errorf("update charge status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update charge status result: %w", err)
	}
	return affected > 0, nil
}

// Delete removes a charge permanently. Returns false when no row matched.
func (r *ChargeRepository) Delete(ctx context.Context, id string) (bool, error) {
	const query = `DELETE FROM charges WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("delete charge: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete charge result: %w", err)
	}
	return affected > 0, nil
}

// DeleteByEnrollment removes every charge on an enrollment. Used by the
// enrollment saga's compensating cleanup.
func (r *ChargeRepository) DeleteByEnrollment(ctx context.Context, enrollmentID string) error {
	const query = `DELETE FROM charges WHERE enrollment_id = $1`
	if _, err := r.db.ExecContext(ctx, query, enrollmentID); err != nil {
		return fmt.Errorf("delete enrollment charges: %w", err)
	}
	return nil
}

// ListOverdueOpen returns every OPEN charge past due as of the given date.
func (r *ChargeRepository) ListOverdueOpen(ctx context.Context, asOf time.Time) ([]models.ChargeDetail, error) {
	query := fmt.Sprintf(`SELECT %s, s.full_name AS student_name, s.ra AS student_ra
        FROM charges c
        JOIN enrollments e ON e.id = c.enrollment_id
        JOIN students s ON s.id = e.student_id
        WHERE c.status = $1 AND c.due_date < $2
        ORDER BY c.due_date ASC`, chargeColumns)
	var charges []models.ChargeDetail
	if err := r.db.SelectContext(ctx, &charges, query, models.ChargeStatusOpen, asOf); err != nil {
		return nil, fmt.Errorf("list overdue charges: %w", err)
	}
	return charges, nil
}
