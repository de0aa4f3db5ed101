package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/escolaplus/escola-api/internal/models"
)

// ContractRepository handles persistence of tuition agreement contracts.
type ContractRepository struct {
	db *sqlx.DB
}

// NewContractRepository constructs the repository.
func NewContractRepository(db *sqlx.DB) *ContractRepository {
	return &ContractRepository{db: db}
}

// Create persists a new contract in PENDING state.
func (r *ContractRepository) Create(ctx context.Context, contract *models.Contract) error {
	if contract.ID == "" {
		contract.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if contract.CreatedAt.IsZero() {
		contract.CreatedAt = now
	}
	contract.UpdatedAt = now
	if contract.Status == "" {
		contract.Status = models.ContractStatusPending
	}
	const query = `INSERT INTO contracts (id, enrollment_id, document_path, status, validated, created_at, updated_at)
        VALUES (:id, :enrollment_id, :document_path, :status, :validated, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, contract); err != nil {
		return fmt.Errorf("create contract: %w", err)
	}
	return nil
}

// FindByID returns a contract by its ID.
func (r *ContractRepository) FindByID(ctx context.Context, id string) (*models.Contract, error) {
	const query = `SELECT id, enrollment_id, document_path, signed_document_path, status,
        signature_ip, signature_timestamp, validated, created_at, updated_at
        FROM contracts WHERE id = $1`
	var contract models.Contract
	if err := r.db.GetContext(ctx, &contract, query, id); err != nil {
		return nil, err
	}
	return &contract, nil
}

// FindDetailByID returns a contract with the owning student attached, for
// authorization checks on sign and download.
func (r *ContractRepository) FindDetailByID(ctx context.Context, id string) (*models.ContractDetail, error) {
	const query = `SELECT c.id, c.enrollment_id, c.document_path, c.signed_document_path, c.status,
        c.signature_ip, c.signature_timestamp, c.validated, c.created_at, c.updated_at,
        s.id AS student_id, s.ra AS student_ra
        FROM contracts c
        JOIN enrollments e ON e.id = c.enrollment_id
        JOIN students s ON s.id = e.student_id
        WHERE c.id = $1`
	var detail models.ContractDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// ExistsLiveByEnrollment checks whether the enrollment already has a contract
// that is PENDING or SIGNED_UNDER_REVIEW.
func (r *ContractRepository) ExistsLiveByEnrollment(ctx context.Context, enrollmentID string) (bool, error) {
	const query = `SELECT COUNT(*) FROM contracts WHERE enrollment_id = $1 AND status IN ($2, $3)`
	var count int
	if err := r.db.GetContext(ctx, &count, query, enrollmentID, models.ContractStatusPending, models.ContractStatusUnderReview); err != nil {
		return false, fmt.Errorf("check live contract: %w", err)
	}
	return count > 0, nil
}

// Sign transitions a PENDING contract to SIGNED_UNDER_REVIEW, stamping the
// signature details. Returns false when the contract was not PENDING.
func (r *ContractRepository) Sign(ctx context.Context, id, signedDocumentPath, ip string, signedAt time.Time) (bool, error) {
	const query = `UPDATE contracts SET status = $2, signed_document_path = $3, signature_ip = $4,
        signature_timestamp = $5, updated_at = $6
        WHERE id = $1 AND status = $7`
	res, err := r.db.ExecContext(ctx, query, id, models.ContractStatusUnderReview, signedDocumentPath,
		ip, signedAt, time.Now().UTC(), models.ContractStatusPending)
	if err != nil {
		return false, fmt.Errorf("sign contract: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sign contract result: %w", err)
	}
	return affected > 0, nil
}

// ValidateAndPromote transitions a SIGNED_UNDER_REVIEW contract to VALIDATED
// and, in the same transaction, promotes the owning user's account from
// PENDING_STUDENT to STUDENT. Returns false when the contract was not under
// review; the role update is a no-op when the account was already promoted.
func (r *ContractRepository) ValidateAndPromote(ctx context.Context, id string) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin validate tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	const contractQuery = `UPDATE contracts SET status = $2, validated = TRUE, updated_at = $3
        WHERE id = $1 AND status = $4`
	res, err := tx.ExecContext(ctx, contractQuery, id, models.ContractStatusValidated, now, models.ContractStatusUnderReview)
	if err != nil {
		return false, fmt.Errorf("validate contract: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("validate contract result: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	const promoteQuery = `UPDATE users SET role = $1, updated_at = $2
        WHERE role = $3 AND student_id = (
            SELECT e.student_id FROM contracts c JOIN enrollments e ON e.id = c.enrollment_id WHERE c.id = $4
        )`
	if _, err := tx.ExecContext(ctx, promoteQuery, models.RoleStudent, now, models.RolePendingStudent, id); err != nil {
		return false, fmt.Errorf("promote user role: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit validate tx: %w", err)
	}
	return true, nil
}

// Delete removes a contract permanently. Used by the enrollment saga's
// compensating cleanup.
func (r *ContractRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM contracts WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete contract: %w", err)
	}
	return nil
}
