package models

import "time"

// ContractStatus tracks the paperwork lifecycle. Transitions are strictly
// ordered: PENDING -> SIGNED_UNDER_REVIEW -> VALIDATED, no skipping.
type ContractStatus string

const (
	ContractStatusPending     ContractStatus = "PENDING"
	ContractStatusUnderReview ContractStatus = "SIGNED_UNDER_REVIEW"
	ContractStatusValidated   ContractStatus = "VALIDATED"
)

// Contract tracks a generated tuition agreement from creation through
// signature and administrative validation.
type Contract struct {
	ID                 string         `db:"id" json:"id"`
	EnrollmentID       string         `db:"enrollment_id" json:"enrollment_id"`
	DocumentPath       string         `db:"document_path" json:"document_path"`
	SignedDocumentPath *string        `db:"signed_document_path" json:"signed_document_path,omitempty"`
	Status             ContractStatus `db:"status" json:"status"`
	SignatureIP        *string        `db:"signature_ip" json:"signature_ip,omitempty"`
	SignatureTimestamp *time.Time     `db:"signature_timestamp" json:"signature_timestamp,omitempty"`
	Validated          bool           `db:"validated" json:"validated"`
	CreatedAt          time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at" json:"updated_at"`
}

// ContractDetail joins ownership info used by authorization checks.
type ContractDetail struct {
	Contract
	StudentID string `db:"student_id" json:"student_id"`
	StudentRA string `db:"student_ra" json:"student_ra"`
}
