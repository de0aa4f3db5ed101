package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ChargeStatus is the persisted disposition of a charge. OPEN is the only
// non-terminal state; lateness is always derived, never stored as a status.
type ChargeStatus string

const (
	ChargeStatusOpen        ChargeStatus = "OPEN"
	ChargeStatusPaid        ChargeStatus = "PAID"
	ChargeStatusRefunded    ChargeStatus = "REFUNDED"
	ChargeStatusChargedBack ChargeStatus = "CHARGED_BACK"
	ChargeStatusCancelled   ChargeStatus = "CANCELLED"
)

// Terminal reports whether the status permits no further transitions.
func (s ChargeStatus) Terminal() bool {
	switch s {
	case ChargeStatusPaid, ChargeStatusRefunded, ChargeStatusChargedBack, ChargeStatusCancelled:
		return true
	}
	return false
}

// Valid reports whether the status is a known disposition.
func (s ChargeStatus) Valid() bool {
	return s == ChargeStatusOpen || s.Terminal()
}

// Charge is a single billable amount: the registration fee or one monthly
// installment. BaseAmount is fixed at creation; the penalty fields are a cache
// refreshed from the due date on every read while the charge is open and overdue.
type Charge struct {
	ID             string           `db:"id" json:"id"`
	EnrollmentID   string           `db:"enrollment_id" json:"enrollment_id"`
	BaseAmount     decimal.Decimal  `db:"base_amount" json:"base_amount"`
	DueDate        time.Time        `db:"due_date" json:"due_date"`
	Description    string           `db:"description" json:"description"`
	Status         ChargeStatus     `db:"status" json:"status"`
	PenaltyMonthly decimal.Decimal  `db:"penalty_monthly" json:"penalty_monthly"`
	PenaltyDaily   decimal.Decimal  `db:"penalty_daily" json:"penalty_daily"`
	DaysLate       int              `db:"days_late" json:"days_late"`
	PaidAmount     *decimal.Decimal `db:"paid_amount" json:"paid_amount,omitempty"`
	PaidDate       *time.Time       `db:"paid_date" json:"paid_date,omitempty"`
	CreatedAt      time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time        `db:"updated_at" json:"updated_at"`

	// TotalDue is derived on read and never persisted.
	TotalDue decimal.Decimal `db:"-" json:"total_due"`
}

// ChargeDetail joins student identification onto a charge for list views.
type ChargeDetail struct {
	Charge
	StudentName string `db:"student_name" json:"student_name"`
	StudentRA   string `db:"student_ra" json:"student_ra"`
}

// ChargeFilter captures the ledger's list criteria.
type ChargeFilter struct {
	EnrollmentID string
	Status       ChargeStatus
	DateFrom     *time.Time
	DateTo       *time.Time
	SortOrder    string
	Page         int
	PageSize     int
}
