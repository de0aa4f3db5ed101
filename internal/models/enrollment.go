package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EnrollmentStatus tracks the lifecycle of the annual tuition agreement.
type EnrollmentStatus string

const (
	EnrollmentStatusActive    EnrollmentStatus = "ACTIVE"
	EnrollmentStatusCancelled EnrollmentStatus = "CANCELLED"
)

// Enrollment is a student's annual tuition agreement: the anchor for the
// generated installment charges and the contract paperwork.
type Enrollment struct {
	ID              string           `db:"id" json:"id"`
	StudentID       string           `db:"student_id" json:"student_id"`
	SchoolYear      int              `db:"school_year" json:"school_year"`
	AnnualTuition   decimal.Decimal  `db:"annual_tuition" json:"annual_tuition"`
	RegistrationFee decimal.Decimal  `db:"registration_fee" json:"registration_fee"`
	DueDay          int              `db:"due_day" json:"due_day"`
	StartDate       time.Time        `db:"start_date" json:"start_date"`
	Status          EnrollmentStatus `db:"status" json:"status"`
	CreatedAt       time.Time        `db:"created_at" json:"created_at"`
}

// EnrollmentDetail joins the owning student onto the enrollment.
type EnrollmentDetail struct {
	Enrollment
	StudentName string `db:"student_name" json:"student_name"`
	StudentRA   string `db:"student_ra" json:"student_ra"`
}
