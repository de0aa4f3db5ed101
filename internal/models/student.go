package models

import "time"

// Student represents an enrolled (or enrolling) student.
// RA is the unique registration number students use as their login username.
type Student struct {
	ID         string    `db:"id" json:"id"`
	FullName   string    `db:"full_name" json:"full_name"`
	RA         string    `db:"ra" json:"ra"`
	FatherName *string   `db:"father_name" json:"father_name,omitempty"`
	FatherCPF  *string   `db:"father_cpf" json:"father_cpf,omitempty"`
	MotherName *string   `db:"mother_name" json:"mother_name,omitempty"`
	MotherCPF  *string   `db:"mother_cpf" json:"mother_cpf,omitempty"`
	Active     bool      `db:"active" json:"active"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// GuardianName returns the first guardian on record, used on contract documents.
func (s Student) GuardianName() string {
	if s.FatherName != nil && *s.FatherName != "" {
		return *s.FatherName
	}
	if s.MotherName != nil && *s.MotherName != "" {
		return *s.MotherName
	}
	return ""
}

// StudentFilter captures search criteria for student listings.
type StudentFilter struct {
	Name      string
	RA        string
	Active    *bool
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
