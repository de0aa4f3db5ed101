package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/escolaplus/escola-api/internal/models"
	appErrors "github.com/escolaplus/escola-api/pkg/errors"
)

type studentRepository interface {
	List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error)
	FindByID(ctx context.Context, id string) (*models.Student, error)
	FindByRA(ctx context.Context, ra string) (*models.Student, error)
	ExistsRA(ctx context.Context, ra, excludeID string) (bool, error)
	Create(ctx context.Context, student *models.Student) error
	Update(ctx context.Context, student *models.Student) error
	Delete(ctx context.Context, id string) (bool, error)
}

type studentAccountWriter interface {
	FindByStudentID(ctx context.Context, studentID string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
}

// StudentRequest carries student fields for create and update. At least one
// guardian must be provided as a complete name and CPF pair.
type StudentRequest struct {
	FullName   string  `json:"full_name" validate:"required,min=2,max=120"`
	RA         string  `json:"ra" validate:"required,min=3,max=20"`
	FatherName *string `json:"father_name,omitempty"`
	FatherCPF  *string `json:"father_cpf,omitempty"`
	MotherName *string `json:"mother_name,omitempty"`
	MotherCPF  *string `json:"mother_cpf,omitempty"`
	Active     *bool   `json:"active,omitempty"`
}

// ImportRequest carries a batch of students to register at once. Rows are
// validated individually so one bad row surfaces in its result instead of
// rejecting the whole batch.
type ImportRequest struct {
	Students []StudentRequest `json:"students" validate:"required,min=1"`
}

// ImportRowResult reports the outcome of one imported row.
type ImportRowResult struct {
	Index   int    `json:"index"`
	RA      string `json:"ra"`
	Created bool   `json:"created"`
	ID      string `json:"id,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// ImportResult summarises a batch import run.
type ImportResult struct {
	Created int               `json:"created"`
	Failed  int               `json:"failed"`
	Rows    []ImportRowResult `json:"rows"`
}

// StudentService manages student records and their gated login accounts.
type StudentService struct {
	repo      studentRepository
	accounts  studentAccountWriter
	validator *validator.Validate
	logger    *zap.Logger
}

// NewStudentService constructs a StudentService.
func NewStudentService(repo studentRepository, accounts studentAccountWriter, validate *validator.Validate, logger *zap.Logger) *StudentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentService{repo: repo, accounts: accounts, validator: validate, logger: logger}
}

// List returns students matching the filter.
func (s *StudentService) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, *models.Pagination, error) {
	students, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	return students, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns one student by ID.
func (s *StudentService) Get(ctx context.Context, id string) (*models.Student, error) {
	student, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return student, nil
}

// Create registers a student and the gated login account tied to the RA. The
// account starts as PENDING_STUDENT and is promoted when an enrollment
// contract is validated.
func (s *StudentService) Create(ctx context.Context, req StudentRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}
	if err := validateGuardians(req); err != nil {
		return nil, err
	}
	exists, err := s.repo.ExistsRA(ctx, req.RA, "")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check registration number")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "registration number already in use")
	}

	student := &models.Student{
		FullName:   req.FullName,
		RA:         req.RA,
		FatherName: req.FatherName,
		FatherCPF:  req.FatherCPF,
		MotherName: req.MotherName,
		MotherCPF:  req.MotherCPF,
		Active:     true,
	}
	if req.Active != nil {
		student.Active = *req.Active
	}
	if err := s.repo.Create(ctx, student); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create student")
	}

	if err := s.createAccount(ctx, student); err != nil {
		s.logger.Warn("failed to create login account for student",
			zap.String("student_id", student.ID), zap.Error(err))
	}
	return student, nil
}

// Update edits a student. Changing the RA is subject to the same uniqueness
// rule as creation.
func (s *StudentService) Update(ctx context.Context, id string, req StudentRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}
	if err := validateGuardians(req); err != nil {
		return nil, err
	}
	student, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.RA != student.RA {
		exists, err := s.repo.ExistsRA(ctx, req.RA, id)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check registration number")
		}
		if exists {
			return nil, appErrors.Clone(appErrors.ErrConflict, "registration number already in use")
		}
	}

	student.FullName = req.FullName
	student.RA = req.RA
	student.FatherName = req.FatherName
	student.FatherCPF = req.FatherCPF
	student.MotherName = req.MotherName
	student.MotherCPF = req.MotherCPF
	if req.Active != nil {
		student.Active = *req.Active
	}
	if err := s.repo.Update(ctx, student); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update student")
	}
	return student, nil
}

// Delete removes a student permanently.
func (s *StudentService) Delete(ctx context.Context, id string) error {
	ok, err := s.repo.Delete(ctx, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete student")
	}
	if !ok {
		return appErrors.Clone(appErrors.ErrNotFound, "student not found")
	}
	return nil
}

// Import registers a batch of students, reporting success or failure per row.
// One bad row never aborts the batch.
func (s *StudentService) Import(ctx context.Context, req ImportRequest) (*ImportResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid import payload")
	}

	result := &ImportResult{}
	seen := make(map[string]bool)
	for i, row := range req.Students {
		item := ImportRowResult{Index: i, RA: row.RA}
		if seen[row.RA] {
			item.Reason = "duplicate registration number within the batch"
			result.Failed++
			result.Rows = append(result.Rows, item)
			continue
		}
		seen[row.RA] = true

		student, err := s.Create(ctx, row)
		if err != nil {
			item.Reason = appErrors.FromError(err).Message
			result.Failed++
			result.Rows = append(result.Rows, item)
			continue
		}
		item.Created = true
		item.ID = student.ID
		result.Created++
		result.Rows = append(result.Rows, item)
	}
	return result, nil
}

// validateGuardians enforces that at least the father's or the mother's name
// and CPF arrive together. Import inherits the rule through Create.
func validateGuardians(req StudentRequest) error {
	if guardianComplete(req.FatherName, req.FatherCPF) || guardianComplete(req.MotherName, req.MotherCPF) {
		return nil
	}
	return appErrors.Clone(appErrors.ErrValidation, "at least one guardian name and CPF pair is required")
}

func guardianComplete(name, cpf *string) bool {
	return name != nil && *name != "" && cpf != nil && *cpf != ""
}

// createAccount provisions the student login. The username is the RA and the
// initial password is the RA as well; the account stays in the restricted role
// until contract validation promotes it.
func (s *StudentService) createAccount(ctx context.Context, student *models.Student) error {
	if s.accounts == nil {
		return nil
	}
	if _, err := s.accounts.FindByStudentID(ctx, student.ID); err == nil {
		return nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("check existing account: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(student.RA), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash initial password: %w", err)
	}
	user := &models.User{
		Username:     student.RA,
		PasswordHash: string(hash),
		FullName:     student.FullName,
		Role:         models.RolePendingStudent,
		StudentID:    &student.ID,
		Active:       true,
	}
	return s.accounts.Create(ctx, user)
}
