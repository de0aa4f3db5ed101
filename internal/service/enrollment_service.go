package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/escolaplus/escola-api/internal/models"
	"github.com/escolaplus/escola-api/pkg/document"
	appErrors "github.com/escolaplus/escola-api/pkg/errors"
	"github.com/escolaplus/escola-api/pkg/jobs"
)

type enrollmentRepository interface {
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error)
	ExistsActiveForYear(ctx context.Context, studentID string, schoolYear int) (bool, error)
	Create(ctx context.Context, enrollment *models.Enrollment) error
	UpdateStatus(ctx context.Context, id string, status models.EnrollmentStatus) error
	Delete(ctx context.Context, id string) error
}

type enrollmentStudentReader interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

type enrollmentChargeCleaner interface {
	DeleteByEnrollment(ctx context.Context, enrollmentID string) error
}

type contractWriter interface {
	Create(ctx context.Context, enrollmentID, documentPath string) (*models.Contract, error)
	Delete(ctx context.Context, id string) error
}

type planGenerator interface {
	GeneratePlan(ctx context.Context, enrollment *models.Enrollment) (*PlanResult, error)
}

type contractRendererAPI interface {
	Render(data document.ContractData) ([]byte, error)
}

type enrollmentDocumentStore interface {
	Save(filename string, data []byte) (string, error)
	Delete(filename string) error
}

type cleanupQueue interface {
	Enqueue(job jobs.Job) error
}

// CreateEnrollmentRequest opens an annual tuition agreement for a student.
type CreateEnrollmentRequest struct {
	StudentID       string          `json:"student_id" validate:"required"`
	SchoolYear      int             `json:"school_year" validate:"required,min=2000,max=2100"`
	AnnualTuition   decimal.Decimal `json:"annual_tuition" validate:"required"`
	RegistrationFee decimal.Decimal `json:"registration_fee" validate:"required"`
	DueDay          int             `json:"due_day" validate:"required,min=1,max=31"`
	StartDate       time.Time       `json:"start_date" validate:"required"`
}

// EnrollmentResult reports each stage of enrollment setup. The enrollment
// itself is the anchor; contract and plan stages may partially fail and are
// reported rather than hidden.
type EnrollmentResult struct {
	Enrollment *models.Enrollment `json:"enrollment"`
	Contract   *models.Contract   `json:"contract,omitempty"`
	Plan       *PlanResult        `json:"plan,omitempty"`
	Warnings   []string           `json:"warnings,omitempty"`
}

// CleanupPayload identifies the enrollment whose partial setup must be undone.
// ContractID and DocumentPath are empty when the saga failed before those
// stages produced anything.
type CleanupPayload struct {
	EnrollmentID string
	ContractID   string
	DocumentPath string
}

// EnrollmentService orchestrates enrollment setup: agreement record, contract
// document, and the installment plan, with compensating cleanup on failure.
type EnrollmentService struct {
	enrollments  enrollmentRepository
	students     enrollmentStudentReader
	charges      enrollmentChargeCleaner
	contracts    contractWriter
	billing      planGenerator
	renderer     contractRendererAPI
	store        enrollmentDocumentStore
	cleanup      cleanupQueue
	validator    *validator.Validate
	logger       *zap.Logger
	installments int
	now          func() time.Time
}

// NewEnrollmentService constructs an EnrollmentService.
func NewEnrollmentService(
	enrollments enrollmentRepository,
	students enrollmentStudentReader,
	charges enrollmentChargeCleaner,
	contracts contractWriter,
	billing planGenerator,
	renderer contractRendererAPI,
	store enrollmentDocumentStore,
	cleanup cleanupQueue,
	installments int,
	validate *validator.Validate,
	logger *zap.Logger,
) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if installments <= 0 {
		installments = 12
	}
	return &EnrollmentService{
		enrollments:  enrollments,
		students:     students,
		charges:      charges,
		contracts:    contracts,
		billing:      billing,
		renderer:     renderer,
		store:        store,
		cleanup:      cleanup,
		validator:    validate,
		logger:       logger,
		installments: installments,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// SetCleanupQueue attaches the compensation queue. The queue's handler needs
// the service, so wiring happens after construction.
func (s *EnrollmentService) SetCleanupQueue(q cleanupQueue) {
	s.cleanup = q
}

// Create runs the enrollment setup sequence. The agreement record is written
// first; contract rendering and plan generation follow. A contract failure
// schedules compensating cleanup and fails the whole operation, while a
// partially generated plan is reported back with warnings so the caller can
// retry generation without double-billing.
func (s *EnrollmentService) Create(ctx context.Context, req CreateEnrollmentRequest) (*EnrollmentResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}
	if req.AnnualTuition.LessThanOrEqual(req.RegistrationFee) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "annual tuition must exceed the registration fee")
	}

	student, err := s.students.FindByID(ctx, req.StudentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if !student.Active {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student record is inactive")
	}

	exists, err := s.enrollments.ExistsActiveForYear(ctx, req.StudentID, req.SchoolYear)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing enrollments")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "student already holds an active enrollment for this year")
	}

	enrollment := &models.Enrollment{
		StudentID:       req.StudentID,
		SchoolYear:      req.SchoolYear,
		AnnualTuition:   req.AnnualTuition.Round(2),
		RegistrationFee: req.RegistrationFee.Round(2),
		DueDay:          req.DueDay,
		StartDate:       req.StartDate,
		Status:          models.EnrollmentStatusActive,
	}
	if err := s.enrollments.Create(ctx, enrollment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
	}

	result := &EnrollmentResult{Enrollment: enrollment}

	installment := enrollment.AnnualTuition.
		Sub(enrollment.RegistrationFee).
		Div(decimal.NewFromInt(int64(s.installments))).
		Round(2)
	pdfBytes, err := s.renderer.Render(document.ContractData{
		StudentName:     student.FullName,
		StudentRA:       student.RA,
		GuardianName:    student.GuardianName(),
		SchoolYear:      enrollment.SchoolYear,
		AnnualTuition:   enrollment.AnnualTuition,
		RegistrationFee: enrollment.RegistrationFee,
		Installment:     installment,
		DueDay:          enrollment.DueDay,
		GeneratedAt:     s.now(),
	})
	if err != nil {
		s.scheduleCleanup(CleanupPayload{EnrollmentID: enrollment.ID})
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render contract document")
	}

	documentPath := fmt.Sprintf("%d/%s.pdf", enrollment.SchoolYear, enrollment.ID)
	if _, err := s.store.Save(documentPath, pdfBytes); err != nil {
		s.scheduleCleanup(CleanupPayload{EnrollmentID: enrollment.ID})
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store contract document")
	}

	contract, err := s.contracts.Create(ctx, enrollment.ID, documentPath)
	if err != nil {
		s.scheduleCleanup(CleanupPayload{EnrollmentID: enrollment.ID, DocumentPath: documentPath})
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create contract")
	}
	result.Contract = contract

	plan, err := s.billing.GeneratePlan(ctx, enrollment)
	if plan != nil {
		result.Plan = plan
		if plan.Failed > 0 {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("%d of %d charges failed to generate; re-run plan generation to fill the gaps", plan.Failed, len(plan.Items)))
		}
	}
	if err != nil && (plan == nil || plan.Created == 0) {
		// Nothing billable was set up: undo the enrollment and its paperwork.
		s.scheduleCleanup(CleanupPayload{EnrollmentID: enrollment.ID, ContractID: contract.ID, DocumentPath: documentPath})
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate installment plan")
	}

	return result, nil
}

// Get returns the enrollment with the owning student attached.
func (s *EnrollmentService) Get(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	detail, err := s.enrollments.FindDetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	return detail, nil
}

// GeneratePlan re-runs installment plan generation for an existing enrollment.
// Existing months are skipped by the duplicate guard, so this fills gaps left
// by earlier failures.
func (s *EnrollmentService) GeneratePlan(ctx context.Context, id string) (*PlanResult, error) {
	enrollment, err := s.enrollments.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if enrollment.Status != models.EnrollmentStatusActive {
		return nil, appErrors.Clone(appErrors.ErrConflict, "enrollment is not active")
	}
	return s.billing.GeneratePlan(ctx, enrollment)
}

// Cancel marks the agreement cancelled. Charges already issued keep their own
// lifecycle; open ones can be individually cancelled through the ledger.
func (s *EnrollmentService) Cancel(ctx context.Context, id string) error {
	enrollment, err := s.enrollments.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if enrollment.Status == models.EnrollmentStatusCancelled {
		return appErrors.Clone(appErrors.ErrConflict, "enrollment is already cancelled")
	}
	if err := s.enrollments.UpdateStatus(ctx, id, models.EnrollmentStatusCancelled); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel enrollment")
	}
	return nil
}

// CleanupHandler returns the job handler that undoes a partially created
// enrollment: charges first, then the contract, then the enrollment row, then
// the stored document.
func (s *EnrollmentService) CleanupHandler() jobs.Handler {
	return func(ctx context.Context, job jobs.Job) error {
		payload, ok := job.Payload.(CleanupPayload)
		if !ok {
			s.logger.Error("cleanup job carries unexpected payload", zap.String("job_id", job.ID))
			return nil
		}
		if err := s.charges.DeleteByEnrollment(ctx, payload.EnrollmentID); err != nil {
			return fmt.Errorf("cleanup charges: %w", err)
		}
		if payload.ContractID != "" {
			if err := s.contracts.Delete(ctx, payload.ContractID); err != nil {
				return fmt.Errorf("cleanup contract: %w", err)
			}
		}
		if err := s.enrollments.Delete(ctx, payload.EnrollmentID); err != nil {
			return fmt.Errorf("cleanup enrollment: %w", err)
		}
		if payload.DocumentPath != "" {
			if err := s.store.Delete(payload.DocumentPath); err != nil {
				s.logger.Warn("cleanup could not remove contract document",
					zap.String("enrollment_id", payload.EnrollmentID), zap.Error(err))
			}
		}
		s.logger.Info("enrollment setup rolled back", zap.String("enrollment_id", payload.EnrollmentID))
		return nil
	}
}

func (s *EnrollmentService) scheduleCleanup(payload CleanupPayload) {
	if s.cleanup == nil {
		return
	}
	err := s.cleanup.Enqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    "enrollment-cleanup",
		Payload: payload,
	})
	if err != nil {
		s.logger.Error("failed to schedule enrollment cleanup",
			zap.String("enrollment_id", payload.EnrollmentID), zap.Error(err))
	}
}
