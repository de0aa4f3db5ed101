package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/escolaplus/escola-api/internal/models"
	"github.com/escolaplus/escola-api/pkg/document"
	appErrors "github.com/escolaplus/escola-api/pkg/errors"
	"github.com/escolaplus/escola-api/pkg/jobs"
)

type mockEnrollmentRepo struct {
	enrollments map[string]models.Enrollment
	activeYear  map[string]bool
	deleted     []string
}

func newMockEnrollmentRepo() *mockEnrollmentRepo {
	return &mockEnrollmentRepo{enrollments: make(map[string]models.Enrollment), activeYear: make(map[string]bool)}
}

func (m *mockEnrollmentRepo) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	if e, ok := m.enrollments[id]; ok {
		return &e, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockEnrollmentRepo) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	if e, ok := m.enrollments[id]; ok {
		return &models.EnrollmentDetail{Enrollment: e, StudentName: "Alice", StudentRA: "RA100"}, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockEnrollmentRepo) ExistsActiveForYear(ctx context.Context, studentID string, schoolYear int) (bool, error) {
	return m.activeYear[fmt.Sprintf("%s-%d", studentID, schoolYear)], nil
}

func (m *mockEnrollmentRepo) Create(ctx context.Context, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = "e1"
	}
	m.enrollments[enrollment.ID] = *enrollment
	return nil
}

func (m *mockEnrollmentRepo) UpdateStatus(ctx context.Context, id string, status models.EnrollmentStatus) error {
	e, ok := m.enrollments[id]
	if !ok {
		return sql.ErrNoRows
	}
	e.Status = status
	m.enrollments[id] = e
	return nil
}

func (m *mockEnrollmentRepo) Delete(ctx context.Context, id string) error {
	delete(m.enrollments, id)
	m.deleted = append(m.deleted, id)
	return nil
}

type mockEnrollmentStudents struct {
	student *models.Student
}

func (m *mockEnrollmentStudents) FindByID(ctx context.Context, id string) (*models.Student, error) {
	if m.student == nil || m.student.ID != id {
		return nil, sql.ErrNoRows
	}
	return m.student, nil
}

type mockChargeCleaner struct {
	cleaned []string
}

func (m *mockChargeCleaner) DeleteByEnrollment(ctx context.Context, enrollmentID string) error {
	m.cleaned = append(m.cleaned, enrollmentID)
	return nil
}

type mockContractWriter struct {
	fail    bool
	created *models.Contract
	deleted []string
}

func (m *mockContractWriter) Create(ctx context.Context, enrollmentID, documentPath string) (*models.Contract, error) {
	if m.fail {
		return nil, appErrors.ErrInternal
	}
	m.created = &models.Contract{ID: "ct-1", EnrollmentID: enrollmentID, DocumentPath: documentPath, Status: models.ContractStatusPending}
	return m.created, nil
}

func (m *mockContractWriter) Delete(ctx context.Context, id string) error {
	m.deleted = append(m.deleted, id)
	return nil
}

type mockPlanGenerator struct {
	result *PlanResult
	err    error
}

func (m *mockPlanGenerator) GeneratePlan(ctx context.Context, enrollment *models.Enrollment) (*PlanResult, error) {
	return m.result, m.err
}

type mockRenderer struct {
	fail bool
	data document.ContractData
}

func (m *mockRenderer) Render(data document.ContractData) ([]byte, error) {
	if m.fail {
		return nil, fmt.Errorf("render failed")
	}
	m.data = data
	return []byte("%PDF-1.4"), nil
}

type mockSaveStore struct {
	saved   map[string][]byte
	deleted []string
}

func (m *mockSaveStore) Save(filename string, data []byte) (string, error) {
	if m.saved == nil {
		m.saved = make(map[string][]byte)
	}
	m.saved[filename] = data
	return filename, nil
}

func (m *mockSaveStore) Delete(filename string) error {
	m.deleted = append(m.deleted, filename)
	return nil
}

type mockCleanupQueue struct {
	jobs []jobs.Job
}

func (m *mockCleanupQueue) Enqueue(job jobs.Job) error {
	m.jobs = append(m.jobs, job)
	return nil
}

type enrollmentFixture struct {
	svc       *EnrollmentService
	repo      *mockEnrollmentRepo
	charges   *mockChargeCleaner
	contracts *mockContractWriter
	plans     *mockPlanGenerator
	renderer  *mockRenderer
	store     *mockSaveStore
	queue     *mockCleanupQueue
}

func newEnrollmentFixture() *enrollmentFixture {
	f := &enrollmentFixture{
		repo:      newMockEnrollmentRepo(),
		charges:   &mockChargeCleaner{},
		contracts: &mockContractWriter{},
		plans:     &mockPlanGenerator{result: &PlanResult{Created: 13}},
		renderer:  &mockRenderer{},
		store:     &mockSaveStore{},
		queue:     &mockCleanupQueue{},
	}
	father := "Carlos"
	students := &mockEnrollmentStudents{student: &models.Student{
		ID: "s1", FullName: "Alice", RA: "RA100", FatherName: &father, Active: true,
	}}
	f.svc = NewEnrollmentService(f.repo, students, f.charges, f.contracts, f.plans,
		f.renderer, f.store, f.queue, 12, validator.New(), zap.NewNop())
	return f
}

func enrollmentRequest() CreateEnrollmentRequest {
	return CreateEnrollmentRequest{
		StudentID:       "s1",
		SchoolYear:      2025,
		AnnualTuition:   decimal.NewFromInt(12000),
		RegistrationFee: decimal.NewFromInt(1200),
		DueDay:          10,
		StartDate:       time.Date(2025, time.February, 15, 0, 0, 0, 0, time.UTC),
	}
}

func TestEnrollmentCreateFullSetup(t *testing.T) {
	f := newEnrollmentFixture()

	result, err := f.svc.Create(context.Background(), enrollmentRequest())
	require.NoError(t, err)

	require.NotNil(t, result.Enrollment)
	require.NotNil(t, result.Contract)
	require.NotNil(t, result.Plan)
	assert.Empty(t, result.Warnings)
	assert.Equal(t, 13, result.Plan.Created)

	// Contract document rendered from the student's data.
	assert.Equal(t, "Alice", f.renderer.data.StudentName)
	assert.Equal(t, "Carlos", f.renderer.data.GuardianName)
	assert.Equal(t, "900.00", f.renderer.data.Installment.StringFixed(2))
	assert.Contains(t, f.store.saved, "2025/e1.pdf")
	assert.Empty(t, f.queue.jobs)
}

func TestEnrollmentCreateDuplicateYearConflicts(t *testing.T) {
	f := newEnrollmentFixture()
	f.repo.activeYear["s1-2025"] = true

	_, err := f.svc.Create(context.Background(), enrollmentRequest())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentCreateContractFailureSchedulesCleanup(t *testing.T) {
	f := newEnrollmentFixture()
	f.contracts.fail = true

	_, err := f.svc.Create(context.Background(), enrollmentRequest())
	require.Error(t, err)

	require.Len(t, f.queue.jobs, 1)
	payload, ok := f.queue.jobs[0].Payload.(CleanupPayload)
	require.True(t, ok)
	assert.Equal(t, "e1", payload.EnrollmentID)
	assert.Equal(t, "2025/e1.pdf", payload.DocumentPath)
}

func TestEnrollmentCreateRenderFailureSchedulesCleanup(t *testing.T) {
	f := newEnrollmentFixture()
	f.renderer.fail = true

	_, err := f.svc.Create(context.Background(), enrollmentRequest())
	require.Error(t, err)
	require.Len(t, f.queue.jobs, 1)
}

func TestEnrollmentCreatePartialPlanReportsWarning(t *testing.T) {
	f := newEnrollmentFixture()
	f.plans.result = &PlanResult{Created: 10, Failed: 3, Items: make([]PlanItemResult, 13)}
	f.plans.err = nil

	result, err := f.svc.Create(context.Background(), enrollmentRequest())
	require.NoError(t, err)

	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "3 of 13")
	assert.Empty(t, f.queue.jobs)
}

func TestEnrollmentCreateTotalPlanFailureRollsBack(t *testing.T) {
	f := newEnrollmentFixture()
	f.plans.result = &PlanResult{Created: 0, Failed: 13, Items: make([]PlanItemResult, 13)}
	f.plans.err = appErrors.Clone(appErrors.ErrInternal, "no charges could be created")

	_, err := f.svc.Create(context.Background(), enrollmentRequest())
	require.Error(t, err)

	// The contract already exists at this point, so the cleanup job must
	// carry its id alongside the enrollment and document.
	require.Len(t, f.queue.jobs, 1)
	payload, ok := f.queue.jobs[0].Payload.(CleanupPayload)
	require.True(t, ok)
	assert.Equal(t, "e1", payload.EnrollmentID)
	assert.Equal(t, "ct-1", payload.ContractID)
	assert.Equal(t, "2025/e1.pdf", payload.DocumentPath)
}

func TestEnrollmentCreateInactiveStudentRejected(t *testing.T) {
	f := newEnrollmentFixture()
	students := &mockEnrollmentStudents{student: &models.Student{ID: "s1", FullName: "Alice", RA: "RA100", Active: false}}
	f.svc = NewEnrollmentService(f.repo, students, f.charges, f.contracts, f.plans,
		f.renderer, f.store, f.queue, 12, validator.New(), zap.NewNop())

	_, err := f.svc.Create(context.Background(), enrollmentRequest())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentCleanupHandlerUndoesSetup(t *testing.T) {
	f := newEnrollmentFixture()
	f.repo.enrollments["e1"] = models.Enrollment{ID: "e1", StudentID: "s1"}

	handler := f.svc.CleanupHandler()
	err := handler(context.Background(), jobs.Job{
		ID:      "job-1",
		Type:    "enrollment-cleanup",
		Payload: CleanupPayload{EnrollmentID: "e1", ContractID: "ct-1", DocumentPath: "2025/e1.pdf"},
	})
	require.NoError(t, err)

	assert.Contains(t, f.charges.cleaned, "e1")
	assert.Contains(t, f.contracts.deleted, "ct-1")
	assert.Contains(t, f.repo.deleted, "e1")
	assert.Contains(t, f.store.deleted, "2025/e1.pdf")
}

func TestEnrollmentCleanupHandlerSkipsContractWhenAbsent(t *testing.T) {
	f := newEnrollmentFixture()
	f.repo.enrollments["e1"] = models.Enrollment{ID: "e1", StudentID: "s1"}

	handler := f.svc.CleanupHandler()
	err := handler(context.Background(), jobs.Job{
		ID:      "job-2",
		Type:    "enrollment-cleanup",
		Payload: CleanupPayload{EnrollmentID: "e1"},
	})
	require.NoError(t, err)

	assert.Empty(t, f.contracts.deleted)
	assert.Contains(t, f.repo.deleted, "e1")
	assert.Empty(t, f.store.deleted)
}

func TestEnrollmentCancel(t *testing.T) {
	f := newEnrollmentFixture()
	f.repo.enrollments["e1"] = models.Enrollment{ID: "e1", Status: models.EnrollmentStatusActive}

	require.NoError(t, f.svc.Cancel(context.Background(), "e1"))
	assert.Equal(t, models.EnrollmentStatusCancelled, f.repo.enrollments["e1"].Status)

	err := f.svc.Cancel(context.Background(), "e1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentGeneratePlanRequiresActive(t *testing.T) {
	f := newEnrollmentFixture()
	f.repo.enrollments["e1"] = models.Enrollment{ID: "e1", Status: models.EnrollmentStatusCancelled}

	_, err := f.svc.GeneratePlan(context.Background(), "e1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}
