package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/escolaplus/escola-api/internal/models"
	appErrors "github.com/escolaplus/escola-api/pkg/errors"
)

type chargeRepository interface {
	List(ctx context.Context, filter models.ChargeFilter) ([]models.ChargeDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Charge, error)
	FindDetailByID(ctx context.Context, id string) (*models.ChargeDetail, error)
	ListByStudentRA(ctx context.Context, ra string) ([]models.Charge, error)
	ExistsInMonth(ctx context.Context, enrollmentID string, dueDate time.Time, descriptionPrefix string) (bool, error)
	Create(ctx context.Context, charge *models.Charge) error
	UpdateLateFees(ctx context.Context, id string, daysLate int, monthly, daily decimal.Decimal) error
	MarkPaid(ctx context.Context, id string, paidAmount decimal.Decimal, paidDate time.Time, daysLate int, monthly, daily decimal.Decimal) (bool, error)
	UpdateStatus(ctx context.Context, id string, status models.ChargeStatus) (bool, error)
	Delete(ctx context.Context, id string) (bool, error)
	ListOverdueOpen(ctx context.Context, asOf time.Time) ([]models.ChargeDetail, error)
}

type billingStudentReader interface {
	FindByRA(ctx context.Context, ra string) (*models.Student, error)
}

type reportCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

const (
	descriptionRegistration      = "Registration"
	descriptionInstallmentPrefix = "Installment"

	delinquencyReportCacheKey = "billing:delinquency-report"
)

// BillingConfig tunes plan generation and report caching.
type BillingConfig struct {
	InstallmentCount      int
	RegistrationDueOffset int
	ReportCacheTTL        time.Duration
}

// CreateChargeRequest describes a single manual charge creation.
type CreateChargeRequest struct {
	EnrollmentID string          `json:"enrollment_id" validate:"required"`
	BaseAmount   decimal.Decimal `json:"base_amount" validate:"required"`
	DueDate      time.Time       `json:"due_date" validate:"required"`
	Description  string          `json:"description"`
}

// RegisterPaymentRequest settles an open charge.
type RegisterPaymentRequest struct {
	PaidAmount decimal.Decimal `json:"paid_amount" validate:"required"`
	PaidDate   time.Time       `json:"paid_date" validate:"required"`
}

// UpdateChargeStatusRequest applies a terminal disposition to an open charge.
type UpdateChargeStatusRequest struct {
	Status models.ChargeStatus `json:"status" validate:"required"`
}

// PlanItemResult reports the outcome of one generated charge.
type PlanItemResult struct {
	Description string          `json:"description"`
	DueDate     time.Time       `json:"due_date"`
	Amount      decimal.Decimal `json:"amount"`
	Created     bool            `json:"created"`
	Reason      string          `json:"reason,omitempty"`
}

// PlanResult summarises an installment plan generation run.
type PlanResult struct {
	Created int              `json:"created"`
	Skipped int              `json:"skipped"`
	Failed  int              `json:"failed"`
	Items   []PlanItemResult `json:"items"`
}

// DelinquencyReportRow aggregates a single enrollment's overdue charges.
type DelinquencyReportRow struct {
	EnrollmentID string                `json:"enrollment_id"`
	StudentName  string                `json:"student_name"`
	StudentRA    string                `json:"student_ra"`
	ChargeCount  int                   `json:"charge_count"`
	TotalDue     decimal.Decimal       `json:"total_due"`
	Charges      []models.ChargeDetail `json:"charges"`
}

// DelinquencyReport is the snapshot of all overdue open charges.
type DelinquencyReport struct {
	GeneratedAt  time.Time              `json:"generated_at"`
	TotalDue     decimal.Decimal        `json:"total_due"`
	TotalCharges int                    `json:"total_charges"`
	Rows         []DelinquencyReportRow `json:"rows"`
}

// BillingService owns the charge ledger: installment plan generation, reads
// with late-fee refresh, payment registration and dispositions.
type BillingService struct {
	charges   chargeRepository
	students  billingStudentReader
	calc      *DelinquencyCalculator
	cache     reportCache
	metrics   *MetricsService
	cfg       BillingConfig
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewBillingService constructs BillingService.
func NewBillingService(charges chargeRepository, students billingStudentReader, calc *DelinquencyCalculator, cache reportCache, metrics *MetricsService, cfg BillingConfig, validate *validator.Validate, logger *zap.Logger) *BillingService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if calc == nil {
		calc = NewDelinquencyCalculator(0, 0)
	}
	if cfg.InstallmentCount <= 0 {
		cfg.InstallmentCount = 12
	}
	if cfg.RegistrationDueOffset <= 0 {
		cfg.RegistrationDueOffset = 10
	}
	if cfg.ReportCacheTTL <= 0 {
		cfg.ReportCacheTTL = 5 * time.Minute
	}
	return &BillingService{
		charges:   charges,
		students:  students,
		calc:      calc,
		cache:     cache,
		metrics:   metrics,
		cfg:       cfg,
		validator: validate,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// GeneratePlan decomposes an enrollment's annual agreement into one
// registration charge and the monthly installments. Months that already carry
// a like charge are skipped, not failed, so re-running the generator cannot
// double-bill an enrollment.
func (s *BillingService) GeneratePlan(ctx context.Context, enrollment *models.Enrollment) (*PlanResult, error) {
	if enrollment == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "enrollment is required")
	}
	if enrollment.AnnualTuition.LessThanOrEqual(enrollment.RegistrationFee) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "annual tuition must exceed the registration fee")
	}
	if enrollment.DueDay < 1 || enrollment.DueDay > 31 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "due day must be between 1 and 31")
	}

	start := enrollment.StartDate
	if start.IsZero() {
		start = s.now()
	}

	installment := enrollment.AnnualTuition.
		Sub(enrollment.RegistrationFee).
		Div(decimal.NewFromInt(int64(s.cfg.InstallmentCount))).
		Round(2)

	result := &PlanResult{}

	registrationDue := start.AddDate(0, 0, s.cfg.RegistrationDueOffset)
	s.generateCharge(ctx, result, enrollment.ID, enrollment.RegistrationFee, registrationDue,
		descriptionRegistration, descriptionRegistration)

	for i := 1; i <= s.cfg.InstallmentCount; i++ {
		due := monthlyDueDate(start, enrollment.DueDay, i-1)
		description := fmt.Sprintf("%s %d/%d", descriptionInstallmentPrefix, i, s.cfg.InstallmentCount)
		s.generateCharge(ctx, result, enrollment.ID, installment, due, description, descriptionInstallmentPrefix)
	}

	if result.Created == 0 && result.Failed > 0 {
		return result, appErrors.Clone(appErrors.ErrInternal, "no charges could be created")
	}
	if result.Created > 0 {
		s.invalidateReport(ctx)
	}
	return result, nil
}

func (s *BillingService) generateCharge(ctx context.Context, result *PlanResult, enrollmentID string, amount decimal.Decimal, due time.Time, description, guardPrefix string) {
	item := PlanItemResult{Description: description, DueDate: due, Amount: amount}

	exists, err := s.charges.ExistsInMonth(ctx, enrollmentID, due, guardPrefix)
	if err != nil {
		s.logger.Warn("duplicate guard check failed", zap.String("enrollment_id", enrollmentID), zap.Error(err))
		item.Reason = "guard check failed"
		result.Failed++
		result.Items = append(result.Items, item)
		return
	}
	if exists {
		item.Reason = "a charge already exists for this month"
		result.Skipped++
		result.Items = append(result.Items, item)
		return
	}

	charge := &models.Charge{
		EnrollmentID: enrollmentID,
		BaseAmount:   amount,
		DueDate:      due,
		Description:  description,
		Status:       models.ChargeStatusOpen,
	}
	if err := s.charges.Create(ctx, charge); err != nil {
		s.logger.Warn("charge creation failed", zap.String("enrollment_id", enrollmentID), zap.Error(err))
		item.Reason = "persistence failed"
		result.Failed++
		result.Items = append(result.Items, item)
		return
	}
	item.Created = true
	result.Created++
	result.Items = append(result.Items, item)
	s.metrics.RecordChargeCreated("plan")
}

// monthlyDueDate anchors installment offset months after the start month on
// the configured day, clamped to the last valid day of shorter months.
func monthlyDueDate(start time.Time, dueDay, offset int) time.Time {
	first := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, offset, 0)
	lastDay := first.AddDate(0, 1, -1).Day()
	day := dueDay
	if day > lastDay {
		day = lastDay
	}
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, time.UTC)
}

// CreateCharge persists a single manual charge, subject to the same
// duplicate-month guard as plan generation.
func (s *BillingService) CreateCharge(ctx context.Context, req CreateChargeRequest) (*models.Charge, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid charge payload")
	}
	if req.BaseAmount.LessThanOrEqual(decimal.Zero) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "base amount must be positive")
	}
	description := req.Description
	if description == "" {
		description = descriptionInstallmentPrefix
	}

	guardPrefix := description
	exists, err := s.charges.ExistsInMonth(ctx, req.EnrollmentID, req.DueDate, guardPrefix)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate charge")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "a like charge already exists for this month")
	}

	charge := &models.Charge{
		EnrollmentID: req.EnrollmentID,
		BaseAmount:   req.BaseAmount.Round(2),
		DueDate:      req.DueDate,
		Description:  description,
		Status:       models.ChargeStatusOpen,
	}
	if err := s.charges.Create(ctx, charge); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create charge")
	}
	s.invalidateReport(ctx)
	s.metrics.RecordChargeCreated("manual")
	charge.TotalDue = charge.BaseAmount
	return charge, nil
}

// List returns charges with their late-fee cache refreshed for any open
// overdue charge in the result set.
func (s *BillingService) List(ctx context.Context, filter models.ChargeFilter) ([]models.ChargeDetail, *models.Pagination, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "unknown charge status")
	}
	charges, total, err := s.charges.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list charges")
	}
	eval := s.now()
	for i := range charges {
		s.refreshLateFees(ctx, &charges[i].Charge, eval)
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return charges, pagination, nil
}

// GetByID returns one charge with refreshed late fees. Students may only read
// charges on their own enrollments.
func (s *BillingService) GetByID(ctx context.Context, claims *models.JWTClaims, id string) (*models.ChargeDetail, error) {
	detail, err := s.charges.FindDetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "charge not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load charge")
	}
	if err := requireChargeAccess(claims, detail.StudentRA); err != nil {
		return nil, err
	}
	s.refreshLateFees(ctx, &detail.Charge, s.now())
	return detail, nil
}

// ListStudentCharges returns every charge across a student's enrollments,
// refreshed on read. Students may only read their own.
func (s *BillingService) ListStudentCharges(ctx context.Context, claims *models.JWTClaims, ra string) ([]models.Charge, error) {
	if err := requireChargeAccess(claims, ra); err != nil {
		return nil, err
	}
	if _, err := s.students.FindByRA(ctx, ra); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	charges, err := s.charges.ListByStudentRA(ctx, ra)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list student charges")
	}
	eval := s.now()
	for i := range charges {
		s.refreshLateFees(ctx, &charges[i], eval)
	}
	return charges, nil
}

// RegisterPayment settles an open charge, freezing the late-fee computation at
// the payment date. Exactly one of two concurrent attempts succeeds; the loser
// receives a conflict.
func (s *BillingService) RegisterPayment(ctx context.Context, id string, req RegisterPaymentRequest) (*models.Charge, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payment payload")
	}
	if req.PaidAmount.LessThanOrEqual(decimal.Zero) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "paid amount must be positive")
	}

	charge, err := s.charges.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "charge not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load charge")
	}
	if charge.Status != models.ChargeStatusOpen {
		return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("charge is %s and cannot be paid", charge.Status))
	}

	breakdown := s.calc.Compute(charge.BaseAmount, charge.DueDate, charge.Status, nil, req.PaidDate)
	ok, err := s.charges.MarkPaid(ctx, id, req.PaidAmount.Round(2), req.PaidDate,
		breakdown.DaysLate, breakdown.MonthlyPenalty, breakdown.DailyPenalty)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to register payment")
	}
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrConflict, "charge was settled by a concurrent request")
	}
	s.invalidateReport(ctx)
	s.metrics.RecordPayment()

	paid := req.PaidAmount.Round(2)
	paidDate := req.PaidDate
	charge.Status = models.ChargeStatusPaid
	charge.PaidAmount = &paid
	charge.PaidDate = &paidDate
	charge.DaysLate = breakdown.DaysLate
	charge.PenaltyMonthly = breakdown.MonthlyPenalty
	charge.PenaltyDaily = breakdown.DailyPenalty
	charge.TotalDue = paid
	return charge, nil
}

// UpdateStatus applies a terminal disposition (cancelled, refunded, charged
// back) to an open charge.
func (s *BillingService) UpdateStatus(ctx context.Context, id string, req UpdateChargeStatusRequest) error {
	if !req.Status.Terminal() {
		return appErrors.Clone(appErrors.ErrValidation, "status must be a terminal disposition")
	}
	charge, err := s.charges.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "charge not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load charge")
	}
	if charge.Status != models.ChargeStatusOpen {
		return appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("charge is already %s", charge.Status))
	}
	ok, err := s.charges.UpdateStatus(ctx, id, req.Status)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update charge status")
	}
	if !ok {
		return appErrors.Clone(appErrors.ErrConflict, "charge was settled by a concurrent request")
	}
	s.invalidateReport(ctx)
	return nil
}

// Delete removes a charge permanently; this is the administrative correction
// path and is allowed regardless of status.
func (s *BillingService) Delete(ctx context.Context, id string) error {
	ok, err := s.charges.Delete(ctx, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete charge")
	}
	if !ok {
		return appErrors.Clone(appErrors.ErrNotFound, "charge not found")
	}
	s.invalidateReport(ctx)
	return nil
}

// DelinquencyReport aggregates overdue open charges per enrollment. The
// snapshot is cached briefly and invalidated on every ledger mutation.
func (s *BillingService) DelinquencyReport(ctx context.Context) (*DelinquencyReport, error) {
	if s.cache != nil {
		var cached DelinquencyReport
		if err := s.cache.Get(ctx, delinquencyReportCacheKey, &cached); err == nil {
			s.metrics.RecordCacheOperation(true)
			return &cached, nil
		} else if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("delinquency report cache read failed", zap.Error(err))
		}
		s.metrics.RecordCacheOperation(false)
	}

	buildStart := time.Now()
	eval := s.now()
	charges, err := s.charges.ListOverdueOpen(ctx, eval)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list overdue charges")
	}

	report := &DelinquencyReport{GeneratedAt: eval, TotalDue: decimal.Zero}
	rowIndex := make(map[string]int)
	for i := range charges {
		s.refreshLateFees(ctx, &charges[i].Charge, eval)
		c := charges[i]
		idx, ok := rowIndex[c.EnrollmentID]
		if !ok {
			idx = len(report.Rows)
			rowIndex[c.EnrollmentID] = idx
			report.Rows = append(report.Rows, DelinquencyReportRow{
				EnrollmentID: c.EnrollmentID,
				StudentName:  c.StudentName,
				StudentRA:    c.StudentRA,
				TotalDue:     decimal.Zero,
			})
		}
		row := &report.Rows[idx]
		row.ChargeCount++
		row.TotalDue = row.TotalDue.Add(c.TotalDue)
		row.Charges = append(row.Charges, c)
		report.TotalDue = report.TotalDue.Add(c.TotalDue)
		report.TotalCharges++
	}

	s.metrics.ObserveReportBuild(time.Since(buildStart))

	if s.cache != nil {
		if err := s.cache.Set(ctx, delinquencyReportCacheKey, report, s.cfg.ReportCacheTTL); err != nil {
			s.logger.Warn("delinquency report cache write failed", zap.Error(err))
		}
	}
	return report, nil
}

// refreshLateFees recomputes the derived penalty fields and writes them back
// when the charge is open and overdue. The write overwrites the previous
// cache, so repeated reads settle on the same values for a given day.
func (s *BillingService) refreshLateFees(ctx context.Context, charge *models.Charge, eval time.Time) {
	breakdown := s.calc.Compute(charge.BaseAmount, charge.DueDate, charge.Status, charge.PaidAmount, eval)
	charge.TotalDue = breakdown.TotalDue
	if charge.Status != models.ChargeStatusOpen || breakdown.DaysLate == 0 {
		return
	}
	charge.DaysLate = breakdown.DaysLate
	charge.PenaltyMonthly = breakdown.MonthlyPenalty
	charge.PenaltyDaily = breakdown.DailyPenalty
	if err := s.charges.UpdateLateFees(ctx, charge.ID, breakdown.DaysLate, breakdown.MonthlyPenalty, breakdown.DailyPenalty); err != nil {
		s.logger.Warn("late fee refresh failed", zap.String("charge_id", charge.ID), zap.Error(err))
		return
	}
	s.metrics.RecordLateFeeRefresh()
}

func (s *BillingService) invalidateReport(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, delinquencyReportCacheKey); err != nil {
		s.logger.Warn("delinquency report cache invalidation failed", zap.Error(err))
	}
}

// requireChargeAccess allows administrative roles through and restricts
// student roles to their own registration number.
func requireChargeAccess(claims *models.JWTClaims, ra string) error {
	if claims == nil {
		return appErrors.ErrUnauthorized
	}
	switch claims.Role {
	case models.RoleAdmin, models.RoleTeacher:
		return nil
	case models.RoleStudent, models.RolePendingStudent:
		if claims.Username == ra {
			return nil
		}
	}
	return appErrors.Clone(appErrors.ErrForbidden, "charge does not belong to this account")
}
