package service

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/linguaops/lingua-ops-api/internal/models"
	"github.com/linguaops/lingua-ops-api/internal/money"
	appErrors "github.com/linguaops/lingua-ops-api/pkg/errors"
)

type studentRepository interface {
	List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error)
	FindByID(ctx context.Context, id string) (*models.Student, error)
	CreateTx(ctx context.Context, tx *sqlx.Tx, student *models.Student) error
	UpdateProfile(ctx context.Context, student *models.Student) error
	SetActive(ctx context.Context, id string, active bool) error
	Delete(ctx context.Context, id string) error
}

type paymentExistenceChecker interface {
	ExistsForStudent(ctx context.Context, studentID string) (bool, error)
}

type paymentCreator interface {
	CreateTx(ctx context.Context, tx *sqlx.Tx, payment *models.Payment) error
}

// InitialPaymentRequest is an optional payment taken at enrollment time.
type InitialPaymentRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Method string          `json:"method" validate:"required"`
}

// EnrollStudentRequest describes a new enrollment.
type EnrollStudentRequest struct {
	FullName        string                 `json:"full_name" validate:"required"`
	Email           string                 `json:"email" validate:"required,email"`
	Phone           string                 `json:"phone"`
	Level           string                 `json:"level" validate:"required,oneof=A1 A2 B1 B2 C1 C2"`
	Batch           string                 `json:"batch" validate:"required"`
	BatchTiming     string                 `json:"batch_timing"`
	ReferralSource  string                 `json:"referral_source"`
	EnrollmentDate  *time.Time             `json:"enrollment_date"`
	Currency        string                 `json:"currency" validate:"required"`
	OriginalPrice   decimal.Decimal        `json:"original_price"`
	DiscountApplied decimal.Decimal        `json:"discount_applied"`
	InitialPayment  *InitialPaymentRequest `json:"initial_payment,omitempty"`
	Actor           string                 `json:"-"`
}

// UpdateStudentRequest patches profile fields. Pricing is immutable after
// enrollment; corrections go through payments and refunds.
type UpdateStudentRequest struct {
	FullName       *string `json:"full_name"`
	Email          *string `json:"email" validate:"omitempty,email"`
	Phone          *string `json:"phone"`
	Level          *string `json:"level" validate:"omitempty,oneof=A1 A2 B1 B2 C1 C2"`
	Batch          *string `json:"batch"`
	BatchTiming    *string `json:"batch_timing"`
	ReferralSource *string `json:"referral_source"`
	Active         *bool   `json:"active"`
}

// StudentService manages the student lifecycle around the ledger.
type StudentService struct {
	tx        txProvider
	students  studentRepository
	payments  paymentCreator
	history   paymentExistenceChecker
	ledger    *LedgerService
	converter *money.Converter
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// StudentServiceParams groups constructor dependencies.
type StudentServiceParams struct {
	Tx        txProvider
	Students  studentRepository
	Payments  paymentCreator
	History   paymentExistenceChecker
	Ledger    *LedgerService
	Converter *money.Converter
	Cache     *CacheService
	Validator *validator.Validate
	Logger    *zap.Logger
	Now       func() time.Time
}

// NewStudentService constructs StudentService.
func NewStudentService(params StudentServiceParams) *StudentService {
	if params.Validator == nil {
		params.Validator = validator.New()
	}
	if params.Logger == nil {
		params.Logger = zap.NewNop()
	}
	if params.Now == nil {
		params.Now = func() time.Time { return time.Now().UTC() }
	}
	return &StudentService{
		tx:        params.Tx,
		students:  params.Students,
		payments:  params.Payments,
		history:   params.History,
		ledger:    params.Ledger,
		converter: params.Converter,
		cache:     params.Cache,
		validator: params.Validator,
		logger:    params.Logger,
		now:       params.Now,
	}
}

// Enroll creates a student, applies the discount to derive the final price
// and optionally records an initial payment, all in one transaction.
func (s *StudentService) Enroll(ctx context.Context, req EnrollStudentRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}
	currency := models.Currency(strings.ToUpper(req.Currency))
	if !currency.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported currency")
	}
	if !req.OriginalPrice.IsPositive() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "original price must be positive")
	}
	if req.DiscountApplied.IsNegative() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "discount cannot be negative")
	}
	if req.DiscountApplied.GreaterThan(req.OriginalPrice) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "discount exceeds original price")
	}
	if req.InitialPayment != nil && !req.InitialPayment.Amount.IsPositive() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "initial payment amount must be positive")
	}

	finalPrice := req.OriginalPrice.Sub(req.DiscountApplied)
	eurEquivalent, err := s.converter.ToEur(finalPrice, currency)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to convert final price")
	}

	enrollmentDate := s.now()
	if req.EnrollmentDate != nil {
		enrollmentDate = *req.EnrollmentDate
	}

	student := &models.Student{
		FullName:         req.FullName,
		Email:            req.Email,
		Phone:            req.Phone,
		Level:            req.Level,
		Batch:            req.Batch,
		BatchTiming:      req.BatchTiming,
		ReferralSource:   req.ReferralSource,
		EnrollmentDate:   enrollmentDate,
		Active:           true,
		OriginalPrice:    req.OriginalPrice,
		DiscountApplied:  req.DiscountApplied,
		FinalPrice:       finalPrice,
		Currency:         currency,
		Balance:          finalPrice,
		EurEquivalent:    eurEquivalent,
		ExchangeRateUsed: s.converter.Rate(currency),
		PaymentStatus:    models.PaymentStatusPending,
		ChurnRisk:        models.ChurnRiskLow,
	}

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = s.students.CreateTx(ctx, tx, student); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create student")
		return nil, err
	}

	if req.InitialPayment != nil {
		payment := &models.Payment{
			StudentID:   student.ID,
			Amount:      req.InitialPayment.Amount,
			Currency:    currency,
			Status:      models.PaymentRecordCompleted,
			PaymentDate: enrollmentDate,
			Method:      req.InitialPayment.Method,
		}
		if err = s.payments.CreateTx(ctx, tx, payment); err != nil {
			err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record initial payment")
			return nil, err
		}
		if err = s.ledger.recomputeTx(ctx, tx, student); err != nil {
			return nil, err
		}
	}

	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit enrollment")
		return nil, err
	}
	if s.cache.Enabled() {
		_ = s.cache.Invalidate(ctx, "retention:*")
	}

	s.logger.Info("student enrolled",
		zap.String("student_id", student.ID),
		zap.String("level", student.Level),
		zap.String("batch", student.Batch),
	)
	return student, nil
}

// List returns students matching the filter together with the total count.
func (s *StudentService) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	students, total, err := s.students.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}
	return students, total, nil
}

// Get returns a single student.
func (s *StudentService) Get(ctx context.Context, id string) (*models.Student, error) {
	student, err := s.students.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return student, nil
}

// UpdateProfile patches profile fields of a student.
func (s *StudentService) UpdateProfile(ctx context.Context, id string, req UpdateStudentRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}
	student, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.FullName != nil {
		student.FullName = *req.FullName
	}
	if req.Email != nil {
		student.Email = *req.Email
	}
	if req.Phone != nil {
		student.Phone = *req.Phone
	}
	if req.Level != nil {
		student.Level = *req.Level
	}
	if req.Batch != nil {
		student.Batch = *req.Batch
	}
	if req.BatchTiming != nil {
		student.BatchTiming = *req.BatchTiming
	}
	if req.ReferralSource != nil {
		student.ReferralSource = *req.ReferralSource
	}
	if req.Active != nil {
		student.Active = *req.Active
	}

	if err := s.students.UpdateProfile(ctx, student); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update student")
	}
	if s.cache.Enabled() {
		_ = s.cache.Invalidate(ctx, "retention:*")
	}
	return student, nil
}

// Deactivate marks a student inactive. Inactive students keep their ledger
// history but drop out of risk dashboards, call lists and peer matching.
func (s *StudentService) Deactivate(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.students.SetActive(ctx, id, false); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to deactivate student")
	}
	if s.cache.Enabled() {
		_ = s.cache.Invalidate(ctx, "retention:*")
	}
	return nil
}

// Delete removes a student permanently. Students with payment history cannot
// be deleted; deactivate them instead.
func (s *StudentService) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	hasPayments, err := s.history.ExistsForStudent(ctx, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check payment history")
	}
	if hasPayments {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, "student has payment history; deactivate instead")
	}
	if err := s.students.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete student")
	}
	if s.cache.Enabled() {
		_ = s.cache.Invalidate(ctx, "retention:*")
	}
	return nil
}
