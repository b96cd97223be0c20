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

// txProvider abstracts transaction creation so tests can inject a sqlmock DB.
type txProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

type studentLedgerRepository interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
	FindByIDTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.Student, error)
	UpdateLedgerTx(ctx context.Context, tx *sqlx.Tx, student *models.Student) error
}

type paymentRepository interface {
	ListByStudent(ctx context.Context, studentID string) ([]models.Payment, error)
	FindByID(ctx context.Context, id string) (*models.Payment, error)
	CreateTx(ctx context.Context, tx *sqlx.Tx, payment *models.Payment) error
	UpdateTx(ctx context.Context, tx *sqlx.Tx, payment *models.Payment) error
	MarkRefundedTx(ctx context.Context, tx *sqlx.Tx, id string) error
	DeleteTx(ctx context.Context, tx *sqlx.Tx, id string) error
	SumCompletedTx(ctx context.Context, tx *sqlx.Tx, studentID string) (decimal.Decimal, error)
}

type refundRepository interface {
	CreateTx(ctx context.Context, tx *sqlx.Tx, refund *models.Refund) error
	SumOutstandingTx(ctx context.Context, tx *sqlx.Tx, studentID string) (decimal.Decimal, error)
	ListByStudent(ctx context.Context, studentID string) ([]models.Refund, error)
}

// RecordPaymentRequest describes a payment creation payload.
type RecordPaymentRequest struct {
	StudentID   string          `json:"student_id" validate:"required"`
	Amount      decimal.Decimal `json:"amount"`
	Status      string          `json:"status" validate:"omitempty,payment_record_status"`
	Method      string          `json:"method" validate:"required"`
	PaymentDate *time.Time      `json:"payment_date"`
	Actor       string          `json:"-"`
}

// UpdatePaymentRequest describes a payment mutation payload.
type UpdatePaymentRequest struct {
	Amount      *decimal.Decimal `json:"amount"`
	Status      *string          `json:"status" validate:"omitempty,payment_record_status"`
	Method      *string          `json:"method"`
	PaymentDate *time.Time       `json:"payment_date"`
	Actor       string           `json:"-"`
}

// ApplyRefundRequest describes a refund payload.
type ApplyRefundRequest struct {
	StudentID    string          `json:"student_id" validate:"required"`
	PaymentID    *string         `json:"payment_id"`
	RefundAmount decimal.Decimal `json:"refund_amount"`
	RefundMethod string          `json:"refund_method" validate:"required"`
	RefundReason string          `json:"refund_reason" validate:"required"`
	Actor        string          `json:"-"`
}

// LedgerResult reports the outcome of a ledger mutation. The audit record is
// returned for the caller to log; the engine does not write audit trails.
type LedgerResult struct {
	Student  *models.Student    `json:"student"`
	Payment  *models.Payment    `json:"payment,omitempty"`
	Refund   *models.Refund     `json:"refund,omitempty"`
	Overpaid bool               `json:"overpaid"`
	Audit    models.AuditRecord `json:"audit"`
}

// StudentLedger aggregates a student's full financial history.
type StudentLedger struct {
	Student  *models.Student  `json:"student"`
	Payments []models.Payment `json:"payments"`
	Refunds  []models.Refund  `json:"refunds"`
}

// LedgerService maintains the per-student financial ledger. Every payment or
// refund mutation recomputes derived state inside the same transaction; a
// failure anywhere rolls the whole operation back.
type LedgerService struct {
	tx               txProvider
	students         studentLedgerRepository
	payments         paymentRepository
	refunds          refundRepository
	converter        *money.Converter
	cache            *CacheService
	metrics          *MetricsService
	validator        *validator.Validate
	logger           *zap.Logger
	overdueAfterDays int
	now              func() time.Time
}

// LedgerServiceParams groups constructor dependencies.
type LedgerServiceParams struct {
	Tx               txProvider
	Students         studentLedgerRepository
	Payments         paymentRepository
	Refunds          refundRepository
	Converter        *money.Converter
	Cache            *CacheService
	Metrics          *MetricsService
	Validator        *validator.Validate
	Logger           *zap.Logger
	OverdueAfterDays int
	Now              func() time.Time
}

// NewLedgerService constructs LedgerService.
func NewLedgerService(params LedgerServiceParams) *LedgerService {
	if params.Validator == nil {
		params.Validator = validator.New()
	}
	if params.Logger == nil {
		params.Logger = zap.NewNop()
	}
	if params.OverdueAfterDays <= 0 {
		params.OverdueAfterDays = 30
	}
	if params.Now == nil {
		params.Now = func() time.Time { return time.Now().UTC() }
	}
	svc := &LedgerService{
		tx:               params.Tx,
		students:         params.Students,
		payments:         params.Payments,
		refunds:          params.Refunds,
		converter:        params.Converter,
		cache:            params.Cache,
		metrics:          params.Metrics,
		validator:        params.Validator,
		logger:           params.Logger,
		overdueAfterDays: params.OverdueAfterDays,
		now:              params.Now,
	}
	svc.validator.RegisterValidation("payment_record_status", func(fl validator.FieldLevel) bool {
		return models.PaymentRecordStatus(strings.ToUpper(fl.Field().String())).Valid()
	})
	return svc
}

// GetStudentLedger returns the student with full payment and refund history.
func (s *LedgerService) GetStudentLedger(ctx context.Context, studentID string) (*StudentLedger, error) {
	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	payments, err := s.payments.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payments")
	}
	refunds, err := s.refunds.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load refunds")
	}
	return &StudentLedger{Student: student, Payments: payments, Refunds: refunds}, nil
}

// RecordPayment creates a payment and recomputes the ledger atomically.
func (s *LedgerService) RecordPayment(ctx context.Context, req RecordPaymentRequest) (*LedgerResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payment payload")
	}
	if !req.Amount.IsPositive() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "payment amount must be positive")
	}
	status := models.PaymentRecordStatus(strings.ToUpper(req.Status))
	if req.Status == "" {
		status = models.PaymentRecordCompleted
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

	student, err := s.students.FindByIDTx(ctx, tx, req.StudentID)
	if err != nil {
		if err == sql.ErrNoRows {
			err = appErrors.Clone(appErrors.ErrNotFound, "student not found")
			return nil, err
		}
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
		return nil, err
	}
	before := student.TotalPaid
	beforeStatus := student.PaymentStatus

	paymentDate := s.now()
	if req.PaymentDate != nil {
		paymentDate = *req.PaymentDate
	}
	payment := &models.Payment{
		StudentID:   student.ID,
		Amount:      req.Amount,
		Currency:    student.Currency,
		Status:      status,
		PaymentDate: paymentDate,
		Method:      req.Method,
	}
	if err = s.payments.CreateTx(ctx, tx, payment); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create payment")
		return nil, err
	}

	if err = s.recomputeTx(ctx, tx, student); err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit payment")
		return nil, err
	}
	s.invalidateRetentionCache(ctx)

	return s.result(student, payment, nil, req.Actor, "payment.recorded", "payment", payment.ID, before, beforeStatus), nil
}

// UpdatePayment mutates a payment and recomputes the ledger atomically.
func (s *LedgerService) UpdatePayment(ctx context.Context, paymentID string, req UpdatePaymentRequest) (*LedgerResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payment payload")
	}
	if req.Amount != nil && !req.Amount.IsPositive() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "payment amount must be positive")
	}

	payment, err := s.payments.FindByID(ctx, paymentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "payment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment")
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

	student, err := s.students.FindByIDTx(ctx, tx, payment.StudentID)
	if err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
		return nil, err
	}
	before := student.TotalPaid
	beforeStatus := student.PaymentStatus

	if req.Amount != nil {
		payment.Amount = *req.Amount
	}
	if req.Status != nil {
		payment.Status = models.PaymentRecordStatus(strings.ToUpper(*req.Status))
	}
	if req.Method != nil {
		payment.Method = *req.Method
	}
	if req.PaymentDate != nil {
		payment.PaymentDate = *req.PaymentDate
	}
	if err = s.payments.UpdateTx(ctx, tx, payment); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update payment")
		return nil, err
	}

	if err = s.recomputeTx(ctx, tx, student); err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit payment update")
		return nil, err
	}
	s.invalidateRetentionCache(ctx)

	return s.result(student, payment, nil, req.Actor, "payment.updated", "payment", payment.ID, before, beforeStatus), nil
}

// DeletePayment removes a payment and recomputes the ledger atomically.
func (s *LedgerService) DeletePayment(ctx context.Context, paymentID, actor string) (*LedgerResult, error) {
	payment, err := s.payments.FindByID(ctx, paymentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "payment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment")
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

	student, err := s.students.FindByIDTx(ctx, tx, payment.StudentID)
	if err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
		return nil, err
	}
	before := student.TotalPaid
	beforeStatus := student.PaymentStatus

	if err = s.payments.DeleteTx(ctx, tx, paymentID); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete payment")
		return nil, err
	}

	if err = s.recomputeTx(ctx, tx, student); err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit payment deletion")
		return nil, err
	}
	s.invalidateRetentionCache(ctx)

	return s.result(student, payment, nil, actor, "payment.deleted", "payment", payment.ID, before, beforeStatus), nil
}

// ApplyRefund creates a refund and adjusts the ledger in one transaction.
// The refund must not exceed the student's current total paid.
func (s *LedgerService) ApplyRefund(ctx context.Context, req ApplyRefundRequest) (*LedgerResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid refund payload")
	}
	if !req.RefundAmount.IsPositive() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "refund amount must be positive")
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

	student, err := s.students.FindByIDTx(ctx, tx, req.StudentID)
	if err != nil {
		if err == sql.ErrNoRows {
			err = appErrors.Clone(appErrors.ErrNotFound, "student not found")
			return nil, err
		}
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
		return nil, err
	}
	before := student.TotalPaid
	beforeStatus := student.PaymentStatus

	if req.RefundAmount.GreaterThan(student.TotalPaid) {
		err = appErrors.Clone(appErrors.ErrInvalidRefundAmount, "")
		return nil, err
	}

	if req.PaymentID != nil {
		var payment *models.Payment
		payment, err = s.payments.FindByID(ctx, *req.PaymentID)
		if err != nil {
			if err == sql.ErrNoRows {
				err = appErrors.Clone(appErrors.ErrNotFound, "payment not found")
				return nil, err
			}
			err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment")
			return nil, err
		}
		if payment.StudentID != student.ID {
			err = appErrors.Clone(appErrors.ErrValidation, "payment does not belong to student")
			return nil, err
		}
		if payment.Status == models.PaymentRecordRefunded {
			err = appErrors.Clone(appErrors.ErrPreconditionFailed, "payment already refunded")
			return nil, err
		}
		// A full refund of a single payment flips that payment to REFUNDED
		// so it drops out of the completed sum directly.
		if payment.Status == models.PaymentRecordCompleted && req.RefundAmount.Equal(payment.Amount) {
			if err = s.payments.MarkRefundedTx(ctx, tx, payment.ID); err != nil {
				err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark payment refunded")
				return nil, err
			}
		}
	}

	refund := &models.Refund{
		StudentID:    student.ID,
		PaymentID:    req.PaymentID,
		RefundAmount: req.RefundAmount,
		Currency:     student.Currency,
		RefundMethod: req.RefundMethod,
		RefundReason: req.RefundReason,
		Status:       models.RefundStatusProcessed,
	}
	if err = s.refunds.CreateTx(ctx, tx, refund); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create refund")
		return nil, err
	}

	if err = s.recomputeTx(ctx, tx, student); err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit refund")
		return nil, err
	}
	s.invalidateRetentionCache(ctx)
	if s.metrics != nil {
		s.metrics.RecordRefund()
	}

	return s.result(student, nil, refund, req.Actor, "refund.applied", "refund", refund.ID, before, beforeStatus), nil
}

// RecomputeStudentTotals re-derives payment totals, balance and payment
// status from stored history. It is idempotent: repeated calls with no
// intervening payment change produce identical state.
func (s *LedgerService) RecomputeStudentTotals(ctx context.Context, studentID string) (*LedgerResult, error) {
	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	student, err := s.students.FindByIDTx(ctx, tx, studentID)
	if err != nil {
		if err == sql.ErrNoRows {
			err = appErrors.Clone(appErrors.ErrNotFound, "student not found")
			return nil, err
		}
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
		return nil, err
	}
	before := student.TotalPaid
	beforeStatus := student.PaymentStatus

	if err = s.recomputeTx(ctx, tx, student); err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit recompute")
		return nil, err
	}

	return s.result(student, nil, nil, "", "ledger.recomputed", "student", student.ID, before, beforeStatus), nil
}

// recomputeTx re-derives the payment-side state of the student in place and
// writes it, all within the caller's transaction.
func (s *LedgerService) recomputeTx(ctx context.Context, tx *sqlx.Tx, student *models.Student) error {
	completed, err := s.payments.SumCompletedTx(ctx, tx, student.ID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sum payments")
	}
	refunded, err := s.refunds.SumOutstandingTx(ctx, tx, student.ID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sum refunds")
	}

	totalPaid := completed.Sub(refunded)
	if totalPaid.IsNegative() {
		return appErrors.Clone(appErrors.ErrConsistency, "refunds exceed completed payments")
	}

	if err := s.applyTotals(student, totalPaid); err != nil {
		return err
	}

	if err := s.students.UpdateLedgerTx(ctx, tx, student); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to write ledger state")
	}
	if s.metrics != nil {
		s.metrics.RecordLedgerRecompute()
	}
	return nil
}

// applyTotals sets the derived monetary fields and payment status for the
// given total. State stays unrounded; rounding belongs to report boundaries.
func (s *LedgerService) applyTotals(student *models.Student, totalPaid decimal.Decimal) error {
	paidEur, err := s.converter.ToEur(totalPaid, student.Currency)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to convert total paid")
	}
	eurEquivalent, err := s.converter.ToEur(student.FinalPrice, student.Currency)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to convert final price")
	}

	student.TotalPaid = totalPaid
	student.TotalPaidEur = paidEur
	student.Balance = student.FinalPrice.Sub(totalPaid)
	student.EurEquivalent = eurEquivalent
	student.ExchangeRateUsed = s.converter.Rate(student.Currency)
	student.PaymentStatus = s.deriveStatus(student, totalPaid)

	if totalPaid.GreaterThan(student.FinalPrice) {
		s.logger.Warn("student overpaid",
			zap.String("student_id", student.ID),
			zap.String("total_paid", totalPaid.String()),
			zap.String("final_price", student.FinalPrice.String()),
		)
	}
	return nil
}

// deriveStatus applies the payment-status state machine. OVERDUE overrides
// PENDING and PARTIAL once the enrollment window lapses, never PAID.
func (s *LedgerService) deriveStatus(student *models.Student, totalPaid decimal.Decimal) models.PaymentStatus {
	var status models.PaymentStatus
	switch {
	case totalPaid.IsZero():
		status = models.PaymentStatusPending
	case totalPaid.GreaterThanOrEqual(student.FinalPrice):
		status = models.PaymentStatusPaid
	default:
		status = models.PaymentStatusPartial
	}

	if status != models.PaymentStatusPaid &&
		student.Balance.IsPositive() &&
		s.daysSinceEnrollment(student) > s.overdueAfterDays {
		status = models.PaymentStatusOverdue
	}
	return status
}

func (s *LedgerService) daysSinceEnrollment(student *models.Student) int {
	return int(s.now().Sub(student.EnrollmentDate).Hours() / 24)
}

func (s *LedgerService) invalidateRetentionCache(ctx context.Context) {
	if s.cache.Enabled() {
		_ = s.cache.Invalidate(ctx, "retention:*")
	}
}

func (s *LedgerService) result(student *models.Student, payment *models.Payment, refund *models.Refund, actor, action, entityType, entityID string, beforeAmount decimal.Decimal, beforeStatus models.PaymentStatus) *LedgerResult {
	if actor == "" {
		actor = "system"
	}
	afterAmount := student.TotalPaid
	return &LedgerResult{
		Student:  student,
		Payment:  payment,
		Refund:   refund,
		Overpaid: student.TotalPaid.GreaterThan(student.FinalPrice),
		Audit: models.AuditRecord{
			Actor:        actor,
			Action:       action,
			EntityType:   entityType,
			EntityID:     entityID,
			StudentID:    student.ID,
			BeforeAmount: &beforeAmount,
			AfterAmount:  &afterAmount,
			BeforeStatus: string(beforeStatus),
			AfterStatus:  string(student.PaymentStatus),
			At:           s.now(),
		},
	}
}
