package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linguaops/lingua-ops-api/internal/models"
	"github.com/linguaops/lingua-ops-api/internal/money"
	appErrors "github.com/linguaops/lingua-ops-api/pkg/errors"
)

var testNow = time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

func newServiceTx(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "sqlmock")
	return sqlxDB, mock, func() { _ = sqlxDB.Close() }
}

type ledgerStudentMock struct {
	student *models.Student
	updated []models.Student
}

func (m *ledgerStudentMock) FindByID(ctx context.Context, id string) (*models.Student, error) {
	return m.FindByIDTx(ctx, nil, id)
}

func (m *ledgerStudentMock) FindByIDTx(_ context.Context, _ *sqlx.Tx, id string) (*models.Student, error) {
	if m.student == nil || m.student.ID != id {
		return nil, sql.ErrNoRows
	}
	clone := *m.student
	return &clone, nil
}

func (m *ledgerStudentMock) UpdateLedgerTx(_ context.Context, _ *sqlx.Tx, student *models.Student) error {
	m.updated = append(m.updated, *student)
	return nil
}

type ledgerPaymentMock struct {
	payment      *models.Payment
	sumCompleted decimal.Decimal
	created      []models.Payment
	refundedIDs  []string
	deletedIDs   []string
}

func (m *ledgerPaymentMock) ListByStudent(context.Context, string) ([]models.Payment, error) {
	if m.payment == nil {
		return nil, nil
	}
	return []models.Payment{*m.payment}, nil
}

func (m *ledgerPaymentMock) FindByID(_ context.Context, id string) (*models.Payment, error) {
	if m.payment == nil || m.payment.ID != id {
		return nil, sql.ErrNoRows
	}
	clone := *m.payment
	return &clone, nil
}

func (m *ledgerPaymentMock) CreateTx(_ context.Context, _ *sqlx.Tx, payment *models.Payment) error {
	payment.ID = "pay-new"
	m.created = append(m.created, *payment)
	return nil
}

func (m *ledgerPaymentMock) UpdateTx(_ context.Context, _ *sqlx.Tx, payment *models.Payment) error {
	clone := *payment
	m.payment = &clone
	return nil
}

func (m *ledgerPaymentMock) MarkRefundedTx(_ context.Context, _ *sqlx.Tx, id string) error {
	m.refundedIDs = append(m.refundedIDs, id)
	m.sumCompleted = m.sumCompleted.Sub(m.payment.Amount)
	return nil
}

func (m *ledgerPaymentMock) DeleteTx(_ context.Context, _ *sqlx.Tx, id string) error {
	m.deletedIDs = append(m.deletedIDs, id)
	return nil
}

func (m *ledgerPaymentMock) SumCompletedTx(context.Context, *sqlx.Tx, string) (decimal.Decimal, error) {
	return m.sumCompleted, nil
}

type ledgerRefundMock struct {
	outstanding decimal.Decimal
	created     []models.Refund
}

func (m *ledgerRefundMock) CreateTx(_ context.Context, _ *sqlx.Tx, refund *models.Refund) error {
	refund.ID = "ref-new"
	m.created = append(m.created, *refund)
	return nil
}

func (m *ledgerRefundMock) SumOutstandingTx(context.Context, *sqlx.Tx, string) (decimal.Decimal, error) {
	return m.outstanding, nil
}

func (m *ledgerRefundMock) ListByStudent(context.Context, string) ([]models.Refund, error) {
	return nil, nil
}

func ledgerStudent(enrolledDaysAgo int) *models.Student {
	return &models.Student{
		ID:             "s1",
		FullName:       "Ana Silva",
		Currency:       models.CurrencyEUR,
		OriginalPrice:  decimal.NewFromInt(1000),
		FinalPrice:     decimal.NewFromInt(1000),
		EnrollmentDate: testNow.AddDate(0, 0, -enrolledDaysAgo),
		PaymentStatus:  models.PaymentStatusPending,
		Active:         true,
	}
}

func newLedgerService(t *testing.T, db *sqlx.DB, students *ledgerStudentMock, payments *ledgerPaymentMock, refunds *ledgerRefundMock) *LedgerService {
	t.Helper()
	converter, err := money.NewConverter(decimal.NewFromInt(90))
	require.NoError(t, err)
	return NewLedgerService(LedgerServiceParams{
		Tx:               db,
		Students:         students,
		Payments:         payments,
		Refunds:          refunds,
		Converter:        converter,
		OverdueAfterDays: 30,
		Now:              func() time.Time { return testNow },
	})
}

func TestRecordPaymentDerivesPartialStatus(t *testing.T) {
	db, mock, cleanup := newServiceTx(t)
	defer cleanup()

	students := &ledgerStudentMock{student: ledgerStudent(10)}
	payments := &ledgerPaymentMock{sumCompleted: decimal.NewFromInt(400)}
	refunds := &ledgerRefundMock{}
	svc := newLedgerService(t, db, students, payments, refunds)

	mock.ExpectBegin()
	mock.ExpectCommit()

	result, err := svc.RecordPayment(context.Background(), RecordPaymentRequest{
		StudentID: "s1",
		Amount:    decimal.NewFromInt(400),
		Method:    "bank_transfer",
	})
	require.NoError(t, err)

	assert.True(t, result.Student.TotalPaid.Equal(decimal.NewFromInt(400)))
	assert.True(t, result.Student.Balance.Equal(decimal.NewFromInt(600)))
	assert.Equal(t, models.PaymentStatusPartial, result.Student.PaymentStatus)
	assert.False(t, result.Overpaid)

	require.Len(t, payments.created, 1)
	assert.Equal(t, models.PaymentRecordCompleted, payments.created[0].Status)
	assert.Equal(t, models.CurrencyEUR, payments.created[0].Currency)

	assert.Equal(t, "payment.recorded", result.Audit.Action)
	assert.Equal(t, "PENDING", result.Audit.BeforeStatus)
	assert.Equal(t, "PARTIAL", result.Audit.AfterStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordPaymentRejectsNonPositiveAmount(t *testing.T) {
	db, _, cleanup := newServiceTx(t)
	defer cleanup()
	svc := newLedgerService(t, db, &ledgerStudentMock{}, &ledgerPaymentMock{}, &ledgerRefundMock{})

	_, err := svc.RecordPayment(context.Background(), RecordPaymentRequest{
		StudentID: "s1",
		Amount:    decimal.Zero,
		Method:    "cash",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestApplyRefundRejectsAmountOverTotalPaid(t *testing.T) {
	db, mock, cleanup := newServiceTx(t)
	defer cleanup()

	student := ledgerStudent(10)
	student.TotalPaid = decimal.NewFromInt(400)
	student.Balance = decimal.NewFromInt(600)
	student.PaymentStatus = models.PaymentStatusPartial

	students := &ledgerStudentMock{student: student}
	refunds := &ledgerRefundMock{}
	svc := newLedgerService(t, db, students, &ledgerPaymentMock{}, refunds)

	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err := svc.ApplyRefund(context.Background(), ApplyRefundRequest{
		StudentID:    "s1",
		RefundAmount: decimal.NewFromInt(500),
		RefundMethod: "bank_transfer",
		RefundReason: "withdrawal",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrInvalidRefundAmount)

	assert.Empty(t, refunds.created)
	assert.Empty(t, students.updated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyRefundFullAmountReturnsToPending(t *testing.T) {
	db, mock, cleanup := newServiceTx(t)
	defer cleanup()

	student := ledgerStudent(10)
	student.TotalPaid = decimal.NewFromInt(400)
	student.Balance = decimal.NewFromInt(600)
	student.PaymentStatus = models.PaymentStatusPartial

	paymentID := "pay-1"
	payments := &ledgerPaymentMock{
		payment: &models.Payment{
			ID:        paymentID,
			StudentID: "s1",
			Amount:    decimal.NewFromInt(400),
			Status:    models.PaymentRecordCompleted,
		},
		sumCompleted: decimal.NewFromInt(400),
	}
	students := &ledgerStudentMock{student: student}
	refunds := &ledgerRefundMock{}
	svc := newLedgerService(t, db, students, payments, refunds)

	mock.ExpectBegin()
	mock.ExpectCommit()

	result, err := svc.ApplyRefund(context.Background(), ApplyRefundRequest{
		StudentID:    "s1",
		PaymentID:    &paymentID,
		RefundAmount: decimal.NewFromInt(400),
		RefundMethod: "bank_transfer",
		RefundReason: "withdrawal",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{paymentID}, payments.refundedIDs)
	require.Len(t, refunds.created, 1)
	assert.Equal(t, models.RefundStatusProcessed, refunds.created[0].Status)

	assert.True(t, result.Student.TotalPaid.IsZero())
	assert.True(t, result.Student.Balance.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, models.PaymentStatusPending, result.Student.PaymentStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyRefundRejectsAlreadyRefundedPayment(t *testing.T) {
	db, mock, cleanup := newServiceTx(t)
	defer cleanup()

	student := ledgerStudent(10)
	student.TotalPaid = decimal.NewFromInt(400)
	student.Balance = decimal.NewFromInt(600)
	student.PaymentStatus = models.PaymentStatusPartial

	paymentID := "pay-1"
	payments := &ledgerPaymentMock{
		payment: &models.Payment{
			ID:        paymentID,
			StudentID: "s1",
			Amount:    decimal.NewFromInt(400),
			Status:    models.PaymentRecordRefunded,
		},
		sumCompleted: decimal.NewFromInt(400),
	}
	students := &ledgerStudentMock{student: student}
	refunds := &ledgerRefundMock{}
	svc := newLedgerService(t, db, students, payments, refunds)

	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err := svc.ApplyRefund(context.Background(), ApplyRefundRequest{
		StudentID:    "s1",
		PaymentID:    &paymentID,
		RefundAmount: decimal.NewFromInt(400),
		RefundMethod: "bank_transfer",
		RefundReason: "withdrawal",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrPreconditionFailed)

	assert.Empty(t, payments.refundedIDs)
	assert.Empty(t, refunds.created)
	assert.Empty(t, students.updated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecomputeMarksOverdueAfterEnrollmentWindow(t *testing.T) {
	db, mock, cleanup := newServiceTx(t)
	defer cleanup()

	students := &ledgerStudentMock{student: ledgerStudent(45)}
	payments := &ledgerPaymentMock{sumCompleted: decimal.NewFromInt(300)}
	svc := newLedgerService(t, db, students, payments, &ledgerRefundMock{})

	mock.ExpectBegin()
	mock.ExpectCommit()

	result, err := svc.RecomputeStudentTotals(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusOverdue, result.Student.PaymentStatus)
	assert.True(t, result.Student.Balance.Equal(decimal.NewFromInt(700)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecomputeNeverOverridesPaid(t *testing.T) {
	db, mock, cleanup := newServiceTx(t)
	defer cleanup()

	students := &ledgerStudentMock{student: ledgerStudent(45)}
	payments := &ledgerPaymentMock{sumCompleted: decimal.NewFromInt(1000)}
	svc := newLedgerService(t, db, students, payments, &ledgerRefundMock{})

	mock.ExpectBegin()
	mock.ExpectCommit()

	result, err := svc.RecomputeStudentTotals(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, result.Student.PaymentStatus)
	assert.True(t, result.Student.Balance.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecomputeConvertsInrBalances(t *testing.T) {
	db, mock, cleanup := newServiceTx(t)
	defer cleanup()

	student := ledgerStudent(10)
	student.Currency = models.CurrencyINR
	student.OriginalPrice = decimal.NewFromInt(90000)
	student.FinalPrice = decimal.NewFromInt(90000)

	students := &ledgerStudentMock{student: student}
	payments := &ledgerPaymentMock{sumCompleted: decimal.NewFromInt(45000)}
	svc := newLedgerService(t, db, students, payments, &ledgerRefundMock{})

	mock.ExpectBegin()
	mock.ExpectCommit()

	result, err := svc.RecomputeStudentTotals(context.Background(), "s1")
	require.NoError(t, err)
	assert.True(t, result.Student.TotalPaidEur.Equal(decimal.NewFromInt(500)))
	assert.True(t, result.Student.EurEquivalent.Equal(decimal.NewFromInt(1000)))
	require.NotNil(t, result.Student.ExchangeRateUsed)
	assert.True(t, result.Student.ExchangeRateUsed.Equal(decimal.NewFromInt(90)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecomputeIsIdempotent(t *testing.T) {
	db, mock, cleanup := newServiceTx(t)
	defer cleanup()

	students := &ledgerStudentMock{student: ledgerStudent(10)}
	payments := &ledgerPaymentMock{sumCompleted: decimal.NewFromInt(250)}
	svc := newLedgerService(t, db, students, payments, &ledgerRefundMock{})

	mock.ExpectBegin()
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectCommit()

	first, err := svc.RecomputeStudentTotals(context.Background(), "s1")
	require.NoError(t, err)
	second, err := svc.RecomputeStudentTotals(context.Background(), "s1")
	require.NoError(t, err)

	assert.True(t, first.Student.TotalPaid.Equal(second.Student.TotalPaid))
	assert.True(t, first.Student.Balance.Equal(second.Student.Balance))
	assert.Equal(t, first.Student.PaymentStatus, second.Student.PaymentStatus)

	// balance == final_price - total_paid always holds
	for _, updated := range students.updated {
		assert.True(t, updated.Balance.Equal(updated.FinalPrice.Sub(updated.TotalPaid)))
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecomputeRejectsNegativeTotal(t *testing.T) {
	db, mock, cleanup := newServiceTx(t)
	defer cleanup()

	students := &ledgerStudentMock{student: ledgerStudent(10)}
	payments := &ledgerPaymentMock{sumCompleted: decimal.NewFromInt(100)}
	refunds := &ledgerRefundMock{outstanding: decimal.NewFromInt(200)}
	svc := newLedgerService(t, db, students, payments, refunds)

	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err := svc.RecomputeStudentTotals(context.Background(), "s1")
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrConsistency)
	assert.Empty(t, students.updated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordPaymentFlagsOverpayment(t *testing.T) {
	db, mock, cleanup := newServiceTx(t)
	defer cleanup()

	students := &ledgerStudentMock{student: ledgerStudent(10)}
	payments := &ledgerPaymentMock{sumCompleted: decimal.NewFromInt(1200)}
	svc := newLedgerService(t, db, students, payments, &ledgerRefundMock{})

	mock.ExpectBegin()
	mock.ExpectCommit()

	result, err := svc.RecordPayment(context.Background(), RecordPaymentRequest{
		StudentID: "s1",
		Amount:    decimal.NewFromInt(1200),
		Method:    "card",
	})
	require.NoError(t, err)
	assert.True(t, result.Overpaid)
	assert.Equal(t, models.PaymentStatusPaid, result.Student.PaymentStatus)
	assert.True(t, result.Student.Balance.Equal(decimal.NewFromInt(-200)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeletePaymentRecomputes(t *testing.T) {
	db, mock, cleanup := newServiceTx(t)
	defer cleanup()

	student := ledgerStudent(10)
	student.TotalPaid = decimal.NewFromInt(400)
	student.PaymentStatus = models.PaymentStatusPartial

	payments := &ledgerPaymentMock{
		payment: &models.Payment{
			ID:        "pay-1",
			StudentID: "s1",
			Amount:    decimal.NewFromInt(400),
			Status:    models.PaymentRecordCompleted,
		},
		sumCompleted: decimal.Zero,
	}
	students := &ledgerStudentMock{student: student}
	svc := newLedgerService(t, db, students, payments, &ledgerRefundMock{})

	mock.ExpectBegin()
	mock.ExpectCommit()

	result, err := svc.DeletePayment(context.Background(), "pay-1", "ops")
	require.NoError(t, err)
	assert.Equal(t, []string{"pay-1"}, payments.deletedIDs)
	assert.True(t, result.Student.TotalPaid.IsZero())
	assert.Equal(t, models.PaymentStatusPending, result.Student.PaymentStatus)
	assert.Equal(t, "ops", result.Audit.Actor)
	assert.NoError(t, mock.ExpectationsWereMet())
}
