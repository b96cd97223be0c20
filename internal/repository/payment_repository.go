package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/linguaops/lingua-ops-api/internal/models"
)

// PaymentRepository handles persistence of payments. All mutating methods are
// tx-scoped: a payment write is only valid inside the same transaction as the
// ledger recompute it triggers.
type PaymentRepository struct {
	db *sqlx.DB
}

// NewPaymentRepository constructs the repository.
func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

const paymentColumns = `id, student_id, amount, currency, status, payment_date, method, created_at, updated_at`

// ListByStudent returns a student's payments, newest first.
func (r *PaymentRepository) ListByStudent(ctx context.Context, studentID string) ([]models.Payment, error) {
	query := fmt.Sprintf("SELECT %s FROM payments WHERE student_id = $1 ORDER BY payment_date DESC", paymentColumns)
	var payments []models.Payment
	if err := r.db.SelectContext(ctx, &payments, query, studentID); err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	return payments, nil
}

// FindByID returns a payment by ID.
func (r *PaymentRepository) FindByID(ctx context.Context, id string) (*models.Payment, error) {
	query := fmt.Sprintf("SELECT %s FROM payments WHERE id = $1", paymentColumns)
	var payment models.Payment
	if err := r.db.GetContext(ctx, &payment, query, id); err != nil {
		return nil, err
	}
	return &payment, nil
}

// CreateTx inserts a payment within the enclosing transaction.
func (r *PaymentRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, payment *models.Payment) error {
	now := time.Now().UTC()
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = now
	}
	payment.UpdatedAt = now
	const query = `INSERT INTO payments (id, student_id, amount, currency, status, payment_date, method, created_at, updated_at)
        VALUES (:id, :student_id, :amount, :currency, :status, :payment_date, :method, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, query, payment); err != nil {
		return fmt.Errorf("create payment: %w", err)
	}
	return nil
}

// UpdateTx updates a payment's mutable fields within the enclosing transaction.
func (r *PaymentRepository) UpdateTx(ctx context.Context, tx *sqlx.Tx, payment *models.Payment) error {
	payment.UpdatedAt = time.Now().UTC()
	const query = `UPDATE payments SET amount = :amount, status = :status, payment_date = :payment_date,
        method = :method, updated_at = :updated_at WHERE id = :id`
	if _, err := tx.NamedExecContext(ctx, query, payment); err != nil {
		return fmt.Errorf("update payment: %w", err)
	}
	return nil
}

// MarkRefundedTx flips a payment to REFUNDED within the enclosing transaction.
func (r *PaymentRepository) MarkRefundedTx(ctx context.Context, tx *sqlx.Tx, id string) error {
	const query = `UPDATE payments SET status = $2, updated_at = $3 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, id, models.PaymentRecordRefunded, time.Now().UTC()); err != nil {
		return fmt.Errorf("mark payment refunded: %w", err)
	}
	return nil
}

// DeleteTx removes a payment within the enclosing transaction.
func (r *PaymentRepository) DeleteTx(ctx context.Context, tx *sqlx.Tx, id string) error {
	const query = `DELETE FROM payments WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete payment: %w", err)
	}
	return nil
}

// SumCompletedTx sums COMPLETED payment amounts for a student inside the
// recompute transaction so the ledger always reads committed prior state.
func (r *PaymentRepository) SumCompletedTx(ctx context.Context, tx *sqlx.Tx, studentID string) (decimal.Decimal, error) {
	const query = `SELECT COALESCE(SUM(amount), 0) FROM payments WHERE student_id = $1 AND status = $2`
	var total decimal.Decimal
	if err := tx.GetContext(ctx, &total, query, studentID, models.PaymentRecordCompleted); err != nil {
		return decimal.Zero, fmt.Errorf("sum completed payments: %w", err)
	}
	return total, nil
}

// ExistsForStudent reports whether any payments reference the student.
func (r *PaymentRepository) ExistsForStudent(ctx context.Context, studentID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM payments WHERE student_id = $1)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, studentID); err != nil {
		return false, fmt.Errorf("check payments exist: %w", err)
	}
	return exists, nil
}
