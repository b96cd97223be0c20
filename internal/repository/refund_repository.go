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

// RefundRepository handles persistence of refunds. Refunds are append-only:
// there are no update or delete methods.
type RefundRepository struct {
	db *sqlx.DB
}

// NewRefundRepository constructs the repository.
func NewRefundRepository(db *sqlx.DB) *RefundRepository {
	return &RefundRepository{db: db}
}

// CreateTx inserts a refund within the enclosing transaction.
func (r *RefundRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, refund *models.Refund) error {
	if refund.ID == "" {
		refund.ID = uuid.NewString()
	}
	if refund.CreatedAt.IsZero() {
		refund.CreatedAt = time.Now().UTC()
	}
	if refund.Status == "" {
		refund.Status = models.RefundStatusProcessed
	}
	const query = `INSERT INTO refunds (id, student_id, payment_id, refund_amount, currency, refund_method, refund_reason, status, created_at)
        VALUES (:id, :student_id, :payment_id, :refund_amount, :currency, :refund_method, :refund_reason, :status, :created_at)`
	if _, err := tx.NamedExecContext(ctx, query, refund); err != nil {
		return fmt.Errorf("create refund: %w", err)
	}
	return nil
}

// SumOutstandingTx totals the student's refunds that are not already
// reflected by a payment flipped to REFUNDED. Those payments drop out of the
// completed sum on their own, so counting their refunds again would double
// the deduction. IS DISTINCT FROM keeps refunds counted when the joined
// payment row no longer exists.
func (r *RefundRepository) SumOutstandingTx(ctx context.Context, tx *sqlx.Tx, studentID string) (decimal.Decimal, error) {
	const query = `SELECT COALESCE(SUM(r.refund_amount), 0)
        FROM refunds r
        LEFT JOIN payments p ON p.id = r.payment_id
        WHERE r.student_id = $1 AND (r.payment_id IS NULL OR p.status IS DISTINCT FROM $2)`
	var total decimal.Decimal
	if err := tx.GetContext(ctx, &total, query, studentID, models.PaymentRecordRefunded); err != nil {
		return decimal.Zero, fmt.Errorf("sum outstanding refunds: %w", err)
	}
	return total, nil
}

// ListByStudent returns a student's refunds, newest first.
func (r *RefundRepository) ListByStudent(ctx context.Context, studentID string) ([]models.Refund, error) {
	const query = `SELECT id, student_id, payment_id, refund_amount, currency, refund_method, refund_reason, status, created_at
        FROM refunds WHERE student_id = $1 ORDER BY created_at DESC`
	var refunds []models.Refund
	if err := r.db.SelectContext(ctx, &refunds, query, studentID); err != nil {
		return nil, fmt.Errorf("list refunds: %w", err)
	}
	return refunds, nil
}
