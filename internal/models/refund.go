package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RefundStatusProcessed is the only refund status: refunds are terminal rows,
// never edited or deleted once created.
const RefundStatusProcessed = "PROCESSED"

// Refund records money returned to a student, optionally tied to a payment.
type Refund struct {
	ID           string          `db:"id" json:"id"`
	StudentID    string          `db:"student_id" json:"student_id"`
	PaymentID    *string         `db:"payment_id" json:"payment_id,omitempty"`
	RefundAmount decimal.Decimal `db:"refund_amount" json:"refund_amount"`
	Currency     Currency        `db:"currency" json:"currency"`
	RefundMethod string          `db:"refund_method" json:"refund_method"`
	RefundReason string          `db:"refund_reason" json:"refund_reason"`
	Status       string          `db:"status" json:"status"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}
