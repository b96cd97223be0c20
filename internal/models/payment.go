package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentRecordStatus is the lifecycle status of a single payment.
type PaymentRecordStatus string

const (
	PaymentRecordPending   PaymentRecordStatus = "PENDING"
	PaymentRecordCompleted PaymentRecordStatus = "COMPLETED"
	PaymentRecordFailed    PaymentRecordStatus = "FAILED"
	PaymentRecordRefunded  PaymentRecordStatus = "REFUNDED"
)

// Valid returns true when the status is a supported value.
func (s PaymentRecordStatus) Valid() bool {
	switch s {
	case PaymentRecordPending, PaymentRecordCompleted, PaymentRecordFailed, PaymentRecordRefunded:
		return true
	default:
		return false
	}
}

// Payment is a single payment made by a student. Only COMPLETED payments
// count toward the student's total_paid.
type Payment struct {
	ID          string              `db:"id" json:"id"`
	StudentID   string              `db:"student_id" json:"student_id"`
	Amount      decimal.Decimal     `db:"amount" json:"amount"`
	Currency    Currency            `db:"currency" json:"currency"`
	Status      PaymentRecordStatus `db:"status" json:"status"`
	PaymentDate time.Time           `db:"payment_date" json:"payment_date"`
	Method      string              `db:"method" json:"method"`
	CreatedAt   time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time           `db:"updated_at" json:"updated_at"`
}
