package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Currency enumerates supported billing currencies.
type Currency string

const (
	CurrencyEUR Currency = "EUR"
	CurrencyINR Currency = "INR"
)

// Valid returns true when the currency is supported.
func (c Currency) Valid() bool {
	return c == CurrencyEUR || c == CurrencyINR
}

// PaymentStatus is the derived ledger status of a student.
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "PENDING"
	PaymentStatusPartial PaymentStatus = "PARTIAL"
	PaymentStatusPaid    PaymentStatus = "PAID"
	PaymentStatusOverdue PaymentStatus = "OVERDUE"
)

// ChurnRisk classifies how likely a student is to disengage.
type ChurnRisk string

const (
	ChurnRiskLow    ChurnRisk = "LOW"
	ChurnRiskMedium ChurnRisk = "MEDIUM"
	ChurnRiskHigh   ChurnRisk = "HIGH"
)

// Rank orders churn risk for call-list sorting.
func (r ChurnRisk) Rank() int {
	switch r {
	case ChurnRiskHigh:
		return 2
	case ChurnRiskMedium:
		return 1
	default:
		return 0
	}
}

// Student is the aggregate root of the financial ledger and retention engine.
// Monetary fields are stored unrounded; rounding happens at report boundaries.
type Student struct {
	ID             string    `db:"id" json:"id"`
	FullName       string    `db:"full_name" json:"full_name"`
	Email          string    `db:"email" json:"email"`
	Phone          string    `db:"phone" json:"phone"`
	Level          string    `db:"level" json:"level"`
	Batch          string    `db:"batch" json:"batch"`
	BatchTiming    string    `db:"batch_timing" json:"batch_timing"`
	ReferralSource string    `db:"referral_source" json:"referral_source"`
	EnrollmentDate time.Time `db:"enrollment_date" json:"enrollment_date"`
	Active         bool      `db:"active" json:"active"`

	OriginalPrice    decimal.Decimal  `db:"original_price" json:"original_price"`
	DiscountApplied  decimal.Decimal  `db:"discount_applied" json:"discount_applied"`
	FinalPrice       decimal.Decimal  `db:"final_price" json:"final_price"`
	Currency         Currency         `db:"currency" json:"currency"`
	TotalPaid        decimal.Decimal  `db:"total_paid" json:"total_paid"`
	TotalPaidEur     decimal.Decimal  `db:"total_paid_eur" json:"total_paid_eur"`
	Balance          decimal.Decimal  `db:"balance" json:"balance"`
	EurEquivalent    decimal.Decimal  `db:"eur_equivalent" json:"eur_equivalent"`
	ExchangeRateUsed *decimal.Decimal `db:"exchange_rate_used" json:"exchange_rate_used,omitempty"`
	PaymentStatus    PaymentStatus    `db:"payment_status" json:"payment_status"`

	AttendanceRate      float64    `db:"attendance_rate" json:"attendance_rate"`
	TotalClasses        int        `db:"total_classes" json:"total_classes"`
	ClassesAttended     int        `db:"classes_attended" json:"classes_attended"`
	ConsecutiveAbsences int        `db:"consecutive_absences" json:"consecutive_absences"`
	LastAbsenceDate     *time.Time `db:"last_absence_date" json:"last_absence_date,omitempty"`
	ChurnRisk           ChurnRisk  `db:"churn_risk" json:"churn_risk"`

	RelationshipDepth int        `db:"relationship_depth" json:"relationship_depth"`
	LastOutreachCall  *time.Time `db:"last_outreach_call" json:"last_outreach_call,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// StudentFilter encapsulates allowed search parameters for listing students.
type StudentFilter struct {
	Search        string
	ChurnRisk     ChurnRisk
	PaymentStatus PaymentStatus
	Batch         string
	Active        *bool
	Page          int
	PageSize      int
	SortBy        string
	SortOrder     string
}

// RiskCount aggregates students per churn-risk bucket.
type RiskCount struct {
	ChurnRisk ChurnRisk `db:"churn_risk" json:"churn_risk"`
	Count     int       `db:"count" json:"count"`
}

// PaymentStatusCount aggregates students per ledger status.
type PaymentStatusCount struct {
	PaymentStatus PaymentStatus `db:"payment_status" json:"payment_status"`
	Count         int           `db:"count" json:"count"`
}

// CurrencyBalance sums outstanding balances per currency.
type CurrencyBalance struct {
	Currency Currency        `db:"currency" json:"currency"`
	Total    decimal.Decimal `db:"total" json:"total"`
}
