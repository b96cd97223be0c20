package models

import "time"

// CallPriority orders a day's retention calls.
type CallPriority string

const (
	CallPriorityLow    CallPriority = "LOW"
	CallPriorityMedium CallPriority = "MEDIUM"
	CallPriorityHigh   CallPriority = "HIGH"
)

// CallStatus is the outreach call lifecycle. COMPLETED is terminal; the only
// other transition is PENDING <-> SNOOZED.
type CallStatus string

const (
	CallStatusPending   CallStatus = "PENDING"
	CallStatusSnoozed   CallStatus = "SNOOZED"
	CallStatusCompleted CallStatus = "COMPLETED"
)

// CallType categorises why a call was scheduled.
type CallType string

const (
	CallTypeUrgent     CallType = "URGENT"
	CallTypeCheckIn    CallType = "CHECK_IN"
	CallTypePayment    CallType = "PAYMENT"
	CallTypeAttendance CallType = "ATTENDANCE"
	CallTypeOnboarding CallType = "ONBOARDING"
	CallTypeMilestone  CallType = "MILESTONE"
)

// Sentiment captures the tone of a completed call.
type Sentiment string

const (
	SentimentVeryNegative Sentiment = "VERY_NEGATIVE"
	SentimentNegative     Sentiment = "NEGATIVE"
	SentimentNeutral      Sentiment = "NEUTRAL"
	SentimentPositive     Sentiment = "POSITIVE"
	SentimentVeryPositive Sentiment = "VERY_POSITIVE"
)

// Valid returns true when the sentiment is a supported value.
func (s Sentiment) Valid() bool {
	switch s {
	case SentimentVeryNegative, SentimentNegative, SentimentNeutral, SentimentPositive, SentimentVeryPositive:
		return true
	default:
		return false
	}
}

// Negative reports whether the sentiment warrants a high-priority follow-up.
func (s Sentiment) Negative() bool {
	return s == SentimentNegative || s == SentimentVeryNegative
}

// Positive reports whether the sentiment allows a low-priority follow-up.
func (s Sentiment) Positive() bool {
	return s == SentimentPositive || s == SentimentVeryPositive
}

// OutreachCall is a scheduled retention contact attempt with a student.
type OutreachCall struct {
	ID              string       `db:"id" json:"id"`
	StudentID       string       `db:"student_id" json:"student_id"`
	ScheduledDate   time.Time    `db:"scheduled_date" json:"scheduled_date"`
	Priority        CallPriority `db:"priority" json:"priority"`
	Status          CallStatus   `db:"status" json:"status"`
	CallType        CallType     `db:"call_type" json:"call_type"`
	Reason          string       `db:"reason" json:"reason"`
	Sentiment       *Sentiment   `db:"sentiment" json:"sentiment,omitempty"`
	DurationMinutes *int         `db:"duration_minutes" json:"duration_minutes,omitempty"`
	Notes           *string      `db:"notes" json:"notes,omitempty"`
	CompletedAt     *time.Time   `db:"completed_at" json:"completed_at,omitempty"`
	NextCallDate    *time.Time   `db:"next_call_date" json:"next_call_date,omitempty"`
	CreatedAt       time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time    `db:"updated_at" json:"updated_at"`
}

// CallCandidate is a student flagged for outreach with scoring inputs and the
// computed call attributes.
type CallCandidate struct {
	StudentID           string        `db:"id" json:"student_id"`
	FullName            string        `db:"full_name" json:"full_name"`
	ChurnRisk           ChurnRisk     `db:"churn_risk" json:"churn_risk"`
	ConsecutiveAbsences int           `db:"consecutive_absences" json:"consecutive_absences"`
	AttendanceRate      float64       `db:"attendance_rate" json:"attendance_rate"`
	PaymentStatus       PaymentStatus `db:"payment_status" json:"payment_status"`
	LastOutreachCall    *time.Time    `db:"last_outreach_call" json:"last_outreach_call,omitempty"`
	Priority            CallPriority  `db:"-" json:"priority"`
	CallType            CallType      `db:"-" json:"call_type"`
	Reasons             []string      `db:"-" json:"reasons"`
}

// CallFilter scopes outreach call listing queries.
type CallFilter struct {
	StudentID string
	Status    *CallStatus
	Priority  *CallPriority
	DateFrom  *time.Time
	DateTo    *time.Time
	Page      int
	PageSize  int
}
