package models

import "time"

// OutreachEventType enumerates events the engine emits as data. Delivery
// (email, WhatsApp) is the caller's responsibility; the engine never blocks
// on it.
type OutreachEventType string

const (
	EventCallListGenerated OutreachEventType = "CALL_LIST_GENERATED"
	EventFollowUpScheduled OutreachEventType = "FOLLOW_UP_SCHEDULED"
)

// OutreachEvent is a notification payload returned to callers.
type OutreachEvent struct {
	Type       OutreachEventType `json:"type"`
	StudentID  string            `json:"student_id,omitempty"`
	CallID     string            `json:"call_id,omitempty"`
	Payload    map[string]any    `json:"payload,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}
