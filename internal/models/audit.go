package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AuditRecord describes a ledger-mutating or call-completing operation. The
// engine returns these to callers for logging; it never writes them itself.
type AuditRecord struct {
	Actor        string           `json:"actor"`
	Action       string           `json:"action"`
	EntityType   string           `json:"entity_type"`
	EntityID     string           `json:"entity_id"`
	StudentID    string           `json:"student_id"`
	BeforeAmount *decimal.Decimal `json:"before_amount,omitempty"`
	AfterAmount  *decimal.Decimal `json:"after_amount,omitempty"`
	BeforeStatus string           `json:"before_status,omitempty"`
	AfterStatus  string           `json:"after_status,omitempty"`
	At           time.Time        `json:"at"`
}
