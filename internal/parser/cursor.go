package parser

import (
	"time"

	"github.com/zhaobenny/cptop/internal/model"
)

// Cursor is the resume point of an incremental scan. Offset is the first byte
// not yet consumed and Line the number of lines before it. State carries the
// context that lines before Offset established, so a resumed scan behaves
// exactly like a full one.
type Cursor struct {
	Offset int64      `json:"offset"`
	Line   int        `json:"line"`
	State  CarryState `json:"state"`
}

// CarryState is the correlation context between log lines
type CarryState struct {
	Model         string          `json:"model,omitempty"`
	Initiator     string          `json:"initiator,omitempty"`
	SessionID     string          `json:"session_id,omitempty"`
	LastTimestamp time.Time       `json:"last_timestamp,omitzero"`
	Pending       *PendingBilling `json:"pending,omitempty"`
}

// PendingBilling is a model info block waiting for its telemetry block
type PendingBilling struct {
	Model     string               `json:"model"`
	Billing   *model.Billing       `json:"billing,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
	SessionID string               `json:"session_id,omitempty"`
	Initiator string               `json:"initiator,omitempty"`
	Source    model.SourceLocation `json:"source"`
}

// event turns a pending block that never met its telemetry into a billing-only event
func (p *PendingBilling) event() model.UsageEvent {
	return model.UsageEvent{
		Timestamp: p.Timestamp,
		Model:     p.Model,
		Billing:   p.Billing,
		SessionID: p.SessionID,
		Initiator: p.Initiator,
		Source:    p.Source,
	}
}
