package audit

import "time"

// Event is an immutable, append-only record of a call lifecycle transition.
//
// Invariants:
// - Events are never updated or deleted.
// - organization_id is required for tenancy isolation.
// - Appending is best-effort; a lifecycle transition must never block on it.
//
// Storage recommendation (Postgres):
// - Table call_audit_events with an INSERT-only policy.
// - Optional: partition by time for retention.
type Event struct {
	ID             string `json:"id" db:"id"`
	OrganizationID string `json:"organization_id" db:"organization_id"`

	Type EventType `json:"type" db:"type"`

	// CallLogID is the durable call record; the transient ids are the
	// signaling-layer identifiers in play when the event fired.
	CallLogID string `json:"call_log_id,omitempty" db:"call_log_id"`
	RequestID string `json:"request_id,omitempty" db:"request_id"`
	CallID    string `json:"call_id,omitempty" db:"call_id"`

	AgentID   string `json:"agent_id,omitempty" db:"agent_id"`
	VisitorID string `json:"visitor_id,omitempty" db:"visitor_id"`

	// FromStatus/ToStatus describe the transition for EventTypeTransition.
	FromStatus string `json:"from_status,omitempty" db:"from_status"`
	ToStatus   string `json:"to_status,omitempty" db:"to_status"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeTransition EventType = "call_transition"
	EventTypeReconnect  EventType = "call_reconnect"
)
