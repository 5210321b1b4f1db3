package signaling

import (
	"errors"

	"videocall-platform/internal/calls"
)

// EventType names the discrete signaling events this subsystem consumes.
// The names match the transport-level channel events one-for-one.
type EventType string

const (
	EventRing      EventType = "call:request"
	EventAccept    EventType = "call:accept"
	EventReject    EventType = "call:reject"
	EventCancel    EventType = "call:cancel"
	EventEnd       EventType = "call:end"
	EventHeartbeat EventType = "call:heartbeat"
	EventReconnect EventType = "call:reconnect"
)

// Event is the envelope the signaling transport delivers for every
// state-changing moment of a call. Which fields are required depends on the
// type; Validate enforces that.
type Event struct {
	Type EventType `json:"type"`

	RequestID string `json:"request_id,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	// NewCallID is the transport-level id of the replacement connection on a
	// reconnect attempt.
	NewCallID string `json:"new_call_id,omitempty"`

	VisitorID string `json:"visitor_id,omitempty"`
	AgentID   string `json:"agent_id,omitempty"`
	OrgID     string `json:"org_id,omitempty"`
	SiteID    string `json:"site_id,omitempty"`

	PageURL   string                 `json:"page_url,omitempty"`
	IPAddress string                 `json:"ip_address,omitempty"`
	Location  *calls.VisitorLocation `json:"location,omitempty"`

	ReconnectToken string `json:"reconnect_token,omitempty"`
}

var errMissingField = errors.New("signaling: event is missing a required field")

func (e Event) Validate() error {
	switch e.Type {
	case EventRing:
		if e.RequestID == "" || e.VisitorID == "" || e.AgentID == "" || e.OrgID == "" {
			return errMissingField
		}
	case EventAccept:
		if e.RequestID == "" || e.CallID == "" {
			return errMissingField
		}
	case EventReject, EventCancel:
		if e.RequestID == "" {
			return errMissingField
		}
	case EventEnd, EventHeartbeat:
		if e.CallID == "" {
			return errMissingField
		}
	case EventReconnect:
		if e.ReconnectToken == "" || e.VisitorID == "" || e.NewCallID == "" {
			return errMissingField
		}
	default:
		return errors.New("signaling: unknown event type")
	}
	return nil
}

// SerializationKey groups events that must never run concurrently: every
// event touching the same call serializes on the same key.
func (e Event) SerializationKey() string {
	if e.RequestID != "" {
		return e.RequestID
	}
	if e.CallID != "" {
		return e.CallID
	}
	if e.ReconnectToken != "" {
		return e.ReconnectToken
	}
	return e.VisitorID
}

// Identity is the rate-limit subject for this event: the visitor for
// widget-originated events, the agent for dashboard ones.
func (e Event) Identity() string {
	switch e.Type {
	case EventAccept, EventReject:
		if e.AgentID != "" {
			return e.AgentID
		}
	}
	if e.VisitorID != "" {
		return e.VisitorID
	}
	if e.AgentID != "" {
		return e.AgentID
	}
	return e.SerializationKey()
}

// Result is the acknowledgement returned for each processed event.
type Result struct {
	OK bool `json:"ok"`

	// CallLogID is set when a ring created a durable record.
	CallLogID string `json:"call_log_id,omitempty"`

	// ReconnectToken carries the rotated token after a successful rejoin.
	ReconnectToken string `json:"reconnect_token,omitempty"`

	// Error is a coarse machine-readable code; it deliberately never
	// distinguishes why a reconnect token failed.
	Error string `json:"error,omitempty"`
}
