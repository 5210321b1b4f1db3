package calls

import (
	"math"
	"time"
)

// CallRecord is one durable row per call attempt in the call_logs table.
// It is the source of truth for the call lifecycle and survives process
// restarts; the in-process SessionIndex only routes transient ids to it.
//
// A record becomes immutable once it reaches a terminal status, except for
// disposition_id which a dashboard collaborator sets after call end.
type CallRecord struct {
	ID             string `json:"id" db:"id"`
	OrganizationID string `json:"organization_id" db:"organization_id"`
	SiteID         string `json:"site_id,omitempty" db:"site_id"`

	AgentID   string `json:"agent_id" db:"agent_id"`
	VisitorID string `json:"visitor_id" db:"visitor_id"`

	Status CallStatus `json:"status" db:"status"`

	PageURL string `json:"page_url,omitempty" db:"page_url"`

	// Visitor network/geo context, captured best-effort at ring time.
	VisitorIP          string `json:"visitor_ip,omitempty" db:"visitor_ip"`
	VisitorCity        string `json:"visitor_city,omitempty" db:"visitor_city"`
	VisitorRegion      string `json:"visitor_region,omitempty" db:"visitor_region"`
	VisitorCountry     string `json:"visitor_country,omitempty" db:"visitor_country"`
	VisitorCountryCode string `json:"visitor_country_code,omitempty" db:"visitor_country_code"`

	RingStartedAt     time.Time  `json:"ring_started_at" db:"ring_started_at"`
	AnsweredAt        *time.Time `json:"answered_at,omitempty" db:"answered_at"`
	AnswerTimeSeconds *int       `json:"answer_time_seconds,omitempty" db:"answer_time_seconds"`
	StartedAt         *time.Time `json:"started_at,omitempty" db:"started_at"`
	EndedAt           *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	DurationSeconds   *int       `json:"duration_seconds,omitempty" db:"duration_seconds"`

	// Recovery fields. ReconnectToken is set only while the call is accepted
	// and reconnect-eligible; it is rotated on every successful reconnection.
	ReconnectToken    string     `json:"reconnect_token,omitempty" db:"reconnect_token"`
	LastHeartbeatAt   *time.Time `json:"last_heartbeat_at,omitempty" db:"last_heartbeat_at"`
	ReconnectEligible bool       `json:"reconnect_eligible" db:"reconnect_eligible"`

	RecordingURL  string `json:"recording_url,omitempty" db:"recording_url"`
	DispositionID string `json:"disposition_id,omitempty" db:"disposition_id"`
}

type CallStatus string

const (
	CallStatusPending   CallStatus = "pending"
	CallStatusAccepted  CallStatus = "accepted"
	CallStatusRejected  CallStatus = "rejected"
	CallStatusCompleted CallStatus = "completed"
	CallStatusMissed    CallStatus = "missed"
)

// Terminal reports whether a record in this status can never transition again.
func (s CallStatus) Terminal() bool {
	switch s {
	case CallStatusRejected, CallStatusCompleted, CallStatusMissed:
		return true
	default:
		return false
	}
}

// VisitorLocation is the optional geo context attached at ring time.
type VisitorLocation struct {
	City        string `json:"city,omitempty"`
	Region      string `json:"region,omitempty"`
	Country     string `json:"country,omitempty"`
	CountryCode string `json:"country_code,omitempty"`
}

// ReconnectableCall is the minimal projection handed back for a valid
// reconnect token: just enough to resume signaling.
type ReconnectableCall struct {
	ID              string     `json:"id"`
	OrganizationID  string     `json:"organization_id"`
	AgentID         string     `json:"agent_id"`
	VisitorID       string     `json:"visitor_id"`
	PageURL         string     `json:"page_url,omitempty"`
	ReconnectToken  string     `json:"reconnect_token"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	LastHeartbeatAt *time.Time `json:"last_heartbeat_at,omitempty"`
}

// OrphanedCall is a recovery candidate surfaced by FindOrphanedCalls: an
// accepted, un-ended call whose last heartbeat is still inside the freshness
// window.
type OrphanedCall struct {
	ID              string     `json:"id"`
	OrganizationID  string     `json:"organization_id"`
	AgentID         string     `json:"agent_id"`
	VisitorID       string     `json:"visitor_id"`
	ReconnectToken  string     `json:"reconnect_token"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	LastHeartbeatAt *time.Time `json:"last_heartbeat_at,omitempty"`
}

// secondsBetween rounds an interval to whole seconds, matching the stored
// answer_time_seconds/duration_seconds precision. Never negative.
func secondsBetween(from, to time.Time) int {
	if to.Before(from) {
		return 0
	}
	return int(math.Round(to.Sub(from).Seconds()))
}
