package calls

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound covers missing rows, illegal transitions, and failed token
	// predicates alike. Callers must not be able to tell an expired token
	// from a foreign one.
	ErrNotFound = errors.New("calls: not found")

	// ErrNotConfigured means no durable store is attached; lifecycle
	// operations degrade to safe no-ops rather than failing the call.
	ErrNotConfigured = errors.New("calls: store not configured")

	ErrInvalidArgument = errors.New("calls: invalid argument")
)

// Repository is the persistence contract for call records.
//
// Transition guards live here: Accept only applies to a pending row,
// Complete only to an accepted row, and so on. A guard miss surfaces as
// ErrNotFound so writes against terminal rows are impossible, not merely
// discouraged.
type Repository interface {
	Create(ctx context.Context, rec CallRecord) error
	Get(ctx context.Context, id string) (CallRecord, error)

	// Accept moves a pending row to accepted at time at: stamps answered_at
	// and started_at, derives answer_time_seconds from ring_started_at,
	// installs the initial reconnect token, and opens the heartbeat trail.
	Accept(ctx context.Context, id string, at time.Time, token string) (CallRecord, error)

	// Complete moves an accepted row to completed at time at, deriving
	// duration_seconds from started_at. The reconnect token is cleared and
	// eligibility revoked; completed calls cannot be resumed.
	Complete(ctx context.Context, id string, at time.Time) (CallRecord, error)

	// CompleteExpired is Complete with a liveness guard: it refuses (with
	// ErrNotFound) any row whose last_heartbeat_at is after heartbeatCutoff.
	// Rejoins and heartbeats both stamp last_heartbeat_at, so a window timer
	// that fires late cannot close a call something is still driving.
	CompleteExpired(ctx context.Context, id string, at, heartbeatCutoff time.Time) (CallRecord, error)

	// MarkMissed and MarkRejected terminate a pending row without timing
	// derivation; answered_at and duration_seconds stay unset forever.
	MarkMissed(ctx context.Context, id string, at time.Time) error
	MarkRejected(ctx context.Context, id string, at time.Time) error

	// Delete removes a row outright. Cancelled pending calls are not history.
	Delete(ctx context.Context, id string) error

	UpdateHeartbeat(ctx context.Context, id string, at time.Time) error

	// GetByReconnectToken resolves a token under the full resumability
	// predicate: matching token, status accepted, reconnect_eligible, not
	// ended. Any predicate failure is ErrNotFound.
	GetByReconnectToken(ctx context.Context, token string) (CallRecord, error)

	// RotateReconnectToken replaces the token on a still-accepted row and
	// stamps last_heartbeat_at. The previous token is dead afterwards.
	RotateReconnectToken(ctx context.Context, id, token string, at time.Time) error

	// FindReconnectEligible lists accepted, eligible, un-ended rows whose
	// last_heartbeat_at is at or after cutoff.
	FindReconnectEligible(ctx context.Context, cutoff time.Time) ([]CallRecord, error)
}
