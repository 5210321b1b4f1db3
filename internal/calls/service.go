package calls

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// DefaultOrphanMaxAgeSeconds is the freshness window used by
// FindOrphanedCalls when the caller passes a non-positive value.
const DefaultOrphanMaxAgeSeconds = 60

// Service is the call lifecycle manager: it owns record creation, the state
// machine transitions, heartbeat stamping, and the reconnect token protocol.
//
// Failure posture: a write to the call log must never take down an
// in-progress call. With no repository attached every operation is a safe
// no-op (value-returning operations report ErrNotConfigured so callers can
// tell degraded mode from a miss). Store failures at call time are logged
// here and surfaced as ordinary errors for the signaling layer to ignore.
//
// Callers serialize events per call id; the service itself takes no locks
// beyond the SessionIndex's own.
type Service struct {
	repo  Repository
	index *SessionIndex
	log   *slog.Logger

	// clock and newToken are injectable for deterministic tests.
	clock    func() time.Time
	newToken func() (string, error)
}

// CreateParams carries the ring-time context for a new call record.
type CreateParams struct {
	VisitorID string
	AgentID   string
	OrgID     string
	SiteID    string
	PageURL   string
	IPAddress string
	Location  *VisitorLocation
}

func NewService(repo Repository, index *SessionIndex, log *slog.Logger) *Service {
	if index == nil {
		index = NewSessionIndex()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		repo:     repo,
		index:    index,
		log:      log,
		clock:    time.Now,
		newToken: NewReconnectToken,
	}
}

// Configured reports whether a durable store is attached.
func (s *Service) Configured() bool { return s.repo != nil }

// CreateCallLog inserts a pending record at ring start and registers the
// request id in the session index. Returns the new record id.
func (s *Service) CreateCallLog(ctx context.Context, requestID string, p CreateParams) (string, error) {
	if s.repo == nil {
		s.log.Debug("call store not configured, skipping call log", "request_id", requestID)
		return "", ErrNotConfigured
	}
	if requestID == "" || p.VisitorID == "" || p.AgentID == "" || p.OrgID == "" {
		return "", ErrInvalidArgument
	}

	rec := CallRecord{
		ID:             uuid.NewString(),
		OrganizationID: p.OrgID,
		SiteID:         p.SiteID,
		AgentID:        p.AgentID,
		VisitorID:      p.VisitorID,
		Status:         CallStatusPending,
		PageURL:        p.PageURL,
		VisitorIP:      p.IPAddress,
		RingStartedAt:  s.clock().UTC(),
	}
	if p.Location != nil {
		rec.VisitorCity = p.Location.City
		rec.VisitorRegion = p.Location.Region
		rec.VisitorCountry = p.Location.Country
		rec.VisitorCountryCode = p.Location.CountryCode
	}

	if err := s.repo.Create(ctx, rec); err != nil {
		s.log.Error("create call log failed", "request_id", requestID, "err", err)
		return "", err
	}

	s.index.Put(requestID, rec.ID)
	s.log.Info("call log created", "call_log_id", rec.ID, "request_id", requestID, "agent_id", p.AgentID)
	return rec.ID, nil
}

// MarkCallAccepted transitions the record to accepted, derives the answer
// time, issues the initial reconnect token, and re-keys the session index
// from the request id to the live call id.
func (s *Service) MarkCallAccepted(ctx context.Context, requestID, callID string) error {
	if s.repo == nil {
		return nil
	}
	recordID, ok := s.index.Get(requestID)
	if !ok {
		s.log.Warn("no call log for request", "request_id", requestID)
		return ErrNotFound
	}

	token, err := s.newToken()
	if err != nil {
		s.log.Error("reconnect token generation failed", "call_log_id", recordID, "err", err)
		return err
	}

	rec, err := s.repo.Accept(ctx, recordID, s.clock().UTC(), token)
	if err != nil {
		s.log.Error("mark call accepted failed", "call_log_id", recordID, "err", err)
		return err
	}

	s.index.Swap(requestID, callID)
	s.log.Info("call accepted",
		"call_log_id", recordID,
		"call_id", callID,
		"answer_time_seconds", derefInt(rec.AnswerTimeSeconds),
	)
	return nil
}

// MarkCallEnded completes the record, deriving duration from started_at,
// and drops the session index entry.
func (s *Service) MarkCallEnded(ctx context.Context, callID string) error {
	if s.repo == nil {
		return nil
	}
	recordID, ok := s.index.Get(callID)
	if !ok {
		s.log.Warn("no call log for call", "call_id", callID)
		return ErrNotFound
	}

	rec, err := s.repo.Complete(ctx, recordID, s.clock().UTC())
	if err != nil {
		s.log.Error("mark call ended failed", "call_log_id", recordID, "err", err)
		return err
	}

	s.index.DeleteRecord(recordID)
	s.log.Info("call completed", "call_log_id", recordID, "duration_seconds", derefInt(rec.DurationSeconds))
	return nil
}

// MarkCallMissed handles the ring-no-answer timeout: terminal missed status,
// no answered_at or duration ever recorded.
func (s *Service) MarkCallMissed(ctx context.Context, requestID string) error {
	if s.repo == nil {
		return nil
	}
	recordID, ok := s.index.Get(requestID)
	if !ok {
		s.log.Warn("no call log for request", "request_id", requestID)
		return ErrNotFound
	}

	if err := s.repo.MarkMissed(ctx, recordID, s.clock().UTC()); err != nil {
		s.log.Error("mark call missed failed", "call_log_id", recordID, "err", err)
		return err
	}

	s.index.Delete(requestID)
	s.log.Info("call missed", "call_log_id", recordID)
	return nil
}

// MarkCallRejected records an explicit agent decline. A request id that has
// already been re-routed to another agent resolves as a no-op.
func (s *Service) MarkCallRejected(ctx context.Context, requestID string) error {
	if s.repo == nil {
		return nil
	}
	recordID, ok := s.index.Get(requestID)
	if !ok {
		// Re-routed or already settled; nothing to record.
		return nil
	}

	if err := s.repo.MarkRejected(ctx, recordID, s.clock().UTC()); err != nil {
		if errors.Is(err, ErrNotFound) {
			s.index.Delete(requestID)
			return nil
		}
		s.log.Error("mark call rejected failed", "call_log_id", recordID, "err", err)
		return err
	}

	s.index.Delete(requestID)
	s.log.Info("call rejected", "call_log_id", recordID)
	return nil
}

// MarkCallCancelled deletes the pending record outright: a visitor hang-up
// before any answer is not retained as history. Idempotent on unknown ids.
func (s *Service) MarkCallCancelled(ctx context.Context, requestID string) error {
	if s.repo == nil {
		return nil
	}
	recordID, ok := s.index.Get(requestID)
	if !ok {
		return nil
	}

	if err := s.repo.Delete(ctx, recordID); err != nil && !errors.Is(err, ErrNotFound) {
		s.log.Error("delete cancelled call log failed", "call_log_id", recordID, "err", err)
		return err
	}

	s.index.Delete(requestID)
	s.log.Info("cancelled call log deleted", "call_log_id", recordID)
	return nil
}

// GetCallLogID resolves a transient request/call id via the session index.
// Never touches the durable store.
func (s *Service) GetCallLogID(transientID string) (string, bool) {
	return s.index.Get(transientID)
}

// UpdateCallHeartbeat stamps last_heartbeat_at for an active call. The only
// write path during an otherwise idle connected call; its absence, not an
// explicit disconnect, is what drives orphan detection.
func (s *Service) UpdateCallHeartbeat(ctx context.Context, callID string) error {
	if s.repo == nil {
		return nil
	}
	recordID, ok := s.index.Get(callID)
	if !ok {
		// Heartbeats can race the end of a call; not worth a warning.
		s.log.Debug("heartbeat for unknown call", "call_id", callID)
		return nil
	}

	if err := s.repo.UpdateHeartbeat(ctx, recordID, s.clock().UTC()); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		s.log.Error("heartbeat update failed", "call_log_id", recordID, "err", err)
		return err
	}
	return nil
}

// GetCallByReconnectToken resolves a token to a resumable call. Expired,
// consumed, and foreign tokens are all reported as ErrNotFound; the caller
// learns nothing about why a token failed.
func (s *Service) GetCallByReconnectToken(ctx context.Context, token string) (ReconnectableCall, error) {
	if s.repo == nil {
		return ReconnectableCall{}, ErrNotConfigured
	}
	if len(token) != reconnectTokenBytes*2 {
		return ReconnectableCall{}, ErrNotFound
	}

	rec, err := s.repo.GetByReconnectToken(ctx, token)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.log.Error("reconnect token lookup failed", "err", err)
		}
		return ReconnectableCall{}, ErrNotFound
	}

	return ReconnectableCall{
		ID:              rec.ID,
		OrganizationID:  rec.OrganizationID,
		AgentID:         rec.AgentID,
		VisitorID:       rec.VisitorID,
		PageURL:         rec.PageURL,
		ReconnectToken:  rec.ReconnectToken,
		StartedAt:       rec.StartedAt,
		LastHeartbeatAt: rec.LastHeartbeatAt,
	}, nil
}

// MarkCallReconnected rotates the reconnect token after a successful
// resumption, stamps the heartbeat, and registers the new transport-level
// call id so later heartbeats and end events resolve. Returns the fresh
// token to hand back to the resuming client; the consumed token is dead.
func (s *Service) MarkCallReconnected(ctx context.Context, recordID, newCallID string) (string, error) {
	if s.repo == nil {
		return "", ErrNotConfigured
	}

	token, err := s.newToken()
	if err != nil {
		s.log.Error("reconnect token generation failed", "call_log_id", recordID, "err", err)
		return "", err
	}

	if err := s.repo.RotateReconnectToken(ctx, recordID, token, s.clock().UTC()); err != nil {
		s.log.Error("reconnect token rotation failed", "call_log_id", recordID, "err", err)
		return "", err
	}

	s.index.Put(newCallID, recordID)
	s.log.Info("call reconnected", "call_log_id", recordID, "call_id", newCallID)
	return token, nil
}

// MarkCallReconnectFailed terminates a call whose reconnection attempt timed
// out or was refused. The call did happen, so it completes with a duration
// measured from the original started_at; it is never missed or rejected.
func (s *Service) MarkCallReconnectFailed(ctx context.Context, recordID string) error {
	if s.repo == nil {
		return nil
	}

	rec, err := s.repo.Complete(ctx, recordID, s.clock().UTC())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		s.log.Error("mark reconnect failed errored", "call_log_id", recordID, "err", err)
		return err
	}

	s.index.DeleteRecord(recordID)
	s.log.Info("call ended after failed reconnect",
		"call_log_id", recordID,
		"duration_seconds", derefInt(rec.DurationSeconds),
	)
	return nil
}

// MarkCallReconnectExpired closes out a call whose reconnection window
// lapsed, unless something proved liveness after the window was armed: a
// rejoin or heartbeat stamped later than armedAt leaves the call untouched
// and returns ErrNotFound. This is what makes a late-firing window timer
// safe against a rejoin it raced.
func (s *Service) MarkCallReconnectExpired(ctx context.Context, recordID string, armedAt time.Time) error {
	if s.repo == nil {
		return nil
	}

	rec, err := s.repo.CompleteExpired(ctx, recordID, s.clock().UTC(), armedAt)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.log.Error("mark reconnect expired failed", "call_log_id", recordID, "err", err)
		}
		return err
	}

	s.index.DeleteRecord(recordID)
	s.log.Info("call ended after reconnect window lapsed",
		"call_log_id", recordID,
		"duration_seconds", derefInt(rec.DurationSeconds),
	)
	return nil
}

// FindOrphanedCalls returns accepted, reconnect-eligible, un-ended calls
// whose last heartbeat is WITHIN maxAgeSeconds of now: still-warm recovery
// candidates the signaling layer should keep open, not calls to kill.
// Rows older than the window are the caller's own stale-call query to make.
func (s *Service) FindOrphanedCalls(ctx context.Context, maxAgeSeconds int) ([]OrphanedCall, error) {
	if s.repo == nil {
		return nil, ErrNotConfigured
	}
	if maxAgeSeconds <= 0 {
		maxAgeSeconds = DefaultOrphanMaxAgeSeconds
	}

	cutoff := s.clock().UTC().Add(-time.Duration(maxAgeSeconds) * time.Second)
	rows, err := s.repo.FindReconnectEligible(ctx, cutoff)
	if err != nil {
		s.log.Error("orphaned call scan failed", "err", err)
		return nil, err
	}

	out := make([]OrphanedCall, 0, len(rows))
	for _, rec := range rows {
		out = append(out, OrphanedCall{
			ID:              rec.ID,
			OrganizationID:  rec.OrganizationID,
			AgentID:         rec.AgentID,
			VisitorID:       rec.VisitorID,
			ReconnectToken:  rec.ReconnectToken,
			StartedAt:       rec.StartedAt,
			LastHeartbeatAt: rec.LastHeartbeatAt,
		})
	}
	return out, nil
}

func derefInt(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
