package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
// No Update/Delete methods are provided by design.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service records call lifecycle audit information.
//
// IMPORTANT:
// - Audit is internal-only. Do not expose these records to tenant users by default.
// - Callers should treat audit logging as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.OrganizationID == "" {
		return ErrInvalidEvent
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

// LogTransition records one state-machine move for a call record.
func (s *Service) LogTransition(ctx context.Context, orgID, callLogID, requestID, callID, agentID, visitorID, from, to string) error {
	return s.Append(ctx, Event{
		OrganizationID: orgID,
		Type:           EventTypeTransition,
		CallLogID:      callLogID,
		RequestID:      requestID,
		CallID:         callID,
		AgentID:        agentID,
		VisitorID:      visitorID,
		FromStatus:     from,
		ToStatus:       to,
	})
}

// LogReconnect records a reconnection attempt outcome against a call record.
func (s *Service) LogReconnect(ctx context.Context, orgID, callLogID, newCallID, visitorID, outcome string) error {
	return s.Append(ctx, Event{
		OrganizationID: orgID,
		Type:           EventTypeReconnect,
		CallLogID:      callLogID,
		CallID:         newCallID,
		VisitorID:      visitorID,
		Message:        outcome,
	})
}
