package presence

import (
	"context"
	"testing"
	"time"
)

func TestSetStatus_RejectsInvalid(t *testing.T) {
	s := NewStore(nil, 0)
	if err := s.SetStatus(context.Background(), "agent-1", Status("sleeping")); err != ErrInvalidStatus {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
	if err := s.SetStatus(context.Background(), "", StatusAvailable); err == nil {
		t.Fatalf("expected error for empty agent id")
	}
}

func TestGetStatus_UnknownAgentIsOffline(t *testing.T) {
	s := NewStore(nil, 0)
	st, err := s.GetStatus(context.Background(), "agent-1")
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if st != StatusOffline {
		t.Fatalf("expected offline, got %s", st)
	}
}

func TestStatusDecaysAfterTTL(t *testing.T) {
	s := NewStore(nil, 30*time.Second)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.clock = func() time.Time { return now }

	if err := s.SetStatus(context.Background(), "agent-1", StatusAvailable); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if st, _ := s.GetStatus(context.Background(), "agent-1"); st != StatusAvailable {
		t.Fatalf("expected available, got %s", st)
	}

	now = now.Add(31 * time.Second)
	if st, _ := s.GetStatus(context.Background(), "agent-1"); st != StatusOffline {
		t.Fatalf("expected decay to offline, got %s", st)
	}
}

func TestIsAvailable_BusyAgentCanResume(t *testing.T) {
	s := NewStore(nil, 0)
	ctx := context.Background()

	_ = s.SetStatus(ctx, "agent-1", StatusBusy)
	if !s.IsAvailable(ctx, "agent-1") {
		t.Fatalf("busy agent should still accept a rejoin of its own call")
	}

	_ = s.SetStatus(ctx, "agent-1", StatusAway)
	if s.IsAvailable(ctx, "agent-1") {
		t.Fatalf("away agent should not accept calls")
	}
}
