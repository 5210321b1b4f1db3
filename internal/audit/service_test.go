package audit

import (
	"context"
	"testing"
	"time"
)

func TestAppend_RequiresOrgAndType(t *testing.T) {
	svc := NewService(NewMemoryRepo())

	if err := svc.Append(context.Background(), Event{Type: EventTypeTransition}); err != ErrInvalidEvent {
		t.Fatalf("expected ErrInvalidEvent for missing org, got %v", err)
	}
	if err := svc.Append(context.Background(), Event{OrganizationID: "org-1"}); err != ErrInvalidEvent {
		t.Fatalf("expected ErrInvalidEvent for missing type, got %v", err)
	}
}

func TestAppend_FillsIDAndTimestamp(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	svc.clock = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }

	err := svc.LogTransition(context.Background(), "org-1", "rec-1", "req-1", "", "agent-1", "visitor-1", "pending", "accepted")
	if err != nil {
		t.Fatalf("LogTransition: %v", err)
	}

	e, ok := repo.Last()
	if !ok {
		t.Fatalf("expected an event")
	}
	if e.ID == "" {
		t.Fatalf("expected generated id")
	}
	if e.CreatedAt.IsZero() {
		t.Fatalf("expected created_at to be stamped")
	}
	if e.FromStatus != "pending" || e.ToStatus != "accepted" {
		t.Fatalf("unexpected transition payload: %+v", e)
	}
}

func TestLogReconnect(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.LogReconnect(context.Background(), "org-1", "rec-1", "call-1b", "visitor-1", "rejoined"); err != nil {
		t.Fatalf("LogReconnect: %v", err)
	}
	e, _ := repo.Last()
	if e.Type != EventTypeReconnect || e.CallID != "call-1b" {
		t.Fatalf("unexpected event: %+v", e)
	}
}
