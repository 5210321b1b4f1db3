package signaling

import (
	"context"
	"testing"
	"time"

	"videocall-platform/internal/calls"
	"videocall-platform/internal/presence"
)

// waitForStatus polls the repo until the record reaches the wanted status or
// the deadline elapses.
func waitForStatus(t *testing.T, repo *calls.MemoryRepo, id string, want calls.CallStatus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := repo.Get(context.Background(), id)
		if err == nil && rec.Status == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	rec, _ := repo.Get(context.Background(), id)
	t.Fatalf("record never reached %s, still %s", want, rec.Status)
}

func TestScheduleMissed_FiresAfterDeadline(t *testing.T) {
	f := newFixture(t)

	res := f.dispatcher.Dispatch(context.Background(), ringEvent("req-1"))
	f.dispatcher.ScheduleMissed("req-1", 20*time.Millisecond)

	waitForStatus(t, f.repo, res.CallLogID, calls.CallStatusMissed)
}

func TestScheduleMissed_DisarmedByAccept(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.dispatcher.Dispatch(ctx, ringEvent("req-1"))
	f.dispatcher.ScheduleMissed("req-1", 50*time.Millisecond)
	f.dispatcher.Dispatch(ctx, Event{Type: EventAccept, RequestID: "req-1", CallID: "call-1", AgentID: "agent-1"})

	time.Sleep(120 * time.Millisecond)

	rec, _ := f.repo.Get(ctx, res.CallLogID)
	if rec.Status != calls.CallStatusAccepted {
		t.Fatalf("accept should disarm the ring deadline, got %s", rec.Status)
	}
	if f.dispatcher.timers.pending() != 0 {
		t.Fatalf("expected no pending timers")
	}
}

func TestScheduleReconnectExpiry_ClosesCall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.dispatcher.Dispatch(ctx, ringEvent("req-1"))
	f.dispatcher.Dispatch(ctx, Event{Type: EventAccept, RequestID: "req-1", CallID: "call-1", AgentID: "agent-1"})

	f.dispatcher.ScheduleReconnectExpiry(res.CallLogID, 20*time.Millisecond)

	waitForStatus(t, f.repo, res.CallLogID, calls.CallStatusCompleted)
}

func TestScheduleReconnectExpiry_DisarmedByRejoin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.dispatcher.Dispatch(ctx, ringEvent("req-1"))
	recordID := res.CallLogID
	f.dispatcher.Dispatch(ctx, Event{Type: EventAccept, RequestID: "req-1", CallID: "call-1", AgentID: "agent-1"})
	rec, _ := f.repo.Get(ctx, recordID)

	f.dispatcher.ScheduleReconnectExpiry(recordID, 100*time.Millisecond)

	_ = f.presence.SetStatus(ctx, "agent-1", presence.StatusBusy)
	rejoin := f.dispatcher.Dispatch(ctx, Event{
		Type:           EventReconnect,
		ReconnectToken: rec.ReconnectToken,
		VisitorID:      "visitor-1",
		NewCallID:      "call-1b",
	})
	if !rejoin.OK {
		t.Fatalf("rejoin failed: %+v", rejoin)
	}

	time.Sleep(200 * time.Millisecond)

	rec2, _ := f.repo.Get(ctx, recordID)
	if rec2.Status != calls.CallStatusAccepted {
		t.Fatalf("rejoin should disarm the window, got %s", rec2.Status)
	}
}

func TestReconnectExpiry_LateFireCannotKillRejoinedCall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.dispatcher.Dispatch(ctx, ringEvent("req-1"))
	recordID := res.CallLogID
	f.dispatcher.Dispatch(ctx, Event{Type: EventAccept, RequestID: "req-1", CallID: "call-1", AgentID: "agent-1"})
	rec, _ := f.repo.Get(ctx, recordID)

	// The window was armed when the transport dropped, before the rejoin.
	armedAt := time.Now().UTC()
	time.Sleep(10 * time.Millisecond)

	_ = f.presence.SetStatus(ctx, "agent-1", presence.StatusBusy)
	rejoin := f.dispatcher.Dispatch(ctx, Event{
		Type:           EventReconnect,
		ReconnectToken: rec.ReconnectToken,
		VisitorID:      "visitor-1",
		NewCallID:      "call-1b",
	})
	if !rejoin.OK || rejoin.ReconnectToken == "" {
		t.Fatalf("rejoin failed: %+v", rejoin)
	}

	// The timer fires anyway, having escaped the rejoin's cancel. The
	// rejoin stamped the heartbeat after armedAt, so the expiry must back
	// off instead of completing the call under the visitor.
	f.dispatcher.expireReconnectWindow(ctx, recordID, armedAt)

	rec2, _ := f.repo.Get(ctx, recordID)
	if rec2.Status != calls.CallStatusAccepted {
		t.Fatalf("late expiry killed a rejoined call, status %s", rec2.Status)
	}
	if rec2.ReconnectToken != rejoin.ReconnectToken {
		t.Fatalf("token handed to the client no longer matches the record")
	}

	// The handed-out token still authorizes the next rejoin.
	again := f.dispatcher.Dispatch(ctx, Event{
		Type:           EventReconnect,
		ReconnectToken: rejoin.ReconnectToken,
		VisitorID:      "visitor-1",
		NewCallID:      "call-1c",
	})
	if !again.OK {
		t.Fatalf("fresh token must stay live, got %+v", again)
	}
}

func TestCallTimers_ArmReplacesExisting(t *testing.T) {
	var ct callTimers
	fired := make(chan string, 2)

	ct.arm("k", time.Hour, func() { fired <- "first" })
	ct.arm("k", 10*time.Millisecond, func() { fired <- "second" })

	select {
	case got := <-fired:
		if got != "second" {
			t.Fatalf("replaced timer fired: %s", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("rearmed timer never fired")
	}
	if ct.pending() != 0 {
		t.Fatalf("fired timer should remove itself")
	}
}

func TestCallTimers_Cancel(t *testing.T) {
	var ct callTimers
	fired := make(chan struct{}, 1)

	ct.arm("k", 20*time.Millisecond, func() { fired <- struct{}{} })
	ct.cancel("k")

	select {
	case <-fired:
		t.Fatal("cancelled timer fired")
	case <-time.After(100 * time.Millisecond):
	}
	if ct.pending() != 0 {
		t.Fatalf("cancel should drop the entry")
	}
}
