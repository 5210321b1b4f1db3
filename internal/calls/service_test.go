package calls

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeClock struct{ now time.Time }

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestService(t *testing.T) (*Service, *MemoryRepo, *fakeClock) {
	t.Helper()
	repo := NewMemoryRepo()
	svc := NewService(repo, NewSessionIndex(), nil)
	clk := newFakeClock()
	svc.clock = clk.Now
	return svc, repo, clk
}

func createPending(t *testing.T, svc *Service, requestID string) string {
	t.Helper()
	id, err := svc.CreateCallLog(context.Background(), requestID, CreateParams{
		VisitorID: "visitor-1",
		AgentID:   "agent-1",
		OrgID:     "org-1",
		PageURL:   "https://example.com/pricing",
	})
	if err != nil {
		t.Fatalf("CreateCallLog: %v", err)
	}
	return id
}

func TestCreateCallLog_RegistersIndexAndPendingRow(t *testing.T) {
	svc, repo, clk := newTestService(t)
	id := createPending(t, svc, "req-1")

	got, ok := svc.GetCallLogID("req-1")
	if !ok || got != id {
		t.Fatalf("expected index to resolve req-1 to %s, got %q ok=%v", id, got, ok)
	}

	rec, err := repo.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Status != CallStatusPending {
		t.Fatalf("expected pending, got %s", rec.Status)
	}
	if !rec.RingStartedAt.Equal(clk.Now()) {
		t.Fatalf("expected ring_started_at %v, got %v", clk.Now(), rec.RingStartedAt)
	}
	if rec.ReconnectToken != "" || rec.ReconnectEligible {
		t.Fatalf("pending calls must not carry a reconnect token")
	}
}

func TestCreateCallLog_RequiresIdentity(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.CreateCallLog(context.Background(), "req-1", CreateParams{VisitorID: "v"})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestMarkCallAccepted_DerivesAnswerTimeAndRekeysIndex(t *testing.T) {
	svc, repo, clk := newTestService(t)
	id := createPending(t, svc, "req-1")

	clk.Advance(7 * time.Second)
	if err := svc.MarkCallAccepted(context.Background(), "req-1", "call-1"); err != nil {
		t.Fatalf("MarkCallAccepted: %v", err)
	}

	if _, ok := svc.GetCallLogID("req-1"); ok {
		t.Fatalf("request id should be retired after acceptance")
	}
	if got, ok := svc.GetCallLogID("call-1"); !ok || got != id {
		t.Fatalf("call id should resolve to record, got %q ok=%v", got, ok)
	}

	rec, _ := repo.Get(context.Background(), id)
	if rec.Status != CallStatusAccepted {
		t.Fatalf("expected accepted, got %s", rec.Status)
	}
	if rec.AnswerTimeSeconds == nil || *rec.AnswerTimeSeconds != 7 {
		t.Fatalf("expected answer_time_seconds 7, got %v", rec.AnswerTimeSeconds)
	}
	if rec.AnsweredAt == nil || rec.StartedAt == nil || !rec.AnsweredAt.Equal(*rec.StartedAt) {
		t.Fatalf("answered_at and started_at should both be the acceptance instant")
	}
	if rec.ReconnectToken == "" || len(rec.ReconnectToken) != 64 {
		t.Fatalf("expected 64-char reconnect token, got %q", rec.ReconnectToken)
	}
	if !rec.ReconnectEligible || rec.LastHeartbeatAt == nil {
		t.Fatalf("acceptance should open the heartbeat trail")
	}
}

func TestScenario_CompletedCallWithHeartbeats(t *testing.T) {
	svc, repo, clk := newTestService(t)
	id := createPending(t, svc, "req-1")

	clk.Advance(3 * time.Second)
	if err := svc.MarkCallAccepted(context.Background(), "req-1", "call-1"); err != nil {
		t.Fatalf("accept: %v", err)
	}

	for i := 0; i < 5; i++ {
		clk.Advance(10 * time.Second)
		if err := svc.UpdateCallHeartbeat(context.Background(), "call-1"); err != nil {
			t.Fatalf("heartbeat %d: %v", i, err)
		}
	}

	if err := svc.MarkCallEnded(context.Background(), "call-1"); err != nil {
		t.Fatalf("end: %v", err)
	}

	rec, _ := repo.Get(context.Background(), id)
	if rec.Status != CallStatusCompleted {
		t.Fatalf("expected completed, got %s", rec.Status)
	}
	if rec.DurationSeconds == nil || *rec.DurationSeconds != 50 {
		t.Fatalf("expected duration 50s, got %v", rec.DurationSeconds)
	}
	if rec.ReconnectToken != "" || rec.ReconnectEligible {
		t.Fatalf("completed calls must not stay resumable")
	}
	if _, ok := svc.GetCallLogID("call-1"); ok {
		t.Fatalf("index should no longer resolve call-1")
	}
}

func TestScenario_RingNoAnswer(t *testing.T) {
	svc, repo, clk := newTestService(t)
	id := createPending(t, svc, "req-2")

	clk.Advance(30 * time.Second)
	if err := svc.MarkCallMissed(context.Background(), "req-2"); err != nil {
		t.Fatalf("MarkCallMissed: %v", err)
	}

	rec, _ := repo.Get(context.Background(), id)
	if rec.Status != CallStatusMissed {
		t.Fatalf("expected missed, got %s", rec.Status)
	}
	if rec.AnsweredAt != nil || rec.DurationSeconds != nil {
		t.Fatalf("missed calls must never record answer or duration")
	}
	if rec.EndedAt == nil {
		t.Fatalf("expected ended_at to be set")
	}
}

func TestMarkCallRejected_IdempotentOnUnknownAndRepeated(t *testing.T) {
	svc, repo, _ := newTestService(t)

	if err := svc.MarkCallRejected(context.Background(), "never-seen"); err != nil {
		t.Fatalf("unknown request id should be a no-op, got %v", err)
	}

	id := createPending(t, svc, "req-1")
	if err := svc.MarkCallRejected(context.Background(), "req-1"); err != nil {
		t.Fatalf("first reject: %v", err)
	}
	if err := svc.MarkCallRejected(context.Background(), "req-1"); err != nil {
		t.Fatalf("second reject should be a no-op, got %v", err)
	}

	rec, _ := repo.Get(context.Background(), id)
	if rec.Status != CallStatusRejected {
		t.Fatalf("expected rejected, got %s", rec.Status)
	}
}

func TestMarkCallCancelled_DeletesRowOutright(t *testing.T) {
	svc, repo, _ := newTestService(t)
	id := createPending(t, svc, "req-1")

	if err := svc.MarkCallCancelled(context.Background(), "req-1"); err != nil {
		t.Fatalf("MarkCallCancelled: %v", err)
	}
	if _, ok := svc.GetCallLogID("req-1"); ok {
		t.Fatalf("index entry should be gone")
	}
	if _, err := repo.Get(context.Background(), id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("row should be deleted, got %v", err)
	}
	if repo.Len() != 0 {
		t.Fatalf("no rows should remain, got %d", repo.Len())
	}

	// Second cancel is a no-op.
	if err := svc.MarkCallCancelled(context.Background(), "req-1"); err != nil {
		t.Fatalf("repeat cancel: %v", err)
	}
}

func TestTerminalRowsCannotTransitionAgain(t *testing.T) {
	svc, repo, _ := newTestService(t)
	id := createPending(t, svc, "req-1")
	if err := svc.MarkCallAccepted(context.Background(), "req-1", "call-1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := svc.MarkCallEnded(context.Background(), "call-1"); err != nil {
		t.Fatalf("end: %v", err)
	}

	// Repository-level guard: a completed row resists any further move.
	if _, err := repo.Accept(context.Background(), id, time.Now(), "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("accept on terminal row should fail, got %v", err)
	}
	if err := repo.MarkMissed(context.Background(), id, time.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("miss on terminal row should fail, got %v", err)
	}
	if _, err := repo.Complete(context.Background(), id, time.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("double complete should fail, got %v", err)
	}
}

func TestScenario_ReconnectRotatesToken(t *testing.T) {
	svc, repo, clk := newTestService(t)
	ctx := context.Background()
	id := createPending(t, svc, "req-3")

	clk.Advance(2 * time.Second)
	if err := svc.MarkCallAccepted(ctx, "req-3", "call-3"); err != nil {
		t.Fatalf("accept: %v", err)
	}

	rec, _ := repo.Get(ctx, id)
	tokenT := rec.ReconnectToken

	// Client disconnects; its stored token still resolves the call.
	found, err := svc.GetCallByReconnectToken(ctx, tokenT)
	if err != nil {
		t.Fatalf("token lookup: %v", err)
	}
	if found.ID != id || found.VisitorID != "visitor-1" {
		t.Fatalf("token resolved wrong call: %+v", found)
	}

	clk.Advance(15 * time.Second)
	tokenPrime, err := svc.MarkCallReconnected(ctx, id, "call-3b")
	if err != nil {
		t.Fatalf("MarkCallReconnected: %v", err)
	}
	if tokenPrime == "" || tokenPrime == tokenT {
		t.Fatalf("expected a fresh token, got %q", tokenPrime)
	}

	// Consumed token is dead; the rotated one works. Single use.
	if _, err := svc.GetCallByReconnectToken(ctx, tokenT); !errors.Is(err, ErrNotFound) {
		t.Fatalf("consumed token should be gone, got %v", err)
	}
	if _, err := svc.GetCallByReconnectToken(ctx, tokenPrime); err != nil {
		t.Fatalf("rotated token lookup: %v", err)
	}

	// The new transport-level call id routes heartbeats and the end event.
	if got, ok := svc.GetCallLogID("call-3b"); !ok || got != id {
		t.Fatalf("new call id should resolve to the record")
	}
	if err := svc.UpdateCallHeartbeat(ctx, "call-3b"); err != nil {
		t.Fatalf("heartbeat after reconnect: %v", err)
	}
	if err := svc.MarkCallEnded(ctx, "call-3b"); err != nil {
		t.Fatalf("end after reconnect: %v", err)
	}
}

func TestMarkCallReconnectFailed_CompletesWithOriginalDuration(t *testing.T) {
	svc, repo, clk := newTestService(t)
	ctx := context.Background()
	id := createPending(t, svc, "req-1")

	if err := svc.MarkCallAccepted(ctx, "req-1", "call-1"); err != nil {
		t.Fatalf("accept: %v", err)
	}

	clk.Advance(90 * time.Second)
	if err := svc.MarkCallReconnectFailed(ctx, id); err != nil {
		t.Fatalf("MarkCallReconnectFailed: %v", err)
	}

	rec, _ := repo.Get(ctx, id)
	if rec.Status != CallStatusCompleted {
		t.Fatalf("reconnect failure is a completed outcome, got %s", rec.Status)
	}
	if rec.DurationSeconds == nil || *rec.DurationSeconds != 90 {
		t.Fatalf("expected duration 90s from original start, got %v", rec.DurationSeconds)
	}
	if rec.ReconnectEligible || rec.ReconnectToken != "" {
		t.Fatalf("failed-reconnect calls must not stay resumable")
	}
	if _, ok := svc.GetCallLogID("call-1"); ok {
		t.Fatalf("stale index entries should be purged")
	}

	// Idempotent: the row is already terminal.
	if err := svc.MarkCallReconnectFailed(ctx, id); err != nil {
		t.Fatalf("repeat reconnect-failed should be a no-op, got %v", err)
	}
}

func TestGetCallByReconnectToken_RejectsMalformedWithoutStoreHit(t *testing.T) {
	svc, _, _ := newTestService(t)
	if _, err := svc.GetCallByReconnectToken(context.Background(), "short"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for malformed token, got %v", err)
	}
}

func TestFindOrphanedCalls_WindowBoundary(t *testing.T) {
	svc, _, clk := newTestService(t)
	ctx := context.Background()

	fresh := createPending(t, svc, "req-fresh")
	if err := svc.MarkCallAccepted(ctx, "req-fresh", "call-fresh"); err != nil {
		t.Fatalf("accept fresh: %v", err)
	}

	stale := createPending(t, svc, "req-stale")
	if err := svc.MarkCallAccepted(ctx, "req-stale", "call-stale"); err != nil {
		t.Fatalf("accept stale: %v", err)
	}

	// Stale call last beat now; fresh call beats again 60s later. At scan
	// time the fresh beat is 30s old, the stale one 90s old.
	clk.Advance(60 * time.Second)
	if err := svc.UpdateCallHeartbeat(ctx, "call-fresh"); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	clk.Advance(30 * time.Second)

	got, err := svc.FindOrphanedCalls(ctx, 60)
	if err != nil {
		t.Fatalf("FindOrphanedCalls: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected exactly the fresh call, got %d rows", len(got))
	}
	if got[0].ID != fresh {
		t.Fatalf("expected %s, got %s", fresh, got[0].ID)
	}
	_ = stale
}

func TestFindOrphanedCalls_DefaultsWindow(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	createPending(t, svc, "req-1")
	if err := svc.MarkCallAccepted(ctx, "req-1", "call-1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	got, err := svc.FindOrphanedCalls(ctx, 0)
	if err != nil {
		t.Fatalf("FindOrphanedCalls: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected default window to include a just-accepted call")
	}
}

func TestDegradedMode_NoStoreConfigured(t *testing.T) {
	svc := NewService(nil, NewSessionIndex(), nil)
	ctx := context.Background()

	if _, err := svc.CreateCallLog(ctx, "req-1", CreateParams{VisitorID: "v", AgentID: "a", OrgID: "o"}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("create should report not-configured, got %v", err)
	}
	if _, err := svc.FindOrphanedCalls(ctx, 60); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("scan should report not-configured, got %v", err)
	}
	if _, err := svc.MarkCallReconnected(ctx, "id", "call"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("reconnect should report not-configured, got %v", err)
	}

	// Void transitions resolve without error so signaling keeps working.
	for name, err := range map[string]error{
		"accepted":  svc.MarkCallAccepted(ctx, "req-1", "call-1"),
		"ended":     svc.MarkCallEnded(ctx, "call-1"),
		"missed":    svc.MarkCallMissed(ctx, "req-1"),
		"rejected":  svc.MarkCallRejected(ctx, "req-1"),
		"cancelled": svc.MarkCallCancelled(ctx, "req-1"),
		"heartbeat": svc.UpdateCallHeartbeat(ctx, "call-1"),
	} {
		if err != nil {
			t.Fatalf("%s should be a safe no-op, got %v", name, err)
		}
	}
}

func TestMarkCallReconnectExpired_RefusesWhenLivenessFollowedArming(t *testing.T) {
	svc, repo, clk := newTestService(t)
	id := createPending(t, svc, "req-1")
	ctx := context.Background()

	clk.Advance(5 * time.Second)
	if err := svc.MarkCallAccepted(ctx, "req-1", "call-1"); err != nil {
		t.Fatalf("accept: %v", err)
	}

	// The transport drops and arms the window; then the visitor rejoins,
	// which rotates the token and stamps the heartbeat past the arm time.
	armedAt := clk.Now()
	clk.Advance(10 * time.Second)
	token, err := svc.MarkCallReconnected(ctx, id, "call-1b")
	if err != nil {
		t.Fatalf("reconnect: %v", err)
	}

	if err := svc.MarkCallReconnectExpired(ctx, id, armedAt); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expiry racing a rejoin must refuse, got %v", err)
	}

	rec, err := repo.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Status != CallStatusAccepted {
		t.Fatalf("rejoined call must stay accepted, got %s", rec.Status)
	}
	if rec.ReconnectToken != token {
		t.Fatalf("issued token must stay live after the refused expiry")
	}
}

func TestMarkCallReconnectExpired_ClosesIdleCall(t *testing.T) {
	svc, repo, clk := newTestService(t)
	id := createPending(t, svc, "req-1")
	ctx := context.Background()

	clk.Advance(5 * time.Second)
	if err := svc.MarkCallAccepted(ctx, "req-1", "call-1"); err != nil {
		t.Fatalf("accept: %v", err)
	}

	// Window armed at the last heartbeat; nothing arrives afterwards.
	armedAt := clk.Now()
	clk.Advance(60 * time.Second)
	if err := svc.MarkCallReconnectExpired(ctx, id, armedAt); err != nil {
		t.Fatalf("expiry of an idle call: %v", err)
	}

	rec, err := repo.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Status != CallStatusCompleted || rec.ReconnectToken != "" || rec.ReconnectEligible {
		t.Fatalf("expected terminal completion, got %+v", rec)
	}
	if rec.DurationSeconds == nil || *rec.DurationSeconds != 60 {
		t.Fatalf("expected duration 60s from started_at, got %v", rec.DurationSeconds)
	}
	if _, ok := svc.GetCallLogID("call-1"); ok {
		t.Fatalf("index entry should be gone")
	}
}
