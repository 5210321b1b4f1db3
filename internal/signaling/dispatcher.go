package signaling

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"videocall-platform/internal/audit"
	"videocall-platform/internal/calls"
	"videocall-platform/internal/metrics"
	"videocall-platform/internal/presence"
)

// Dispatcher is the boundary between the signaling transport and the call
// lifecycle. It serializes events per call, applies rate limits, drives the
// lifecycle service, and records best-effort audit events.
//
// Failure posture: nothing that happens in here may take down a live call.
// Store failures come back from the lifecycle service as ordinary errors and
// are logged; unexpected panics are normalized to a generic error result.
type Dispatcher struct {
	lifecycle *calls.Service
	presence  *presence.Store
	limiter   *RateLimiter
	audit     *audit.Service
	log       *slog.Logger

	locks  keyedLocks
	timers callTimers
}

func NewDispatcher(lifecycle *calls.Service, pres *presence.Store, limiter *RateLimiter, auditSvc *audit.Service, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		lifecycle: lifecycle,
		presence:  pres,
		limiter:   limiter,
		audit:     auditSvc,
		log:       log,
	}
}

// Dispatch processes one signaling event to completion. Events sharing a
// serialization key run strictly one at a time; events for different calls
// may run concurrently.
func (d *Dispatcher) Dispatch(ctx context.Context, e Event) (res Result) {
	metrics.SignalingEvents.WithLabelValues(string(e.Type)).Inc()

	defer func() {
		if r := recover(); r != nil {
			d.log.Error("panic in signaling dispatch", "event", e.Type, "panic", r)
			res = Result{Error: "internal"}
		}
	}()

	if err := e.Validate(); err != nil {
		return Result{Error: "invalid_event"}
	}

	if d.limiter != nil && !d.limiter.Allow(ctx, e.Type, e.Identity()) {
		metrics.RateLimited.WithLabelValues(string(e.Type)).Inc()
		d.log.Warn("signaling event rate limited", "event", e.Type, "identity", e.Identity())
		return Result{Error: "rate_limited"}
	}

	unlock := d.locks.lock(e.SerializationKey())
	defer unlock()

	switch e.Type {
	case EventRing:
		return d.handleRing(ctx, e)
	case EventAccept:
		return d.handleAccept(ctx, e)
	case EventEnd:
		return d.handleEnd(ctx, e)
	case EventReject:
		return d.handleReject(ctx, e)
	case EventCancel:
		return d.handleCancel(ctx, e)
	case EventHeartbeat:
		return d.handleHeartbeat(ctx, e)
	case EventReconnect:
		return d.handleReconnect(ctx, e)
	default:
		return Result{Error: "invalid_event"}
	}
}

func (d *Dispatcher) handleRing(ctx context.Context, e Event) Result {
	id, err := d.lifecycle.CreateCallLog(ctx, e.RequestID, calls.CreateParams{
		VisitorID: e.VisitorID,
		AgentID:   e.AgentID,
		OrgID:     e.OrgID,
		SiteID:    e.SiteID,
		PageURL:   e.PageURL,
		IPAddress: e.IPAddress,
		Location:  e.Location,
	})
	if err != nil && !errors.Is(err, calls.ErrNotConfigured) {
		// The ring proceeds regardless; the record is an audit trail, not a
		// gate.
		d.log.Warn("call log creation failed, ring proceeds unlogged", "request_id", e.RequestID, "err", err)
		return Result{OK: true}
	}

	d.logTransition(ctx, e, id, "", string(calls.CallStatusPending))
	return Result{OK: true, CallLogID: id}
}

func (d *Dispatcher) handleAccept(ctx context.Context, e Event) Result {
	recordID, _ := d.lifecycle.GetCallLogID(e.RequestID)
	if err := d.lifecycle.MarkCallAccepted(ctx, e.RequestID, e.CallID); err != nil {
		return Result{OK: true}
	}

	d.timers.cancel("ring:" + e.RequestID)
	metrics.CallsActive.Inc()
	metrics.Transitions.WithLabelValues(string(calls.CallStatusAccepted)).Inc()
	d.logTransition(ctx, e, recordID, string(calls.CallStatusPending), string(calls.CallStatusAccepted))
	return Result{OK: true, CallLogID: recordID}
}

func (d *Dispatcher) handleEnd(ctx context.Context, e Event) Result {
	recordID, _ := d.lifecycle.GetCallLogID(e.CallID)
	if err := d.lifecycle.MarkCallEnded(ctx, e.CallID); err != nil {
		return Result{OK: true}
	}

	if recordID != "" {
		d.timers.cancel("window:" + recordID)
	}
	metrics.CallsActive.Dec()
	metrics.Transitions.WithLabelValues(string(calls.CallStatusCompleted)).Inc()
	d.logTransition(ctx, e, recordID, string(calls.CallStatusAccepted), string(calls.CallStatusCompleted))
	return Result{OK: true, CallLogID: recordID}
}

func (d *Dispatcher) handleReject(ctx context.Context, e Event) Result {
	recordID, _ := d.lifecycle.GetCallLogID(e.RequestID)
	if err := d.lifecycle.MarkCallRejected(ctx, e.RequestID); err != nil {
		return Result{OK: true}
	}

	d.timers.cancel("ring:" + e.RequestID)
	if recordID != "" {
		metrics.Transitions.WithLabelValues(string(calls.CallStatusRejected)).Inc()
		d.logTransition(ctx, e, recordID, string(calls.CallStatusPending), string(calls.CallStatusRejected))
	}
	return Result{OK: true}
}

func (d *Dispatcher) handleCancel(ctx context.Context, e Event) Result {
	recordID, _ := d.lifecycle.GetCallLogID(e.RequestID)
	if err := d.lifecycle.MarkCallCancelled(ctx, e.RequestID); err != nil {
		return Result{OK: true}
	}

	d.timers.cancel("ring:" + e.RequestID)
	if recordID != "" {
		metrics.Transitions.WithLabelValues("cancelled").Inc()
		d.logTransition(ctx, e, recordID, string(calls.CallStatusPending), "deleted")
	}
	return Result{OK: true}
}

func (d *Dispatcher) handleHeartbeat(ctx context.Context, e Event) Result {
	// A heartbeat proves the call is attached to a live transport, so any
	// pending reconnection-window expiry for it is stale.
	if recordID, ok := d.lifecycle.GetCallLogID(e.CallID); ok {
		d.timers.cancel("window:" + recordID)
	}
	_ = d.lifecycle.UpdateCallHeartbeat(ctx, e.CallID)
	return Result{OK: true}
}

// MarkMissed is invoked by the ring-timeout timer the transport owns, not by
// a wire event: ring-no-answer is the absence of an event.
func (d *Dispatcher) MarkMissed(ctx context.Context, requestID string) {
	unlock := d.locks.lock(requestID)
	defer unlock()

	recordID, _ := d.lifecycle.GetCallLogID(requestID)
	if err := d.lifecycle.MarkCallMissed(ctx, requestID); err != nil {
		return
	}
	metrics.Transitions.WithLabelValues(string(calls.CallStatusMissed)).Inc()
	if d.audit != nil && recordID != "" {
		_ = d.audit.LogTransition(ctx, orgOrUnknown(""), recordID, requestID, "", "", "",
			string(calls.CallStatusPending), string(calls.CallStatusMissed))
	}
}

// handleReconnect validates a rejoin attempt end to end: token, visitor
// identity, agent availability. All refusals look identical to the client.
func (d *Dispatcher) handleReconnect(ctx context.Context, e Event) Result {
	call, err := d.lifecycle.GetCallByReconnectToken(ctx, e.ReconnectToken)
	if err != nil {
		metrics.Reconnects.WithLabelValues("refused").Inc()
		return Result{Error: "reconnect_failed"}
	}

	if call.VisitorID != e.VisitorID {
		d.log.Warn("reconnect visitor mismatch", "call_log_id", call.ID)
		metrics.Reconnects.WithLabelValues("refused").Inc()
		return Result{Error: "reconnect_failed"}
	}

	if d.presence != nil && !d.presence.IsAvailable(ctx, call.AgentID) {
		// The far side is gone; resuming is pointless. Terminal outcome.
		d.log.Info("reconnect refused, agent unavailable", "call_log_id", call.ID, "agent_id", call.AgentID)
		d.failReconnect(ctx, call)
		return Result{Error: "reconnect_failed"}
	}

	token, err := d.lifecycle.MarkCallReconnected(ctx, call.ID, e.NewCallID)
	if err != nil {
		metrics.Reconnects.WithLabelValues("refused").Inc()
		return Result{Error: "reconnect_failed"}
	}

	d.timers.cancel("window:" + call.ID)
	metrics.Reconnects.WithLabelValues("rejoined").Inc()
	if d.audit != nil {
		_ = d.audit.LogReconnect(ctx, call.OrganizationID, call.ID, e.NewCallID, call.VisitorID, "rejoined")
	}
	return Result{OK: true, CallLogID: call.ID, ReconnectToken: token}
}

// ScheduleMissed arms the ring-no-answer deadline for a pending request.
// Accept, reject, and cancel all disarm it; if it fires late anyway the
// store's pending-only guard makes it a no-op.
func (d *Dispatcher) ScheduleMissed(requestID string, after time.Duration) {
	if after <= 0 {
		after = DefaultRingTimeout
	}
	d.timers.arm("ring:"+requestID, after, func() {
		d.MarkMissed(context.Background(), requestID)
	})
}

// ScheduleReconnectExpiry arms the reconnection window for a call whose
// transport dropped. A successful rejoin or a live heartbeat disarms it;
// firing closes the call out for good. The timer remembers when it was
// armed, and the expiry refuses any call whose heartbeat was stamped after
// that instant, so a rejoin the cancel raced still survives.
func (d *Dispatcher) ScheduleReconnectExpiry(recordID string, after time.Duration) {
	if after <= 0 {
		after = DefaultReconnectWindow
	}
	armedAt := time.Now().UTC()
	d.timers.arm("window:"+recordID, after, func() {
		d.expireReconnectWindow(context.Background(), recordID, armedAt)
	})
}

func (d *Dispatcher) expireReconnectWindow(ctx context.Context, recordID string, armedAt time.Time) {
	unlock := d.locks.lock(recordID)
	defer unlock()

	if err := d.lifecycle.MarkCallReconnectExpired(ctx, recordID, armedAt); err != nil {
		return
	}
	metrics.CallsActive.Dec()
	metrics.Reconnects.WithLabelValues("expired").Inc()
	metrics.Transitions.WithLabelValues(string(calls.CallStatusCompleted)).Inc()
}

// FailReconnect terminates a call whose reconnection window lapsed. The
// transport's window timer owns the decision; this applies it.
func (d *Dispatcher) FailReconnect(ctx context.Context, recordID string) {
	unlock := d.locks.lock(recordID)
	defer unlock()

	d.timers.cancel("window:" + recordID)

	if err := d.lifecycle.MarkCallReconnectFailed(ctx, recordID); err != nil {
		return
	}
	metrics.CallsActive.Dec()
	metrics.Reconnects.WithLabelValues("expired").Inc()
	metrics.Transitions.WithLabelValues(string(calls.CallStatusCompleted)).Inc()
}

func (d *Dispatcher) failReconnect(ctx context.Context, call calls.ReconnectableCall) {
	if err := d.lifecycle.MarkCallReconnectFailed(ctx, call.ID); err != nil {
		return
	}
	metrics.CallsActive.Dec()
	metrics.Reconnects.WithLabelValues("expired").Inc()
	metrics.Transitions.WithLabelValues(string(calls.CallStatusCompleted)).Inc()
	if d.audit != nil {
		_ = d.audit.LogReconnect(ctx, call.OrganizationID, call.ID, "", call.VisitorID, "failed")
	}
}

func (d *Dispatcher) logTransition(ctx context.Context, e Event, recordID, from, to string) {
	if d.audit == nil || recordID == "" {
		return
	}
	if err := d.audit.LogTransition(ctx, orgOrUnknown(e.OrgID), recordID, e.RequestID, e.CallID, e.AgentID, e.VisitorID, from, to); err != nil {
		d.log.Debug("audit append failed", "err", err)
	}
}

// orgOrUnknown keeps the audit tenancy invariant satisfiable for events that
// arrive without an org id (everything after ring).
func orgOrUnknown(orgID string) string {
	if orgID == "" {
		return "unknown"
	}
	return orgID
}

// keyedLocks serializes work per call without a global lock. Entries are
// reference counted and removed when idle, so the map does not grow with
// call history.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedLocks) lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*lockEntry)
	}
	e, ok := k.locks[key]
	if !ok {
		e = &lockEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
