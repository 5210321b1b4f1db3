package calls

import (
	"context"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repository used by tests and by the degraded
// local mode. It enforces the same transition guards as the Postgres
// implementation.
type MemoryRepo struct {
	mu   sync.Mutex
	rows map[string]CallRecord
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{rows: make(map[string]CallRecord)}
}

func (r *MemoryRepo) Create(ctx context.Context, rec CallRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[rec.ID] = rec
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.rows[id]
	if !ok {
		return CallRecord{}, ErrNotFound
	}
	return rec, nil
}

func (r *MemoryRepo) Accept(ctx context.Context, id string, at time.Time, token string) (CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.rows[id]
	if !ok || rec.Status != CallStatusPending {
		return CallRecord{}, ErrNotFound
	}

	answerTime := secondsBetween(rec.RingStartedAt, at)
	rec.Status = CallStatusAccepted
	rec.AnsweredAt = &at
	rec.AnswerTimeSeconds = &answerTime
	rec.StartedAt = &at
	rec.ReconnectToken = token
	rec.ReconnectEligible = true
	rec.LastHeartbeatAt = &at
	r.rows[id] = rec
	return rec, nil
}

func (r *MemoryRepo) Complete(ctx context.Context, id string, at time.Time) (CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.rows[id]
	if !ok || rec.Status != CallStatusAccepted || rec.EndedAt != nil {
		return CallRecord{}, ErrNotFound
	}

	duration := 0
	if rec.StartedAt != nil {
		duration = secondsBetween(*rec.StartedAt, at)
	}
	rec.Status = CallStatusCompleted
	rec.EndedAt = &at
	rec.DurationSeconds = &duration
	rec.ReconnectToken = ""
	rec.ReconnectEligible = false
	r.rows[id] = rec
	return rec, nil
}

func (r *MemoryRepo) CompleteExpired(ctx context.Context, id string, at, heartbeatCutoff time.Time) (CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.rows[id]
	if !ok || rec.Status != CallStatusAccepted || rec.EndedAt != nil {
		return CallRecord{}, ErrNotFound
	}
	if rec.LastHeartbeatAt != nil && rec.LastHeartbeatAt.After(heartbeatCutoff) {
		return CallRecord{}, ErrNotFound
	}

	duration := 0
	if rec.StartedAt != nil {
		duration = secondsBetween(*rec.StartedAt, at)
	}
	rec.Status = CallStatusCompleted
	rec.EndedAt = &at
	rec.DurationSeconds = &duration
	rec.ReconnectToken = ""
	rec.ReconnectEligible = false
	r.rows[id] = rec
	return rec, nil
}

func (r *MemoryRepo) MarkMissed(ctx context.Context, id string, at time.Time) error {
	return r.terminatePending(id, CallStatusMissed, at)
}

func (r *MemoryRepo) MarkRejected(ctx context.Context, id string, at time.Time) error {
	return r.terminatePending(id, CallStatusRejected, at)
}

func (r *MemoryRepo) terminatePending(id string, to CallStatus, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.rows[id]
	if !ok || rec.Status != CallStatusPending {
		return ErrNotFound
	}
	rec.Status = to
	rec.EndedAt = &at
	r.rows[id] = rec
	return nil
}

func (r *MemoryRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[id]; !ok {
		return ErrNotFound
	}
	delete(r.rows, id)
	return nil
}

func (r *MemoryRepo) UpdateHeartbeat(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.rows[id]
	if !ok || rec.Status != CallStatusAccepted || rec.EndedAt != nil {
		return ErrNotFound
	}
	rec.LastHeartbeatAt = &at
	r.rows[id] = rec
	return nil
}

func (r *MemoryRepo) GetByReconnectToken(ctx context.Context, token string) (CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.rows {
		if rec.ReconnectToken == token &&
			rec.Status == CallStatusAccepted &&
			rec.ReconnectEligible &&
			rec.EndedAt == nil {
			return rec, nil
		}
	}
	return CallRecord{}, ErrNotFound
}

func (r *MemoryRepo) RotateReconnectToken(ctx context.Context, id, token string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.rows[id]
	if !ok || rec.Status != CallStatusAccepted || !rec.ReconnectEligible || rec.EndedAt != nil {
		return ErrNotFound
	}
	rec.ReconnectToken = token
	rec.LastHeartbeatAt = &at
	r.rows[id] = rec
	return nil
}

func (r *MemoryRepo) FindReconnectEligible(ctx context.Context, cutoff time.Time) ([]CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []CallRecord
	for _, rec := range r.rows {
		if rec.Status == CallStatusAccepted &&
			rec.ReconnectEligible &&
			rec.EndedAt == nil &&
			rec.LastHeartbeatAt != nil &&
			!rec.LastHeartbeatAt.Before(cutoff) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Len reports how many rows are stored. Test helper.
func (r *MemoryRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}
