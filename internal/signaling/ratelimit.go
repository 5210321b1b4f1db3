package signaling

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"videocall-platform/pkg/utils"
)

// Limit is a fixed-window cap for one event type.
type Limit struct {
	Max    int
	Window time.Duration
}

// defaultLimits guard against event spam per identity. Call-request is the
// tightest: ringing an agent is the expensive path.
var defaultLimits = map[EventType]Limit{
	EventRing:      {Max: 5, Window: time.Minute},
	EventAccept:    {Max: 10, Window: time.Minute},
	EventReject:    {Max: 10, Window: time.Minute},
	EventCancel:    {Max: 10, Window: time.Minute},
	EventEnd:       {Max: 10, Window: time.Minute},
	EventReconnect: {Max: 10, Window: time.Minute},
	// Heartbeats arrive every few seconds for the lifetime of a call.
	EventHeartbeat: {Max: 120, Window: time.Minute},
}

// RateLimiter enforces per-identity fixed-window limits, Redis-backed when a
// client is available so multiple processes share counters, with an
// in-process fallback otherwise. Redis errors fail open: dropping legitimate
// call events is worse than letting a burst through.
type RateLimiter struct {
	rdb    *redis.Client
	limits map[EventType]Limit
	log    *slog.Logger

	mu        sync.Mutex
	counters  map[string]windowCounter
	nextSweep time.Time
	clock     func() time.Time
}

// sweepInterval bounds how often the fallback map is scanned for lapsed
// windows.
const sweepInterval = time.Minute

type windowCounter struct {
	count     int
	expiresAt time.Time
}

func NewRateLimiter(rdb *redis.Client, log *slog.Logger) *RateLimiter {
	if log == nil {
		log = slog.Default()
	}
	return &RateLimiter{
		rdb:      rdb,
		limits:   defaultLimits,
		log:      log,
		counters: make(map[string]windowCounter),
		clock:    time.Now,
	}
}

// Allow reports whether one more event of this type from this identity fits
// inside the current window. Event types without a configured limit pass.
func (l *RateLimiter) Allow(ctx context.Context, t EventType, identity string) bool {
	limit, ok := l.limits[t]
	if !ok || identity == "" {
		return true
	}

	key := fmt.Sprintf("socket_rl:%s:%s", t, identity)

	if l.rdb != nil {
		count, err := utils.IncrWindowCounter(ctx, l.rdb, key, limit.Window)
		if err != nil {
			l.log.Warn("rate limit check failed, allowing", "event", t, "err", err)
			return true
		}
		return count <= int64(limit.Max)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock()
	l.sweepLocked(now)
	c, ok := l.counters[key]
	if !ok || now.After(c.expiresAt) {
		c = windowCounter{count: 0, expiresAt: now.Add(limit.Window)}
	}
	c.count++
	l.counters[key] = c
	return c.count <= limit.Max
}

// sweepLocked drops lapsed windows so the fallback map does not grow with
// every identity ever seen. Runs at most once per sweepInterval; the caller
// holds l.mu.
func (l *RateLimiter) sweepLocked(now time.Time) {
	if now.Before(l.nextSweep) {
		return
	}
	for k, c := range l.counters {
		if now.After(c.expiresAt) {
			delete(l.counters, k)
		}
	}
	l.nextSweep = now.Add(sweepInterval)
}
