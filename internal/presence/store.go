package presence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Status is an agent's signaling-layer availability.
type Status string

const (
	StatusAvailable Status = "available"
	StatusBusy      Status = "busy"
	StatusAway      Status = "away"
	StatusOffline   Status = "offline"
)

func (s Status) Valid() bool {
	switch s {
	case StatusAvailable, StatusBusy, StatusAway, StatusOffline:
		return true
	default:
		return false
	}
}

var ErrInvalidStatus = errors.New("presence: invalid status")

// DefaultTTL bounds how long a status survives without refresh. An agent
// whose process dies silently decays to offline instead of lingering
// available forever.
const DefaultTTL = 90 * time.Second

// Store keeps per-agent availability in Redis with a TTL, falling back to an
// in-process map when Redis is not configured. The fallback is fine for a
// single signaling process; multi-process deployments need Redis so every
// process sees the same answer during reconnect handling.
type Store struct {
	rdb *redis.Client
	ttl time.Duration

	mu    sync.Mutex
	local map[string]localStatus
	clock func() time.Time
}

type localStatus struct {
	status    Status
	expiresAt time.Time
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		rdb:   rdb,
		ttl:   ttl,
		local: make(map[string]localStatus),
		clock: time.Now,
	}
}

func agentKey(agentID string) string {
	return fmt.Sprintf("agent_status:%s", agentID)
}

// SetStatus records an agent's availability, refreshing its TTL.
func (s *Store) SetStatus(ctx context.Context, agentID string, status Status) error {
	if agentID == "" {
		return errors.New("presence: agent id is required")
	}
	if !status.Valid() {
		return ErrInvalidStatus
	}

	if s.rdb != nil {
		return s.rdb.Set(ctx, agentKey(agentID), string(status), s.ttl).Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.local[agentID] = localStatus{status: status, expiresAt: s.clock().Add(s.ttl)}
	return nil
}

// GetStatus reports an agent's availability. Unknown or expired agents are
// offline, never an error.
func (s *Store) GetStatus(ctx context.Context, agentID string) (Status, error) {
	if agentID == "" {
		return StatusOffline, errors.New("presence: agent id is required")
	}

	if s.rdb != nil {
		v, err := s.rdb.Get(ctx, agentKey(agentID)).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return StatusOffline, nil
			}
			return StatusOffline, err
		}
		st := Status(v)
		if !st.Valid() {
			return StatusOffline, nil
		}
		return st, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.local[agentID]
	if !ok || s.clock().After(entry.expiresAt) {
		delete(s.local, agentID)
		return StatusOffline, nil
	}
	return entry.status, nil
}

// IsAvailable reports whether the agent can take or resume a call right now.
// Busy counts: the agent holding the dropped call still shows busy while it
// waits for the visitor to rejoin.
func (s *Store) IsAvailable(ctx context.Context, agentID string) bool {
	st, err := s.GetStatus(ctx, agentID)
	if err != nil {
		return false
	}
	return st == StatusAvailable || st == StatusBusy
}
