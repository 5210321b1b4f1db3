package signaling

import (
	"sync"
	"time"
)

// Transport-owned deadlines: how long a ring may go unanswered before the
// call counts as missed, and how long a dropped call stays resumable before
// it is closed out.
const (
	DefaultRingTimeout     = 30 * time.Second
	DefaultReconnectWindow = 60 * time.Second
)

// callTimers tracks one pending deadline per key. Arming a key replaces any
// previous timer for it; a fired or cancelled timer removes itself.
type callTimers struct {
	mu sync.Mutex
	m  map[string]*time.Timer
}

func (t *callTimers) arm(key string, d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.m == nil {
		t.m = make(map[string]*time.Timer)
	}
	if old, ok := t.m[key]; ok {
		old.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(d, func() {
		t.mu.Lock()
		if t.m[key] == timer {
			delete(t.m, key)
		}
		t.mu.Unlock()
		fn()
	})
	t.m[key] = timer
}

func (t *callTimers) cancel(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if timer, ok := t.m[key]; ok {
		timer.Stop()
		delete(t.m, key)
	}
}

func (t *callTimers) pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.m)
}
