// Package recovery provides a periodic scanner that finds accepted calls
// whose reconnect window is still open and hands them to a notifier, so
// agents learn about sessions that survived a process restart.
package recovery

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"videocall-platform/internal/calls"
	"videocall-platform/internal/metrics"
)

// Notifier receives each recovery candidate found by a scan. Implementations
// typically push a "call still live" hint to the agent dashboard.
type Notifier func(ctx context.Context, call calls.OrphanedCall)

// Config holds the dependencies for the recovery scanner.
type Config struct {
	Lifecycle *calls.Service
	Notify    Notifier
	Logger    *slog.Logger
	Interval  time.Duration // scan interval; defaults to 30 seconds if zero
	MaxAge    int           // heartbeat freshness window in seconds; defaults to the lifecycle default
}

// Scanner periodically queries the lifecycle service for calls with a fresh
// heartbeat and notifies about each one.
type Scanner struct {
	lifecycle *calls.Service
	notify    Notifier
	logger    *slog.Logger
	interval  time.Duration
	maxAge    int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScanner creates a new Scanner with the given config.
func NewScanner(cfg Config) *Scanner {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		lifecycle: cfg.Lifecycle,
		notify:    cfg.Notify,
		logger:    logger,
		interval:  interval,
		maxAge:    cfg.MaxAge,
	}
}

// Start begins the scan loop. It runs in a background goroutine and respects
// the provided context for shutdown.
func (s *Scanner) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("recovery scanner started", "interval", s.interval)
}

// Stop cancels the scan loop and waits for it to exit.
func (s *Scanner) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("recovery scanner stopped")
}

func (s *Scanner) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Scan immediately on startup, then on each tick: the startup scan is
	// the one that matters after a crash.
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scanner) tick(ctx context.Context) {
	orphans, err := s.lifecycle.FindOrphanedCalls(ctx, s.maxAge)
	if err != nil {
		if errors.Is(err, calls.ErrNotConfigured) {
			// No durable store to recover from; nothing to do.
			return
		}
		metrics.OrphanScanErrors.Inc()
		s.logger.Error("recovery: orphan scan failed", "error", err)
		return
	}

	metrics.OrphanCandidates.Set(float64(len(orphans)))
	if len(orphans) == 0 {
		return
	}

	s.logger.Info("recovery: found calls with live heartbeats", "count", len(orphans))
	for _, o := range orphans {
		if s.notify != nil {
			s.notify(ctx, o)
		}
	}
}
