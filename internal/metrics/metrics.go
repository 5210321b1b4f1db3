package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CallsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "call_sessions_active",
		Help: "Calls currently in accepted status",
	})

	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_transitions_total",
		Help: "Call lifecycle transitions by outcome",
	}, []string{"to"})

	Reconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_reconnects_total",
		Help: "Reconnection attempts by result",
	}, []string{"result"})

	SignalingEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signaling_events_total",
		Help: "Signaling events processed by type",
	}, []string{"type"})

	RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signaling_rate_limited_total",
		Help: "Signaling events dropped by the rate limiter",
	}, []string{"type"})

	OrphanCandidates = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "orphan_scan_candidates",
		Help: "Reconnect-eligible calls found by the last recovery scan",
	})

	OrphanScanErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orphan_scan_errors_total",
		Help: "Recovery scans that failed against the call store",
	})
)
