package calls

import (
	"testing"
	"time"
)

func TestCallStatus_Terminal(t *testing.T) {
	terminal := []CallStatus{CallStatusRejected, CallStatusCompleted, CallStatusMissed}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
	for _, s := range []CallStatus{CallStatusPending, CallStatusAccepted} {
		if s.Terminal() {
			t.Fatalf("%s should not be terminal", s)
		}
	}
}

func TestSecondsBetween_RoundsToNearest(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		d    time.Duration
		want int
	}{
		{0, 0},
		{400 * time.Millisecond, 0},
		{500 * time.Millisecond, 1},
		{7*time.Second + 499*time.Millisecond, 7},
		{7*time.Second + 500*time.Millisecond, 8},
		{50 * time.Second, 50},
	}
	for _, tc := range cases {
		if got := secondsBetween(base, base.Add(tc.d)); got != tc.want {
			t.Fatalf("secondsBetween(+%v) = %d, want %d", tc.d, got, tc.want)
		}
	}
}

func TestSecondsBetween_NeverNegative(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if got := secondsBetween(base, base.Add(-3*time.Second)); got != 0 {
		t.Fatalf("expected clamp to 0, got %d", got)
	}
}
