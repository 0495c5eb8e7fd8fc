package throttle

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestTrackerBeginIsIdempotent(t *testing.T) {
	tr := NewTracker(clockwork.NewFakeClock(), nil)

	if !tr.Begin() {
		t.Fatal("first Begin() = false, want true")
	}
	if tr.Begin() {
		t.Fatal("second Begin() = true, want false")
	}
	if !tr.Open() {
		t.Fatal("Open() = false after Begin")
	}
}

func TestTrackerAggregatesWindow(t *testing.T) {
	clock := clockwork.NewFakeClock()
	core, logs := observer.New(zap.InfoLevel)
	tr := NewTracker(clock, zap.New(core))

	tr.RecordHit(0)
	tr.RecordAttempt(time.Second)
	clock.Advance(500 * time.Millisecond)
	tr.RecordHit(3)
	tr.RecordAttempt(3 * time.Second)
	tr.RecordHit(1)
	clock.Advance(2500 * time.Millisecond)

	w, ok := tr.Current()
	if !ok {
		t.Fatal("Current() reported no open window")
	}
	if w.Hits != 3 || w.Attempts != 2 {
		t.Fatalf("open window hits/attempts = %d/%d, want 3/2", w.Hits, w.Attempts)
	}

	s, ok := tr.End()
	if !ok {
		t.Fatal("End() reported no window")
	}
	if s.Duration != 3*time.Second {
		t.Fatalf("Duration = %v, want 3s", s.Duration)
	}
	if s.MaxPending != 3 {
		t.Fatalf("MaxPending = %d, want 3", s.MaxPending)
	}
	if s.LastDelay != 3*time.Second {
		t.Fatalf("LastDelay = %v, want 3s", s.LastDelay)
	}
	if tr.Open() {
		t.Fatal("window still open after End")
	}

	start := logs.FilterField(zap.String("event", "rl_window:start"))
	end := logs.FilterField(zap.String("event", "rl_window:end"))
	if start.Len() != 1 || end.Len() != 1 {
		t.Fatalf("start/end log entries = %d/%d, want 1/1", start.Len(), end.Len())
	}
	fields := end.All()[0].ContextMap()
	if fields["hits"] != int64(3) {
		t.Fatalf("logged hits = %v, want 3", fields["hits"])
	}
}

func TestTrackerHistory(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tr := NewTracker(clock, nil)

	if _, ok := tr.End(); ok {
		t.Fatal("End() without a window returned ok")
	}

	tr.RecordHit(0)
	clock.Advance(time.Second)
	tr.End()
	tr.RecordHit(0)
	tr.RecordHit(0)
	clock.Advance(2 * time.Second)
	tr.End()

	h := tr.History()
	if len(h) != 2 {
		t.Fatalf("History() len = %d, want 2", len(h))
	}
	if h[0].Hits != 1 || h[1].Hits != 2 {
		t.Fatalf("history hits = %d,%d, want 1,2", h[0].Hits, h[1].Hits)
	}
	if h[1].Duration != 2*time.Second {
		t.Fatalf("second window duration = %v, want 2s", h[1].Duration)
	}

	h[0].Hits = 99
	if tr.History()[0].Hits != 1 {
		t.Fatal("History() exposed internal slice")
	}
}
