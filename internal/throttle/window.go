// Package throttle records rate-limit episodes for a single run.
//
// A window opens on the first throttled response seen while the run is not
// already throttled and closes when dispatch resumes. The tracker only keeps
// statistics; callers decide when to open and close it.
package throttle

import (
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Window is an open throttling episode.
type Window struct {
	StartAt    time.Time
	EndAt      time.Time
	Hits       int
	Attempts   int
	MaxPending int
	LastDelay  time.Duration
}

// Summary is a closed window.
type Summary struct {
	StartAt    time.Time     `json:"start_at" yaml:"start_at"`
	EndAt      time.Time     `json:"end_at" yaml:"end_at"`
	Duration   time.Duration `json:"duration" yaml:"duration"`
	Hits       int           `json:"hits" yaml:"hits"`
	Attempts   int           `json:"attempts" yaml:"attempts"`
	MaxPending int           `json:"max_pending" yaml:"max_pending"`
	LastDelay  time.Duration `json:"last_delay" yaml:"last_delay"`
}

// Tracker holds at most one open window plus the closed ones of the run.
// It is not safe for concurrent use; the run state serializes access.
type Tracker struct {
	clock   clockwork.Clock
	logger  *zap.Logger
	current *Window
	history []Summary
}

// NewTracker returns a tracker reading time from clock.
func NewTracker(clock clockwork.Clock, logger *zap.Logger) *Tracker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{clock: clock, logger: logger}
}

// Begin opens a window unless one is already open. It reports whether a new
// window was started.
func (t *Tracker) Begin() bool {
	if t.current != nil {
		return false
	}
	t.current = &Window{StartAt: t.clock.Now()}
	t.logger.Warn("rate limit window started", zap.String("event", "rl_window:start"))
	return true
}

// RecordHit counts a throttled response. pending is the queue depth at the
// time of the hit.
func (t *Tracker) RecordHit(pending int) {
	t.Begin()
	t.current.Hits++
	if pending > t.current.MaxPending {
		t.current.MaxPending = pending
	}
}

// RecordAttempt counts a scheduled retry and its backoff.
func (t *Tracker) RecordAttempt(delay time.Duration) {
	t.Begin()
	t.current.Attempts++
	t.current.LastDelay = delay
}

// End closes the open window, logs its statistics and appends it to History.
func (t *Tracker) End() (Summary, bool) {
	if t.current == nil {
		return Summary{}, false
	}
	w := t.current
	t.current = nil
	w.EndAt = t.clock.Now()

	s := Summary{
		StartAt:    w.StartAt,
		EndAt:      w.EndAt,
		Duration:   w.EndAt.Sub(w.StartAt),
		Hits:       w.Hits,
		Attempts:   w.Attempts,
		MaxPending: w.MaxPending,
		LastDelay:  w.LastDelay,
	}
	t.history = append(t.history, s)

	t.logger.Info("rate limit window ended",
		zap.String("event", "rl_window:end"),
		zap.Duration("duration", s.Duration),
		zap.Int("hits", s.Hits),
		zap.Int("attempts", s.Attempts),
		zap.Int("max_pending", s.MaxPending),
		zap.Duration("last_delay", s.LastDelay),
	)
	return s, true
}

// Open reports whether a window is in progress.
func (t *Tracker) Open() bool {
	return t.current != nil
}

// Current returns a copy of the open window.
func (t *Tracker) Current() (Window, bool) {
	if t.current == nil {
		return Window{}, false
	}
	return *t.current, true
}

// History returns the closed windows in order.
func (t *Tracker) History() []Summary {
	return append([]Summary(nil), t.history...)
}
