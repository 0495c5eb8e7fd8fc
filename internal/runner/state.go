package runner

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/torosent/throttleprobe/internal/throttle"
)

type phase int

const (
	phaseNormal phase = iota
	phaseThrottled
)

func (p phase) String() string {
	if p == phaseThrottled {
		return "throttled"
	}
	return "normal"
}

// runState is the per-run throttle machine. It moves to throttled when a
// retry is scheduled and back to normal when the most recently armed reopen
// timer fires, closing the window in the same step.
type runState struct {
	mu    sync.Mutex
	clock clockwork.Clock
	step  time.Duration

	phase      phase
	baseDelay  time.Duration
	retryDelay time.Duration
	attempts   int // consecutive throttled responses since the last success

	timer      clockwork.Timer
	generation uint64
	tracker    *throttle.Tracker
	closed     bool
}

func newRunState(clock clockwork.Clock, tracker *throttle.Tracker, baseDelay, step time.Duration) *runState {
	return &runState{
		clock:      clock,
		step:       step,
		baseDelay:  baseDelay,
		retryDelay: baseDelay,
		tracker:    tracker,
	}
}

// throttled reports whether dispatch is gated and the backoff currently in force.
func (s *runState) throttled() (bool, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != phaseThrottled {
		return false, 0
	}
	var last time.Duration
	if w, ok := s.tracker.Current(); ok {
		last = w.LastDelay
	}
	return true, last
}

// recordSuccess resets the backoff state.
func (s *runState) recordSuccess() {
	s.mu.Lock()
	s.attempts = 0
	s.retryDelay = s.baseDelay
	s.mu.Unlock()
}

type throttleDecision int

const (
	retryScheduled throttleDecision = iota
	retryExhausted
	runClosed
)

// recordThrottle registers a 429 seen on attempt (0-based) with pending
// entries already queued. When attempt has reached maxAttempts no retry is
// scheduled and the hit only counts toward a window that is already open.
// Otherwise the gate closes, the reopen timer is re-armed and the backoff to
// sleep before retrying is returned.
func (s *runState) recordThrottle(pending, attempt, maxAttempts int) (time.Duration, throttleDecision) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, runClosed
	}
	if attempt >= maxAttempts {
		if s.tracker.Open() {
			s.tracker.RecordHit(pending)
		}
		return 0, retryExhausted
	}

	s.tracker.RecordHit(pending)
	delay := s.retryDelay + time.Duration(attempt)*s.step
	s.tracker.RecordAttempt(delay)
	s.attempts++
	s.phase = phaseThrottled
	s.armLocked(delay)
	return delay, retryScheduled
}

func (s *runState) armLocked(delay time.Duration) {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.generation++
	gen := s.generation
	s.timer = s.clock.AfterFunc(delay, func() { s.reopen(gen) })
}

// reopen runs on the timer goroutine. A stale generation means the timer was
// replaced after it had already fired.
func (s *runState) reopen(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || gen != s.generation {
		return
	}
	s.phase = phaseNormal
	s.timer = nil
	s.tracker.End()
}

// close stops the reopen timer, closes any open window and returns the
// window history. Later calls are no-ops apart from returning the history.
func (s *runState) close() []throttle.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		if s.timer != nil {
			s.timer.Stop()
			s.timer = nil
		}
		s.phase = phaseNormal
		s.tracker.End()
	}
	return s.tracker.History()
}

func (s *runState) snapshot() (phase, int, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase, s.attempts, s.retryDelay
}
