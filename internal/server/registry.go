package server

import (
	"errors"
	"sync"
	"time"

	"github.com/torosent/throttleprobe/internal/metrics"
	"github.com/torosent/throttleprobe/internal/output"
	"github.com/torosent/throttleprobe/internal/runner"
)

// RunStatus is the lifecycle state of a triggered run.
type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
)

// RunRecord describes a triggered run.
type RunRecord struct {
	ID         string         `json:"run_id"`
	Status     RunStatus      `json:"status"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Params     RunParams      `json:"params"`
	Progress   *metrics.Stats `json:"progress,omitempty"`
	Report     *output.Report `json:"report,omitempty"`

	collector *metrics.Collector
}

// RunParams is the serializable view of runner.Params.
type RunParams struct {
	Path         string  `json:"path"`
	Loops        int     `json:"loops"`
	BatchSize    int     `json:"requests_per_interval"`
	IntervalMs   float64 `json:"interval_ms"`
	RetryDelayMs float64 `json:"retry_delay_ms"`
	DelayMs      float64 `json:"delay_ms"`
	MaxAttempts  int     `json:"max_attempts"`
}

// ErrRegistryFull is returned by Start when every tracked run is still running.
var ErrRegistryFull = errors.New("too many runs in progress")

// Registry keeps the most recent runs in memory. When full, the oldest
// finished run is evicted; running runs are never evicted, so at most max
// runs are in flight at once.
type Registry struct {
	mu    sync.Mutex
	max   int
	order []string
	runs  map[string]*RunRecord
}

// NewRegistry returns a registry holding at most max runs.
func NewRegistry(max int) *Registry {
	return &Registry{max: max, runs: make(map[string]*RunRecord)}
}

// Start records a new running run. It fails with ErrRegistryFull when no
// finished run can be evicted to make room.
func (r *Registry) Start(p runner.Params) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.evictLocked() {
		return ErrRegistryFull
	}
	r.runs[p.RunID] = &RunRecord{
		ID:        p.RunID,
		Status:    StatusRunning,
		StartedAt: time.Now().UTC(),
		Params: RunParams{
			Path:         p.Path,
			Loops:        p.Loops,
			BatchSize:    p.BatchSize,
			IntervalMs:   millis(p.Interval),
			RetryDelayMs: millis(p.RetryDelay),
			DelayMs:      millis(p.Delay),
			MaxAttempts:  p.MaxAttempts,
		},
		collector: p.Collector,
	}
	r.order = append(r.order, p.RunID)
	return nil
}

// Finish marks a run as resolved.
func (r *Registry) Finish(id string, report output.Report, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.runs[id]
	if !ok {
		return
	}
	now := time.Now().UTC()
	rec.FinishedAt = &now
	rec.Report = &report
	rec.collector = nil
	rec.Status = StatusCompleted
	if err != nil {
		rec.Status = StatusFailed
	}
}

// Get returns a copy of the run with live progress for running runs.
func (r *Registry) Get(id string) (RunRecord, bool) {
	r.mu.Lock()
	rec, ok := r.runs[id]
	if !ok {
		r.mu.Unlock()
		return RunRecord{}, false
	}
	out := *rec
	r.mu.Unlock()

	if out.collector != nil {
		stats := out.collector.Stats(time.Since(out.StartedAt))
		out.Progress = &stats
	}
	return out, true
}

// Len returns the number of tracked runs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

// evictLocked drops finished runs until there is room for one more and
// reports whether it succeeded.
func (r *Registry) evictLocked() bool {
	for len(r.runs) >= r.max {
		idx := -1
		for i, id := range r.order {
			if r.runs[id].Status != StatusRunning {
				idx = i
				break
			}
		}
		if idx < 0 {
			return false
		}
		delete(r.runs, r.order[idx])
		r.order = append(r.order[:idx], r.order[idx+1:]...)
	}
	return true
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
