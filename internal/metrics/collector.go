package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Collector records per-attempt metrics in a thread-safe manner.
type Collector struct {
	mu            sync.Mutex
	hist          *hdrhistogram.Histogram
	successes     int64
	throttled     int64
	failures      int64
	dropped       int64
	records       int64
	minLatency    time.Duration
	maxLatency    time.Duration
	sumLatency    time.Duration
	statusCodes   map[int]int64
	errorsByClass map[string]int64
}

// Stats represents aggregated metrics.
type Stats struct {
	Attempts       int64         `json:"attempts" yaml:"attempts"`
	Successes      int64         `json:"successes" yaml:"successes"`
	Throttled      int64         `json:"throttled" yaml:"throttled"`
	Failures       int64         `json:"failures" yaml:"failures"`
	Dropped        int64         `json:"dropped" yaml:"dropped"`
	Records        int64         `json:"records,omitempty" yaml:"records,omitempty"`
	MinLatency     time.Duration `json:"-" yaml:"-"`
	MaxLatency     time.Duration `json:"-" yaml:"-"`
	MeanLatency    time.Duration `json:"-" yaml:"-"`
	P50Latency     time.Duration `json:"-" yaml:"-"`
	P90Latency     time.Duration `json:"-" yaml:"-"`
	P99Latency     time.Duration `json:"-" yaml:"-"`
	Duration       time.Duration `json:"-" yaml:"-"`
	AttemptsPerSec float64       `json:"attempts_per_sec" yaml:"attempts_per_sec"`

	// JSON-friendly millisecond fields.
	MinLatencyMs  float64          `json:"min_latency_ms" yaml:"min_latency_ms"`
	MaxLatencyMs  float64          `json:"max_latency_ms" yaml:"max_latency_ms"`
	MeanLatencyMs float64          `json:"mean_latency_ms" yaml:"mean_latency_ms"`
	P50LatencyMs  float64          `json:"p50_latency_ms" yaml:"p50_latency_ms"`
	P90LatencyMs  float64          `json:"p90_latency_ms" yaml:"p90_latency_ms"`
	P99LatencyMs  float64          `json:"p99_latency_ms" yaml:"p99_latency_ms"`
	DurationMs    float64          `json:"duration_ms" yaml:"duration_ms"`
	StatusCodes   map[string]int64 `json:"status_codes,omitempty" yaml:"status_codes,omitempty"`
	Errors        map[string]int64 `json:"errors,omitempty" yaml:"errors,omitempty"` // keyed by failure class
}

func NewCollector() *Collector {
	// Track latencies from 1µs up to 60s with 3 significant figures.
	h := hdrhistogram.New(1, 60_000_000, 3)
	return &Collector{
		hist:          h,
		statusCodes:   make(map[int]int64),
		errorsByClass: make(map[string]int64),
	}
}

// RecordAttempt records one GET attempt. status is 0 when no response was
// received. A 429 counts as throttled; any other error as a failure.
func (c *Collector) RecordAttempt(latency time.Duration, status int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if latency > 0 {
		us := latency.Microseconds()
		if us < c.hist.LowestTrackableValue() {
			us = c.hist.LowestTrackableValue()
		}
		if us > c.hist.HighestTrackableValue() {
			us = c.hist.HighestTrackableValue()
		}
		_ = c.hist.RecordValue(us)
	}
	c.sumLatency += latency

	if c.minLatency == 0 || latency < c.minLatency {
		c.minLatency = latency
	}
	if latency > c.maxLatency {
		c.maxLatency = latency
	}

	if status > 0 {
		c.statusCodes[status]++
	}

	switch {
	case err == nil:
		c.successes++
	case status == http.StatusTooManyRequests:
		c.throttled++
	default:
		c.failures++
		c.errorsByClass[ClassifyError(err)]++
	}
}

// RecordDropped counts a request abandoned after its last permitted attempt.
func (c *Collector) RecordDropped() {
	c.mu.Lock()
	c.dropped++
	c.mu.Unlock()
}

// RecordRecords adds n extracted records.
func (c *Collector) RecordRecords(n int) {
	if n <= 0 {
		return
	}
	c.mu.Lock()
	c.records += int64(n)
	c.mu.Unlock()
}

// Stats computes and returns current aggregated statistics.
func (c *Collector) Stats(elapsed time.Duration) Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.successes + c.throttled + c.failures
	stats := Stats{
		Attempts:   total,
		Successes:  c.successes,
		Throttled:  c.throttled,
		Failures:   c.failures,
		Dropped:    c.dropped,
		Records:    c.records,
		MinLatency: c.minLatency,
		MaxLatency: c.maxLatency,
	}

	if total > 0 {
		stats.MeanLatency = time.Duration(int64(c.sumLatency) / total)
	}

	if c.hist.TotalCount() > 0 {
		stats.P50Latency = time.Duration(c.hist.ValueAtQuantile(50)) * time.Microsecond
		stats.P90Latency = time.Duration(c.hist.ValueAtQuantile(90)) * time.Microsecond
		stats.P99Latency = time.Duration(c.hist.ValueAtQuantile(99)) * time.Microsecond
	}

	stats.MinLatencyMs = millis(stats.MinLatency)
	stats.MaxLatencyMs = millis(stats.MaxLatency)
	stats.MeanLatencyMs = millis(stats.MeanLatency)
	stats.P50LatencyMs = millis(stats.P50Latency)
	stats.P90LatencyMs = millis(stats.P90Latency)
	stats.P99LatencyMs = millis(stats.P99Latency)

	stats.Duration = elapsed
	stats.DurationMs = millis(elapsed)
	if elapsed > 0 && total > 0 {
		stats.AttemptsPerSec = float64(total) / elapsed.Seconds()
	}

	if len(c.statusCodes) > 0 {
		stats.StatusCodes = make(map[string]int64, len(c.statusCodes))
		for code, n := range c.statusCodes {
			stats.StatusCodes[strconv.Itoa(code)] = n
		}
	}
	if len(c.errorsByClass) > 0 {
		stats.Errors = make(map[string]int64, len(c.errorsByClass))
		for k, v := range c.errorsByClass {
			stats.Errors[k] = v
		}
	}

	return stats
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
