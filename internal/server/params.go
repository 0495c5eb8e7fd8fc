package server

import (
	"fmt"
	"net/url"
	"time"

	"github.com/torosent/throttleprobe/internal/config"
	"github.com/torosent/throttleprobe/internal/runner"
)

// RunDefaults fill in trigger query parameters that are missing, unparsable or zero.
type RunDefaults struct {
	Path        string
	Loops       int
	BatchSize   int
	Interval    time.Duration
	Delay       time.Duration
	RetryDelay  time.Duration
	MaxAttempts int
}

// DefaultsFromConfig maps process configuration onto trigger defaults.
func DefaultsFromConfig(cfg *config.Config) RunDefaults {
	return RunDefaults{
		Path:        cfg.Target,
		Loops:       cfg.Loops,
		BatchSize:   cfg.RequestsPerInterval,
		Interval:    cfg.Interval,
		Delay:       cfg.Delay,
		RetryDelay:  cfg.RetryDelay,
		MaxAttempts: cfg.MaxAttempts,
	}
}

// parseRunParams reads the trigger query. interval, delay and retryDelay are
// milliseconds; maxRetries overrides the attempt ceiling.
func parseRunParams(q url.Values, d RunDefaults) runner.Params {
	return runner.Params{
		Path:        d.Path,
		Loops:       config.IntOr(q.Get("loops"), d.Loops),
		BatchSize:   config.IntOr(q.Get("requestsPerInterval"), d.BatchSize),
		Interval:    config.MillisOr(q.Get("interval"), d.Interval),
		Delay:       config.MillisOr(q.Get("delay"), d.Delay),
		RetryDelay:  config.MillisOr(q.Get("retryDelay"), d.RetryDelay),
		MaxAttempts: config.IntOr(q.Get("maxRetries"), d.MaxAttempts),
	}
}

func validateRunParams(p runner.Params) []string {
	var issues []string
	if p.Loops < 1 || p.Loops > runner.MaxLoops {
		issues = append(issues, fmt.Sprintf("loops must be between 1 and %d", runner.MaxLoops))
	}
	if p.BatchSize < 1 || p.BatchSize > runner.MaxBatchSize {
		issues = append(issues, fmt.Sprintf("requestsPerInterval must be between 1 and %d", runner.MaxBatchSize))
	}
	if p.Interval <= 0 {
		issues = append(issues, "interval must be > 0")
	}
	if p.RetryDelay < 0 {
		issues = append(issues, "retryDelay must be >= 0")
	}
	if p.MaxAttempts < 1 {
		issues = append(issues, "maxRetries must be >= 1")
	}
	return issues
}
