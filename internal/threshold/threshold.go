// Package threshold evaluates pass/fail assertions against a finished run.
package threshold

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/torosent/throttleprobe/internal/metrics"
	"github.com/torosent/throttleprobe/internal/throttle"
)

// Threshold represents an assertion on a run that can pass or fail.
type Threshold struct {
	Metric    string  // e.g. "attempt_duration", "throttled", "windows"
	Aggregate string  // e.g. "p99", "rate", "count", "max"
	Operator  string  // one of "<", "<=", ">", ">=", "=="
	Value     float64 // value compared against
	Raw       string  // original string for display
}

// Result represents the outcome of evaluating a threshold.
type Result struct {
	Threshold Threshold
	Actual    float64
	Pass      bool
	Message   string
}

// Run is what thresholds are evaluated against.
type Run struct {
	Stats   metrics.Stats
	Windows []throttle.Summary
}

var thresholdPattern = regexp.MustCompile(`^([a-z_]+):([a-z0-9]+)\s*([<>=!]+)\s*([0-9.]+)$`)

var aggregatesByMetric = map[string][]string{
	"attempt_duration": {"p50", "p90", "p99", "avg", "min", "max"},
	"attempts":         {"count", "rate"},
	"throttled":        {"count", "rate"},
	"failed":           {"count", "rate"},
	"dropped":          {"count"},
	"windows":          {"count", "max", "avg"},
}

// Evaluator evaluates thresholds against a run.
type Evaluator struct {
	thresholds []Threshold
}

// NewEvaluator creates a new threshold evaluator.
func NewEvaluator(thresholds []Threshold) *Evaluator {
	return &Evaluator{thresholds: thresholds}
}

// Evaluate checks all thresholds against run.
func (e *Evaluator) Evaluate(run Run) []Result {
	if len(e.thresholds) == 0 {
		return nil
	}
	results := make([]Result, 0, len(e.thresholds))
	for _, t := range e.thresholds {
		results = append(results, evaluateOne(t, run))
	}
	return results
}

// AllPassed reports whether every result passed.
func AllPassed(results []Result) bool {
	for _, r := range results {
		if !r.Pass {
			return false
		}
	}
	return true
}

func evaluateOne(t Threshold, run Run) Result {
	actual, err := extractValue(t, run)
	if err != nil {
		return Result{Threshold: t, Message: fmt.Sprintf("error: %v", err)}
	}

	pass := compareValues(actual, t.Operator, t.Value)
	status := "PASS"
	if !pass {
		status = "FAIL"
	}
	return Result{
		Threshold: t,
		Actual:    actual,
		Pass:      pass,
		Message:   fmt.Sprintf("%s %s: %.2f %s %.2f", status, t.Raw, actual, t.Operator, t.Value),
	}
}

// Parse parses a threshold string. Supported forms:
//
//	attempt_duration:p99 < 500   latency percentile in ms (p50, p90, p99, avg, min, max)
//	attempts:rate > 10           attempts per second, or count
//	throttled:rate < 0.5         share of attempts answered 429, or count
//	failed:count == 0            hard failures, or rate
//	dropped:count == 0           requests given up after the last attempt
//	windows:count <= 1           rate limit windows, or max/avg duration in ms
func Parse(s string) (Threshold, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Threshold{}, fmt.Errorf("empty threshold string")
	}

	matches := thresholdPattern.FindStringSubmatch(s)
	if matches == nil {
		return Threshold{}, fmt.Errorf("invalid threshold format: %q (expected metric:aggregate operator value, e.g. 'throttled:rate < 0.5')", s)
	}
	metric, aggregate, operator, valueStr := matches[1], matches[2], matches[3], matches[4]

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return Threshold{}, fmt.Errorf("invalid threshold value %q: %v", valueStr, err)
	}

	aggregates, ok := aggregatesByMetric[metric]
	if !ok {
		return Threshold{}, fmt.Errorf("unsupported metric: %q (supported: attempt_duration, attempts, throttled, failed, dropped, windows)", metric)
	}
	if !contains(aggregates, aggregate) {
		return Threshold{}, fmt.Errorf("unsupported aggregate %q for %s (supported: %s)", aggregate, metric, strings.Join(aggregates, ", "))
	}
	if !contains([]string{"<", "<=", ">", ">=", "=="}, operator) {
		return Threshold{}, fmt.Errorf("unsupported operator: %q (supported: <, <=, >, >=, ==)", operator)
	}

	return Threshold{
		Metric:    metric,
		Aggregate: aggregate,
		Operator:  operator,
		Value:     value,
		Raw:       s,
	}, nil
}

// ParseMultiple parses multiple threshold strings.
func ParseMultiple(thresholds []string) ([]Threshold, error) {
	if len(thresholds) == 0 {
		return nil, nil
	}

	result := make([]Threshold, 0, len(thresholds))
	var errs []string
	for i, s := range thresholds {
		t, err := Parse(s)
		if err != nil {
			errs = append(errs, fmt.Sprintf("threshold[%d]: %v", i, err))
			continue
		}
		result = append(result, t)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("threshold parsing errors: %s", strings.Join(errs, "; "))
	}
	return result, nil
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

func extractValue(t Threshold, run Run) (float64, error) {
	stats := run.Stats
	switch t.Metric {
	case "attempt_duration":
		return extractLatency(t.Aggregate, stats)
	case "attempts":
		if t.Aggregate == "rate" {
			return stats.AttemptsPerSec, nil
		}
		return float64(stats.Attempts), nil
	case "throttled":
		return countOrRate(t.Aggregate, stats.Throttled, stats.Attempts), nil
	case "failed":
		return countOrRate(t.Aggregate, stats.Failures, stats.Attempts), nil
	case "dropped":
		return float64(stats.Dropped), nil
	case "windows":
		return extractWindows(t.Aggregate, run.Windows), nil
	default:
		return 0, fmt.Errorf("unknown metric: %s", t.Metric)
	}
}

func extractLatency(aggregate string, stats metrics.Stats) (float64, error) {
	switch aggregate {
	case "p50":
		return stats.P50LatencyMs, nil
	case "p90":
		return stats.P90LatencyMs, nil
	case "p99":
		return stats.P99LatencyMs, nil
	case "avg":
		return stats.MeanLatencyMs, nil
	case "min":
		return stats.MinLatencyMs, nil
	case "max":
		return stats.MaxLatencyMs, nil
	default:
		return 0, fmt.Errorf("unsupported aggregate %q for attempt_duration", aggregate)
	}
}

func countOrRate(aggregate string, n, total int64) float64 {
	if aggregate == "count" {
		return float64(n)
	}
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}

// extractWindows returns the window count or the max/avg window duration in ms.
func extractWindows(aggregate string, windows []throttle.Summary) float64 {
	if aggregate == "count" {
		return float64(len(windows))
	}
	if len(windows) == 0 {
		return 0
	}
	var longest, sum float64
	for _, w := range windows {
		ms := float64(w.Duration.Milliseconds())
		sum += ms
		if ms > longest {
			longest = ms
		}
	}
	if aggregate == "max" {
		return longest
	}
	return sum / float64(len(windows))
}

func compareValues(actual float64, operator string, expected float64) bool {
	epsilon := 1e-9

	switch operator {
	case "<":
		return actual < expected
	case "<=":
		return actual <= expected || math.Abs(actual-expected) < epsilon
	case ">":
		return actual > expected
	case ">=":
		return actual >= expected || math.Abs(actual-expected) < epsilon
	case "==":
		return math.Abs(actual-expected) < epsilon
	default:
		return false
	}
}
