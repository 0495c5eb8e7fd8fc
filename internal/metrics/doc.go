// Package metrics aggregates per-attempt statistics for a probe run.
//
// A [Collector] is shared by every request goroutine of a run. Each attempt is
// classified as a success, a throttled (429) response or a hard failure, and
// its latency goes into an HDR histogram:
//
//	c := metrics.NewCollector()
//	c.RecordAttempt(latency, resp.StatusCode, nil)
//	stats := c.Stats(time.Since(start))
//
// [Stats] is JSON and YAML friendly; durations are additionally exposed as
// millisecond floats.
package metrics
