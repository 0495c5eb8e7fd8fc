// Package runner drives a probe run: it paces batches of GET requests on a
// fixed interval, turns HTTP 429 responses into delayed retries and finishes
// once the requested number of successful responses has been collected.
//
// # Basic Usage
//
//	d := runner.New(runner.Options{
//		Client: client, // anything with Get(ctx, ref)
//		Logger: logger,
//	})
//	res, err := d.Run(ctx, runner.Params{
//		Path:       "/api/test-endpoint",
//		Loops:      10,
//		BatchSize:  5,
//		Interval:   time.Minute,
//		RetryDelay: time.Second,
//	})
//
// # Throttling
//
// The first 429 of a run closes a gate that stops new batches and opens a
// rate-limit window. Every scheduled retry re-arms a single reopen timer with
// delay = retryDelay + attempt*AttemptStep; the gate reopens and the window
// closes when the latest timer fires. Throttled requests are queued as
// pending entries, and the next batch awaits those instead of sending fresh
// requests. A request throttled on its last permitted attempt is dropped.
//
// # Termination
//
// Run returns when the results buffer is full, when RunTimeout elapses
// (partial results, Result.TimedOut set), when ctx is cancelled (partial
// results and ctx.Err()) or on the first non-429 failure (no results).
// Retries still sleeping when the run ends are abandoned.
//
// Time is read from an injected clockwork.Clock so tests can drive timers
// deterministically.
package runner
