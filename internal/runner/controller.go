package runner

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/torosent/throttleprobe/internal/httpclient"
	"github.com/torosent/throttleprobe/internal/metrics"
	"github.com/torosent/throttleprobe/internal/tracing"
)

// run holds everything scoped to one Driver.Run call.
type run struct {
	opt         Options
	path        string
	maxAttempts int
	logger      *zap.Logger
	state       *runState
	pending     *pendingQueue
	collector   *metrics.Collector
	pacer       *dispatchPacer
}

// executeBatch resolves one batch. Queued retries take priority over fresh
// requests; when there are none, size fresh requests go out concurrently.
// All outcomes are joined before returning. Responses keep batch order and
// the first hard error in batch order fails the batch.
func (r *run) executeBatch(ctx context.Context, size int) ([]*httpclient.Response, error) {
	var outcomes []outcome

	if entries := r.pending.drain(); len(entries) > 0 {
		r.logger.Info("processing pending requests", zap.Int("pending", len(entries)))
		outcomes = make([]outcome, len(entries))
		for i, e := range entries {
			out, err := e.wait(ctx)
			if err != nil {
				return nil, err
			}
			outcomes[i] = out
		}
	} else {
		outcomes = make([]outcome, size)
		var wg sync.WaitGroup
		wg.Add(size)
		for i := 0; i < size; i++ {
			go func(i int) {
				defer wg.Done()
				resp, err := r.attempt(ctx, i+1, 0)
				outcomes[i] = outcome{resp: resp, err: err}
			}(i)
		}
		wg.Wait()
	}

	responses := make([]*httpclient.Response, 0, len(outcomes))
	for _, out := range outcomes {
		if out.err != nil {
			return nil, out.err
		}
		if out.resp != nil {
			responses = append(responses, out.resp)
		}
	}
	return responses, nil
}

// attempt issues one GET for the request at position. A 429 yields neither a
// response nor an error: the request is requeued or dropped.
func (r *run) attempt(ctx context.Context, position, attempt int) (*httpclient.Response, error) {
	if err := r.pacer.Wait(ctx); err != nil {
		return nil, err
	}

	ref := r.target(position)
	spanCtx, span := tracing.StartAttemptSpan(ctx, r.opt.Tracer, ref, attempt)
	start := time.Now()
	resp, err := r.opt.Client.Get(spanCtx, ref)
	latency := time.Since(start)

	status := httpclient.StatusCode(err)
	if resp != nil {
		status = resp.StatusCode
		latency = resp.Latency
	}
	tracing.EndSpan(span, err, attribute.Int("http.response.status_code", status))
	r.collector.RecordAttempt(latency, status, err)

	if err == nil {
		r.state.recordSuccess()
		if r.opt.Records.Enabled() {
			r.collector.RecordRecords(r.opt.Records.Count(resp.Body))
		}
		return resp, nil
	}

	if httpclient.IsRateLimited(err) {
		r.handleRateLimit(ctx, position, attempt)
		return nil, nil
	}

	if ctx.Err() != nil {
		return nil, err
	}
	r.logger.Error("request failed",
		zap.String("target", ref),
		zap.Int("status", status),
		zap.Int("attempt", attempt),
		zap.Error(err),
	)
	return nil, err
}

// handleRateLimit schedules a retry of the request at position unless attempt
// was its last. The retry sleeps on the run clock independently of the gate
// and its outcome resolves the queued entry.
func (r *run) handleRateLimit(ctx context.Context, position, attempt int) {
	delay, decision := r.state.recordThrottle(r.pending.len(), attempt, r.maxAttempts)
	switch decision {
	case runClosed:
		return
	case retryExhausted:
		r.collector.RecordDropped()
		r.logger.Error("max retry attempts reached",
			zap.Int("position", position),
			zap.Int("attempts", attempt+1),
		)
		return
	}

	r.logger.Debug("request throttled, retry scheduled",
		zap.Int("position", position),
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay),
	)

	entry := newPendingEntry()
	r.pending.push(entry)
	go func() {
		if err := sleepContext(ctx, r.opt.Clock, delay); err != nil {
			entry.resolve(nil, err)
			return
		}
		entry.resolve(r.attempt(ctx, position, attempt+1))
	}()
}

// target shapes the paginated query for a batch position:
// _to = min(cap, position*size), _from = max(0, _to - rand[0,jitter) - 1).
func (r *run) target(position int) string {
	to := position * r.opt.PageSize
	if to > r.opt.PageCap {
		to = r.opt.PageCap
	}
	from := to - r.opt.Rand(r.opt.PageJitter) - 1
	if from < 0 {
		from = 0
	}
	return withPageQuery(r.path, from, to)
}

func withPageQuery(path string, from, to int) string {
	u, err := url.Parse(path)
	if err != nil {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		return path + sep + "_from=" + strconv.Itoa(from) + "&_to=" + strconv.Itoa(to)
	}
	q := u.Query()
	q.Set("_from", strconv.Itoa(from))
	q.Set("_to", strconv.Itoa(to))
	u.RawQuery = q.Encode()
	return u.String()
}
