package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/torosent/throttleprobe/internal/httpclient"
	"github.com/torosent/throttleprobe/internal/metrics"
	"github.com/torosent/throttleprobe/internal/throttle"
	"github.com/torosent/throttleprobe/internal/tracing"
)

// Params describe one run.
type Params struct {
	RunID       string        // generated when empty
	Path        string        // request target, joined onto the client's base URL
	Loops       int           // successful responses to collect
	BatchSize   int           // requests per batch
	Interval    time.Duration // time between batch ticks
	RetryDelay  time.Duration // base backoff; 0 means DefaultRetryDelay
	MaxAttempts int           // overrides Options.MaxAttempts when > 0
	Delay       time.Duration // accepted for compatibility; not used for pacing

	// Collector receives attempt metrics. A fresh one is used when nil.
	Collector *metrics.Collector
}

func (p Params) validate() error {
	var issues []string
	if p.Loops < 1 || p.Loops > MaxLoops {
		issues = append(issues, fmt.Sprintf("loops must be between 1 and %d", MaxLoops))
	}
	if p.BatchSize < 1 || p.BatchSize > MaxBatchSize {
		issues = append(issues, fmt.Sprintf("batch size must be between 1 and %d", MaxBatchSize))
	}
	if p.Interval <= 0 {
		issues = append(issues, "interval must be > 0")
	}
	if p.RetryDelay < 0 {
		issues = append(issues, "retry delay must be >= 0")
	}
	if len(issues) > 0 {
		return fmt.Errorf("invalid run parameters: %v", issues)
	}
	return nil
}

// Result captures the outcome of a run.
type Result struct {
	RunID     string
	Responses []*httpclient.Response
	TimedOut  bool
	Dropped   int
	Windows   []throttle.Summary
	Stats     metrics.Stats
	Duration  time.Duration
}

// Driver runs probes. It holds no per-run state and may be shared by
// concurrent runs.
type Driver struct {
	opt Options
}

var errNoClient = errors.New("runner: client is required")

func New(opt Options) *Driver {
	opt.normalize()
	return &Driver{opt: opt}
}

type batchResult struct {
	responses []*httpclient.Response
	err       error
}

// Run executes one probe run. See the package documentation for the
// termination rules.
func (d *Driver) Run(ctx context.Context, p Params) (Result, error) {
	if d.opt.Client == nil {
		return Result{}, errNoClient
	}
	if err := p.validate(); err != nil {
		return Result{}, err
	}
	if p.RunID == "" {
		p.RunID = ulid.Make().String()
	}
	if p.RetryDelay == 0 {
		p.RetryDelay = DefaultRetryDelay
	}
	maxAttempts := d.opt.MaxAttempts
	if p.MaxAttempts > 0 {
		maxAttempts = p.MaxAttempts
	}
	collector := p.Collector
	if collector == nil {
		collector = metrics.NewCollector()
	}

	start := time.Now()
	logger := d.opt.Logger.With(zap.String("run_id", p.RunID))
	ctx, span := tracing.StartRunSpan(ctx, d.opt.Tracer, p.RunID, p.Path)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	tracker := throttle.NewTracker(d.opt.Clock, logger)
	r := &run{
		opt:         d.opt,
		path:        p.Path,
		maxAttempts: maxAttempts,
		logger:      logger,
		state:       newRunState(d.opt.Clock, tracker, p.RetryDelay, d.opt.AttemptStep),
		pending:     &pendingQueue{},
		collector:   collector,
		pacer:       newDispatchPacer(d.opt),
	}

	logger.Info("run started",
		zap.String("path", p.Path),
		zap.Int("loops", p.Loops),
		zap.Int("batch_size", p.BatchSize),
		zap.Duration("interval", p.Interval),
		zap.Duration("retry_delay", p.RetryDelay),
		zap.Int("max_attempts", maxAttempts),
	)

	results := make([]*httpclient.Response, 0, min(p.Loops, p.BatchSize))
	finish := func(timedOut bool, err error) (Result, error) {
		cancel()
		res := Result{
			RunID:    p.RunID,
			TimedOut: timedOut,
			Windows:  r.state.close(),
			Duration: time.Since(start),
		}
		res.Stats = collector.Stats(res.Duration)
		res.Dropped = int(res.Stats.Dropped)
		res.Responses = results
		tracing.EndSpan(span, err)

		fields := []zap.Field{
			zap.Int("results", len(res.Responses)),
			zap.Int("loops", p.Loops),
			zap.Bool("timed_out", timedOut),
			zap.Int("dropped", res.Dropped),
			zap.Int("windows", len(res.Windows)),
			zap.Duration("duration", res.Duration),
		}
		if err != nil {
			logger.Error("run failed", append(fields, zap.Error(err))...)
		} else {
			logger.Info("run finished", fields...)
		}
		return res, err
	}

	ticker := d.opt.Clock.NewTicker(p.Interval)
	defer ticker.Stop()
	timeout := d.opt.Clock.NewTimer(d.opt.RunTimeout)
	defer timeout.Stop()

	var batchDone chan batchResult
	for {
		select {
		case <-ctx.Done():
			return finish(false, ctx.Err())

		case <-timeout.Chan():
			logger.Warn("run timed out", zap.Duration("timeout", d.opt.RunTimeout), zap.Int("results", len(results)))
			return finish(true, nil)

		case out := <-batchDone:
			batchDone = nil
			if out.err != nil {
				if ctx.Err() != nil {
					return finish(false, ctx.Err())
				}
				results = nil
				return finish(false, out.err)
			}
			take := min(len(out.responses), p.Loops-len(results))
			results = append(results, out.responses[:take]...)
			logger.Info("completed batch", zap.Int("results", len(results)), zap.Int("loops", p.Loops))
			if len(results) >= p.Loops {
				return finish(false, nil)
			}

		case <-ticker.Chan():
			if batchDone != nil {
				logger.Debug("batch still in flight, tick skipped")
				continue
			}
			if throttled, wait := r.state.throttled(); throttled {
				logger.Warn("rate limited, tick skipped", zap.Duration("backoff", wait))
				continue
			}
			remaining := p.Loops - len(results)
			if remaining <= 0 {
				return finish(false, nil)
			}
			size := min(p.BatchSize, remaining)
			logger.Info("starting batch", zap.Int("size", size), zap.Int("pending", r.pending.len()))

			ch := make(chan batchResult, 1)
			batchDone = ch
			go func() {
				responses, err := r.executeBatch(runCtx, size)
				ch <- batchResult{responses: responses, err: err}
			}()
		}
	}
}

// sleepContext blocks for d on clock or until ctx is done.
func sleepContext(ctx context.Context, clock clockwork.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.Chan():
		return nil
	}
}
