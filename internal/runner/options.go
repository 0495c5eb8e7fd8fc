package runner

import (
	"context"
	"math/rand"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/torosent/throttleprobe/internal/extractor"
	"github.com/torosent/throttleprobe/internal/httpclient"
)

const (
	DefaultMaxAttempts = 5
	DefaultRetryDelay  = 6 * time.Second
	DefaultAttemptStep = 2 * time.Second
	DefaultRunTimeout  = 5 * time.Minute
	DefaultPageSize    = 50
	DefaultPageCap     = 250
	DefaultPageJitter  = 100

	// MaxLoops and MaxBatchSize bound a single run.
	MaxLoops     = 10000
	MaxBatchSize = 1000
)

// Getter issues a single GET. *httpclient.Client satisfies it.
type Getter interface {
	Get(ctx context.Context, ref string) (*httpclient.Response, error)
}

// Options configure the Driver.
type Options struct {
	Client      Getter          // request executor (required)
	Clock       clockwork.Clock // defaults to the real clock
	Logger      *zap.Logger
	Tracer      trace.Tracer
	MaxAttempts int           // attempts after which a throttled request is dropped
	AttemptStep time.Duration // backoff added per attempt
	RunTimeout  time.Duration // hard limit for a run
	MaxRPS      int           // outbound request cap (0 means unlimited)
	PageSize    int           // _to grows by this per batch position
	PageCap     int           // upper bound for _to
	PageJitter  int           // _from is up to this far below _to
	Records     *extractor.Counter

	Rand           func(n int) int             // returns [0, n); optional injection for tests
	LimiterFactory func(rps int) *rate.Limiter // optional injection for tests
}

func (o *Options) normalize() {
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Tracer == nil {
		o.Tracer = noop.NewTracerProvider().Tracer("throttleprobe")
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.AttemptStep <= 0 {
		o.AttemptStep = DefaultAttemptStep
	}
	if o.RunTimeout <= 0 {
		o.RunTimeout = DefaultRunTimeout
	}
	if o.MaxRPS < 0 {
		o.MaxRPS = 0
	}
	if o.PageSize <= 0 {
		o.PageSize = DefaultPageSize
	}
	if o.PageCap <= 0 {
		o.PageCap = DefaultPageCap
	}
	if o.PageJitter <= 0 {
		o.PageJitter = DefaultPageJitter
	}
	if o.Rand == nil {
		o.Rand = rand.Intn
	}
	if o.LimiterFactory == nil {
		o.LimiterFactory = func(rps int) *rate.Limiter {
			if rps <= 0 {
				return rate.NewLimiter(rate.Inf, 0)
			}
			// Burst equal to rps so a whole batch can leave together.
			return rate.NewLimiter(rate.Limit(rps), rps)
		}
	}
}
