package runner

import (
	"context"

	"golang.org/x/time/rate"
)

// dispatchPacer spaces outbound attempts of a run, retries included.
type dispatchPacer struct {
	limiter *rate.Limiter
}

func newDispatchPacer(opt Options) *dispatchPacer {
	if opt.MaxRPS <= 0 {
		return &dispatchPacer{}
	}
	return &dispatchPacer{limiter: opt.LimiterFactory(opt.MaxRPS)}
}

func (p *dispatchPacer) Wait(ctx context.Context) error {
	if p == nil || p.limiter == nil {
		return nil
	}
	return p.limiter.Wait(ctx)
}
