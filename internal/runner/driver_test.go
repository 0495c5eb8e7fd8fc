package runner

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/torosent/throttleprobe/internal/httpclient"
	"github.com/torosent/throttleprobe/internal/metrics"
)

// fakeUpstream answers by batch position, identified through the _to query value.
type fakeUpstream struct {
	mu     sync.Mutex
	calls  map[string]int
	handle func(to string, call int) (*httpclient.Response, error)
}

func newFakeUpstream(handle func(to string, call int) (*httpclient.Response, error)) *fakeUpstream {
	return &fakeUpstream{calls: map[string]int{}, handle: handle}
}

func (f *fakeUpstream) Get(ctx context.Context, ref string) (*httpclient.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u, err := url.Parse(ref)
	if err != nil {
		return nil, err
	}
	to := u.Query().Get("_to")
	f.mu.Lock()
	f.calls[to]++
	n := f.calls[to]
	f.mu.Unlock()
	return f.handle(to, n)
}

func (f *fakeUpstream) callsFor(to string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[to]
}

func okResponse(to string) (*httpclient.Response, error) {
	return &httpclient.Response{StatusCode: http.StatusOK, Body: []byte(`{"to":` + to + `}`)}, nil
}

func throttledResponse() (*httpclient.Response, error) {
	return nil, &httpclient.HTTPError{StatusCode: http.StatusTooManyRequests, Status: "429 Too Many Requests"}
}

func fastOptions(client Getter, logger *zap.Logger) Options {
	return Options{
		Client:      client,
		Logger:      logger,
		AttemptStep: time.Millisecond,
		RunTimeout:  5 * time.Second,
		Rand:        func(int) int { return 0 },
	}
}

func fastParams(loops, batch int) Params {
	return Params{
		Path:       "/api/test-endpoint",
		Loops:      loops,
		BatchSize:  batch,
		Interval:   5 * time.Millisecond,
		RetryDelay: 30 * time.Millisecond,
	}
}

func TestRunCollectsLoopsWithoutThrottling(t *testing.T) {
	up := newFakeUpstream(func(to string, _ int) (*httpclient.Response, error) { return okResponse(to) })
	d := New(fastOptions(up, nil))

	res, err := d.Run(context.Background(), fastParams(7, 3))
	require.NoError(t, err)
	require.Len(t, res.Responses, 7)
	require.False(t, res.TimedOut)
	require.Empty(t, res.Windows)
	require.NotEmpty(t, res.RunID)

	// Batches of 3, 3 and 1 keep positional order.
	want := []string{"50", "100", "150", "50", "100", "150", "50"}
	for i, resp := range res.Responses {
		require.Equal(t, `{"to":`+want[i]+`}`, string(resp.Body), "response %d", i)
	}
	require.Equal(t, int64(7), res.Stats.Successes)
	require.Equal(t, int64(0), res.Stats.Throttled)
}

func TestRunRetriesThrottledRequestsInOneWindow(t *testing.T) {
	up := newFakeUpstream(func(to string, call int) (*httpclient.Response, error) {
		if call == 1 {
			return throttledResponse()
		}
		return okResponse(to)
	})
	core, logs := observer.New(zap.InfoLevel)
	d := New(fastOptions(up, zap.New(core)))

	res, err := d.Run(context.Background(), fastParams(3, 3))
	require.NoError(t, err)
	require.Len(t, res.Responses, 3)
	require.False(t, res.TimedOut)
	require.Equal(t, 0, res.Dropped)

	require.Len(t, res.Windows, 1)
	w := res.Windows[0]
	require.Equal(t, 3, w.Hits)
	require.Equal(t, 3, w.Attempts)
	require.GreaterOrEqual(t, w.Duration, 30*time.Millisecond)

	require.Equal(t, 1, logs.FilterField(zap.String("event", "rl_window:start")).Len())
	require.Equal(t, 1, logs.FilterField(zap.String("event", "rl_window:end")).Len())
	require.Equal(t, 1, logs.FilterMessage("processing pending requests").Len())

	for _, to := range []string{"50", "100", "150"} {
		require.Equal(t, 2, up.callsFor(to), "calls for _to=%s", to)
	}
	require.Equal(t, int64(3), res.Stats.Throttled)
	require.Equal(t, int64(3), res.Stats.Successes)
}

func TestRunDropsAfterMaxAttemptsAndTimesOut(t *testing.T) {
	up := newFakeUpstream(func(to string, _ int) (*httpclient.Response, error) {
		if to == "50" {
			return throttledResponse()
		}
		return okResponse(to)
	})
	opts := fastOptions(up, nil)
	opts.RunTimeout = 400 * time.Millisecond
	d := New(opts)

	p := fastParams(3, 3)
	p.RetryDelay = 10 * time.Millisecond
	p.MaxAttempts = 2

	res, err := d.Run(context.Background(), p)
	require.NoError(t, err)
	require.True(t, res.TimedOut)
	require.Len(t, res.Responses, 2)
	require.GreaterOrEqual(t, res.Dropped, 1)
	require.NotEmpty(t, res.Windows)
	require.GreaterOrEqual(t, res.Stats.Dropped, int64(1))
}

func TestRunFailsOnHardError(t *testing.T) {
	up := newFakeUpstream(func(to string, _ int) (*httpclient.Response, error) {
		if to == "100" {
			return nil, &httpclient.HTTPError{StatusCode: http.StatusInternalServerError, Status: "500 Internal Server Error"}
		}
		return okResponse(to)
	})
	core, logs := observer.New(zap.InfoLevel)
	d := New(fastOptions(up, zap.New(core)))

	res, err := d.Run(context.Background(), fastParams(3, 3))
	require.Error(t, err)
	require.Equal(t, http.StatusInternalServerError, httpclient.StatusCode(err))
	require.Empty(t, res.Responses)
	require.False(t, res.TimedOut)
	require.Equal(t, 1, logs.FilterMessage("run failed").Len())
}

func TestRunReturnsPartialResultsOnCancel(t *testing.T) {
	up := newFakeUpstream(func(to string, _ int) (*httpclient.Response, error) {
		if to == "50" {
			return okResponse(to)
		}
		return throttledResponse()
	})
	d := New(fastOptions(up, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	p := fastParams(10, 3)
	p.MaxAttempts = 100
	res, err := d.Run(ctx, p)
	require.True(t, errors.Is(err, context.DeadlineExceeded), "err = %v", err)
	require.False(t, res.TimedOut)
	require.NotEmpty(t, res.Responses)
	require.Less(t, len(res.Responses), 10)
}

func TestRunUsesSharedCollector(t *testing.T) {
	up := newFakeUpstream(func(to string, _ int) (*httpclient.Response, error) { return okResponse(to) })
	d := New(fastOptions(up, nil))

	collector := metrics.NewCollector()
	p := fastParams(2, 2)
	p.Collector = collector
	_, err := d.Run(context.Background(), p)
	require.NoError(t, err)
	require.Equal(t, int64(2), collector.Stats(time.Second).Successes)
}

func TestRunRejectsInvalidParams(t *testing.T) {
	up := newFakeUpstream(func(to string, _ int) (*httpclient.Response, error) { return okResponse(to) })

	if _, err := New(Options{}).Run(context.Background(), fastParams(1, 1)); !errors.Is(err, errNoClient) {
		t.Fatalf("Run() without client error = %v, want errNoClient", err)
	}

	tests := []struct {
		name   string
		mutate func(*Params)
	}{
		{"zero loops", func(p *Params) { p.Loops = 0 }},
		{"too many loops", func(p *Params) { p.Loops = MaxLoops + 1 }},
		{"zero batch", func(p *Params) { p.BatchSize = 0 }},
		{"batch too large", func(p *Params) { p.BatchSize = MaxBatchSize + 1 }},
		{"zero interval", func(p *Params) { p.Interval = 0 }},
		{"negative retry delay", func(p *Params) { p.RetryDelay = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := fastParams(1, 1)
			tt.mutate(&p)
			if _, err := New(fastOptions(up, nil)).Run(context.Background(), p); err == nil {
				t.Fatal("Run() should reject invalid params")
			}
		})
	}
}
