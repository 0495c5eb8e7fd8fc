package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/torosent/throttleprobe/internal/httpclient"
	"github.com/torosent/throttleprobe/internal/runner"
	"github.com/torosent/throttleprobe/internal/throttle"
)

// fakeRunner records params and resolves runs on demand.
type fakeRunner struct {
	mu      sync.Mutex
	params  []runner.Params
	release chan struct{}
	err     error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{release: make(chan struct{})}
}

func (f *fakeRunner) Run(ctx context.Context, p runner.Params) (runner.Result, error) {
	f.mu.Lock()
	f.params = append(f.params, p)
	f.mu.Unlock()

	select {
	case <-f.release:
	case <-ctx.Done():
		return runner.Result{RunID: p.RunID}, ctx.Err()
	}
	if f.err != nil {
		return runner.Result{RunID: p.RunID}, f.err
	}
	return runner.Result{
		RunID:     p.RunID,
		Responses: []*httpclient.Response{{StatusCode: 200}},
		Windows:   []throttle.Summary{{Hits: 2, Attempts: 2, Duration: time.Second}},
	}, nil
}

func (f *fakeRunner) lastParams() (runner.Params, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.params) == 0 {
		return runner.Params{}, false
	}
	return f.params[len(f.params)-1], true
}

func testDefaults() RunDefaults {
	return RunDefaults{
		Path:        "/api/test-endpoint",
		Loops:       10,
		BatchSize:   5,
		Interval:    time.Minute,
		Delay:       time.Second,
		RetryDelay:  time.Second,
		MaxAttempts: 5,
	}
}

func newTestServer(t *testing.T, r Runner, logger *zap.Logger) *Server {
	t.Helper()
	srv := New(Options{Runner: r, Defaults: testDefaults(), Logger: logger})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return srv
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRootAndHealth(t *testing.T) {
	srv := newTestServer(t, newFakeRunner(), nil)

	rec := get(t, srv.Handler(), "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET / status = %d", rec.Code)
	}
	var root map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&root); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if root["message"] != "throttleprobe API is running!" {
		t.Fatalf("GET / message = %q", root["message"])
	}

	rec = get(t, srv.Handler(), "/health")
	var health map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&health); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if health["status"] != "OK" {
		t.Fatalf("health status = %q", health["status"])
	}
	if _, err := time.Parse(time.RFC3339Nano, health["timestamp"]); err != nil {
		t.Fatalf("health timestamp %q: %v", health["timestamp"], err)
	}
}

func TestTestRateLimitStartsRunInBackground(t *testing.T) {
	fr := newFakeRunner()
	srv := newTestServer(t, fr, nil)

	rec := get(t, srv.Handler(), "/test-rate-limit?loops=3&requestsPerInterval=2&interval=250&retryDelay=1500&maxRetries=2&delay=10")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["message"] != "Test rate limit endpoint" {
		t.Fatalf("message = %q", body["message"])
	}
	runID := body["runId"]
	if runID == "" {
		t.Fatal("runId missing")
	}

	var p runner.Params
	require.Eventually(t, func() bool {
		var ok bool
		p, ok = fr.lastParams()
		return ok
	}, time.Second, 5*time.Millisecond)

	if p.RunID != runID || p.Path != "/api/test-endpoint" {
		t.Fatalf("params = %+v", p)
	}
	if p.Loops != 3 || p.BatchSize != 2 || p.MaxAttempts != 2 {
		t.Fatalf("loops/batch/maxAttempts = %d/%d/%d", p.Loops, p.BatchSize, p.MaxAttempts)
	}
	if p.Interval != 250*time.Millisecond || p.RetryDelay != 1500*time.Millisecond || p.Delay != 10*time.Millisecond {
		t.Fatalf("interval/retryDelay/delay = %s/%s/%s", p.Interval, p.RetryDelay, p.Delay)
	}

	rec = get(t, srv.Handler(), "/runs/"+runID)
	var running RunRecord
	if err := json.NewDecoder(rec.Body).Decode(&running); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if running.Status != StatusRunning || running.Progress == nil {
		t.Fatalf("run = %+v, want running with progress", running)
	}

	close(fr.release)
	require.Eventually(t, func() bool {
		rec, ok := srv.Runs().Get(runID)
		return ok && rec.Status == StatusCompleted
	}, time.Second, 5*time.Millisecond)

	rec = get(t, srv.Handler(), "/runs/"+runID)
	var done RunRecord
	if err := json.NewDecoder(rec.Body).Decode(&done); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if done.Report == nil || done.Report.Responses != 1 || len(done.Report.Windows) != 1 {
		t.Fatalf("report = %+v", done.Report)
	}
	if done.FinishedAt == nil {
		t.Fatal("finished_at missing")
	}
}

func TestTestRateLimitFallsBackToDefaults(t *testing.T) {
	fr := newFakeRunner()
	srv := newTestServer(t, fr, nil)

	rec := get(t, srv.Handler(), "/test-rate-limit?loops=abc&interval=0&retryDelay=")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	require.Eventually(t, func() bool {
		_, ok := fr.lastParams()
		return ok
	}, time.Second, 5*time.Millisecond)

	p, _ := fr.lastParams()
	d := testDefaults()
	if p.Loops != d.Loops || p.BatchSize != d.BatchSize || p.Interval != d.Interval {
		t.Fatalf("params = %+v, want defaults", p)
	}
	if p.RetryDelay != d.RetryDelay || p.MaxAttempts != d.MaxAttempts || p.Delay != d.Delay {
		t.Fatalf("params = %+v, want defaults", p)
	}
}

func TestTestRateLimitRejectsNegativeValues(t *testing.T) {
	fr := newFakeRunner()
	srv := newTestServer(t, fr, nil)

	rec := get(t, srv.Handler(), "/test-rate-limit?loops=-2")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var body ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != "INVALID_PARAMETERS" || len(body.Error.Details) != 1 {
		t.Fatalf("error = %+v", body.Error)
	}
	if srv.Runs().Len() != 0 {
		t.Fatal("rejected trigger registered a run")
	}
}

func TestFailedRunIsRecorded(t *testing.T) {
	fr := newFakeRunner()
	fr.err = &httpclient.HTTPError{StatusCode: 500, Status: "500 Internal Server Error"}
	close(fr.release)
	srv := newTestServer(t, fr, nil)

	rec := get(t, srv.Handler(), "/test-rate-limit")
	var body map[string]string
	_ = json.NewDecoder(rec.Body).Decode(&body)

	require.Eventually(t, func() bool {
		rec, ok := srv.Runs().Get(body["runId"])
		return ok && rec.Status == StatusFailed
	}, time.Second, 5*time.Millisecond)

	got, _ := srv.Runs().Get(body["runId"])
	if got.Report == nil || got.Report.Error != "HTTP 500" {
		t.Fatalf("report = %+v", got.Report)
	}
}

func TestUnknownRunAndRoute(t *testing.T) {
	srv := newTestServer(t, newFakeRunner(), nil)

	rec := get(t, srv.Handler(), "/runs/missing")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("GET /runs/missing status = %d", rec.Code)
	}

	rec = get(t, srv.Handler(), "/does-not-exist")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var body ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != "NOT_FOUND" || body.Error.RequestID == "" {
		t.Fatalf("error = %+v", body.Error)
	}
}

func TestRequestIDPropagation(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	srv := newTestServer(t, newFakeRunner(), zap.New(core))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get(RequestIDHeader); got != "req-123" {
		t.Fatalf("X-Request-ID = %q, want req-123", got)
	}
	entries := logs.FilterMessage("http request").FilterField(zap.String("request_id", "req-123"))
	if entries.Len() != 1 {
		t.Fatalf("request log entries = %d, want 1", entries.Len())
	}

	rec = get(t, srv.Handler(), "/health")
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Fatal("generated request ID missing")
	}
}

func TestRecoveryReturns500(t *testing.T) {
	srv := newTestServer(t, newFakeRunner(), nil)
	srv.router.Get("/panic", func(http.ResponseWriter, *http.Request) { panic("boom") })

	rec := get(t, srv.Handler(), "/panic")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var body ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != "INTERNAL_ERROR" {
		t.Fatalf("code = %q", body.Error.Code)
	}
}

func TestShutdownCancelsRuns(t *testing.T) {
	fr := newFakeRunner()
	srv := New(Options{Runner: fr, Defaults: testDefaults()})

	rec := get(t, srv.Handler(), "/test-rate-limit")
	var body map[string]string
	_ = json.NewDecoder(rec.Body).Decode(&body)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	got, ok := srv.Runs().Get(body["runId"])
	if !ok || got.Status != StatusFailed {
		t.Fatalf("run after shutdown = %+v", got)
	}
	if ctx.Err() != nil {
		t.Fatal("shutdown should finish before its deadline")
	}
}

type stubGetter struct{}

func (stubGetter) Get(context.Context, string) (*httpclient.Response, error) {
	return &httpclient.Response{StatusCode: http.StatusOK}, nil
}

func TestTestRateLimitRejectsOversizedRuns(t *testing.T) {
	driver := runner.New(runner.Options{Client: stubGetter{}})
	srv := newTestServer(t, driver, nil)

	for _, query := range []string{
		"loops=1e18",
		"loops=1e30",
		"requestsPerInterval=1e9",
	} {
		rec := get(t, srv.Handler(), "/test-rate-limit?"+query)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d, want 400", query, rec.Code)
		}
		var body ErrorResponse
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatalf("%s: decode: %v", query, err)
		}
		if body.Error.Code != "INVALID_PARAMETERS" {
			t.Fatalf("%s: code = %q", query, body.Error.Code)
		}
	}
	if srv.Runs().Len() != 0 {
		t.Fatalf("Len() = %d, want no runs", srv.Runs().Len())
	}
}

type runnerFunc func(ctx context.Context, p runner.Params) (runner.Result, error)

func (f runnerFunc) Run(ctx context.Context, p runner.Params) (runner.Result, error) {
	return f(ctx, p)
}

func TestPanickingRunIsRecordedAsFailed(t *testing.T) {
	boom := runnerFunc(func(context.Context, runner.Params) (runner.Result, error) {
		panic("out of range")
	})
	core, logs := observer.New(zap.ErrorLevel)
	srv := newTestServer(t, boom, zap.New(core))

	rec := get(t, srv.Handler(), "/test-rate-limit")
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}

	require.Eventually(t, func() bool {
		rec, ok := srv.Runs().Get(body["runId"])
		return ok && rec.Status == StatusFailed
	}, time.Second, 5*time.Millisecond)

	got, _ := srv.Runs().Get(body["runId"])
	if got.Report == nil || got.Report.Error != "run panicked: out of range" {
		t.Fatalf("report = %+v", got.Report)
	}
	if logs.FilterMessage("panic in background run").Len() != 1 {
		t.Fatal("expected the panic to be logged")
	}
}

func TestTestRateLimitRejectsWhenBusy(t *testing.T) {
	fr := newFakeRunner()
	srv := New(Options{Runner: fr, Defaults: testDefaults(), MaxRuns: 1})
	t.Cleanup(func() {
		close(fr.release)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})

	if rec := get(t, srv.Handler(), "/test-rate-limit"); rec.Code != http.StatusOK {
		t.Fatalf("first trigger status = %d", rec.Code)
	}

	rec := get(t, srv.Handler(), "/test-rate-limit")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("second trigger status = %d, want 503", rec.Code)
	}
	var body ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != "TOO_MANY_RUNS" {
		t.Fatalf("code = %q", body.Error.Code)
	}
	if srv.Runs().Len() != 1 {
		t.Fatalf("Len() = %d, want 1", srv.Runs().Len())
	}
}
