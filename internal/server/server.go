// Package server exposes the HTTP trigger endpoint that starts probe runs in
// the background and reports on recent ones.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/torosent/throttleprobe/internal/metrics"
	"github.com/torosent/throttleprobe/internal/output"
	"github.com/torosent/throttleprobe/internal/runner"
)

// DefaultMaxRuns bounds the in-memory run registry.
const DefaultMaxRuns = 100

// Runner executes one probe run. *runner.Driver satisfies it.
type Runner interface {
	Run(ctx context.Context, p runner.Params) (runner.Result, error)
}

// Options configure the Server.
type Options struct {
	Runner   Runner
	Defaults RunDefaults
	Logger   *zap.Logger
	MaxRuns  int
}

// Server represents the HTTP trigger server.
type Server struct {
	router   *chi.Mux
	server   *http.Server
	logger   *zap.Logger
	runner   Runner
	defaults RunDefaults
	runs     *Registry

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// New creates a new server instance.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxRuns := opts.MaxRuns
	if maxRuns <= 0 {
		maxRuns = DefaultMaxRuns
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		router:   chi.NewRouter(),
		logger:   logger,
		runner:   opts.Runner,
		defaults: opts.Defaults,
		runs:     NewRegistry(maxRuns),
		baseCtx:  baseCtx,
		cancel:   cancel,
	}

	s.router.Use(middleware.RealIP)
	s.router.Use(RequestID)
	s.router.Use(RequestLogger(logger))
	s.router.Use(Recovery(logger))

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "The requested resource was not found")
	})
	s.router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "The requested method is not allowed for this resource")
	})

	s.registerRoutes()
	return s
}

// Handler exposes the underlying router for testing.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Runs exposes the run registry.
func (s *Server) Runs() *Registry {
	return s.runs
}

// Serve accepts connections on ln until Shutdown is called.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ln.Close()
	}
	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	s.server = srv
	s.mu.Unlock()

	s.logger.Info("starting HTTP server", zap.String("addr", ln.Addr().String()))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe listens on addr and serves until Shutdown is called.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Shutdown stops accepting requests, cancels in-flight runs and waits for
// them to resolve or for ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	s.mu.Lock()
	s.closed = true
	srv := s.server
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

// launch records p in the registry and starts it in the background.
func (s *Server) launch(p runner.Params) error {
	if p.RunID == "" {
		p.RunID = ulid.Make().String()
	}
	if p.Collector == nil {
		p.Collector = metrics.NewCollector()
	}
	if err := s.runs.Start(p); err != nil {
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		res, err := s.execute(p)
		report := output.NewReport(res, err)
		if report.RunID == "" {
			report.RunID = p.RunID
		}
		s.runs.Finish(p.RunID, report, err)
		if err != nil {
			s.logger.Error("background run failed", zap.String("run_id", p.RunID), zap.Error(err))
		}
	}()
	return nil
}

// execute runs p, turning a panic into a failed run so it cannot take the
// process down.
func (s *Server) execute(p runner.Params) (res runner.Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("panic in background run",
				zap.String("run_id", p.RunID),
				zap.Any("panic", rec),
				zap.Stack("stack"),
			)
			res, err = runner.Result{RunID: p.RunID}, fmt.Errorf("run panicked: %v", rec)
		}
	}()
	return s.runner.Run(s.baseCtx, p)
}
