package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

func (s *Server) registerRoutes() {
	s.router.Get("/", s.handleRoot)
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/test-rate-limit", s.handleTestRateLimit)
	s.router.Get("/runs/{id}", s.handleGetRun)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "throttleprobe API is running!"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "OK",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// handleTestRateLimit starts a run and answers without waiting for it.
func (s *Server) handleTestRateLimit(w http.ResponseWriter, r *http.Request) {
	p := parseRunParams(r.URL.Query(), s.defaults)
	if issues := validateRunParams(p); len(issues) > 0 {
		writeError(w, r, http.StatusBadRequest, "INVALID_PARAMETERS", "invalid run parameters", issues...)
		return
	}
	p.RunID = ulid.Make().String()

	s.logger.Info("run triggered",
		zap.String("run_id", p.RunID),
		zap.String("request_id", GetRequestID(r.Context())),
		zap.Int("loops", p.Loops),
		zap.Int("requests_per_interval", p.BatchSize),
		zap.Duration("interval", p.Interval),
		zap.Duration("retry_delay", p.RetryDelay),
		zap.Int("max_attempts", p.MaxAttempts),
	)
	if err := s.launch(p); err != nil {
		if errors.Is(err, ErrRegistryFull) {
			writeError(w, r, http.StatusServiceUnavailable, "TOO_MANY_RUNS", "too many runs in progress, retry later")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Test rate limit endpoint",
		"runId":   p.RunID,
	})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, ok := s.runs.Get(id)
	if !ok {
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "run "+id+" not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
