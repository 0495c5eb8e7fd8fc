// Command ratelimited is a local upstream for manual probe runs. It serves
// paginated JSON and answers 429 once its token bucket is empty.
package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func main() {
	port := pflag.Int("port", 8080, "Listening port")
	rps := pflag.Float64("rps", 2, "Sustained requests per second before answering 429")
	burst := pflag.Int("burst", 5, "Token bucket size")
	retryAfter := pflag.Duration("retry-after", 6*time.Second, "Retry-After advertised on 429")
	items := pflag.Int("items", 250, "Total items in the paginated collection")
	pflag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	h := newHandler(rate.NewLimiter(rate.Limit(*rps), *burst), *retryAfter, *items, logger)
	addr := fmt.Sprintf(":%d", *port)
	logger.Info("rate limited upstream listening",
		zap.String("addr", addr),
		zap.Float64("rps", *rps),
		zap.Int("burst", *burst),
	)
	if err := http.ListenAndServe(addr, h); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

type handler struct {
	limiter    *rate.Limiter
	retryAfter time.Duration
	items      int
	logger     *zap.Logger
}

func newHandler(limiter *rate.Limiter, retryAfter time.Duration, items int, logger *zap.Logger) http.Handler {
	mux := http.NewServeMux()
	h := &handler{limiter: limiter, retryAfter: retryAfter, items: items, logger: logger}
	mux.HandleFunc("/", h.serveItems)
	return mux
}

func (h *handler) serveItems(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	if !h.limiter.Allow() {
		w.Header().Set("Retry-After", strconv.Itoa(int(h.retryAfter.Seconds())))
		respondJSON(w, http.StatusTooManyRequests, map[string]any{"error": "too many requests"})
		h.logger.Debug("throttled", zap.String("query", r.URL.RawQuery))
		return
	}

	from, _ := strconv.Atoi(r.URL.Query().Get("_from"))
	to, err := strconv.Atoi(r.URL.Query().Get("_to"))
	if err != nil || to > h.items {
		to = h.items
	}
	if from < 0 {
		from = 0
	}
	if from > to {
		from = to
	}

	page := make([]map[string]any, 0, to-from)
	for id := from; id < to; id++ {
		page = append(page, map[string]any{"id": id + 1, "name": fmt.Sprintf("item-%d", id+1)})
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"path":  r.URL.Path,
		"from":  from,
		"to":    to,
		"items": page,
	})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
