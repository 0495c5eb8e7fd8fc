package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func TestServeItemsPaginates(t *testing.T) {
	h := newHandler(rate.NewLimiter(rate.Inf, 0), time.Second, 250, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/test-endpoint?_from=40&_to=50", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		From  int              `json:"from"`
		To    int              `json:"to"`
		Items []map[string]any `json:"items"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.From != 40 || body.To != 50 || len(body.Items) != 10 {
		t.Fatalf("page = %d..%d with %d items", body.From, body.To, len(body.Items))
	}
}

func TestServeItemsThrottles(t *testing.T) {
	h := newHandler(rate.NewLimiter(rate.Every(time.Hour), 1), 6*time.Second, 250, zap.NewNop())

	for i, want := range []int{http.StatusOK, http.StatusTooManyRequests} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?_from=0&_to=5", nil))
		if rec.Code != want {
			t.Fatalf("request %d status = %d, want %d", i, rec.Code, want)
		}
		if want == http.StatusTooManyRequests && rec.Header().Get("Retry-After") != "6" {
			t.Fatalf("Retry-After = %q, want 6", rec.Header().Get("Retry-After"))
		}
	}
}
