package config

import (
	"math"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestAsString(t *testing.T) {
	tests := []struct {
		input interface{}
		want  string
	}{
		{"hello", "hello"},
		{123, "123"},
		{true, "true"},
		{nil, ""},
		{[]byte("bytes"), "bytes"},
	}

	for _, tt := range tests {
		got, err := asString(tt.input)
		if err != nil {
			t.Errorf("asString(%v) error = %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("asString(%v) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestAsInt(t *testing.T) {
	tests := []struct {
		input interface{}
		want  int
	}{
		{123, 123},
		{"456", 456},
		{int64(789), 789},
		{float64(10.0), 10},
		{nil, 0},
	}

	for _, tt := range tests {
		got, err := asInt(tt.input)
		if err != nil {
			t.Errorf("asInt(%v) error = %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("asInt(%v) = %d, want %d", tt.input, got, tt.want)
		}
	}
}

func TestAsMillis(t *testing.T) {
	tests := []struct {
		input interface{}
		want  time.Duration
	}{
		{"1500", 1500 * time.Millisecond},
		{250, 250 * time.Millisecond},
		{float64(60000), time.Minute},
		{"2s", 2 * time.Second},
		{nil, 0},
	}

	for _, tt := range tests {
		got, err := asMillis(tt.input)
		if err != nil {
			t.Errorf("asMillis(%v) error = %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("asMillis(%v) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestIntOrFallsBackLikeNumberOr(t *testing.T) {
	tests := []struct {
		raw  string
		want int
	}{
		{"", 10},
		{"abc", 10},
		{"0", 10},
		{"7", 7},
		{" 12 ", 12},
		{"1e2", 100},
		{"-3", -3},
		{"1e30", math.MaxInt},
		{"-1e30", math.MinInt},
	}

	for _, tt := range tests {
		if got := IntOr(tt.raw, 10); got != tt.want {
			t.Errorf("IntOr(%q) = %d, want %d", tt.raw, got, tt.want)
		}
	}
}

func TestMillisOr(t *testing.T) {
	if got := MillisOr("", time.Minute); got != time.Minute {
		t.Fatalf("MillisOr(empty) = %v, want 1m", got)
	}
	if got := MillisOr("0", time.Minute); got != time.Minute {
		t.Fatalf("MillisOr(0) = %v, want 1m", got)
	}
	if got := MillisOr("1500", time.Minute); got != 1500*time.Millisecond {
		t.Fatalf("MillisOr(1500) = %v, want 1.5s", got)
	}
}

func TestApplyConfigSettings(t *testing.T) {
	cfg := Default()
	settings := map[string]interface{}{
		"base_url":              "http://upstream.local",
		"target":                "/orders",
		"loops":                 20,
		"requests_per_interval": 4,
		"interval_ms":           1500,
		"retry_delay":           "3s",
		"timeout":               "5s",
		"headers": map[string]interface{}{
			"content-type": "application/json",
		},
		"thresholds": []interface{}{"throttled:rate < 0.5", " windows:count <= 2 "},
		"tracing": map[string]interface{}{
			"endpoint":    "localhost:4317",
			"sample_rate": 0.5,
			"propagate":   false,
		},
	}

	if err := applyConfigSettings(cfg, settings); err != nil {
		t.Fatalf("applyConfigSettings() error = %v", err)
	}

	if cfg.BaseURL != "http://upstream.local" {
		t.Errorf("BaseURL = %q, want http://upstream.local", cfg.BaseURL)
	}
	if cfg.Target != "/orders" {
		t.Errorf("Target = %q, want /orders", cfg.Target)
	}
	if cfg.Loops != 20 || cfg.RequestsPerInterval != 4 {
		t.Errorf("Loops/RequestsPerInterval = %d/%d, want 20/4", cfg.Loops, cfg.RequestsPerInterval)
	}
	if cfg.Interval != 1500*time.Millisecond {
		t.Errorf("Interval = %v, want 1.5s", cfg.Interval)
	}
	if cfg.RetryDelay != 3*time.Second {
		t.Errorf("RetryDelay = %v, want 3s", cfg.RetryDelay)
	}
	if cfg.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", cfg.Timeout)
	}
	if cfg.Headers["Content-Type"] != "application/json" {
		t.Errorf("Headers[Content-Type] = %q, want application/json", cfg.Headers["Content-Type"])
	}
	if len(cfg.Thresholds) != 2 || cfg.Thresholds[1] != "windows:count <= 2" {
		t.Errorf("Thresholds = %q", cfg.Thresholds)
	}
	if cfg.Tracing.Endpoint != "localhost:4317" || cfg.Tracing.SampleRate != 0.5 {
		t.Errorf("Tracing = %+v", cfg.Tracing)
	}
	if cfg.Tracing.ShouldPropagate() {
		t.Errorf("ShouldPropagate() = true, want false when propagate is off")
	}
}

func TestApplyFlagOverrides(t *testing.T) {
	cfg := Default()

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	configureFlags(fs)

	args := []string{
		"--loops=5",
		"--retry-delay=250ms",
		"--header=X-Test=123",
		"--output=JSON",
		"--threshold=throttled:count < 3, windows:count == 0",
		"--threshold=dropped:count == 0",
	}
	if err := fs.Parse(args); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if err := applyFlagOverrides(cfg, fs); err != nil {
		t.Fatalf("applyFlagOverrides() error = %v", err)
	}

	if cfg.Loops != 5 {
		t.Errorf("Loops = %d, want 5", cfg.Loops)
	}
	if cfg.RetryDelay != 250*time.Millisecond {
		t.Errorf("RetryDelay = %v, want 250ms", cfg.RetryDelay)
	}
	if cfg.Headers["X-Test"] != "123" {
		t.Errorf("Headers[X-Test] = %q, want 123", cfg.Headers["X-Test"])
	}
	if cfg.Output != OutputJSON {
		t.Errorf("Output = %q, want json", cfg.Output)
	}
	if len(cfg.Thresholds) != 2 || cfg.Thresholds[0] != "throttled:count < 3, windows:count == 0" {
		t.Errorf("Thresholds = %q, want commas kept inside one value", cfg.Thresholds)
	}
	if cfg.RequestsPerInterval != DefaultRequestsPerInterval {
		t.Errorf("RequestsPerInterval = %d, want default", cfg.RequestsPerInterval)
	}
}

func TestApplyFlagOverridesRejectsMalformedHeader(t *testing.T) {
	cfg := Default()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	configureFlags(fs)
	if err := fs.Parse([]string{"--header=novalue"}); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if err := applyFlagOverrides(cfg, fs); err == nil {
		t.Fatal("expected error for header without '='")
	}
}

func TestMaxRetriesAliasesMaxAttempts(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want int
	}{
		{"alias only", []string{"--max-retries=2"}, 2},
		{"explicit attempts win", []string{"--max-retries=2", "--max-attempts=7"}, 7},
		{"neither", nil, DefaultMaxAttempts},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
			configureFlags(fs)
			if err := fs.Parse(tt.args); err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if err := applyFlagOverrides(cfg, fs); err != nil {
				t.Fatalf("applyFlagOverrides() error = %v", err)
			}
			if cfg.MaxAttempts != tt.want {
				t.Errorf("MaxAttempts = %d, want %d", cfg.MaxAttempts, tt.want)
			}
		})
	}

	cfg := Default()
	if err := applyConfigSettings(cfg, map[string]interface{}{"max_retries": 4}); err != nil {
		t.Fatalf("applyConfigSettings() error = %v", err)
	}
	if cfg.MaxAttempts != 4 {
		t.Errorf("MaxAttempts from max_retries = %d, want 4", cfg.MaxAttempts)
	}
}
