package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

// Defaults mirror the values the probe service has always shipped with.
const (
	DefaultBaseURL             = "https://api.example.com"
	DefaultTarget              = "/api/test-endpoint"
	DefaultLoops               = 10
	DefaultRequestsPerInterval = 5
	DefaultInterval            = time.Minute
	DefaultDelay               = time.Second
	DefaultRetryDelay          = time.Second
	DefaultMaxAttempts         = 5
	DefaultAttemptStep         = 2 * time.Second
	DefaultRunTimeout          = 5 * time.Minute
	DefaultRequestTimeout      = 30 * time.Second
	DefaultPageSize            = 50
	DefaultPageCap             = 250
	DefaultPageJitter          = 100
	DefaultListen              = ":3000"
	DefaultEnvFile             = ".env"
)

// Header names used to pass VTEX-style application credentials.
const (
	HeaderAppKey   = "X-VTEX-API-AppKey"
	HeaderAppToken = "X-VTEX-API-AppToken"
)

type OutputFormat string

const (
	OutputText OutputFormat = "text"
	OutputJSON OutputFormat = "json"
	OutputYAML OutputFormat = "yaml"
	OutputHTML OutputFormat = "html"
)

type Config struct {
	BaseURL     string            `mapstructure:"base_url"`
	Headers     map[string]string `mapstructure:"headers"`
	AppKey      string            `mapstructure:"app_key"`
	AppToken    string            `mapstructure:"app_token"`
	BearerToken string            `mapstructure:"bearer_token"`
	Target      string            `mapstructure:"target"`

	Loops               int           `mapstructure:"loops"`
	RequestsPerInterval int           `mapstructure:"requests_per_interval"`
	Interval            time.Duration `mapstructure:"interval"`
	Delay               time.Duration `mapstructure:"delay"`
	RetryDelay          time.Duration `mapstructure:"retry_delay"`
	MaxAttempts         int           `mapstructure:"max_attempts"`
	AttemptStep         time.Duration `mapstructure:"attempt_step"`
	RunTimeout          time.Duration `mapstructure:"run_timeout"`
	Timeout             time.Duration `mapstructure:"timeout"`
	MaxRPS              int           `mapstructure:"max_rps"`

	PageSize   int `mapstructure:"page_size"`
	PageCap    int `mapstructure:"page_cap"`
	PageJitter int `mapstructure:"page_jitter"`

	RecordsPath string        `mapstructure:"records_path"`
	Thresholds  []string      `mapstructure:"thresholds"`
	Listen      string        `mapstructure:"listen"`
	LogLevel    string        `mapstructure:"log_level"`
	LogFormat   string        `mapstructure:"log_format"`
	Output      OutputFormat  `mapstructure:"output"`
	Tracing     TracingConfig `mapstructure:"tracing"`
	ConfigFile  string        `mapstructure:"-"`
	EnvFile     string        `mapstructure:"-"`
}

// TracingConfig controls OpenTelemetry export of run and request spans.
type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"` // "grpc" (default) or "http"
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Insecure    bool    `mapstructure:"insecure"`
	Propagate   *bool   `mapstructure:"propagate"`
}

// Enabled reports whether spans should be exported.
func (t TracingConfig) Enabled() bool {
	if strings.TrimSpace(t.Endpoint) != "" {
		return true
	}
	return os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != ""
}

// ShouldPropagate reports whether W3C trace headers are injected into outbound requests.
func (t TracingConfig) ShouldPropagate() bool {
	if t.Propagate != nil {
		return *t.Propagate
	}
	return t.Enabled()
}

// Default returns a Config populated with built-in defaults.
func Default() *Config {
	return &Config{
		BaseURL:             DefaultBaseURL,
		Headers:             map[string]string{},
		Target:              DefaultTarget,
		Loops:               DefaultLoops,
		RequestsPerInterval: DefaultRequestsPerInterval,
		Interval:            DefaultInterval,
		Delay:               DefaultDelay,
		RetryDelay:          DefaultRetryDelay,
		MaxAttempts:         DefaultMaxAttempts,
		AttemptStep:         DefaultAttemptStep,
		RunTimeout:          DefaultRunTimeout,
		Timeout:             DefaultRequestTimeout,
		PageSize:            DefaultPageSize,
		PageCap:             DefaultPageCap,
		PageJitter:          DefaultPageJitter,
		Listen:              DefaultListen,
		LogLevel:            "info",
		LogFormat:           "json",
		Output:              OutputText,
		Tracing:             TracingConfig{SampleRate: 1.0},
	}
}

// RequestHeaders returns the static headers sent with every outbound request,
// credentials included.
func (c Config) RequestHeaders() map[string]string {
	headers := make(map[string]string, len(c.Headers)+3)
	for k, v := range c.Headers {
		headers[k] = v
	}
	if c.AppKey != "" {
		headers[HeaderAppKey] = c.AppKey
	}
	if c.AppToken != "" {
		headers[HeaderAppToken] = c.AppToken
	}
	if c.BearerToken != "" {
		headers["Authorization"] = "Bearer " + c.BearerToken
	}
	return headers
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

func (c Config) Validate() error {
	var issues []string

	base := strings.TrimSpace(c.BaseURL)
	if base == "" {
		issues = append(issues, "base_url is required")
	} else if u, err := url.Parse(base); err != nil || u.Scheme == "" || u.Host == "" {
		issues = append(issues, fmt.Sprintf("base_url %q must be an absolute URL", base))
	}
	if strings.TrimSpace(c.Target) == "" {
		issues = append(issues, "target is required")
	}

	if c.Loops < 1 {
		issues = append(issues, "loops must be >= 1")
	}
	if c.RequestsPerInterval < 1 {
		issues = append(issues, "requests_per_interval must be >= 1")
	}
	if c.Interval <= 0 {
		issues = append(issues, "interval must be > 0")
	}
	if c.RetryDelay < 0 {
		issues = append(issues, "retry_delay must be >= 0")
	}
	if c.MaxAttempts < 0 {
		issues = append(issues, "max_attempts must be >= 0")
	}
	if c.AttemptStep < 0 {
		issues = append(issues, "attempt_step must be >= 0")
	}
	if c.RunTimeout <= 0 {
		issues = append(issues, "run_timeout must be > 0")
	}
	if c.Timeout < 0 {
		issues = append(issues, "timeout must be >= 0")
	}
	if c.MaxRPS < 0 {
		issues = append(issues, "max_rps must be >= 0")
	}
	if c.PageSize < 1 {
		issues = append(issues, "page_size must be >= 1")
	}
	if c.PageCap < 1 {
		issues = append(issues, "page_cap must be >= 1")
	}
	if c.PageJitter < 1 {
		issues = append(issues, "page_jitter must be >= 1")
	}

	switch c.Output {
	case "", OutputText, OutputJSON, OutputYAML, OutputHTML:
	default:
		issues = append(issues, fmt.Sprintf("output %q is not supported (text, json, yaml, html)", c.Output))
	}

	for key, value := range c.Headers {
		if strings.TrimSpace(key) == "" || strings.ContainsAny(key, "\r\n") {
			issues = append(issues, fmt.Sprintf("invalid header key %q", key))
		}
		if strings.ContainsAny(value, "\r\n") {
			issues = append(issues, fmt.Sprintf("invalid header value for %s", key))
		}
	}

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		issues = append(issues, "tracing.sample_rate must be between 0.0 and 1.0")
	}
	switch strings.ToLower(c.Tracing.Protocol) {
	case "", "grpc", "http":
	default:
		issues = append(issues, fmt.Sprintf("tracing.protocol %q is not supported", c.Tracing.Protocol))
	}

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}
