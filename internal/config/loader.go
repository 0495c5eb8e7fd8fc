package config

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Environment variables understood by the loader.
const (
	EnvBaseURL             = "API_BASE_URL"
	EnvAppKey              = "VTEX_APP_KEY"
	EnvAppToken            = "VTEX_APP_TOKEN"
	EnvTarget              = "TEST_RATE_LIMIT_URL"
	EnvLoops               = "TEST_RATE_LIMIT_LOOPS"
	EnvRequestsPerInterval = "TEST_RATE_LIMIT_REQUESTS_PER_INTERVAL"
	EnvInterval            = "TEST_RATE_LIMIT_INTERVAL"
	EnvPort                = "PORT"
	EnvLogLevel            = "LOG_LEVEL"
	EnvLogFormat           = "LOG_FORMAT"
)

// Loader handles loading configuration from files, the environment and command-line arguments.
type Loader struct{}

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses command-line arguments and resolves a Config from them.
func (l *Loader) Load(args []string) (*Config, error) {
	cmd := newFlagCommand()
	if err := cmd.Flags().Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
		return nil, err
	}
	return l.FromFlags(cmd.Flags())
}

// FromFlags resolves a Config from an already parsed flag set. Layers apply in
// order: defaults, config file, environment (.env file below process env), flags.
func (l *Loader) FromFlags(fs *pflag.FlagSet) (*Config, error) {
	cfg := Default()

	configPath := flagString(fs, "config")
	if configPath != "" {
		fileViper := viper.New()
		fileViper.SetConfigFile(configPath)
		if err := fileViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
		if err := applyConfigSettings(cfg, fileViper.AllSettings()); err != nil {
			return nil, err
		}
		cfg.ConfigFile = configPath
	}

	envPath := flagString(fs, "env-file")
	env, err := loadEnvironment(envPath)
	if err != nil {
		return nil, err
	}
	applyEnvironment(cfg, env)
	if envPath != "" {
		cfg.EnvFile = envPath
	}

	if cfg.Headers == nil {
		cfg.Headers = map[string]string{}
	}
	if err := applyFlagOverrides(cfg, fs); err != nil {
		return nil, err
	}

	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	cfg.Target = strings.TrimSpace(cfg.Target)
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(cfg.LogFormat))
	if cfg.Output == "" {
		cfg.Output = OutputText
	}
	return cfg, nil
}

func flagString(fs *pflag.FlagSet, name string) string {
	if fs == nil {
		return ""
	}
	flag := fs.Lookup(name)
	if flag == nil {
		return ""
	}
	return strings.TrimSpace(flag.Value.String())
}

// loadEnvironment returns a viper instance reading process env first and an
// optional dotenv file second. A missing default .env is not an error.
func loadEnvironment(path string) (*viper.Viper, error) {
	v := viper.New()
	v.AutomaticEnv()

	explicit := path != ""
	if !explicit {
		path = DefaultEnvFile
	}
	info, err := os.Stat(path)
	switch {
	case err == nil && !info.IsDir():
		v.SetConfigFile(path)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("env file %s: %w", path, err)
		}
	case explicit && err != nil:
		return nil, fmt.Errorf("env file: %w", err)
	case explicit:
		return nil, fmt.Errorf("env file %q is a directory", path)
	}
	return v, nil
}

func applyEnvironment(cfg *Config, env *viper.Viper) {
	get := func(key string) string {
		return strings.TrimSpace(env.GetString(key))
	}

	if val := get(EnvBaseURL); val != "" {
		cfg.BaseURL = val
	}
	if val := get(EnvAppKey); val != "" {
		cfg.AppKey = val
	}
	if val := get(EnvAppToken); val != "" {
		cfg.AppToken = val
	}
	if val := get(EnvTarget); val != "" {
		cfg.Target = val
	}
	cfg.Loops = IntOr(get(EnvLoops), cfg.Loops)
	cfg.RequestsPerInterval = IntOr(get(EnvRequestsPerInterval), cfg.RequestsPerInterval)
	cfg.Interval = MillisOr(get(EnvInterval), cfg.Interval)
	if port := IntOr(get(EnvPort), 0); port > 0 {
		cfg.Listen = ":" + strconv.Itoa(port)
	}
	if val := get(EnvLogLevel); val != "" {
		cfg.LogLevel = val
	}
	if val := get(EnvLogFormat); val != "" {
		cfg.LogFormat = val
	}
}

// IntOr parses raw as a number and falls back when it is missing, unparsable or zero.
// Values beyond the int range saturate so range checks still reject them.
func IntOr(raw string, fallback int) int {
	f, ok := parseNumber(raw)
	if !ok {
		return fallback
	}
	switch {
	case f >= math.MaxInt:
		return math.MaxInt
	case f <= math.MinInt:
		return math.MinInt
	}
	if int(f) == 0 {
		return fallback
	}
	return int(f)
}

// MillisOr parses raw as a millisecond count with the same fallback rules as IntOr.
func MillisOr(raw string, fallback time.Duration) time.Duration {
	f, ok := parseNumber(raw)
	if !ok {
		return fallback
	}
	return time.Duration(f * float64(time.Millisecond))
}

func parseNumber(raw string) (float64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f == 0 || f != f {
		return 0, false
	}
	return f, true
}

// applyConfigSettings applies settings from a config file to the Config struct.
func applyConfigSettings(cfg *Config, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return nil
	}

	stringSettings := []struct {
		keys []string
		dst  *string
	}{
		{[]string{"base_url", "baseurl", "base-url"}, &cfg.BaseURL},
		{[]string{"target"}, &cfg.Target},
		{[]string{"app_key", "appkey", "app-key"}, &cfg.AppKey},
		{[]string{"app_token", "apptoken", "app-token"}, &cfg.AppToken},
		{[]string{"bearer_token", "bearertoken", "bearer-token"}, &cfg.BearerToken},
		{[]string{"records_path", "recordspath", "records-path"}, &cfg.RecordsPath},
		{[]string{"listen"}, &cfg.Listen},
		{[]string{"log_level", "loglevel", "log-level"}, &cfg.LogLevel},
		{[]string{"log_format", "logformat", "log-format"}, &cfg.LogFormat},
	}
	for _, s := range stringSettings {
		raw, ok := lookupSetting(settings, s.keys...)
		if !ok {
			continue
		}
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", s.keys[0], err)
		}
		*s.dst = strings.TrimSpace(val)
	}

	intSettings := []struct {
		keys []string
		dst  *int
	}{
		{[]string{"loops"}, &cfg.Loops},
		{[]string{"requests_per_interval", "requestsperinterval", "requests-per-interval"}, &cfg.RequestsPerInterval},
		{[]string{"max_attempts", "maxattempts", "max-attempts", "max_retries", "maxretries", "max-retries"}, &cfg.MaxAttempts},
		{[]string{"max_rps", "maxrps", "max-rps"}, &cfg.MaxRPS},
		{[]string{"page_size", "pagesize", "page-size"}, &cfg.PageSize},
		{[]string{"page_cap", "pagecap", "page-cap"}, &cfg.PageCap},
		{[]string{"page_jitter", "pagejitter", "page-jitter"}, &cfg.PageJitter},
	}
	for _, s := range intSettings {
		raw, ok := lookupSetting(settings, s.keys...)
		if !ok {
			continue
		}
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", s.keys[0], err)
		}
		*s.dst = val
	}

	durationSettings := []struct {
		keys []string
		dst  *time.Duration
	}{
		{[]string{"interval"}, &cfg.Interval},
		{[]string{"delay"}, &cfg.Delay},
		{[]string{"retry_delay", "retrydelay", "retry-delay"}, &cfg.RetryDelay},
		{[]string{"attempt_step", "attemptstep", "attempt-step"}, &cfg.AttemptStep},
		{[]string{"run_timeout", "runtimeout", "run-timeout"}, &cfg.RunTimeout},
		{[]string{"timeout"}, &cfg.Timeout},
	}
	for _, s := range durationSettings {
		raw, ok := lookupSetting(settings, s.keys...)
		if !ok {
			continue
		}
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", s.keys[0], err)
		}
		*s.dst = dur
	}

	// Millisecond spellings, matching the *_INTERVAL environment variables.
	millisSettings := []struct {
		keys []string
		dst  *time.Duration
	}{
		{[]string{"interval_ms", "intervalms", "interval-ms"}, &cfg.Interval},
		{[]string{"delay_ms", "delayms", "delay-ms"}, &cfg.Delay},
		{[]string{"retry_delay_ms", "retrydelayms", "retry-delay-ms"}, &cfg.RetryDelay},
	}
	for _, s := range millisSettings {
		raw, ok := lookupSetting(settings, s.keys...)
		if !ok {
			continue
		}
		dur, err := asMillis(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", s.keys[0], err)
		}
		*s.dst = dur
	}

	if raw, ok := lookupSetting(settings, "headers"); ok {
		hdrs, err := asStringMap(raw)
		if err != nil {
			return fmt.Errorf("headers: %w", err)
		}
		if cfg.Headers == nil {
			cfg.Headers = map[string]string{}
		}
		for k, v := range hdrs {
			cfg.Headers[http.CanonicalHeaderKey(k)] = v
		}
	}

	if raw, ok := lookupSetting(settings, "thresholds"); ok {
		thresholds, err := asStringSlice(raw)
		if err != nil {
			return fmt.Errorf("thresholds: %w", err)
		}
		cfg.Thresholds = thresholds
	}

	if raw, ok := lookupSetting(settings, "output"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("output: %w", err)
		}
		cfg.Output = OutputFormat(strings.ToLower(strings.TrimSpace(val)))
	}

	if raw, ok := lookupSetting(settings, "tracing"); ok {
		tracing, err := parseTracing(raw, cfg.Tracing)
		if err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
		cfg.Tracing = tracing
	}

	return nil
}

func parseTracing(value interface{}, base TracingConfig) (TracingConfig, error) {
	if value == nil {
		return base, nil
	}
	settings, err := toStringKeyMap(value)
	if err != nil {
		return TracingConfig{}, err
	}
	tc := base
	if raw, ok := lookupSetting(settings, "endpoint"); ok {
		val, err := asString(raw)
		if err != nil {
			return TracingConfig{}, fmt.Errorf("endpoint: %w", err)
		}
		tc.Endpoint = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "protocol"); ok {
		val, err := asString(raw)
		if err != nil {
			return TracingConfig{}, fmt.Errorf("protocol: %w", err)
		}
		tc.Protocol = strings.ToLower(strings.TrimSpace(val))
	}
	if raw, ok := lookupSetting(settings, "service_name", "servicename", "service-name"); ok {
		val, err := asString(raw)
		if err != nil {
			return TracingConfig{}, fmt.Errorf("service_name: %w", err)
		}
		tc.ServiceName = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "sample_rate", "samplerate", "sample-rate"); ok {
		val, err := asFloat64(raw)
		if err != nil {
			return TracingConfig{}, fmt.Errorf("sample_rate: %w", err)
		}
		tc.SampleRate = val
	}
	if raw, ok := lookupSetting(settings, "insecure"); ok {
		val, err := asBool(raw)
		if err != nil {
			return TracingConfig{}, fmt.Errorf("insecure: %w", err)
		}
		tc.Insecure = val
	}
	if raw, ok := lookupSetting(settings, "propagate"); ok {
		val, err := asBool(raw)
		if err != nil {
			return TracingConfig{}, fmt.Errorf("propagate: %w", err)
		}
		tc.Propagate = &val
	}
	return tc, nil
}
