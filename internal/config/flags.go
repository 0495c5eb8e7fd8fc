package config

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// RegisterFlags registers all configuration flags on a cobra command.
func RegisterFlags(cmd *cobra.Command) {
	configureFlags(cmd.Flags())
}

// newFlagCommand creates a bare cobra command carrying every flag, for Loader.Load.
func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "throttleprobe",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureFlags(cmd.Flags())
	return cmd
}

func configureFlags(flags *pflag.FlagSet) {
	// Upstream
	flags.String("base-url", "", "Base URL of the upstream API (env API_BASE_URL)")
	flags.String("target", "", "Path requested on every attempt (env TEST_RATE_LIMIT_URL)")
	flags.StringSlice("header", nil, "Additional request header in key=value form")
	flags.String("app-key", "", "Application key credential (env VTEX_APP_KEY)")
	flags.String("app-token", "", "Application token credential (env VTEX_APP_TOKEN)")
	flags.String("bearer-token", "", "Bearer token sent in the Authorization header")
	flags.Duration("timeout", DefaultRequestTimeout, "Per-request timeout")

	// Run shape
	flags.IntP("loops", "n", DefaultLoops, "Successful responses to collect per run")
	flags.IntP("requests-per-interval", "b", DefaultRequestsPerInterval, "Requests dispatched per batch")
	flags.DurationP("interval", "i", DefaultInterval, "Time between batch ticks")
	flags.Duration("delay", DefaultDelay, "Reserved; accepted for compatibility and not used for pacing")
	flags.Duration("retry-delay", DefaultRetryDelay, "Base backoff applied after a 429")
	flags.Int("max-attempts", DefaultMaxAttempts, "Retry ceiling for a throttled request")
	flags.Int("max-retries", DefaultMaxAttempts, "Alias for --max-attempts")
	flags.Duration("attempt-step", DefaultAttemptStep, "Backoff added per retry attempt")
	flags.Duration("run-timeout", DefaultRunTimeout, "Hard limit for a single run")
	flags.Int("max-rps", 0, "Client-side cap on outbound requests per second (0 means unlimited)")
	flags.Int("page-size", DefaultPageSize, "Page width used to shape _from/_to query parameters")
	flags.Int("page-cap", DefaultPageCap, "Upper bound for the _to query parameter")
	flags.Int("page-jitter", DefaultPageJitter, "Random spread applied below _to when computing _from")
	flags.String("records-path", "", "gjson path counted in every successful response body")
	flags.StringArray("threshold", nil, "Run assertion such as 'throttled:rate < 0.5' (repeatable)")

	// Process
	flags.String("listen", "", "Address for the trigger server (env PORT)")
	flags.String("log-level", "", "Log level: debug, info, warn, error")
	flags.String("log-format", "", "Log format: json or console")
	flags.StringP("output", "o", "", "Report format for run: text, json, yaml or html")
	flags.String("config", "", "Path to configuration file (JSON or YAML)")
	flags.String("env-file", "", "Path to a dotenv file (defaults to .env when present)")

	// Tracing
	flags.String("tracing-endpoint", "", "OTLP collector endpoint (enables tracing)")
	flags.String("tracing-protocol", "", "OTLP protocol: grpc or http")
	flags.Float64("tracing-sample-rate", 1.0, "Trace sampling ratio between 0.0 and 1.0")
	flags.Bool("tracing-insecure", false, "Disable TLS towards the OTLP collector")
}

func displayHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Usage: %s\n\nFlags:\n", cmd.UseLine())
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// applyFlagOverrides applies explicitly set flags on top of file and environment values.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	stringFlags := map[string]*string{
		"base-url":         &cfg.BaseURL,
		"target":           &cfg.Target,
		"app-key":          &cfg.AppKey,
		"app-token":        &cfg.AppToken,
		"bearer-token":     &cfg.BearerToken,
		"records-path":     &cfg.RecordsPath,
		"listen":           &cfg.Listen,
		"log-level":        &cfg.LogLevel,
		"log-format":       &cfg.LogFormat,
		"tracing-endpoint": &cfg.Tracing.Endpoint,
		"tracing-protocol": &cfg.Tracing.Protocol,
	}
	for name, dst := range stringFlags {
		if !fs.Changed(name) {
			continue
		}
		val, err := fs.GetString(name)
		if err != nil {
			return err
		}
		*dst = strings.TrimSpace(val)
	}

	intFlags := map[string]*int{
		"loops":                 &cfg.Loops,
		"requests-per-interval": &cfg.RequestsPerInterval,
		"max-attempts":          &cfg.MaxAttempts,
		"max-rps":               &cfg.MaxRPS,
		"page-size":             &cfg.PageSize,
		"page-cap":              &cfg.PageCap,
		"page-jitter":           &cfg.PageJitter,
	}
	for name, dst := range intFlags {
		if !fs.Changed(name) {
			continue
		}
		val, err := fs.GetInt(name)
		if err != nil {
			return err
		}
		*dst = val
	}

	durationFlags := map[string]*time.Duration{
		"timeout":      &cfg.Timeout,
		"interval":     &cfg.Interval,
		"delay":        &cfg.Delay,
		"retry-delay":  &cfg.RetryDelay,
		"attempt-step": &cfg.AttemptStep,
		"run-timeout":  &cfg.RunTimeout,
	}
	for name, dst := range durationFlags {
		if !fs.Changed(name) {
			continue
		}
		val, err := fs.GetDuration(name)
		if err != nil {
			return err
		}
		*dst = val
	}

	if fs.Changed("max-retries") && !fs.Changed("max-attempts") {
		val, err := fs.GetInt("max-retries")
		if err != nil {
			return err
		}
		cfg.MaxAttempts = val
	}

	if fs.Changed("output") {
		val, err := fs.GetString("output")
		if err != nil {
			return err
		}
		cfg.Output = OutputFormat(strings.ToLower(strings.TrimSpace(val)))
	}
	if fs.Changed("header") {
		values, err := fs.GetStringSlice("header")
		if err != nil {
			return err
		}
		for _, raw := range values {
			key, value, ok := strings.Cut(raw, "=")
			key = strings.TrimSpace(key)
			if !ok || key == "" {
				return fmt.Errorf("invalid header %q (want key=value)", raw)
			}
			cfg.Headers[http.CanonicalHeaderKey(key)] = strings.TrimSpace(value)
		}
	}
	if fs.Changed("threshold") {
		values, err := fs.GetStringArray("threshold")
		if err != nil {
			return err
		}
		cfg.Thresholds = values
	}
	if fs.Changed("tracing-sample-rate") {
		val, err := fs.GetFloat64("tracing-sample-rate")
		if err != nil {
			return err
		}
		cfg.Tracing.SampleRate = val
	}
	if fs.Changed("tracing-insecure") {
		val, err := fs.GetBool("tracing-insecure")
		if err != nil {
			return err
		}
		cfg.Tracing.Insecure = val
	}
	return nil
}
