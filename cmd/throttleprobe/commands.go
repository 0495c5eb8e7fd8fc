package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/torosent/throttleprobe/internal/config"
	"github.com/torosent/throttleprobe/internal/extractor"
	"github.com/torosent/throttleprobe/internal/httpclient"
	"github.com/torosent/throttleprobe/internal/logging"
	"github.com/torosent/throttleprobe/internal/metrics"
	"github.com/torosent/throttleprobe/internal/output"
	"github.com/torosent/throttleprobe/internal/runner"
	"github.com/torosent/throttleprobe/internal/server"
	"github.com/torosent/throttleprobe/internal/threshold"
	"github.com/torosent/throttleprobe/internal/tracing"
)

const (
	progressInterval = time.Second
	shutdownTimeout  = 10 * time.Second
)

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "throttleprobe",
		Short:         "Probe an HTTP endpoint's rate limiting with batched load and 429 backoff",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.AddCommand(newServeCommand(), newRunCommand())
	return root
}

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP trigger server",
		Long: `Start the HTTP trigger server.

GET /test-rate-limit starts a run in the background and returns its run ID.
GET /runs/{id} reports on it. SIGINT or SIGTERM shuts the server down and
cancels runs still in flight.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := setup(cmd)
			if err != nil {
				return err
			}
			defer app.close()

			srv := server.New(server.Options{
				Runner:   app.driver,
				Defaults: server.DefaultsFromConfig(app.cfg),
				Logger:   app.logger.Named("server"),
			})

			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe(app.cfg.Listen) }()

			select {
			case err := <-errCh:
				return err
			case <-cmd.Context().Done():
			}

			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				return fmt.Errorf("shutdown: %w", err)
			}
			return <-errCh
		},
	}
	config.RegisterFlags(cmd)
	return cmd
}

func newRunCommand() *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one probe run and print a report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := setup(cmd)
			if err != nil {
				return err
			}
			defer app.close()

			thresholds, err := threshold.ParseMultiple(app.cfg.Thresholds)
			if err != nil {
				return err
			}

			stdout := cmd.OutOrStdout()
			collector := metrics.NewCollector()
			if !quiet && app.cfg.Output == config.OutputText {
				progress := output.NewProgressReporter(collector, progressInterval, cmd.ErrOrStderr())
				progress.Start()
				defer progress.Stop()
			}

			res, runErr := app.driver.Run(cmd.Context(), runner.Params{
				Path:        app.cfg.Target,
				Loops:       app.cfg.Loops,
				BatchSize:   app.cfg.RequestsPerInterval,
				Interval:    app.cfg.Interval,
				RetryDelay:  app.cfg.RetryDelay,
				MaxAttempts: app.cfg.MaxAttempts,
				Delay:       app.cfg.Delay,
				Collector:   collector,
			})
			report := output.NewReport(res, runErr)
			var results []threshold.Result
			if runErr == nil {
				results = threshold.NewEvaluator(thresholds).Evaluate(threshold.Run{Stats: res.Stats, Windows: res.Windows})
				report.Thresholds = output.NewThresholdSummary(results)
			}
			if err := output.Write(stdout, app.cfg.Output, report); err != nil {
				return err
			}
			if runErr != nil {
				return runErr
			}
			if res.TimedOut {
				return fmt.Errorf("run timed out with %d of %d responses", len(res.Responses), app.cfg.Loops)
			}
			if !threshold.AllPassed(results) {
				return fmt.Errorf("%d of %d thresholds failed", report.Thresholds.Failed, report.Thresholds.Total)
			}
			return nil
		},
	}
	config.RegisterFlags(cmd)
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Disable the progress line")
	return cmd
}

// app bundles what both commands build from configuration.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	tracing *tracing.Provider
	driver  *runner.Driver
}

func setup(cmd *cobra.Command) (*app, error) {
	cfg, err := config.NewLoader().FromFlags(cmd.Flags())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}

	tp, err := tracing.Init(cmd.Context(), cfg.Tracing, tracing.Target{BaseURL: cfg.BaseURL, Path: cfg.Target})
	if err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("tracing: %w", err)
	}

	client, err := httpclient.New(httpclient.Options{
		BaseURL:   cfg.BaseURL,
		Headers:   cfg.RequestHeaders(),
		Timeout:   cfg.Timeout,
		Propagate: tp.ShouldPropagate(),
	})
	if err != nil {
		_ = tp.Shutdown(context.Background())
		_ = logger.Sync()
		return nil, err
	}

	var records *extractor.Counter
	if cfg.RecordsPath != "" {
		records = extractor.NewCounter(cfg.RecordsPath, logger)
	}

	driver := runner.New(runner.Options{
		Client:      client,
		Logger:      logger,
		Tracer:      tp.Tracer(),
		MaxAttempts: cfg.MaxAttempts,
		AttemptStep: cfg.AttemptStep,
		RunTimeout:  cfg.RunTimeout,
		MaxRPS:      cfg.MaxRPS,
		PageSize:    cfg.PageSize,
		PageCap:     cfg.PageCap,
		PageJitter:  cfg.PageJitter,
		Records:     records,
	})

	logger.Debug("configuration loaded",
		zap.String("base_url", cfg.BaseURL),
		zap.String("target", cfg.Target),
		zap.String("config_file", cfg.ConfigFile),
		zap.Bool("tracing", cfg.Tracing.Enabled()),
	)
	return &app{cfg: cfg, logger: logger, tracing: tp, driver: driver}, nil
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.tracing.Shutdown(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		a.logger.Warn("tracing shutdown failed", zap.Error(err))
	}
	_ = a.logger.Sync()
}
