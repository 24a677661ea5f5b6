package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/webgrove/fetchd/internal/api"
	"github.com/webgrove/fetchd/internal/app"
	"github.com/webgrove/fetchd/internal/dispatcher"
	"github.com/webgrove/fetchd/internal/engine"
	collyfetcher "github.com/webgrove/fetchd/internal/fetcher/colly"
	hashsha "github.com/webgrove/fetchd/internal/hash/sha256"
	"github.com/webgrove/fetchd/internal/monitor"
	"github.com/webgrove/fetchd/internal/retry"
)

// newRunCmd creates the 'run' subcommand, which starts the dispatch loop
// and the HTTP API and blocks until SIGINT/SIGTERM.
func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Starts the dispatch loop and HTTP API",
		Long: `Runs the continuous dispatcher: claims pending jobs from the queue,
executes them under the configured resource ceilings, and serves the
observability and job-submission API until the process is signaled.`,
		RunE: runRunCommand,
	}
}

func runRunCommand(cmd *cobra.Command, _ []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := a.GetConfig()
	logger := a.GetLogger()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Recover work abandoned by a previous crash before claiming anything.
	reclaimed, err := a.GetQueue().ReclaimStale(ctx, cfg.Dispatcher.StaleClaim())
	if err != nil {
		return fmt.Errorf("reclaim stale jobs: %w", err)
	}
	if reclaimed > 0 {
		logger.Info("reclaimed stale jobs", zap.Int64("count", reclaimed))
	}

	d, reporter, mon, err := buildDispatcher(a)
	if err != nil {
		return err
	}

	srv := api.NewServer(a.GetQueue(), d, mon, logger)
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.Int("port", cfg.Server.Port))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", zap.Error(err))
			stop()
		}
	}()
	go reporter.Run(ctx)
	go reclaimLoop(ctx, a, logger)

	logger.Info("dispatcher starting",
		zap.Float64("max_cpu_percent", cfg.Dispatcher.MaxCPUPercent),
		zap.Float64("max_memory_mb", cfg.Dispatcher.MaxMemoryMB),
		zap.Int("max_concurrent_jobs", cfg.Dispatcher.MaxConcurrentJobs),
	)
	d.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown failed", zap.Error(err))
	}
	logger.Info("dispatcher stopped")
	return nil
}

// buildDispatcher assembles the engine, governor, and loop. The monitor's
// active-job feed closes over the dispatcher variable, which is assigned
// before any Check can run.
func buildDispatcher(a *app.App) (*dispatcher.Dispatcher, *dispatcher.Reporter, *monitor.Monitor, error) {
	cfg := a.GetConfig()
	logger := a.GetLogger()

	var d *dispatcher.Dispatcher
	mon, err := newProcessMonitor(a, func() int { return d.ActiveJobs() })
	if err != nil {
		return nil, nil, nil, err
	}

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Fetcher.UserAgent,
		RespectRobots: !cfg.Fetcher.IgnoreRobots,
		Timeout:       time.Duration(cfg.Fetcher.TimeoutSeconds) * time.Second,
	})

	exec := engine.New(
		fetcher,
		a.GetQueue(),
		a.GetResultStore(),
		a.GetTargetIndex(),
		a.GetBlobStore(),
		hashsha.New(),
		a.GetClock(),
		engine.Config{
			BlobPrefix:  cfg.Storage.Prefix,
			ContentType: cfg.Storage.ContentType,
		},
		logger,
	)

	policy := retry.NewFixedDelayPolicy(cfg.Dispatcher.MaxRetries, cfg.Dispatcher.RequeueDelay())

	d = dispatcher.New(
		a.GetQueue(),
		a.GetTargetIndex(),
		mon,
		exec,
		policy,
		a.GetHub(),
		a.GetClock(),
		dispatcher.Config{
			MinDelay:     cfg.Dispatcher.MinDelay(),
			MaxDelay:     cfg.Dispatcher.MaxDelay(),
			DrainTimeout: cfg.Dispatcher.DrainTimeout(),
		},
		logger,
	)

	reporter := dispatcher.NewReporter(d, mon, a.GetHub(),
		cfg.Dispatcher.ReportInterval(), a.GetClock(), logger)
	return d, reporter, mon, nil
}

func newProcessMonitor(a *app.App, active func() int) (*monitor.Monitor, error) {
	cfg := a.GetConfig()
	sampler, err := monitor.NewProcessSampler()
	if err != nil {
		return nil, fmt.Errorf("init resource sampler: %w", err)
	}
	return monitor.New(monitor.Limits{
		MaxCPUPercent:     cfg.Dispatcher.MaxCPUPercent,
		MaxMemoryMB:       cfg.Dispatcher.MaxMemoryMB,
		MaxConcurrentJobs: cfg.Dispatcher.MaxConcurrentJobs,
	}, sampler, active, a.GetLogger()), nil
}

func reclaimLoop(ctx context.Context, a *app.App, logger *zap.Logger) {
	interval := a.GetConfig().Dispatcher.StaleClaim()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.GetQueue().ReclaimStale(ctx, interval)
			if err != nil {
				logger.Warn("stale reclaim failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info("reclaimed stale jobs", zap.Int64("count", n))
			}
		}
	}
}
