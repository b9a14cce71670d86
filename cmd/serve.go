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

	"github.com/hiresignal/jobscout/internal/health"
)

// newServeCmd creates the 'serve' subcommand: the long-running service.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the scheduler and HTTP API until interrupted",
		Long: `Starts the periodic scrape schedule, the recovery probe for disabled
sources, and the HTTP status/query surface. Shuts down cleanly on SIGINT or
SIGTERM, letting an in-flight cycle finish.`,
		RunE: runServeCommand,
	}
}

func runServeCommand(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scheduler := health.NewScheduler(logger.Named("scheduler"))
	runEvery := time.Duration(cfg.Scrape.IntervalHours) * time.Hour
	probeEvery := time.Duration(cfg.Health.SmokeIntervalHours) * time.Hour
	err = scheduler.Start(runEvery, probeEvery,
		func() {
			if _, err := a.orchestrator.Run(ctx); err != nil {
				logger.Error("scheduled cycle failed", zap.Error(err))
			}
		},
		func() {
			a.monitor.Probe(ctx, a.orchestrator.Adapters())
		})
	if err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           a.api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	// First cycle fires immediately; the cron schedule covers the rest.
	go func() {
		if _, err := a.orchestrator.Run(ctx); err != nil {
			logger.Error("initial cycle failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	select {
	case <-scheduler.Stop().Done():
	case <-shutdownCtx.Done():
		logger.Warn("scheduler jobs still running at shutdown deadline")
	}
	logger.Info("shutdown complete")
	return nil
}
