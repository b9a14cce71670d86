package health

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler drives the periodic scrape cycle and the slower recovery probe
// for disabled sources.
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger
}

// NewScheduler builds a scheduler whose jobs skip rather than overlap: a run
// still in progress when the next tick fires means the tick is dropped.
func NewScheduler(logger *zap.Logger) *Scheduler {
	cronLogger := cron.PrintfLogger(zap.NewStdLog(logger))
	return &Scheduler{
		cron: cron.New(
			cron.WithChain(
				cron.SkipIfStillRunning(cronLogger),
				cron.Recover(cronLogger),
			),
		),
		logger: logger,
	}
}

// Start registers the run and probe jobs and starts the cron loop.
func (s *Scheduler) Start(runEvery, probeEvery time.Duration, run, probe func()) error {
	if runEvery <= 0 {
		return fmt.Errorf("run interval must be > 0, got %s", runEvery)
	}
	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", runEvery), run); err != nil {
		return fmt.Errorf("schedule run cycle: %w", err)
	}
	if probeEvery > 0 {
		if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", probeEvery), probe); err != nil {
			return fmt.Errorf("schedule recovery probe: %w", err)
		}
	}
	s.cron.Start()
	s.logger.Info("scheduler started",
		zap.Duration("run_every", runEvery),
		zap.Duration("probe_every", probeEvery))
	return nil
}

// Stop halts scheduling and returns a context that completes when running
// jobs have finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
