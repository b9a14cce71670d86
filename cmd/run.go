package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newRunCmd creates the 'run' subcommand: one scrape cycle, then exit.
func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Executes a single scrape cycle and exits",
		Long: `Fetches every enabled source once, classifies and scores the results,
persists them, and prints the run summary. Useful from cron or for a manual
backfill; the serve command owns the steady-state schedule.`,
		RunE: runRunCommand,
	}
}

func runRunCommand(cmd *cobra.Command, _ []string) error {
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

	run, err := a.orchestrator.Run(cmd.Context())
	if err != nil {
		return fmt.Errorf("run scrape cycle: %w", err)
	}

	logger.Info("cycle complete",
		zap.String("run_id", run.RunID),
		zap.Int("sources_attempted", run.SourcesAttempted),
		zap.Int("sources_succeeded", run.SourcesSucceeded),
		zap.Int("jobs_ingested", run.JobsIngested),
		zap.Int("jobs_deduped", run.JobsDeduped),
		zap.Int("jobs_above_threshold", run.JobsScoredAboveThreshold))
	return nil
}
