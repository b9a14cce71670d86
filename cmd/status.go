package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hiresignal/jobscout/internal/pipeline"
	"github.com/hiresignal/jobscout/internal/store"
)

// newStatusCmd creates the 'status' subcommand: a read-only snapshot of the
// store for operators without a running serve instance.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Prints the latest run and per-source health as JSON",
		RunE:  runStatusCommand,
	}
}

type statusReport struct {
	Postings  int                     `json:"postings"`
	LatestRun *pipeline.RunRecord     `json:"latest_run"`
	Sources   []pipeline.SourceHealth `json:"sources"`
}

func runStatusCommand(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	st, err := store.Open(cfg.Store.Path, cfg.Store.ReadConns, logger.Named("store"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	report := statusReport{}
	if report.Postings, err = st.CountPostings(ctx); err != nil {
		return fmt.Errorf("count postings: %w", err)
	}
	if report.LatestRun, err = st.LatestRun(ctx); err != nil {
		return fmt.Errorf("load latest run: %w", err)
	}
	if report.Sources, err = st.ListSourceHealth(ctx); err != nil {
		return fmt.Errorf("list source health: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
