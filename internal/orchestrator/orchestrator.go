// Package orchestrator runs one scrape cycle: it fans enabled adapters out
// over a bounded worker pool and streams every emitted posting through
// dedup, scoring, and the batch writer.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hiresignal/jobscout/internal/dedup"
	"github.com/hiresignal/jobscout/internal/metrics"
	"github.com/hiresignal/jobscout/internal/pipeline"
	"github.com/hiresignal/jobscout/internal/snapshot"
)

// Classifier is the dedup stage seen by the orchestrator.
type Classifier interface {
	Classify(ctx context.Context, raw pipeline.RawPosting) (dedup.Result, error)
}

// Scorer is the scoring stage seen by the orchestrator.
type Scorer interface {
	Score(p pipeline.Posting, now time.Time) (float64, map[string]float64)
	Threshold() float64
}

// Config bundles the orchestrator's knobs.
type Config struct {
	Concurrency    int
	AdapterTimeout time.Duration
	RunTimeout     time.Duration
	BaseSpec       pipeline.SearchSpec
	// BoardSlugs parameterizes multi-tenant adapters by source name.
	BoardSlugs map[string][]string
}

// Orchestrator coordinates one run at a time over a fixed adapter set.
type Orchestrator struct {
	adapters   []pipeline.Adapter
	classifier Classifier
	scorer     Scorer
	writer     pipeline.PostingWriter
	runs       pipeline.RunStore
	monitor    pipeline.HealthMonitor
	snapshots  *snapshot.Sink
	clock      pipeline.Clock
	ids        pipeline.IDGenerator
	cfg        Config
	logger     *zap.Logger
}

// New wires the orchestrator. snapshots may be nil to skip drift captures.
func New(
	adapters []pipeline.Adapter,
	classifier Classifier,
	scorer Scorer,
	writer pipeline.PostingWriter,
	runs pipeline.RunStore,
	monitor pipeline.HealthMonitor,
	snapshots *snapshot.Sink,
	clock pipeline.Clock,
	ids pipeline.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.AdapterTimeout <= 0 {
		cfg.AdapterTimeout = 2 * time.Minute
	}
	return &Orchestrator{
		adapters:   adapters,
		classifier: classifier,
		scorer:     scorer,
		writer:     writer,
		runs:       runs,
		monitor:    monitor,
		snapshots:  snapshots,
		clock:      clock,
		ids:        ids,
		cfg:        cfg,
		logger:     logger,
	}
}

// Adapters returns the full adapter set, disabled sources included. The
// recovery probe needs them all.
func (o *Orchestrator) Adapters() []pipeline.Adapter {
	return o.adapters
}

// bookkeepTimeout bounds run-record finalization and health writes. These
// must land even after the run deadline has expired, so they run on a context
// detached from the run's cancellation.
const bookkeepTimeout = 10 * time.Second

func bookkeepCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), bookkeepTimeout)
}

type sourceStats struct {
	ingested       int
	deduped        int
	aboveThreshold int
}

type sourceResult struct {
	source string
	stats  sourceStats
	err    error
}

// Run executes one full scrape cycle and returns its record. A failing
// source never aborts the cycle; it is recorded against that source's health
// and the rest proceed.
func (o *Orchestrator) Run(ctx context.Context) (*pipeline.RunRecord, error) {
	runID, err := o.ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("mint run id: %w", err)
	}

	if o.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.RunTimeout)
		defer cancel()
	}

	candidates := make([]string, 0, len(o.adapters))
	byName := make(map[string]pipeline.Adapter, len(o.adapters))
	for _, a := range o.adapters {
		candidates = append(candidates, a.Name())
		byName[a.Name()] = a
	}
	enabled, err := o.monitor.EnabledSources(ctx, candidates)
	if err != nil {
		return nil, fmt.Errorf("resolve enabled sources: %w", err)
	}

	run := pipeline.RunRecord{
		RunID:            runID,
		StartedAt:        o.clock.Now(),
		SourcesAttempted: len(enabled),
	}
	if err := o.runs.InsertRun(ctx, run); err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	o.logger.Info("run started",
		zap.String("run_id", runID),
		zap.Strings("sources", enabled))

	results := o.fanOut(ctx, enabled, byName)

	for res := range results {
		run.JobsIngested += res.stats.ingested
		run.JobsDeduped += res.stats.deduped
		run.JobsScoredAboveThreshold += res.stats.aboveThreshold
		if res.err != nil {
			o.handleSourceFailure(ctx, res)
			continue
		}
		run.SourcesSucceeded++
		bctx, cancel := bookkeepCtx(ctx)
		if err := o.monitor.RecordSuccess(bctx, res.source); err != nil {
			o.logger.Error("record source success", zap.String("source", res.source), zap.Error(err))
		}
		cancel()
	}

	finished := o.clock.Now()
	run.FinishedAt = &finished
	fctx, cancel := bookkeepCtx(ctx)
	defer cancel()
	if err := o.runs.FinalizeRun(fctx, run); err != nil {
		o.logger.Error("finalize run", zap.String("run_id", runID), zap.Error(err))
	}
	o.logger.Info("run finished",
		zap.String("run_id", runID),
		zap.Int("sources_succeeded", run.SourcesSucceeded),
		zap.Int("jobs_ingested", run.JobsIngested),
		zap.Int("jobs_deduped", run.JobsDeduped))
	return &run, nil
}

func (o *Orchestrator) fanOut(ctx context.Context, enabled []string, byName map[string]pipeline.Adapter) <-chan sourceResult {
	jobs := make(chan pipeline.Adapter)
	results := make(chan sourceResult, len(enabled))

	workers := o.cfg.Concurrency
	if workers > len(enabled) && len(enabled) > 0 {
		workers = len(enabled)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for a := range jobs {
				results <- o.fetchSource(ctx, a)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, name := range enabled {
			select {
			case jobs <- byName[name]:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()
	return results
}

// fetchSource runs one adapter under its own deadline. Emissions stream
// straight through classify, score, and the batch writer, so per-source
// ordering is preserved by construction.
func (o *Orchestrator) fetchSource(ctx context.Context, a pipeline.Adapter) sourceResult {
	metrics.WorkerStarted()
	defer metrics.WorkerStopped()

	actx, cancel := context.WithTimeout(ctx, o.cfg.AdapterTimeout)
	defer cancel()

	start := o.clock.Now()
	var stats sourceStats

	emit := func(raw pipeline.RawPosting) error {
		res, err := o.classifier.Classify(actx, raw)
		if err != nil {
			return fmt.Errorf("classify posting from %s: %w", a.Name(), err)
		}
		metrics.ObservePosting(a.Name(), string(res.Class))
		switch res.Class {
		case pipeline.ClassNew, pipeline.ClassUpdated:
			total, breakdown := o.scorer.Score(*res.Posting, o.clock.Now())
			res.Posting.Score = &total
			res.Posting.ScoreBreakdown = breakdown
			o.writer.UpsertPosting(*res.Posting)
			stats.ingested++
			if total >= o.scorer.Threshold() {
				stats.aboveThreshold++
			}
		default:
			stats.deduped++
		}
		return nil
	}

	err := a.Fetch(actx, o.specFor(a.Name()), emit)
	elapsed := o.clock.Now().Sub(start)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.ObserveSourceRun(a.Name(), outcome, elapsed)

	return sourceResult{source: a.Name(), stats: stats, err: err}
}

func (o *Orchestrator) specFor(source string) pipeline.SearchSpec {
	spec := o.cfg.BaseSpec
	if slugs, ok := o.cfg.BoardSlugs[source]; ok {
		spec.BoardSlugs = slugs
	}
	return spec
}

func (o *Orchestrator) handleSourceFailure(ctx context.Context, res sourceResult) {
	o.logger.Warn("source fetch failed",
		zap.String("source", res.source),
		zap.Error(res.err))

	var drift *pipeline.ParseDriftError
	if o.snapshots != nil && errors.As(res.err, &drift) {
		if _, err := o.snapshots.SaveDrift(drift); err != nil {
			o.logger.Error("save drift snapshot",
				zap.String("source", res.source), zap.Error(err))
		}
	}
	bctx, cancel := bookkeepCtx(ctx)
	defer cancel()
	if err := o.monitor.RecordFailure(bctx, res.source, res.err); err != nil {
		o.logger.Error("record source failure",
			zap.String("source", res.source), zap.Error(err))
	}
}
