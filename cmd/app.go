package cmd

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hiresignal/jobscout/internal/adapter"
	"github.com/hiresignal/jobscout/internal/api"
	"github.com/hiresignal/jobscout/internal/clock/system"
	"github.com/hiresignal/jobscout/internal/config"
	"github.com/hiresignal/jobscout/internal/dedup"
	"github.com/hiresignal/jobscout/internal/hash/sha256"
	"github.com/hiresignal/jobscout/internal/health"
	"github.com/hiresignal/jobscout/internal/id/uuid"
	"github.com/hiresignal/jobscout/internal/metrics"
	"github.com/hiresignal/jobscout/internal/orchestrator"
	"github.com/hiresignal/jobscout/internal/pipeline"
	"github.com/hiresignal/jobscout/internal/score"
	"github.com/hiresignal/jobscout/internal/snapshot"
	"github.com/hiresignal/jobscout/internal/store"
)

// app holds the wired service graph. Built once per command invocation and
// torn down via Close.
type app struct {
	cfg          config.Config
	logger       *zap.Logger
	store        *store.Store
	batcher      *store.Batcher
	monitor      *health.Monitor
	orchestrator *orchestrator.Orchestrator
	api          *api.Server
	renderer     *adapter.Renderer
}

// newApp wires every component from config. The store is opened, the batch
// writer started, and the adapter set built, so a config error surfaces here
// rather than mid-run.
func newApp(cfg config.Config, logger *zap.Logger) (*app, error) {
	metrics.Init()

	st, err := store.Open(cfg.Store.Path, cfg.Store.ReadConns, logger.Named("store"))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	batcher := store.NewBatcher(st, cfg.Store.BatchSize, cfg.FlushInterval(),
		cfg.Store.BusyRetries, logger.Named("batcher"))

	clock := system.New()
	hasher := sha256.New()
	ids := uuid.NewUUIDGenerator()

	engine, err := score.NewEngine(cfg.Profile)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("build scoring engine: %w", err)
	}
	classifier := dedup.New(st, batcher, hasher, clock, logger.Named("dedup"))

	var renderer *adapter.Renderer
	if cfg.Scrape.HeadlessEnabled {
		renderer, err = adapter.NewRenderer(adapter.RendererConfig{
			UserAgent:   cfg.Scrape.UserAgent,
			Timeout:     time.Duration(cfg.Scrape.HeadlessTimeoutSec) * time.Second,
			MaxParallel: cfg.Scrape.HeadlessMaxParallel,
		}, logger.Named("renderer"))
		if err != nil && !errors.Is(err, adapter.ErrRendererDisabled) {
			st.Close()
			return nil, fmt.Errorf("init renderer: %w", err)
		}
		if errors.Is(err, adapter.ErrRendererDisabled) {
			logger.Warn("headless rendering disabled despite feature flag")
			renderer = nil
		}
	}

	adapters, err := adapter.Build(cfg.Sources.Enabled, adapter.Deps{
		Client: adapter.ClientConfig{
			UserAgent:          cfg.Scrape.UserAgent,
			RequestTimeout:     30 * time.Second,
			MinRequestInterval: cfg.MinRequestInterval(),
			MaxRetries:         cfg.Scrape.MaxRetries,
			BackoffInitial:     time.Duration(cfg.Scrape.BackoffInitialMs) * time.Millisecond,
			BackoffMax:         time.Duration(cfg.Scrape.BackoffMaxMs) * time.Millisecond,
		},
		Renderer: renderer,
		Logger:   logger.Named("adapter"),
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("build adapters: %w", err)
	}

	monitor := health.NewMonitor(st, clock, cfg.Health.DisableThreshold,
		cfg.Health.CredentialWarnDays, logger.Named("health"))

	sink, err := snapshot.NewSink(cfg.Snapshot.Dir, cfg.Snapshot.MaxBytes, clock,
		logger.Named("snapshot"))
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("init snapshot sink: %w", err)
	}

	orch := orchestrator.New(adapters, classifier, engine, batcher, st, monitor, sink,
		clock, ids, orchestrator.Config{
			Concurrency:    cfg.Scrape.Concurrency,
			AdapterTimeout: cfg.AdapterTimeout(),
			RunTimeout:     cfg.RunTimeout(),
			BaseSpec: pipeline.SearchSpec{
				Keywords:  cfg.Scrape.Keywords,
				Locations: cfg.Scrape.Locations,
				Remote:    cfg.Scrape.Remote,
			},
			BoardSlugs: cfg.SearchSpec(),
		}, logger.Named("orchestrator"))

	apiServer := api.NewServer(st, st, st, monitor, st, cfg.Sources.Enabled,
		engine.Threshold(), logger.Named("api"))

	return &app{
		cfg:          cfg,
		logger:       logger,
		store:        st,
		batcher:      batcher,
		monitor:      monitor,
		orchestrator: orch,
		api:          apiServer,
		renderer:     renderer,
	}, nil
}

// Close flushes pending writes and releases the store and renderer.
func (a *app) Close() {
	if err := a.batcher.Close(); err != nil {
		a.logger.Error("close batch writer", zap.Error(err))
	}
	if a.renderer != nil {
		if err := a.renderer.Close(); err != nil {
			a.logger.Error("close renderer", zap.Error(err))
		}
	}
	if err := a.store.Close(); err != nil {
		a.logger.Error("close store", zap.Error(err))
	}
}
