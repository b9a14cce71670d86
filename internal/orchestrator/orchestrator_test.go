package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hiresignal/jobscout/internal/dedup"
	"github.com/hiresignal/jobscout/internal/pipeline"
)

type fakeAdapter struct {
	name    string
	emitN   int
	err     error
	blockOn <-chan struct{}
}

func (a *fakeAdapter) Name() string { return a.name }

func (a *fakeAdapter) Fetch(ctx context.Context, _ pipeline.SearchSpec, emit pipeline.EmitFunc) error {
	if a.blockOn != nil {
		select {
		case <-a.blockOn:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	for i := 0; i < a.emitN; i++ {
		if err := emit(pipeline.RawPosting{
			SourceID: a.name,
			NativeID: fmt.Sprintf("%d", i),
			Title:    fmt.Sprintf("Posting %d", i),
			Company:  "Acme",
			URL:      fmt.Sprintf("https://example.com/%s/%d", a.name, i),
		}); err != nil {
			return err
		}
	}
	return a.err
}

func (a *fakeAdapter) Smoke(context.Context) error { return nil }

// passClassifier treats everything as new.
type passClassifier struct{}

func (passClassifier) Classify(_ context.Context, raw pipeline.RawPosting) (dedup.Result, error) {
	p := pipeline.Posting{
		IdentityKey:    pipeline.IdentityKeyFor(raw.SourceID, raw.NativeID),
		SourceID:       raw.SourceID,
		SourceNativeID: raw.NativeID,
		Title:          raw.Title,
		Company:        raw.Company,
		URL:            raw.URL,
	}
	return dedup.Result{Class: pipeline.ClassNew, Posting: &p}, nil
}

// dupClassifier marks every even native ID a duplicate.
type dupClassifier struct{}

func (dupClassifier) Classify(ctx context.Context, raw pipeline.RawPosting) (dedup.Result, error) {
	if len(raw.NativeID) > 0 && raw.NativeID[len(raw.NativeID)-1]%2 == 0 {
		return dedup.Result{Class: pipeline.ClassDuplicate}, nil
	}
	return passClassifier{}.Classify(ctx, raw)
}

type fixedScorer struct {
	score     float64
	threshold float64
}

func (s fixedScorer) Score(pipeline.Posting, time.Time) (float64, map[string]float64) {
	return s.score, map[string]float64{"skills": s.score}
}

func (s fixedScorer) Threshold() float64 { return s.threshold }

type captureWriter struct {
	mu       sync.Mutex
	upserted []pipeline.Posting
}

func (w *captureWriter) UpsertPosting(p pipeline.Posting) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.upserted = append(w.upserted, p)
}

func (w *captureWriter) TouchPosting(string, time.Time) {}
func (w *captureWriter) RecordRepost(string, time.Time) {}
func (w *captureWriter) MarkSuperseded(string, string)  {}

type memRunStore struct {
	mu   sync.Mutex
	runs map[string]pipeline.RunRecord
}

func newMemRunStore() *memRunStore {
	return &memRunStore{runs: map[string]pipeline.RunRecord{}}
}

// put rejects expired contexts the way the real store's ExecContext would.
func (s *memRunStore) put(ctx context.Context, r pipeline.RunRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[r.RunID] = r
	return nil
}

func (s *memRunStore) InsertRun(ctx context.Context, r pipeline.RunRecord) error {
	return s.put(ctx, r)
}

func (s *memRunStore) FinalizeRun(ctx context.Context, r pipeline.RunRecord) error {
	return s.put(ctx, r)
}

func (s *memRunStore) get(runID string) (pipeline.RunRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	return r, ok
}

func (s *memRunStore) LatestRun(context.Context) (*pipeline.RunRecord, error) { return nil, nil }
func (s *memRunStore) ListRuns(context.Context, int) ([]pipeline.RunRecord, error) {
	return nil, nil
}

type memMonitor struct {
	mu        sync.Mutex
	disabled  map[string]bool
	successes []string
	failures  map[string]error
}

func newMemMonitor(disabled ...string) *memMonitor {
	m := &memMonitor{disabled: map[string]bool{}, failures: map[string]error{}}
	for _, d := range disabled {
		m.disabled[d] = true
	}
	return m
}

func (m *memMonitor) EnabledSources(_ context.Context, candidates []string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, c := range candidates {
		if !m.disabled[c] {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memMonitor) RecordSuccess(ctx context.Context, sourceID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.successes = append(m.successes, sourceID)
	return nil
}

func (m *memMonitor) RecordFailure(ctx context.Context, sourceID string, cause error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[sourceID] = cause
	return nil
}

type seqIDs struct{ n int }

func (g *seqIDs) NewID() (string, error) {
	g.n++
	return fmt.Sprintf("run-%d", g.n), nil
}

type tickClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *tickClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func newOrchestrator(
	adapters []pipeline.Adapter,
	classifier Classifier,
	scorer Scorer,
	writer pipeline.PostingWriter,
	runs pipeline.RunStore,
	monitor pipeline.HealthMonitor,
	cfg Config,
) *Orchestrator {
	clock := &tickClock{now: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
	return New(adapters, classifier, scorer, writer, runs, monitor, nil,
		clock, &seqIDs{}, cfg, zap.NewNop())
}

func TestRun_PartialFailureNeverAbortsTheCycle(t *testing.T) {
	t.Parallel()

	adapters := []pipeline.Adapter{
		&fakeAdapter{name: "s1", emitN: 3},
		&fakeAdapter{name: "s2", err: &pipeline.SourceUnavailableError{SourceID: "s2", Err: fmt.Errorf("http 503")}},
		&fakeAdapter{name: "s3", emitN: 2},
		&fakeAdapter{name: "s4", err: &pipeline.ParseDriftError{SourceID: "s4", Reason: "markup changed"}},
		&fakeAdapter{name: "s5", emitN: 1},
	}
	writer := &captureWriter{}
	monitor := newMemMonitor()
	o := newOrchestrator(adapters, passClassifier{}, fixedScorer{score: 0.8, threshold: 0.6},
		writer, newMemRunStore(), monitor, Config{Concurrency: 3})

	run, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 5, run.SourcesAttempted)
	require.Equal(t, 3, run.SourcesSucceeded)
	require.Equal(t, 6, run.JobsIngested)
	require.Equal(t, 6, run.JobsScoredAboveThreshold)
	require.NotNil(t, run.FinishedAt)

	require.Len(t, writer.upserted, 6)
	require.ElementsMatch(t, []string{"s1", "s3", "s5"}, monitor.successes)
	require.Contains(t, monitor.failures, "s2")
	require.Contains(t, monitor.failures, "s4")
}

func TestRun_DisabledSourcesAreSkipped(t *testing.T) {
	t.Parallel()

	adapters := []pipeline.Adapter{
		&fakeAdapter{name: "s1", emitN: 1},
		&fakeAdapter{name: "s2", emitN: 1},
	}
	monitor := newMemMonitor("s2")
	o := newOrchestrator(adapters, passClassifier{}, fixedScorer{score: 0.5, threshold: 0.6},
		&captureWriter{}, newMemRunStore(), monitor, Config{Concurrency: 2})

	run, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, run.SourcesAttempted)
	require.Equal(t, 1, run.SourcesSucceeded)
	require.Equal(t, []string{"s1"}, monitor.successes)
}

func TestRun_PerSourceEmissionOrderIsPreserved(t *testing.T) {
	t.Parallel()

	adapters := []pipeline.Adapter{&fakeAdapter{name: "s1", emitN: 20}}
	writer := &captureWriter{}
	o := newOrchestrator(adapters, passClassifier{}, fixedScorer{score: 0.8, threshold: 0.6},
		writer, newMemRunStore(), newMemMonitor(), Config{Concurrency: 4})

	_, err := o.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, writer.upserted, 20)
	for i, p := range writer.upserted {
		require.Equal(t, fmt.Sprintf("%d", i), p.SourceNativeID)
	}
}

func TestRun_DedupedPostingsAreCountedNotStored(t *testing.T) {
	t.Parallel()

	adapters := []pipeline.Adapter{&fakeAdapter{name: "s1", emitN: 10}}
	writer := &captureWriter{}
	o := newOrchestrator(adapters, dupClassifier{}, fixedScorer{score: 0.8, threshold: 0.6},
		writer, newMemRunStore(), newMemMonitor(), Config{Concurrency: 1})

	run, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 5, run.JobsIngested)
	require.Equal(t, 5, run.JobsDeduped)
	require.Len(t, writer.upserted, 5)
}

func TestRun_AdapterTimeoutCountsAsFailure(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	defer close(block)
	adapters := []pipeline.Adapter{
		&fakeAdapter{name: "slow", blockOn: block},
		&fakeAdapter{name: "fast", emitN: 1},
	}
	monitor := newMemMonitor()
	o := newOrchestrator(adapters, passClassifier{}, fixedScorer{score: 0.8, threshold: 0.6},
		&captureWriter{}, newMemRunStore(), monitor,
		Config{Concurrency: 2, AdapterTimeout: 30 * time.Millisecond})

	run, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, run.SourcesSucceeded)
	require.Contains(t, monitor.failures, "slow")
}

func TestRun_ExpiredRunTimeoutStillFinalizes(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	defer close(block)
	adapters := []pipeline.Adapter{
		&fakeAdapter{name: "fast", emitN: 2},
		&fakeAdapter{name: "slow", blockOn: block},
	}
	runs := newMemRunStore()
	monitor := newMemMonitor()
	o := newOrchestrator(adapters, passClassifier{}, fixedScorer{score: 0.8, threshold: 0.6},
		&captureWriter{}, runs, monitor,
		Config{Concurrency: 2, AdapterTimeout: time.Second, RunTimeout: 40 * time.Millisecond})

	run, err := o.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, run.FinishedAt)

	// The run deadline expired mid-cycle, yet the persisted record is
	// finalized and health bookkeeping for both sources landed.
	stored, ok := runs.get(run.RunID)
	require.True(t, ok)
	require.NotNil(t, stored.FinishedAt)
	require.Equal(t, 2, stored.JobsIngested)
	require.Contains(t, monitor.successes, "fast")
	require.Contains(t, monitor.failures, "slow")
}

func TestRun_ScoresBelowThresholdStillStored(t *testing.T) {
	t.Parallel()

	adapters := []pipeline.Adapter{&fakeAdapter{name: "s1", emitN: 3}}
	writer := &captureWriter{}
	o := newOrchestrator(adapters, passClassifier{}, fixedScorer{score: 0.2, threshold: 0.6},
		writer, newMemRunStore(), newMemMonitor(), Config{Concurrency: 1})

	run, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, run.JobsIngested)
	require.Equal(t, 0, run.JobsScoredAboveThreshold)
	require.Len(t, writer.upserted, 3)
	for _, p := range writer.upserted {
		require.NotNil(t, p.Score)
		require.Equal(t, 0.2, *p.Score)
	}
}
