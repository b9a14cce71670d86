package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hiresignal/jobscout/internal/pipeline"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "jobscout.db"), 4, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testPosting(key string, seen time.Time) pipeline.Posting {
	return pipeline.Posting{
		IdentityKey:        key,
		SourceID:           "remoteok",
		SourceNativeID:     key,
		ContentFingerprint: "fp-" + key,
		Title:              "Go Engineer",
		Company:            "Acme",
		FirstSeenAt:        seen,
		LastSeenAt:         seen,
	}
}

func TestBatcher_UpsertIsIdempotent(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	b := NewBatcher(s, 8, 50*time.Millisecond, 3, zap.NewNop())
	defer b.Close()

	now := time.Now().UTC().Truncate(time.Second)
	p := testPosting("remoteok:1", now)
	b.UpsertPosting(p)

	later := now.Add(time.Hour)
	p.LastSeenAt = later
	p.Title = "Senior Go Engineer"
	b.UpsertPosting(p)
	b.Flush()

	count, err := s.CountPostings(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, count)

	got, err := s.GetPostingByIdentity(context.Background(), "remoteok:1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "Senior Go Engineer", got.Title)
	require.Equal(t, now, got.FirstSeenAt)
	require.Equal(t, later, got.LastSeenAt)
}

func TestBatcher_ConcurrentProducersLoseNoWrites(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	b := NewBatcher(s, 16, 20*time.Millisecond, 5, zap.NewNop())
	defer b.Close()

	const producers = 5
	const perProducer = 40
	now := time.Now().UTC().Truncate(time.Second)

	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func(src int) {
			defer wg.Done()
			for j := 0; j < perProducer; j++ {
				key := fmt.Sprintf("src%d:%d", src, j)
				p := testPosting(key, now)
				p.SourceID = fmt.Sprintf("src%d", src)
				b.UpsertPosting(p)
			}
		}(i)
	}
	wg.Wait()
	b.Flush()

	count, err := s.CountPostings(context.Background())
	require.NoError(t, err)
	require.Equal(t, producers*perProducer, count)
}

func TestBatcher_CloseFlushesPartialBatch(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	// Large size and long interval: nothing flushes unless Close drains.
	b := NewBatcher(s, 1024, time.Hour, 3, zap.NewNop())

	now := time.Now().UTC().Truncate(time.Second)
	b.UpsertPosting(testPosting("remoteok:close", now))
	require.NoError(t, b.Close())

	got, err := s.GetPostingByIdentity(context.Background(), "remoteok:close")
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestBatcher_RepostAndSupersede(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	b := NewBatcher(s, 8, 20*time.Millisecond, 3, zap.NewNop())
	defer b.Close()

	now := time.Now().UTC().Truncate(time.Second)
	b.UpsertPosting(testPosting("hn:old", now))
	b.UpsertPosting(testPosting("hn:new", now))
	b.RecordRepost("hn:old", now.Add(time.Minute))
	b.MarkSuperseded("hn:old", "hn:new")
	b.Flush()

	got, err := s.GetPostingByIdentity(context.Background(), "hn:old")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, 1, got.RepostCount)
	require.Equal(t, "hn:new", got.SupersededBy)
}

func TestGetPostingByFingerprint_SkipsSuperseded(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	b := NewBatcher(s, 8, 20*time.Millisecond, 3, zap.NewNop())
	defer b.Close()

	now := time.Now().UTC().Truncate(time.Second)
	old := testPosting("wwr:old", now)
	old.ContentFingerprint = "shared-fp"
	newer := testPosting("wwr:new", now.Add(time.Hour))
	newer.ContentFingerprint = "shared-fp"

	b.UpsertPosting(old)
	b.UpsertPosting(newer)
	b.MarkSuperseded("wwr:old", "wwr:new")
	b.Flush()

	got, err := s.GetPostingByFingerprint(context.Background(), "shared-fp")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "wwr:new", got.IdentityKey)
}

func TestListPostingsAboveScore(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	b := NewBatcher(s, 8, 20*time.Millisecond, 3, zap.NewNop())
	defer b.Close()

	now := time.Now().UTC().Truncate(time.Second)
	for i, scoreVal := range []float64{0.9, 0.4, 0.7} {
		p := testPosting(fmt.Sprintf("remoteok:%d", i), now)
		v := scoreVal
		p.Score = &v
		p.ScoreBreakdown = map[string]float64{"skills": v}
		b.UpsertPosting(p)
	}
	b.Flush()

	got, err := s.ListPostingsAboveScore(context.Background(), 0.6, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, 0.9, *got[0].Score)
	require.Equal(t, 0.7, *got[1].Score)
	require.Equal(t, map[string]float64{"skills": 0.9}, got[0].ScoreBreakdown)
}

func TestSourceHealth_Roundtrip(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	missing, err := s.GetSourceHealth(ctx, "remoteok")
	require.NoError(t, err)
	require.Nil(t, missing)

	failedAt := time.Now().UTC().Truncate(time.Second)
	h := pipeline.SourceHealth{
		SourceID:            "remoteok",
		State:               pipeline.StateDegraded,
		ConsecutiveFailures: 2,
		LastFailureAt:       &failedAt,
		LastFailureReason:   "http 503",
	}
	require.NoError(t, s.PutSourceHealth(ctx, h))

	got, err := s.GetSourceHealth(ctx, "remoteok")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, pipeline.StateDegraded, got.State)
	require.Equal(t, 2, got.ConsecutiveFailures)
	require.Equal(t, failedAt, *got.LastFailureAt)

	all, err := s.ListSourceHealth(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestRuns_InsertFinalizeList(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	started := time.Now().UTC().Truncate(time.Second)
	run := pipeline.RunRecord{RunID: "run-1", StartedAt: started, SourcesAttempted: 5}
	require.NoError(t, s.InsertRun(ctx, run))

	finished := started.Add(time.Minute)
	run.FinishedAt = &finished
	run.SourcesSucceeded = 3
	run.JobsIngested = 42
	require.NoError(t, s.FinalizeRun(ctx, run))

	latest, err := s.LatestRun(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	require.Equal(t, "run-1", latest.RunID)
	require.Equal(t, 3, latest.SourcesSucceeded)
	require.Equal(t, 42, latest.JobsIngested)

	// Finalize is one-shot: a second finalize must not alter the record.
	run.JobsIngested = 999
	require.NoError(t, s.FinalizeRun(ctx, run))
	latest, err = s.LatestRun(ctx)
	require.NoError(t, err)
	require.Equal(t, 42, latest.JobsIngested)

	list, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestBatcher_WritesRacingCloseNeverPanic(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	b := NewBatcher(s, 8, 20*time.Millisecond, 3, zap.NewNop())
	now := time.Now().UTC().Truncate(time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				b.UpsertPosting(testPosting(fmt.Sprintf("remoteok:%d-%d", n, j), now))
			}
		}(i)
	}

	require.NoError(t, b.Close())
	wg.Wait()

	// Writes after Close are dropped, never a panic; Close is idempotent.
	require.NotPanics(t, func() {
		for i := 0; i < 20; i++ {
			b.UpsertPosting(testPosting("remoteok:late", now))
		}
		b.Flush()
	})
	require.NoError(t, b.Close())
}
