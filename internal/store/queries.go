package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hiresignal/jobscout/internal/pipeline"
)

const postingColumns = `identity_key, source_id, source_native_id, content_fingerprint,
	title, company, location, remote, url, description,
	salary_min, salary_max, posted_at, first_seen_at, last_seen_at,
	score, score_breakdown, repost_count, superseded_by`

// GetPostingByIdentity returns the row for an identity key, or nil.
func (s *Store) GetPostingByIdentity(ctx context.Context, identityKey string) (*pipeline.Posting, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT `+postingColumns+` FROM postings WHERE identity_key = ?`, identityKey)
	return scanPosting(row)
}

// GetPostingByFingerprint returns the most recently seen non-superseded row
// matching the content fingerprint, or nil.
func (s *Store) GetPostingByFingerprint(ctx context.Context, fingerprint string) (*pipeline.Posting, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT `+postingColumns+` FROM postings
		 WHERE content_fingerprint = ? AND superseded_by = ''
		 ORDER BY last_seen_at DESC LIMIT 1`, fingerprint)
	return scanPosting(row)
}

// ListPostingsAboveScore serves the pull-based outbound surface: scored,
// non-superseded postings at or above minScore, best first.
func (s *Store) ListPostingsAboveScore(ctx context.Context, minScore float64, limit int) ([]pipeline.Posting, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.read.QueryContext(ctx,
		`SELECT `+postingColumns+` FROM postings
		 WHERE score IS NOT NULL AND score >= ? AND superseded_by = ''
		 ORDER BY score DESC, last_seen_at DESC LIMIT ?`, minScore, limit)
	if err != nil {
		return nil, fmt.Errorf("list postings: %w", err)
	}
	defer rows.Close()

	var out []pipeline.Posting
	for rows.Next() {
		p, err := scanPostingRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// CountPostings returns the total number of stored postings.
func (s *Store) CountPostings(ctx context.Context) (int, error) {
	var n int
	err := s.read.QueryRowContext(ctx, `SELECT COUNT(*) FROM postings`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count postings: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPosting(row *sql.Row) (*pipeline.Posting, error) {
	p, err := scanPostingRows(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

func scanPostingRows(row rowScanner) (*pipeline.Posting, error) {
	var (
		p          pipeline.Posting
		remote     int
		salaryMin  sql.NullFloat64
		salaryMax  sql.NullFloat64
		postedAt   sql.NullInt64
		firstSeen  int64
		lastSeen   int64
		score      sql.NullFloat64
		breakdown  sql.NullString
		superseded string
	)
	err := row.Scan(
		&p.IdentityKey, &p.SourceID, &p.SourceNativeID, &p.ContentFingerprint,
		&p.Title, &p.Company, &p.Location, &remote, &p.URL, &p.Description,
		&salaryMin, &salaryMax, &postedAt, &firstSeen, &lastSeen,
		&score, &breakdown, &p.RepostCount, &superseded,
	)
	if err != nil {
		return nil, err
	}
	p.Remote = remote != 0
	if salaryMin.Valid {
		p.SalaryMin = &salaryMin.Float64
	}
	if salaryMax.Valid {
		p.SalaryMax = &salaryMax.Float64
	}
	if postedAt.Valid {
		t := time.Unix(postedAt.Int64, 0).UTC()
		p.PostedAt = &t
	}
	p.FirstSeenAt = time.Unix(firstSeen, 0).UTC()
	p.LastSeenAt = time.Unix(lastSeen, 0).UTC()
	if score.Valid {
		p.Score = &score.Float64
	}
	if breakdown.Valid && breakdown.String != "" {
		if err := json.Unmarshal([]byte(breakdown.String), &p.ScoreBreakdown); err != nil {
			return nil, fmt.Errorf("decode score breakdown: %w", err)
		}
	}
	p.SupersededBy = superseded
	return &p, nil
}

// GetSourceHealth returns the health record for a source, or nil.
func (s *Store) GetSourceHealth(ctx context.Context, sourceID string) (*pipeline.SourceHealth, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT source_id, state, consecutive_failures, last_success_at,
		        last_failure_at, last_failure_reason, credential_expires_at
		 FROM source_health WHERE source_id = ?`, sourceID)

	h, err := scanHealth(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return h, err
}

// ListSourceHealth returns every persisted health record.
func (s *Store) ListSourceHealth(ctx context.Context) ([]pipeline.SourceHealth, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT source_id, state, consecutive_failures, last_success_at,
		        last_failure_at, last_failure_reason, credential_expires_at
		 FROM source_health ORDER BY source_id`)
	if err != nil {
		return nil, fmt.Errorf("list source health: %w", err)
	}
	defer rows.Close()

	var out []pipeline.SourceHealth
	for rows.Next() {
		h, err := scanHealth(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *h)
	}
	return out, rows.Err()
}

func scanHealth(row rowScanner) (*pipeline.SourceHealth, error) {
	var (
		h          pipeline.SourceHealth
		state      string
		success    sql.NullInt64
		failure    sql.NullInt64
		credExpiry sql.NullInt64
	)
	err := row.Scan(&h.SourceID, &state, &h.ConsecutiveFailures,
		&success, &failure, &h.LastFailureReason, &credExpiry)
	if err != nil {
		return nil, err
	}
	h.State = pipeline.HealthState(state)
	if success.Valid {
		t := time.Unix(success.Int64, 0).UTC()
		h.LastSuccessAt = &t
	}
	if failure.Valid {
		t := time.Unix(failure.Int64, 0).UTC()
		h.LastFailureAt = &t
	}
	if credExpiry.Valid {
		t := time.Unix(credExpiry.Int64, 0).UTC()
		h.CredentialExpiresAt = &t
	}
	return &h, nil
}

// PutSourceHealth upserts a health record. Health writes are rare, so they go
// straight to the writer connection with contention retry rather than through
// the posting batch.
func (s *Store) PutSourceHealth(ctx context.Context, h pipeline.SourceHealth) error {
	return s.execRetry(ctx, func() error {
		_, err := s.write.ExecContext(ctx,
			`INSERT INTO source_health (source_id, state, consecutive_failures,
			    last_success_at, last_failure_at, last_failure_reason, credential_expires_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(source_id) DO UPDATE SET
			    state = excluded.state,
			    consecutive_failures = excluded.consecutive_failures,
			    last_success_at = excluded.last_success_at,
			    last_failure_at = excluded.last_failure_at,
			    last_failure_reason = excluded.last_failure_reason,
			    credential_expires_at = excluded.credential_expires_at`,
			h.SourceID, string(h.State), h.ConsecutiveFailures,
			unixOrNil(h.LastSuccessAt), unixOrNil(h.LastFailureAt),
			h.LastFailureReason, unixOrNil(h.CredentialExpiresAt))
		return err
	})
}

// InsertRun records a newly started run.
func (s *Store) InsertRun(ctx context.Context, r pipeline.RunRecord) error {
	return s.execRetry(ctx, func() error {
		_, err := s.write.ExecContext(ctx,
			`INSERT INTO runs (run_id, started_at, sources_attempted) VALUES (?, ?, ?)`,
			r.RunID, r.StartedAt.Unix(), r.SourcesAttempted)
		return err
	})
}

// FinalizeRun fills the terminal counters for a run. Finalized runs are never
// touched again.
func (s *Store) FinalizeRun(ctx context.Context, r pipeline.RunRecord) error {
	if r.FinishedAt == nil {
		return errors.New("finalize run: finished_at not set")
	}
	return s.execRetry(ctx, func() error {
		_, err := s.write.ExecContext(ctx,
			`UPDATE runs SET finished_at = ?, sources_attempted = ?, sources_succeeded = ?,
			        jobs_ingested = ?, jobs_deduped = ?, jobs_scored_above_threshold = ?
			 WHERE run_id = ? AND finished_at IS NULL`,
			r.FinishedAt.Unix(), r.SourcesAttempted, r.SourcesSucceeded,
			r.JobsIngested, r.JobsDeduped, r.JobsScoredAboveThreshold, r.RunID)
		return err
	})
}

// LatestRun returns the most recently started run, or nil.
func (s *Store) LatestRun(ctx context.Context) (*pipeline.RunRecord, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT run_id, started_at, finished_at, sources_attempted, sources_succeeded,
		        jobs_ingested, jobs_deduped, jobs_scored_above_threshold
		 FROM runs ORDER BY started_at DESC, run_id DESC LIMIT 1`)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

// ListRuns returns recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]pipeline.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.read.QueryContext(ctx,
		`SELECT run_id, started_at, finished_at, sources_attempted, sources_succeeded,
		        jobs_ingested, jobs_deduped, jobs_scored_above_threshold
		 FROM runs ORDER BY started_at DESC, run_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []pipeline.RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func scanRun(row rowScanner) (*pipeline.RunRecord, error) {
	var (
		r        pipeline.RunRecord
		started  int64
		finished sql.NullInt64
	)
	err := row.Scan(&r.RunID, &started, &finished, &r.SourcesAttempted,
		&r.SourcesSucceeded, &r.JobsIngested, &r.JobsDeduped, &r.JobsScoredAboveThreshold)
	if err != nil {
		return nil, err
	}
	r.StartedAt = time.Unix(started, 0).UTC()
	if finished.Valid {
		t := time.Unix(finished.Int64, 0).UTC()
		r.FinishedAt = &t
	}
	return &r, nil
}

// execRetry retries fn on writer-lock contention with linear backoff.
func (s *Store) execRetry(ctx context.Context, fn func() error) error {
	const attempts = 5
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil || !isBusy(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(i+1) * 50 * time.Millisecond):
		}
	}
	return &pipeline.StorageContentionError{Err: err}
}

func unixOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}
