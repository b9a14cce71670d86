package store

import (
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hiresignal/jobscout/internal/metrics"
	"github.com/hiresignal/jobscout/internal/pipeline"
)

type opKind int

const (
	opUpsert opKind = iota
	opTouch
	opRepost
	opSupersede
	opFlush
)

type writeOp struct {
	kind    opKind
	posting pipeline.Posting
	key     string
	byKey   string
	at      time.Time
	ack     chan struct{}
}

// Batcher groups write intents from concurrent producers into single
// transactions, flushed on a size or timer threshold, whichever first. This
// trades a small latency delay for throughput and keeps writer-lock
// contention away from callers. Enqueue methods never block on the store.
type Batcher struct {
	store       *Store
	ch          chan writeOp
	stop        chan struct{}
	done        chan struct{}
	closeOnce   sync.Once
	size        int
	interval    time.Duration
	busyRetries int
	logger      *zap.Logger
}

// NewBatcher starts the flush goroutine and returns the writer.
func NewBatcher(s *Store, size int, interval time.Duration, busyRetries int, logger *zap.Logger) *Batcher {
	if size <= 0 {
		size = 64
	}
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	if busyRetries <= 0 {
		busyRetries = 5
	}
	b := &Batcher{
		store:       s,
		ch:          make(chan writeOp, size*4),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
		size:        size,
		interval:    interval,
		busyRetries: busyRetries,
		logger:      logger,
	}
	go b.flushLoop()
	return b
}

// UpsertPosting enqueues an insert-or-update keyed on identity_key.
func (b *Batcher) UpsertPosting(p pipeline.Posting) {
	b.enqueue(writeOp{kind: opUpsert, posting: p})
}

// TouchPosting enqueues a last_seen_at bump for an unchanged sighting.
func (b *Batcher) TouchPosting(identityKey string, lastSeen time.Time) {
	b.enqueue(writeOp{kind: opTouch, key: identityKey, at: lastSeen})
}

// RecordRepost enqueues a repost-counter increment for a fingerprint match.
func (b *Batcher) RecordRepost(identityKey string, lastSeen time.Time) {
	b.enqueue(writeOp{kind: opRepost, key: identityKey, at: lastSeen})
}

// MarkSuperseded enqueues the supersession marker; the older row stays.
func (b *Batcher) MarkSuperseded(identityKey, supersededBy string) {
	b.enqueue(writeOp{kind: opSupersede, key: identityKey, byKey: supersededBy})
}

// enqueue hands the op to the flush goroutine. The channel itself is never
// closed, so concurrent producers racing Close can at worst have their write
// dropped, never panic the process.
func (b *Batcher) enqueue(op writeOp) {
	select {
	case b.ch <- op:
	case <-b.done:
		b.logger.Warn("write dropped: batcher closed",
			zap.String("identity_key", op.key))
	}
}

// Flush forces a flush of everything enqueued so far and waits for it.
func (b *Batcher) Flush() {
	ack := make(chan struct{})
	select {
	case b.ch <- writeOp{kind: opFlush, ack: ack}:
		select {
		case <-ack:
		case <-b.done:
		}
	case <-b.done:
	}
}

// Close drains the queue, flushes any partial batch, and stops the flush
// goroutine. Safe to call during shutdown while producers are still writing:
// queued writes are persisted, late stragglers are dropped with a warning.
func (b *Batcher) Close() error {
	b.closeOnce.Do(func() {
		close(b.stop)
		<-b.done
	})
	return nil
}

func (b *Batcher) flushLoop() {
	defer close(b.done)

	batch := make([]writeOp, 0, b.size)
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) > 0 {
			b.flushBatch(batch)
			batch = batch[:0]
		}
	}
	handle := func(op writeOp) {
		if op.kind == opFlush {
			flush()
			close(op.ack)
			return
		}
		batch = append(batch, op)
		if len(batch) >= b.size {
			flush()
		}
	}

	for {
		select {
		case <-b.stop:
			// Drain whatever producers managed to enqueue, then flush
			// once and exit.
			for {
				select {
				case op := <-b.ch:
					handle(op)
				default:
					flush()
					return
				}
			}
		case op := <-b.ch:
			handle(op)
		case <-ticker.C:
			flush()
		}
	}
}

// flushBatch applies one batch in a single transaction, retrying writer-lock
// contention with linear backoff. After exhaustion only this batch is lost;
// the loop keeps serving later batches.
func (b *Batcher) flushBatch(batch []writeOp) {
	var err error
	for attempt := 0; attempt < b.busyRetries; attempt++ {
		if attempt > 0 {
			metrics.ObserveStoreRetry()
			time.Sleep(time.Duration(attempt) * 50 * time.Millisecond)
		}
		if err = b.applyBatch(batch); err == nil {
			metrics.ObserveBatchFlush("ok", len(batch))
			return
		}
		if !isBusy(err) {
			break
		}
	}
	metrics.ObserveBatchFlush("error", len(batch))
	b.logger.Error("batch flush failed, batch dropped",
		zap.Int("size", len(batch)), zap.Error(err))
}

func (b *Batcher) applyBatch(batch []writeOp) error {
	tx, err := b.store.write.Begin()
	if err != nil {
		return err
	}
	for _, op := range batch {
		if err := applyOp(tx, op); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func applyOp(tx *sql.Tx, op writeOp) error {
	switch op.kind {
	case opUpsert:
		return upsertPosting(tx, op.posting)
	case opTouch:
		_, err := tx.Exec(`UPDATE postings SET last_seen_at = ? WHERE identity_key = ?`,
			op.at.Unix(), op.key)
		return err
	case opRepost:
		_, err := tx.Exec(
			`UPDATE postings SET repost_count = repost_count + 1, last_seen_at = ?
			 WHERE identity_key = ?`,
			op.at.Unix(), op.key)
		return err
	case opSupersede:
		_, err := tx.Exec(`UPDATE postings SET superseded_by = ? WHERE identity_key = ?`,
			op.byKey, op.key)
		return err
	default:
		return nil
	}
}

func upsertPosting(tx *sql.Tx, p pipeline.Posting) error {
	var breakdown any
	if len(p.ScoreBreakdown) > 0 {
		raw, err := json.Marshal(p.ScoreBreakdown)
		if err != nil {
			return err
		}
		breakdown = string(raw)
	}
	var score any
	if p.Score != nil {
		score = *p.Score
	}

	// On conflict the existing row is updated in place: first_seen_at and
	// repost_count survive, mutable fields refresh, and a row is never
	// duplicated for the same identity key.
	_, err := tx.Exec(`
		INSERT INTO postings (identity_key, source_id, source_native_id, content_fingerprint,
			title, company, location, remote, url, description,
			salary_min, salary_max, posted_at, first_seen_at, last_seen_at,
			score, score_breakdown, repost_count, superseded_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, '')
		ON CONFLICT(identity_key) DO UPDATE SET
			content_fingerprint = excluded.content_fingerprint,
			title = excluded.title,
			company = excluded.company,
			location = excluded.location,
			remote = excluded.remote,
			url = excluded.url,
			description = excluded.description,
			salary_min = excluded.salary_min,
			salary_max = excluded.salary_max,
			posted_at = excluded.posted_at,
			last_seen_at = excluded.last_seen_at,
			score = excluded.score,
			score_breakdown = excluded.score_breakdown`,
		p.IdentityKey, p.SourceID, p.SourceNativeID, p.ContentFingerprint,
		p.Title, p.Company, p.Location, boolToInt(p.Remote), p.URL, p.Description,
		floatOrNil(p.SalaryMin), floatOrNil(p.SalaryMax), unixOrNil(p.PostedAt),
		p.FirstSeenAt.Unix(), p.LastSeenAt.Unix(), score, breakdown)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func floatOrNil(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}
