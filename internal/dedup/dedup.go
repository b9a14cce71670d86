// Package dedup assigns stable identity to raw postings and classifies each
// one as New, Updated, Duplicate, or Repost before it reaches scoring and
// storage.
package dedup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hiresignal/jobscout/internal/hash/sha256"
	"github.com/hiresignal/jobscout/internal/pipeline"
)

// fingerprintDescLen is how much of the normalized description participates
// in the content fingerprint. A prefix is enough to catch reposts while
// tolerating boilerplate appended at the bottom of a listing.
const fingerprintDescLen = 512

// recentCap bounds the in-process fingerprint cache. A full scrape cycle's
// postings fit well under this; on overflow the cache is simply cleared.
const recentCap = 4096

// Result carries the classification verdict for one raw posting. Posting is
// populated only for New and Updated, the classes that proceed to scoring.
type Result struct {
	Class   pipeline.Classification
	Posting *pipeline.Posting
}

// Deduplicator classifies raw postings against the stored corpus. Writes go
// through a batching writer and can trail the read pool by up to a flush
// interval, so fingerprints classified New or Updated are also remembered
// in-process; identical content arriving under a different native ID within
// that window still collapses into a repost.
type Deduplicator struct {
	reader pipeline.PostingReader
	writer pipeline.PostingWriter
	hasher pipeline.Hasher
	clock  pipeline.Clock
	logger *zap.Logger

	mu     sync.Mutex
	recent map[string]string // content fingerprint -> identity key
}

// New constructs a Deduplicator.
func New(
	reader pipeline.PostingReader,
	writer pipeline.PostingWriter,
	hasher pipeline.Hasher,
	clock pipeline.Clock,
	logger *zap.Logger,
) *Deduplicator {
	return &Deduplicator{
		reader: reader,
		writer: writer,
		hasher: hasher,
		clock:  clock,
		logger: logger,
		recent: make(map[string]string),
	}
}

// Classify resolves the raw posting's identity and decides its fate.
// Duplicate and Repost verdicts are recorded against the existing row here
// (last_seen bump, repost counter); New and Updated postings are returned for
// scoring and upsert by the caller.
func (d *Deduplicator) Classify(ctx context.Context, raw pipeline.RawPosting) (Result, error) {
	fingerprint, err := d.Fingerprint(raw)
	if err != nil {
		return Result{}, fmt.Errorf("fingerprint posting: %w", err)
	}

	nativeID := raw.NativeID
	if nativeID == "" {
		// Sources without stable native IDs synthesize one from the content
		// fingerprint; identity and content dedup then collapse into the
		// same check, which is intentional.
		nativeID = fingerprint
	}
	identityKey := pipeline.IdentityKeyFor(raw.SourceID, nativeID)
	now := d.clock.Now()

	existing, err := d.reader.GetPostingByIdentity(ctx, identityKey)
	if err != nil {
		return Result{}, fmt.Errorf("lookup identity %s: %w", identityKey, err)
	}

	if existing != nil {
		if existing.ContentFingerprint != fingerprint {
			if err := d.resolveFingerprintConflict(ctx, existing, fingerprint); err != nil {
				return Result{}, err
			}
		}
		if !materialChange(existing, raw, fingerprint) {
			d.writer.TouchPosting(identityKey, now)
			return Result{Class: pipeline.ClassDuplicate}, nil
		}
		updated := buildPosting(raw, identityKey, nativeID, fingerprint, existing.FirstSeenAt, now)
		updated.RepostCount = existing.RepostCount
		d.remember(fingerprint, identityKey)
		return Result{Class: pipeline.ClassUpdated, Posting: &updated}, nil
	}

	// No identity match: same content under a different native ID is a
	// repost. Record the signal on the surviving row instead of creating a
	// second one. The in-process cache covers rows still sitting in the
	// write batch, which the read pool cannot see yet.
	if key, ok := d.recentKey(fingerprint); ok && key != identityKey {
		d.writer.RecordRepost(key, now)
		return Result{Class: pipeline.ClassRepost}, nil
	}
	match, err := d.reader.GetPostingByFingerprint(ctx, fingerprint)
	if err != nil {
		return Result{}, fmt.Errorf("lookup fingerprint: %w", err)
	}
	if match != nil {
		d.writer.RecordRepost(match.IdentityKey, now)
		return Result{Class: pipeline.ClassRepost}, nil
	}

	fresh := buildPosting(raw, identityKey, nativeID, fingerprint, now, now)
	d.remember(fingerprint, identityKey)
	return Result{Class: pipeline.ClassNew, Posting: &fresh}, nil
}

func (d *Deduplicator) remember(fingerprint, identityKey string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.recent) >= recentCap {
		d.recent = make(map[string]string)
	}
	d.recent[fingerprint] = identityKey
}

func (d *Deduplicator) recentKey(fingerprint string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key, ok := d.recent[fingerprint]
	return key, ok
}

// resolveFingerprintConflict handles the stale-identity-row vs fresher
// fingerprint-row tie: the most recently seen row wins, the older one is
// marked superseded but never deleted.
func (d *Deduplicator) resolveFingerprintConflict(
	ctx context.Context,
	existing *pipeline.Posting,
	fingerprint string,
) error {
	other, err := d.reader.GetPostingByFingerprint(ctx, fingerprint)
	if err != nil {
		return fmt.Errorf("lookup fingerprint conflict: %w", err)
	}
	if other == nil || other.IdentityKey == existing.IdentityKey {
		return nil
	}
	if other.LastSeenAt.After(existing.LastSeenAt) {
		d.writer.MarkSuperseded(existing.IdentityKey, other.IdentityKey)
		d.logger.Debug("posting superseded",
			zap.String("old", existing.IdentityKey),
			zap.String("new", other.IdentityKey))
	} else {
		d.writer.MarkSuperseded(other.IdentityKey, existing.IdentityKey)
		d.logger.Debug("posting superseded",
			zap.String("old", other.IdentityKey),
			zap.String("new", existing.IdentityKey))
	}
	return nil
}

// Fingerprint hashes the normalized title, company, and description prefix.
func (d *Deduplicator) Fingerprint(raw pipeline.RawPosting) (string, error) {
	desc := sha256.Normalize(raw.Description)
	if len(desc) > fingerprintDescLen {
		desc = desc[:fingerprintDescLen]
	}
	payload := sha256.Normalize(raw.Title) + "|" + sha256.Normalize(raw.Company) + "|" + desc
	return d.hasher.Hash([]byte(payload))
}

func buildPosting(
	raw pipeline.RawPosting,
	identityKey, nativeID, fingerprint string,
	firstSeen, lastSeen time.Time,
) pipeline.Posting {
	return pipeline.Posting{
		IdentityKey:        identityKey,
		SourceID:           raw.SourceID,
		SourceNativeID:     nativeID,
		ContentFingerprint: fingerprint,
		Title:              raw.Title,
		Company:            raw.Company,
		Location:           raw.Location,
		Remote:             raw.Remote,
		URL:                raw.URL,
		Description:        raw.Description,
		SalaryMin:          raw.SalaryMin,
		SalaryMax:          raw.SalaryMax,
		PostedAt:           raw.PostedAt,
		FirstSeenAt:        firstSeen,
		LastSeenAt:         lastSeen,
	}
}

// materialChange reports whether any mutable field differs between the stored
// row and the new sighting. Identical sightings only bump last_seen_at.
func materialChange(existing *pipeline.Posting, raw pipeline.RawPosting, fingerprint string) bool {
	if existing.ContentFingerprint != fingerprint {
		return true
	}
	if existing.Title != raw.Title ||
		existing.Company != raw.Company ||
		existing.Location != raw.Location ||
		existing.Remote != raw.Remote ||
		existing.URL != raw.URL ||
		existing.Description != raw.Description {
		return true
	}
	if !floatPtrEqual(existing.SalaryMin, raw.SalaryMin) ||
		!floatPtrEqual(existing.SalaryMax, raw.SalaryMax) {
		return true
	}
	return !timePtrEqual(existing.PostedAt, raw.PostedAt)
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
