package pipeline

import (
	"context"
	"time"
)

// EmitFunc receives one raw posting from an adapter. Returning an error tells
// the adapter to stop fetching.
type EmitFunc func(RawPosting) error

// Adapter fetches postings from one source. Implementations stream results
// through emit as they parse, so a slow source does not buffer its whole feed
// in memory.
type Adapter interface {
	// Name returns the stable source identifier.
	Name() string
	// Fetch runs one scrape of the source against the search spec.
	Fetch(ctx context.Context, spec SearchSpec, emit EmitFunc) error
	// Smoke performs a cheap liveness probe used for recovery checks on
	// disabled sources.
	Smoke(ctx context.Context) error
}

// PostingReader serves identity and fingerprint lookups plus the outbound
// query surface.
type PostingReader interface {
	GetPostingByIdentity(ctx context.Context, identityKey string) (*Posting, error)
	GetPostingByFingerprint(ctx context.Context, fingerprint string) (*Posting, error)
	ListPostingsAboveScore(ctx context.Context, minScore float64, limit int) ([]Posting, error)
}

// PostingWriter accepts write intents. Implementations batch asynchronously;
// calls never block on storage.
type PostingWriter interface {
	UpsertPosting(p Posting)
	TouchPosting(identityKey string, lastSeen time.Time)
	RecordRepost(identityKey string, lastSeen time.Time)
	MarkSuperseded(identityKey, supersededBy string)
}

// HealthStore persists per-source health records.
type HealthStore interface {
	GetSourceHealth(ctx context.Context, sourceID string) (*SourceHealth, error)
	ListSourceHealth(ctx context.Context) ([]SourceHealth, error)
	PutSourceHealth(ctx context.Context, h SourceHealth) error
}

// RunStore persists run records.
type RunStore interface {
	InsertRun(ctx context.Context, r RunRecord) error
	FinalizeRun(ctx context.Context, r RunRecord) error
	LatestRun(ctx context.Context) (*RunRecord, error)
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)
}

// HealthMonitor tracks per-source reliability and decides which sources run.
type HealthMonitor interface {
	// EnabledSources filters the candidate set down to sources that are not
	// disabled.
	EnabledSources(ctx context.Context, candidates []string) ([]string, error)
	// RecordSuccess resets the source's failure streak.
	RecordSuccess(ctx context.Context, sourceID string) error
	// RecordFailure increments the streak and may disable the source.
	RecordFailure(ctx context.Context, sourceID string, cause error) error
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// Hasher produces content fingerprints.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// IDGenerator mints run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
