// Package pipeline defines the core domain types, interfaces, and error
// taxonomy shared by every stage of the ingestion pipeline. It has no
// dependencies on the stages themselves, so adapters, dedup, scoring, and
// storage all meet here.
package pipeline

import (
	"fmt"
	"time"
)

// SearchSpec is the search handed to every source adapter for a run.
type SearchSpec struct {
	Keywords  []string
	Locations []string
	Remote    bool
	// BoardSlugs parameterizes multi-tenant boards (one slug per company
	// board); single-feed sources ignore it.
	BoardSlugs []string
	// Limit caps how many postings the adapter emits; 0 means no cap.
	Limit int
}

// RawPosting is what an adapter emits: source-shaped, unnormalized, with no
// identity assigned yet.
type RawPosting struct {
	SourceID    string
	NativeID    string
	Title       string
	Company     string
	Location    string
	Remote      bool
	URL         string
	Description string
	SalaryMin   *float64
	SalaryMax   *float64
	PostedAt    *time.Time
}

// Posting is the canonical stored form of a job posting.
type Posting struct {
	IdentityKey        string             `json:"identity_key"`
	SourceID           string             `json:"source_id"`
	SourceNativeID     string             `json:"source_native_id"`
	ContentFingerprint string             `json:"content_fingerprint"`
	Title              string             `json:"title"`
	Company            string             `json:"company"`
	Location           string             `json:"location,omitempty"`
	Remote             bool               `json:"remote"`
	URL                string             `json:"url"`
	Description        string             `json:"description,omitempty"`
	SalaryMin          *float64           `json:"salary_min,omitempty"`
	SalaryMax          *float64           `json:"salary_max,omitempty"`
	PostedAt           *time.Time         `json:"posted_at,omitempty"`
	FirstSeenAt        time.Time          `json:"first_seen_at"`
	LastSeenAt         time.Time          `json:"last_seen_at"`
	Score              *float64           `json:"score,omitempty"`
	ScoreBreakdown     map[string]float64 `json:"score_breakdown,omitempty"`
	RepostCount        int                `json:"repost_count"`
	SupersededBy       string             `json:"superseded_by,omitempty"`
}

// IdentityKeyFor builds the stable identity key for a posting.
func IdentityKeyFor(sourceID, nativeID string) string {
	return fmt.Sprintf("%s:%s", sourceID, nativeID)
}

// Classification is the dedup verdict for one raw posting.
type Classification string

const (
	ClassNew       Classification = "new"
	ClassUpdated   Classification = "updated"
	ClassDuplicate Classification = "duplicate"
	ClassRepost    Classification = "repost"
)

// HealthState is a source's operational state.
type HealthState string

const (
	StateHealthy  HealthState = "healthy"
	StateDegraded HealthState = "degraded"
	StateDisabled HealthState = "disabled"
)

// SourceHealth is the persisted health record for one source.
type SourceHealth struct {
	SourceID            string      `json:"source_id"`
	State               HealthState `json:"state"`
	ConsecutiveFailures int         `json:"consecutive_failures"`
	LastSuccessAt       *time.Time  `json:"last_success_at,omitempty"`
	LastFailureAt       *time.Time  `json:"last_failure_at,omitempty"`
	LastFailureReason   string      `json:"last_failure_reason,omitempty"`
	CredentialExpiresAt *time.Time  `json:"credential_expires_at,omitempty"`
}

// Enabled reports whether the source should be fetched during a run.
func (h SourceHealth) Enabled() bool {
	return h.State != StateDisabled
}

// RunRecord summarizes one scrape cycle.
type RunRecord struct {
	RunID                    string     `json:"run_id"`
	StartedAt                time.Time  `json:"started_at"`
	FinishedAt               *time.Time `json:"finished_at,omitempty"`
	SourcesAttempted         int        `json:"sources_attempted"`
	SourcesSucceeded         int        `json:"sources_succeeded"`
	JobsIngested             int        `json:"jobs_ingested"`
	JobsDeduped              int        `json:"jobs_deduped"`
	JobsScoredAboveThreshold int        `json:"jobs_scored_above_threshold"`
}
