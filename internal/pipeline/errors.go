package pipeline

import (
	"errors"
	"fmt"
)

// SourceUnavailableError marks a fetch that failed after retry exhaustion for
// reasons external to us: network errors, timeouts, 5xx, rate limiting.
type SourceUnavailableError struct {
	SourceID string
	Err      error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("source %s unavailable: %v", e.SourceID, e.Err)
}

func (e *SourceUnavailableError) Unwrap() error {
	return e.Err
}

// ParseDriftError marks a page or payload that no longer matches what the
// adapter expects: the source changed its markup or schema. Retrying will not
// help; the adapter needs attention.
type ParseDriftError struct {
	SourceID string
	Reason   string
	Err      error
	// Body is the raw payload that failed to parse, kept for snapshotting.
	// It never appears in the error string.
	Body []byte
}

func (e *ParseDriftError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("source %s parse drift: %s: %v", e.SourceID, e.Reason, e.Err)
	}
	return fmt.Sprintf("source %s parse drift: %s", e.SourceID, e.Reason)
}

func (e *ParseDriftError) Unwrap() error {
	return e.Err
}

// StorageContentionError marks a write that still hit writer-lock contention
// after the persistence layer exhausted its retries.
type StorageContentionError struct {
	Err error
}

func (e *StorageContentionError) Error() string {
	return fmt.Sprintf("storage contention: %v", e.Err)
}

func (e *StorageContentionError) Unwrap() error {
	return e.Err
}

// ProfileInvalidError marks a preference profile rejected at the config
// boundary.
type ProfileInvalidError struct {
	Reason string
}

func (e *ProfileInvalidError) Error() string {
	return "invalid profile: " + e.Reason
}

// IsSourceUnavailable reports whether err is a SourceUnavailableError.
func IsSourceUnavailable(err error) bool {
	var target *SourceUnavailableError
	return errors.As(err, &target)
}

// IsParseDrift reports whether err is a ParseDriftError.
func IsParseDrift(err error) bool {
	var target *ParseDriftError
	return errors.As(err, &target)
}
