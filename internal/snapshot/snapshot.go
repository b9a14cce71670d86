// Package snapshot persists the raw page bodies behind parse-drift failures
// so a broken adapter can be debugged against the exact payload that broke it.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/hiresignal/jobscout/internal/pipeline"
)

// Sink writes drift snapshots under a root directory, one subdirectory per
// source.
type Sink struct {
	root     string
	maxBytes int64
	clock    pipeline.Clock
	logger   *zap.Logger
}

// Meta is the sidecar metadata written next to each snapshot body.
type Meta struct {
	SourceID   string    `json:"source_id"`
	Reason     string    `json:"reason"`
	CapturedAt time.Time `json:"captured_at"`
	BodyBytes  int       `json:"body_bytes"`
}

// NewSink creates the root directory and returns a sink.
func NewSink(root string, maxBytes int64, clock pipeline.Clock, logger *zap.Logger) (*Sink, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create snapshot dir %s: %w", root, err)
	}
	return &Sink{
		root:     root,
		maxBytes: maxBytes,
		clock:    clock,
		logger:   logger,
	}, nil
}

// SaveDrift writes the drift's raw body plus a metadata sidecar and returns
// the body path. Drifts without a captured body only get the sidecar.
func (s *Sink) SaveDrift(drift *pipeline.ParseDriftError) (string, error) {
	now := s.clock.Now()
	dir := filepath.Join(s.root, drift.SourceID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create source snapshot dir: %w", err)
	}

	stamp := now.Format("20060102T150405Z")
	bodyPath := ""
	if len(drift.Body) > 0 {
		body := drift.Body
		if s.maxBytes > 0 && int64(len(body)) > s.maxBytes {
			body = body[:s.maxBytes]
		}
		bodyPath = filepath.Join(dir, stamp+".html")
		if err := os.WriteFile(bodyPath, body, 0o600); err != nil {
			return "", fmt.Errorf("write snapshot body %s: %w", bodyPath, err)
		}
	}

	meta := Meta{
		SourceID:   drift.SourceID,
		Reason:     drift.Reason,
		CapturedAt: now,
		BodyBytes:  len(drift.Body),
	}
	payload, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return bodyPath, fmt.Errorf("marshal snapshot meta: %w", err)
	}
	metaPath := filepath.Join(dir, stamp+".json")
	if err := os.WriteFile(metaPath, payload, 0o600); err != nil {
		return bodyPath, fmt.Errorf("write snapshot meta %s: %w", metaPath, err)
	}

	s.logger.Info("parse drift snapshot saved",
		zap.String("source", drift.SourceID),
		zap.String("path", metaPath),
		zap.Int("body_bytes", len(drift.Body)))
	return bodyPath, nil
}
