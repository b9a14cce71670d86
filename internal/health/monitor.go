// Package health tracks per-source reliability, disables sources that keep
// failing, and probes disabled sources for recovery.
package health

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hiresignal/jobscout/internal/metrics"
	"github.com/hiresignal/jobscout/internal/pipeline"
)

// maxReasonLen bounds the persisted failure reason.
const maxReasonLen = 512

// Monitor implements pipeline.HealthMonitor over a persistent health store.
type Monitor struct {
	store     pipeline.HealthStore
	clock     pipeline.Clock
	threshold int
	credWarn  time.Duration
	logger    *zap.Logger
}

// NewMonitor builds a monitor. threshold is the consecutive-failure count at
// which a source is disabled.
func NewMonitor(store pipeline.HealthStore, clock pipeline.Clock, threshold, credWarnDays int, logger *zap.Logger) *Monitor {
	if threshold <= 0 {
		threshold = 3
	}
	if credWarnDays <= 0 {
		credWarnDays = 7
	}
	return &Monitor{
		store:     store,
		clock:     clock,
		threshold: threshold,
		credWarn:  time.Duration(credWarnDays) * 24 * time.Hour,
		logger:    logger,
	}
}

// EnabledSources filters candidates down to sources not currently disabled.
// Sources with no health record yet are implicitly healthy. Credentials close
// to expiry are surfaced as warnings, not failures.
func (m *Monitor) EnabledSources(ctx context.Context, candidates []string) ([]string, error) {
	now := m.clock.Now()
	enabled := make([]string, 0, len(candidates))
	for _, sourceID := range candidates {
		h, err := m.store.GetSourceHealth(ctx, sourceID)
		if err != nil {
			return nil, fmt.Errorf("load health for %s: %w", sourceID, err)
		}
		if h == nil {
			enabled = append(enabled, sourceID)
			continue
		}
		if h.CredentialExpiresAt != nil {
			until := h.CredentialExpiresAt.Sub(now)
			if until < m.credWarn {
				m.logger.Warn("source credential expiring",
					zap.String("source", sourceID),
					zap.Time("expires_at", *h.CredentialExpiresAt),
					zap.Duration("remaining", until))
			}
		}
		if !h.Enabled() {
			m.logger.Debug("source disabled, skipping", zap.String("source", sourceID))
			continue
		}
		enabled = append(enabled, sourceID)
	}
	return enabled, nil
}

// RecordSuccess resets the failure streak and marks the source healthy.
func (m *Monitor) RecordSuccess(ctx context.Context, sourceID string) error {
	now := m.clock.Now()
	h, err := m.loadOrInit(ctx, sourceID)
	if err != nil {
		return err
	}
	h.State = pipeline.StateHealthy
	h.ConsecutiveFailures = 0
	h.LastSuccessAt = &now
	h.LastFailureReason = ""
	return m.put(ctx, *h)
}

// RecordFailure increments the failure streak. Parse drift disables the
// source immediately: retrying a broken parser only burns requests. Other
// failures degrade first, then disable at the threshold.
func (m *Monitor) RecordFailure(ctx context.Context, sourceID string, cause error) error {
	now := m.clock.Now()
	h, err := m.loadOrInit(ctx, sourceID)
	if err != nil {
		return err
	}
	h.ConsecutiveFailures++
	h.LastFailureAt = &now
	h.LastFailureReason = truncate(cause.Error(), maxReasonLen)

	switch {
	case pipeline.IsParseDrift(cause):
		h.State = pipeline.StateDisabled
		m.logger.Warn("source disabled on parse drift",
			zap.String("source", sourceID), zap.Error(cause))
	case h.ConsecutiveFailures >= m.threshold:
		h.State = pipeline.StateDisabled
		m.logger.Warn("source disabled after repeated failures",
			zap.String("source", sourceID),
			zap.Int("consecutive_failures", h.ConsecutiveFailures))
	default:
		h.State = pipeline.StateDegraded
	}
	return m.put(ctx, *h)
}

// Reset manually re-enables a source regardless of its failure history.
func (m *Monitor) Reset(ctx context.Context, sourceID string) error {
	h, err := m.loadOrInit(ctx, sourceID)
	if err != nil {
		return err
	}
	h.State = pipeline.StateHealthy
	h.ConsecutiveFailures = 0
	h.LastFailureReason = ""
	m.logger.Info("source manually reset", zap.String("source", sourceID))
	return m.put(ctx, *h)
}

// Probe runs smoke tests against disabled sources and re-enables the ones
// that answer.
func (m *Monitor) Probe(ctx context.Context, adapters []pipeline.Adapter) {
	for _, a := range adapters {
		h, err := m.store.GetSourceHealth(ctx, a.Name())
		if err != nil {
			m.logger.Error("probe: load health", zap.String("source", a.Name()), zap.Error(err))
			continue
		}
		if h == nil || h.Enabled() {
			continue
		}
		if err := a.Smoke(ctx); err != nil {
			m.logger.Debug("smoke test still failing",
				zap.String("source", a.Name()), zap.Error(err))
			continue
		}
		if err := m.RecordSuccess(ctx, a.Name()); err != nil {
			m.logger.Error("probe: record success", zap.String("source", a.Name()), zap.Error(err))
			continue
		}
		m.logger.Info("source recovered via smoke test", zap.String("source", a.Name()))
	}
}

func (m *Monitor) loadOrInit(ctx context.Context, sourceID string) (*pipeline.SourceHealth, error) {
	h, err := m.store.GetSourceHealth(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("load health for %s: %w", sourceID, err)
	}
	if h == nil {
		h = &pipeline.SourceHealth{SourceID: sourceID, State: pipeline.StateHealthy}
	}
	return h, nil
}

func (m *Monitor) put(ctx context.Context, h pipeline.SourceHealth) error {
	if err := m.store.PutSourceHealth(ctx, h); err != nil {
		return fmt.Errorf("persist health for %s: %w", h.SourceID, err)
	}
	metrics.SetSourceState(h.SourceID, stateGauge(h.State))
	return nil
}

func stateGauge(s pipeline.HealthState) float64 {
	switch s {
	case pipeline.StateDegraded:
		return 1
	case pipeline.StateDisabled:
		return 2
	default:
		return 0
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
