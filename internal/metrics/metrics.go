// Package metrics exposes Prometheus collectors for the ingestion pipeline.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	postingsTotal        *prometheus.CounterVec
	sourceRunsTotal      *prometheus.CounterVec
	fetchDurationSeconds *prometheus.HistogramVec
	batchFlushesTotal    *prometheus.CounterVec
	batchFlushSize       prometheus.Histogram
	storeRetriesTotal    prometheus.Counter
	activeWorkers        prometheus.Gauge
	sourceState          *prometheus.GaugeVec

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call multiple times.
func Init() {
	once.Do(func() {
		postingsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobscout_postings_total",
				Help: "Postings processed, labeled by source and dedup classification.",
			},
			[]string{"source", "classification"},
		)

		sourceRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobscout_source_runs_total",
				Help: "Per-source run attempts, labeled by outcome.",
			},
			[]string{"source", "outcome"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "jobscout_fetch_duration_seconds",
				Help:    "Wall-clock duration of one adapter fetch cycle.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"source"},
		)

		batchFlushesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobscout_batch_flushes_total",
				Help: "Batch writer flushes, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		batchFlushSize = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "jobscout_batch_flush_size",
				Help:    "Number of write intents per flushed batch.",
				Buckets: []float64{1, 4, 16, 32, 64, 128},
			},
		)

		storeRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "jobscout_store_retries_total",
				Help: "Write transactions retried due to writer-lock contention.",
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "jobscout_active_workers",
				Help: "Workers currently running an adapter fetch.",
			},
		)

		sourceState = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "jobscout_source_state",
				Help: "Per-source health state (0 healthy, 1 degraded, 2 disabled).",
			},
			[]string{"source"},
		)
	})
}

// Handler returns an http.Handler exposing the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePosting counts one classified posting.
func ObservePosting(source, classification string) {
	if postingsTotal == nil {
		return
	}
	postingsTotal.WithLabelValues(source, classification).Inc()
}

// ObserveSourceRun counts one per-source fetch outcome and its duration.
func ObserveSourceRun(source, outcome string, d time.Duration) {
	if sourceRunsTotal == nil {
		return
	}
	sourceRunsTotal.WithLabelValues(source, outcome).Inc()
	fetchDurationSeconds.WithLabelValues(source).Observe(d.Seconds())
}

// ObserveBatchFlush records one batch writer flush.
func ObserveBatchFlush(outcome string, size int) {
	if batchFlushesTotal == nil {
		return
	}
	batchFlushesTotal.WithLabelValues(outcome).Inc()
	batchFlushSize.Observe(float64(size))
}

// ObserveStoreRetry counts one contention retry inside the persistence layer.
func ObserveStoreRetry() {
	if storeRetriesTotal == nil {
		return
	}
	storeRetriesTotal.Inc()
}

// WorkerStarted marks a worker as busy.
func WorkerStarted() {
	if activeWorkers == nil {
		return
	}
	activeWorkers.Inc()
}

// WorkerStopped marks a worker as idle.
func WorkerStopped() {
	if activeWorkers == nil {
		return
	}
	activeWorkers.Dec()
}

// SetSourceState exports a source's health state as a gauge.
func SetSourceState(source string, state float64) {
	if sourceState == nil {
		return
	}
	sourceState.WithLabelValues(source).Set(state)
}
