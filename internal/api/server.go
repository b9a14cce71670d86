// Package api exposes the HTTP status and query surface for the ingestion
// service.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hiresignal/jobscout/internal/metrics"
	"github.com/hiresignal/jobscout/internal/pipeline"
)

// maxJobsLimit caps the /v1/jobs page size.
const maxJobsLimit = 500

// Resetter manually re-enables a disabled source.
type Resetter interface {
	Reset(ctx context.Context, sourceID string) error
}

// Pinger reports whether the backing store answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server wires HTTP handlers to the store and health monitor.
type Server struct {
	router   chi.Router
	postings pipeline.PostingReader
	runs     pipeline.RunStore
	health   pipeline.HealthStore
	resetter Resetter
	pinger   Pinger
	sources  map[string]struct{}
	minScore float64
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes. knownSources
// bounds which source IDs the reset endpoint accepts.
func NewServer(
	postings pipeline.PostingReader,
	runs pipeline.RunStore,
	healthStore pipeline.HealthStore,
	resetter Resetter,
	pinger Pinger,
	knownSources []string,
	defaultMinScore float64,
	logger *zap.Logger,
) *Server {
	s := &Server{
		postings: postings,
		runs:     runs,
		health:   healthStore,
		resetter: resetter,
		pinger:   pinger,
		sources:  make(map[string]struct{}, len(knownSources)),
		minScore: defaultMinScore,
		logger:   logger,
	}
	for _, src := range knownSources {
		s.sources[src] = struct{}{}
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/jobs", s.listJobs)
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.listRuns)
			r.Get("/latest", s.latestRun)
		})
		r.Route("/sources", func(r chi.Router) {
			r.Get("/", s.listSources)
			r.Post("/{source_id}/reset", s.resetSource)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if err := s.pinger.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store not ready")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// listJobs serves scored postings at or above min_score, best first. This is
// the pull surface downstream notifiers poll.
func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	minScore := s.minScore
	if raw := r.URL.Query().Get("min_score"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 || v > 1 {
			writeError(w, http.StatusBadRequest, "min_score must be a number in [0,1]")
			return
		}
		minScore = v
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if v > maxJobsLimit {
			v = maxJobsLimit
		}
		limit = v
	}

	postings, err := s.postings.ListPostingsAboveScore(r.Context(), minScore, limit)
	if err != nil {
		s.logger.Error("list postings", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list postings")
		return
	}
	if postings == nil {
		postings = []pipeline.Posting{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"min_score": minScore,
		"count":     len(postings),
		"jobs":      postings,
	})
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = v
	}
	runs, err := s.runs.ListRuns(r.Context(), limit)
	if err != nil {
		s.logger.Error("list runs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []pipeline.RunRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) latestRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.LatestRun(r.Context())
	if err != nil {
		s.logger.Error("latest run", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load latest run")
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "no runs recorded yet")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) listSources(w http.ResponseWriter, r *http.Request) {
	records, err := s.health.ListSourceHealth(r.Context())
	if err != nil {
		s.logger.Error("list source health", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list sources")
		return
	}

	// Sources without a persisted record yet are implicitly healthy.
	byID := make(map[string]pipeline.SourceHealth, len(records))
	for _, rec := range records {
		byID[rec.SourceID] = rec
	}
	out := make([]pipeline.SourceHealth, 0, len(s.sources))
	for src := range s.sources {
		if rec, ok := byID[src]; ok {
			out = append(out, rec)
			continue
		}
		out = append(out, pipeline.SourceHealth{SourceID: src, State: pipeline.StateHealthy})
	}
	sortHealth(out)
	writeJSON(w, http.StatusOK, map[string]any{"sources": out})
}

func (s *Server) resetSource(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "source_id")
	if _, ok := s.sources[sourceID]; !ok {
		writeError(w, http.StatusNotFound, "unknown source")
		return
	}
	if err := s.resetter.Reset(r.Context(), sourceID); err != nil {
		s.logger.Error("reset source", zap.String("source", sourceID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to reset source")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"source_id": sourceID,
		"state":     string(pipeline.StateHealthy),
	})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Debug("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)))
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
