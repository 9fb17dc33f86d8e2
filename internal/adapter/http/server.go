// Package http exposes the service's operational endpoints: liveness,
// readiness, Prometheus metrics, and read-only views of the job log.
package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/energy-data-ingest/internal/store"
)

// ReadinessChecker reports whether the service is ready to serve traffic.
type ReadinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// JobLog is the read side of the job tracker backing /jobs and /status.
type JobLog interface {
	Recent(ctx context.Context, limit int) ([]store.Job, error)
	Stats(ctx context.Context, days int) (store.JobStats, error)
}

// Server exposes health, readiness, metrics, and job-log HTTP endpoints.
type Server struct {
	httpServer *http.Server
	jobs       JobLog
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics, /jobs,
// and /status routes.
func NewServer(addr string, ready ReadinessChecker, jobs JobLog, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		jobs:   jobs,
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", handleReady(ready))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /jobs", s.handleJobs)
	mux.HandleFunc("GET /status", s.handleStatus)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func handleReady(checker ReadinessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := checker.CheckReadiness(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

type jobView struct {
	ID               int64           `json:"id"`
	JobName          string          `json:"job_name"`
	DataSource       string          `json:"data_source"`
	StartTime        time.Time       `json:"start_time"`
	EndTime          *time.Time      `json:"end_time,omitempty"`
	Status           store.JobStatus `json:"status"`
	RecordsProcessed int             `json:"records_processed"`
	RecordsInserted  int             `json:"records_inserted"`
	DurationSeconds  *float64        `json:"processing_duration_seconds,omitempty"`
	ErrorMessage     *string         `json:"error_message,omitempty"`
}

// handleJobs serves the most recent ingestion runs. ?limit caps the count,
// default 20, max 200.
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		if n > 200 {
			n = 200
		}
		limit = n
	}

	jobs, err := s.jobs.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("cannot list jobs", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "job log unavailable"})
		return
	}

	views := make([]jobView, len(jobs))
	for i, j := range jobs {
		views[i] = jobView{
			ID:               j.ID,
			JobName:          j.JobName,
			DataSource:       string(j.DataSource),
			StartTime:        j.StartTime,
			EndTime:          j.EndTime,
			Status:           j.Status,
			RecordsProcessed: j.RecordsProcessed,
			RecordsInserted:  j.RecordsInserted,
			DurationSeconds:  j.DurationSeconds,
			ErrorMessage:     j.ErrorMessage,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": views})
}

// handleStatus serves aggregate run statistics. ?days controls the trailing
// window, default 7.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	days := 7
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "days must be a positive integer"})
			return
		}
		days = n
	}

	stats, err := s.jobs.Stats(r.Context(), days)
	if err != nil {
		s.logger.Error("cannot compute job stats", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "job log unavailable"})
		return
	}

	successRate := 0.0
	if stats.TotalJobs > 0 {
		successRate = float64(stats.SuccessfulJobs) / float64(stats.TotalJobs)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"window_days":          days,
		"total_jobs":           stats.TotalJobs,
		"successful_jobs":      stats.SuccessfulJobs,
		"failed_jobs":          stats.FailedJobs,
		"success_rate":         successRate,
		"records_processed":    stats.RecordsProcessed,
		"records_inserted":     stats.RecordsInserted,
		"avg_duration_seconds": stats.AvgDuration,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort health response
}
