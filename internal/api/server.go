// Package api exposes the operational HTTP surface for the crawler:
// liveness and readiness probes, Prometheus metrics, worker status, and
// a small v1 API for enqueueing discovery and extraction runs.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/seasonwatch/regs-crawler/internal/metrics"
	"github.com/seasonwatch/regs-crawler/internal/regs"
)

// StatusSource reports the current state of the worker loop. The worker
// satisfies this with its Snapshot method.
type StatusSource interface {
	Snapshot() regs.Heartbeat
}

// ReadyFunc reports whether downstream dependencies are reachable. A
// typical implementation pings the database pool.
type ReadyFunc func(ctx context.Context) error

// Config holds the HTTP server settings.
type Config struct {
	Addr           string        `mapstructure:"addr"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

func (c *Config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
}

// Server is the operational HTTP server. It does not own the listener;
// callers pass Handler() to an http.Server they control.
type Server struct {
	jobs   regs.JobStore
	ids    regs.IDGenerator
	clock  regs.Clock
	status StatusSource
	ready  ReadyFunc
	cfg    Config
	logger *zap.Logger
	router chi.Router
}

// New builds the server and its route table. status and ready may be nil;
// the corresponding endpoints then degrade gracefully.
func New(jobs regs.JobStore, ids regs.IDGenerator, clock regs.Clock, status StatusSource, ready ReadyFunc, cfg Config, logger *zap.Logger) *Server {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		jobs:   jobs,
		ids:    ids,
		clock:  clock,
		status: status,
		ready:  ready,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "api")),
	}
	s.routes()
	return s
}

// Handler returns the root handler for use with an http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(s.timeoutMiddleware)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if s.cfg.APIKey != "" {
			r.Use(s.apiKeyMiddleware)
		}
		r.Get("/status", s.handleStatus)
		r.Post("/runs", s.handleCreateRun)
		r.Get("/runs/{runID}", s.handleRunStatus)
	})

	s.router = r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   s.clock.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "not ready: %v", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		writeError(w, http.StatusNotFound, "no worker attached")
		return
	}
	hb := s.status.Snapshot()
	writeJSON(w, http.StatusOK, hb)
}

// createRunRequest enqueues one job per state, or per state and species
// pair for extraction runs.
type createRunRequest struct {
	JobType    string   `json:"job_type"`
	StateCodes []string `json:"state_codes"`
	Species    []string `json:"species"`
	Tier       string   `json:"tier"`
}

type createRunResponse struct {
	RunID  string   `json:"run_id"`
	JobIDs []string `json:"job_ids"`
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}

	jobType := regs.JobType(req.JobType)
	switch jobType {
	case regs.JobTypeDiscoverState, regs.JobTypeExtractState:
	default:
		writeError(w, http.StatusBadRequest, "unknown job_type %q", req.JobType)
		return
	}
	if len(req.StateCodes) == 0 {
		writeError(w, http.StatusBadRequest, "state_codes is required")
		return
	}
	if jobType == regs.JobTypeExtractState && len(req.Species) == 0 {
		writeError(w, http.StatusBadRequest, "species is required for %s runs", jobType)
		return
	}

	tier := regs.Tier(req.Tier)
	if tier == "" {
		tier = regs.TierBasic
	}
	switch tier {
	case regs.TierBasic, regs.TierPro:
	default:
		writeError(w, http.StatusBadRequest, "unknown tier %q", req.Tier)
		return
	}

	runID := s.ids.NewID()
	if err := s.jobs.CreateRun(r.Context(), runID); err != nil {
		s.logger.Error("create run failed", zap.String("run_id", runID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "create run failed")
		return
	}
	jobs := buildRunJobs(runID, jobType, tier, req.StateCodes, req.Species)

	ids := make([]string, 0, len(jobs))
	for _, job := range jobs {
		id, err := s.jobs.Enqueue(r.Context(), job)
		if err != nil {
			s.logger.Error("enqueue failed",
				zap.String("run_id", runID),
				zap.String("state_code", job.StateCode),
				zap.Error(err))
			writeError(w, http.StatusInternalServerError, "enqueue failed after %d jobs", len(ids))
			return
		}
		ids = append(ids, id)
	}

	s.logger.Info("run created",
		zap.String("run_id", runID),
		zap.String("job_type", string(jobType)),
		zap.Int("jobs", len(ids)))
	writeJSON(w, http.StatusCreated, createRunResponse{RunID: runID, JobIDs: ids})
}

// buildRunJobs expands the request into the job list: one discovery job
// per state, or the cross product of states and species for extraction.
func buildRunJobs(runID string, jobType regs.JobType, tier regs.Tier, states, species []string) []regs.Job {
	var jobs []regs.Job
	for _, state := range states {
		state = strings.ToUpper(strings.TrimSpace(state))
		if state == "" {
			continue
		}
		if jobType == regs.JobTypeDiscoverState {
			jobs = append(jobs, regs.Job{RunID: runID, Type: jobType, StateCode: state, Tier: tier})
			continue
		}
		for _, sp := range species {
			sp = strings.ToLower(strings.TrimSpace(sp))
			if sp == "" {
				continue
			}
			jobs = append(jobs, regs.Job{RunID: runID, Type: jobType, StateCode: state, Species: sp, Tier: tier})
		}
	}
	return jobs
}

func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	status, err := s.jobs.RunStatus(r.Context(), runID)
	if err != nil {
		if errors.Is(err, regs.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run %s not found", runID)
			return
		}
		writeError(w, http.StatusInternalServerError, "run lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"run_id": runID, "status": string(status)})
}

type contextKey struct{ name string }

var requestIDKey = &contextKey{"request_id"}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		id, _ := r.Context().Value(requestIDKey).(string)
		s.logger.Info("request",
			zap.String("request_id", id),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rw.status),
			zap.Duration("elapsed", time.Since(start)))
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("handler panic", zap.Any("panic", rec), zap.String("path", r.URL.Path))
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) timeoutMiddleware(next http.Handler) http.Handler {
	return http.TimeoutHandler(next, s.cfg.RequestTimeout, `{"error":"request timed out"}`)
}

func (s *Server) apiKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-API-Key")
		if key == "" {
			key = r.URL.Query().Get("api_key")
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.cfg.APIKey)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid api key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, map[string]string{"error": fmt.Sprintf(format, args...)})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(status int) {
	rw.status = status
	rw.ResponseWriter.WriteHeader(status)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
