// Package api exposes the HTTP interface for the version-check service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/verwatch/verwatch/internal/check"
	"github.com/verwatch/verwatch/internal/metrics"
	"github.com/verwatch/verwatch/internal/repository"
	"github.com/verwatch/verwatch/internal/scheduler"
)

// Orchestrator is the scheduler surface the API needs.
type Orchestrator interface {
	Submit(packageID string, spec check.SourceSpec, priority check.Priority) (*scheduler.Handle, error)
	Status(key check.TaskKey) (check.TaskState, bool)
	Cancel(key check.TaskKey) bool
}

// Config controls server middleware.
type Config struct {
	RequestTimeout time.Duration
	APIKey         string
}

// Server wires HTTP handlers to the scheduler and repository.
type Server struct {
	router chi.Router
	sched  Orchestrator
	repo   check.Repository
	logger *zap.Logger
	cfg    Config
}

// NewServer constructs a Server with middleware and routes.
func NewServer(sched Orchestrator, repo check.Repository, logger *zap.Logger, cfg Config) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	s := &Server{
		sched:  sched,
		repo:   repo,
		logger: logger,
		cfg:    cfg,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(cfg.RequestTimeout))
	if cfg.APIKey != "" {
		r.Use(apiKeyMiddleware(cfg.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/checks", func(r chi.Router) {
			r.Post("/", s.submitCheck)
			r.Post("/batch", s.submitBatch)
			r.Get("/{package}/{source}", s.getCheckStatus)
			r.Post("/{package}/{source}/cancel", s.cancelCheck)
		})
		r.Get("/results/{package}", s.listResults)
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
	if s.repo != nil {
		if _, err := s.repo.LoadPendingPackages(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "repository unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type checkRequest struct {
	PackageID string           `json:"package_id"`
	Source    check.SourceSpec `json:"source"`
	Priority  string           `json:"priority"`
}

type checkAccepted struct {
	Task  string `json:"task"`
	State string `json:"state"`
}

func (s *Server) submitCheck(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	accepted, err := s.enqueue(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, accepted)
}

type batchRequest struct {
	Checks []checkRequest `json:"checks"`
}

func (s *Server) submitBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Checks) == 0 {
		writeError(w, http.StatusBadRequest, "checks are required")
		return
	}
	accepted := make([]checkAccepted, 0, len(req.Checks))
	var rejected []map[string]string
	for _, c := range req.Checks {
		item, err := s.enqueue(c)
		if err != nil {
			rejected = append(rejected, map[string]string{
				"package_id": c.PackageID,
				"error":      err.Error(),
			})
			continue
		}
		accepted = append(accepted, item)
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"accepted": accepted,
		"rejected": rejected,
	})
}

func (s *Server) enqueue(req checkRequest) (checkAccepted, error) {
	handle, err := s.sched.Submit(req.PackageID, req.Source, check.ParsePriority(req.Priority))
	if err != nil {
		return checkAccepted{}, err
	}
	state := string(check.TaskPending)
	if current, ok := s.sched.Status(handle.Key()); ok {
		state = string(current)
	}
	return checkAccepted{Task: handle.Key().String(), State: state}, nil
}

func (s *Server) getCheckStatus(w http.ResponseWriter, r *http.Request) {
	key := check.TaskKey{
		PackageID:  chi.URLParam(r, "package"),
		SourceKind: chi.URLParam(r, "source"),
	}
	state, ok := s.sched.Status(key)
	if !ok {
		writeError(w, http.StatusNotFound, "no live check for "+key.String())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"task":  key.String(),
		"state": string(state),
	})
}

func (s *Server) cancelCheck(w http.ResponseWriter, r *http.Request) {
	key := check.TaskKey{
		PackageID:  chi.URLParam(r, "package"),
		SourceKind: chi.URLParam(r, "source"),
	}
	if !s.sched.Cancel(key) {
		writeError(w, http.StatusNotFound, "no live check for "+key.String())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"task":  key.String(),
		"state": string(check.TaskCancelled),
	})
}

func (s *Server) listResults(w http.ResponseWriter, r *http.Request) {
	packageID := chi.URLParam(r, "package")
	if s.repo == nil {
		writeError(w, http.StatusNotImplemented, "no repository configured")
		return
	}
	results, err := s.repo.ListResults(r.Context(), packageID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "package not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load results")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"package_id": packageID,
		"results":    results,
	})
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
