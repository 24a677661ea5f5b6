// Package api exposes the HTTP interface for the dispatcher service.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/webgrove/fetchd/internal/dispatcher"
	"github.com/webgrove/fetchd/internal/fetchd"
)

// Server wires HTTP handlers to the dispatcher and the queue. It serves
// observability endpoints and job submission; all fetch work still flows
// through the dispatch loop.
type Server struct {
	router     chi.Router
	queue      fetchd.Queue
	dispatcher *dispatcher.Dispatcher
	monitor    fetchd.Monitor
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	queue fetchd.Queue,
	d *dispatcher.Dispatcher,
	monitor fetchd.Monitor,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		queue:      queue,
		dispatcher: d,
		monitor:    monitor,
		logger:     logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Get("/stats", s.stats)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/jobs", s.submitJob)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// Ready means the loop is running, not that resources are free: a
	// throttled dispatcher is still healthy.
	state := s.dispatcher.State()
	if state == dispatcher.StateStopped {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "stopped",
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
		"state":  string(state),
	})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	snap := s.monitor.Check(r.Context())
	s.writeJSON(w, http.StatusOK, map[string]any{
		"state":     string(s.dispatcher.State()),
		"stats":     s.dispatcher.Stats(),
		"resources": snap,
	})
}

type submitJobRequest struct {
	Target   string         `json:"target"`
	Priority int            `json:"priority"`
	Metadata map[string]any `json:"metadata"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Target == "" {
		s.writeError(w, http.StatusBadRequest, "target required")
		return
	}
	jobID, err := s.queue.Enqueue(r.Context(), fetchd.Job{
		Target:   req.Target,
		Priority: req.Priority,
		Metadata: req.Metadata,
	})
	if err != nil {
		s.logger.Error("enqueue failed", zap.String("target", req.Target), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
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
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
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

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
