// Package api implements the admin HTTP control surface: trigger-all,
// trigger-one, pause/resume, queue stats, and breaker/limiter diagnostics
// over the scheduler (C9).
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ingestd/mediaforge/internal/config"
	"github.com/ingestd/mediaforge/internal/scheduler"
)

// SchedulerControl is the subset of *scheduler.Scheduler the admin API
// drives, narrowed to an interface so handler tests can substitute a fake
// instead of a live Redis/Postgres-backed scheduler.
type SchedulerControl interface {
	TriggerAll(ctx context.Context) error
	TriggerOne(ctx context.Context, threadID string) error
	Pause() error
	Resume() error
	Stats() (scheduler.QueueStats, error)
}

// StateReporter reports per-source circuit breaker state.
type StateReporter interface {
	Snapshot() map[string]string
}

// TokenReporter reports per-source rate limiter token availability.
type TokenReporter interface {
	Snapshot() map[string]float64
}

// Server provides the admin REST API described in spec §6.
type Server struct {
	mux    *http.ServeMux
	addr   string
	logger *slog.Logger

	scheduler SchedulerControl
	breakers  StateReporter
	limiters  TokenReporter
}

// NewServer creates an admin API server. breakers/limiters may be nil,
// omitting those diagnostics sections.
func NewServer(addr string, scheduler SchedulerControl, breakers StateReporter, limiters TokenReporter, logger *slog.Logger) *Server {
	s := &Server{
		mux:       http.NewServeMux(),
		addr:      addr,
		logger:    logger.With("component", "api_server"),
		scheduler: scheduler,
		breakers:  breakers,
		limiters:  limiters,
	}
	s.registerRoutes()
	return s
}

// Start starts the admin API server.
func (s *Server) Start() error {
	s.logger.Info("admin API server starting", "addr", s.addr)
	go func() {
		if err := http.ListenAndServe(s.addr, s.mux); err != nil {
			s.logger.Error("admin API server error", "error", err)
		}
	}()
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/version", s.handleVersion)

	s.mux.HandleFunc("POST /api/trigger", s.handleTriggerAll)
	s.mux.HandleFunc("POST /api/trigger/{threadID}", s.handleTriggerOne)
	s.mux.HandleFunc("POST /api/pause", s.handlePause)
	s.mux.HandleFunc("POST /api/resume", s.handleResume)
	s.mux.HandleFunc("GET /api/queue/stats", s.handleQueueStats)

	s.mux.HandleFunc("GET /api/breakers", s.handleBreakerState)
	s.mux.HandleFunc("GET /api/limiters", s.handleLimiterState)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"version": config.Version})
}

func (s *Server) handleTriggerAll(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		s.jsonResponse(w, http.StatusServiceUnavailable, map[string]string{"error": "scheduler not initialized"})
		return
	}
	if err := s.scheduler.TriggerAll(r.Context()); err != nil {
		s.jsonResponse(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "triggered"})
}

func (s *Server) handleTriggerOne(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("threadID")
	if s.scheduler == nil {
		s.jsonResponse(w, http.StatusServiceUnavailable, map[string]string{"error": "scheduler not initialized"})
		return
	}
	if err := s.scheduler.TriggerOne(r.Context(), threadID); err != nil {
		s.jsonResponse(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "triggered", "thread_id": threadID})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		s.jsonResponse(w, http.StatusServiceUnavailable, map[string]string{"error": "scheduler not initialized"})
		return
	}
	if err := s.scheduler.Pause(); err != nil {
		s.jsonResponse(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		s.jsonResponse(w, http.StatusServiceUnavailable, map[string]string{"error": "scheduler not initialized"})
		return
	}
	if err := s.scheduler.Resume(); err != nil {
		s.jsonResponse(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "resumed"})
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		s.jsonResponse(w, http.StatusServiceUnavailable, map[string]string{"error": "scheduler not initialized"})
		return
	}
	stats, err := s.scheduler.Stats()
	if err != nil {
		s.jsonResponse(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	s.jsonResponse(w, http.StatusOK, stats)
}

func (s *Server) handleBreakerState(w http.ResponseWriter, r *http.Request) {
	if s.breakers == nil {
		s.jsonResponse(w, http.StatusOK, map[string]string{})
		return
	}
	s.jsonResponse(w, http.StatusOK, s.breakers.Snapshot())
}

func (s *Server) handleLimiterState(w http.ResponseWriter, r *http.Request) {
	if s.limiters == nil {
		s.jsonResponse(w, http.StatusOK, map[string]float64{})
		return
	}
	s.jsonResponse(w, http.StatusOK, s.limiters.Snapshot())
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("encode response failed", "error", err)
	}
}
