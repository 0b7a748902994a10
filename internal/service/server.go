// internal/service/server.go
// Package service exposes the orchestrator over HTTP.
package service

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/agent"
	"github.com/xkilldash9x/webpilot/internal/config"
)

// TaskOrchestrator is the slice of the agent API the HTTP layer consumes.
// Implemented by *agent.Orchestrator.
type TaskOrchestrator interface {
	StartTask(ctx context.Context, goal, sessionID string) (*agent.Run, error)
	ResumeWithChosenAction(ctx context.Context, runID string, chosenIndex int) (*agent.Run, error)
	SubmitFollowUp(ctx context.Context, sessionID, goal string) (*agent.Run, error)
	Terminate(ctx context.Context, sessionID string) ([]byte, error)
	GetRun(runID string) (*agent.Run, bool)
}

// Server serves the task API. Task endpoints are synchronous: the response
// arrives once the run reaches COMPLETE, FAILED, or SUSPENDED.
type Server struct {
	logger *zap.Logger
	cfg    config.ServerConfig
	orch   TaskOrchestrator
	http   *http.Server
}

// NewServer builds the HTTP server around the orchestrator.
func NewServer(logger *zap.Logger, cfg config.ServerConfig, orch TaskOrchestrator) *Server {
	s := &Server{
		logger: logger.Named("http"),
		cfg:    cfg,
		orch:   orch,
	}
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Routes assembles the router. Exposed separately so tests can drive the
// handlers through httptest without binding a port.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/tasks", s.handleStartTask)
		r.Get("/runs/{runID}", s.handleGetRun)
		r.Post("/runs/{runID}/resume", s.handleResume)
		r.Post("/sessions/{sessionID}/followup", s.handleFollowUp)
		r.Delete("/sessions/{sessionID}", s.handleTerminate)
	})
	return r
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	s.logger.Info("HTTP API listening", zap.String("addr", s.cfg.Addr))
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

type startTaskRequest struct {
	Goal      string `json:"goal"`
	SessionID string `json:"sessionId,omitempty"`
}

type resumeRequest struct {
	ChosenIndex int `json:"chosenIndex"`
}

type followUpRequest struct {
	Goal string `json:"goal"`
}

type terminateResponse struct {
	Screenshot string `json:"screenshot,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleStartTask(w http.ResponseWriter, r *http.Request) {
	var req startTaskRequest
	if err := jsoniter.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Goal == "" {
		s.writeError(w, http.StatusBadRequest, "goal is required")
		return
	}

	run, err := s.orch.StartTask(r.Context(), req.Goal, req.SessionID)
	if err != nil {
		var initErr *schemas.SessionInitError
		if errors.As(err, &initErr) {
			s.writeError(w, http.StatusBadGateway, initErr.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeRun(w, run)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.orch.GetRun(chi.URLParam(r, "runID"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	s.writeJSON(w, http.StatusOK, run.Snapshot())
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	var req resumeRequest
	if err := jsoniter.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	run, err := s.orch.ResumeWithChosenAction(r.Context(), chi.URLParam(r, "runID"), req.ChosenIndex)
	if err != nil {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	s.writeRun(w, run)
}

func (s *Server) handleFollowUp(w http.ResponseWriter, r *http.Request) {
	var req followUpRequest
	if err := jsoniter.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Goal == "" {
		s.writeError(w, http.StatusBadRequest, "goal is required")
		return
	}

	run, err := s.orch.SubmitFollowUp(r.Context(), chi.URLParam(r, "sessionID"), req.Goal)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeRun(w, run)
}

func (s *Server) handleTerminate(w http.ResponseWriter, r *http.Request) {
	screenshot, err := s.orch.Terminate(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if screenshot == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.writeJSON(w, http.StatusOK, terminateResponse{
		Screenshot: base64.StdEncoding.EncodeToString(screenshot),
	})
}

// writeRun maps a finished run onto a status code: a FAILED run is the
// caller's 500-equivalent, everything else is a success with the snapshot.
func (s *Server) writeRun(w http.ResponseWriter, run *agent.Run) {
	status := http.StatusOK
	if run.State() == agent.StateFailed {
		status = http.StatusInternalServerError
	}
	s.writeJSON(w, status, run.Snapshot())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := jsoniter.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

// logRequests emits one structured log line per request.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("Request handled",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}
