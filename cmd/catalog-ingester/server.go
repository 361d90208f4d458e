package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/game-catalog-ingest/pkg/ingest"
	"github.com/Sternrassler/game-catalog-ingest/pkg/logging"
	"github.com/Sternrassler/game-catalog-ingest/pkg/metrics"
	"github.com/Sternrassler/game-catalog-ingest/pkg/runstatus"
)

// ingestion is the surface of *ingest.Orchestrator used by the handlers.
type ingestion interface {
	Start(ctx context.Context) (string, error)
	Stop(ctx context.Context) (bool, error)
	Record(ctx context.Context) (runstatus.Record, bool, error)
	Progress() ingest.Progress
}

// checkFunc is a readiness probe of one dependency.
type checkFunc func(ctx context.Context) error

type server struct {
	ingestion ingestion
	checks    map[string]checkFunc
	logger    zerolog.Logger
}

func newServer(ing ingestion, checks map[string]checkFunc) *server {
	return &server{
		ingestion: ing,
		checks:    checks,
		logger:    logging.NewLogger(logging.ComponentServer),
	}
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /ingestion/start", s.handleStart)
	mux.HandleFunc("POST /ingestion/stop", s.handleStop)
	mux.HandleFunc("GET /ingestion/status", s.handleStatus)
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ready", s.readyHandler)
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

type startResponse struct {
	RunID string `json:"run_id"`
}

type stopResponse struct {
	Stopped bool `json:"stopped"`
}

type statusResponse struct {
	Status   runstatus.Status  `json:"status"`
	Run      *runstatus.Record `json:"run,omitempty"`
	Progress *ingest.Progress  `json:"progress,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *server) handleStart(w http.ResponseWriter, r *http.Request) {
	runID, err := s.ingestion.Start(r.Context())
	switch {
	case errors.Is(err, ingest.ErrAlreadyInProgress):
		s.writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case err != nil:
		s.logger.Error().Err(err).Msg("Failed to start ingestion")
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	default:
		s.writeJSON(w, http.StatusAccepted, startResponse{RunID: runID})
	}
}

func (s *server) handleStop(w http.ResponseWriter, r *http.Request) {
	stopped, err := s.ingestion.Stop(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to stop ingestion")
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	if !stopped {
		s.writeJSON(w, http.StatusNotFound, stopResponse{Stopped: false})
		return
	}
	s.writeJSON(w, http.StatusOK, stopResponse{Stopped: true})
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	record, found, err := s.ingestion.Record(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read run record")
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	resp := statusResponse{Status: runstatus.StatusNotRunning}
	if found {
		resp.Status = record.Status
		resp.Run = &record
		if progress := s.ingestion.Progress(); progress.RunID == record.ID {
			resp.Progress = &progress
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *server) readyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			s.logger.Warn().Err(err).Str("dependency", name).Msg("Readiness check failed")
			http.Error(w, name+" unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn().Err(err).Int("status", status).Msg("Failed to write response")
	}
}
