// Package web exposes the HTTP API: run control, status, fixes, results,
// the repository archive download, and the SSE event stream.
package web

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lucasnoah/repomedic/internal/events"
	"github.com/lucasnoah/repomedic/internal/fixer"
	"github.com/lucasnoah/repomedic/internal/orchestrator"
	"github.com/lucasnoah/repomedic/internal/results"
	"github.com/lucasnoah/repomedic/internal/status"
)

// RunController is the orchestrator surface the API needs.
type RunController interface {
	Start(p orchestrator.RunParams) error
	Fixes() []fixer.Outcome
	Timeline() []results.TimelineEntry
}

// Server serves the remediation API.
type Server struct {
	ctrl   RunController
	status *status.Manager
	bus    *events.Bus
	store  *results.Store
}

// NewServer creates a Server.
func NewServer(ctrl RunController, sm *status.Manager, bus *events.Bus, store *results.Store) *Server {
	return &Server{ctrl: ctrl, status: sm, bus: bus, store: store}
}

// Router builds the chi router with all API routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/run-agent", s.handleRunAgent)
	r.Get("/status", s.handleStatus)
	r.Get("/fixes", s.handleFixes)
	r.Get("/timeline", s.handleTimeline)
	r.Get("/results", s.handleResults)
	r.Get("/events", s.handleEvents)
	r.Get("/download-fixed-repo", s.handleDownload)
	r.Get("/health", s.handleHealth)
	return r
}

// ListenAndServe blocks serving the API on addr.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("api listening", "addr", addr)
	return srv.ListenAndServe()
}

type runRequest struct {
	RepoURL    string `json:"repo_url"`
	TeamName   string `json:"team_name"`
	LeaderName string `json:"leader_name"`
	RetryLimit int    `json:"retry_limit"`
}

func (s *Server) handleRunAgent(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RepoURL == "" {
		writeError(w, http.StatusBadRequest, "repo_url is required")
		return
	}
	if req.RetryLimit <= 0 {
		req.RetryLimit = 5
	}

	err := s.ctrl.Start(orchestrator.RunParams{
		RepoURL:    req.RepoURL,
		Team:       req.TeamName,
		Leader:     req.LeaderName,
		RetryLimit: req.RetryLimit,
	})
	if errors.Is(err, orchestrator.ErrAlreadyRunning) {
		writeError(w, http.StatusConflict, "Agent is already running")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("start run: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.status.Snapshot())
}

func (s *Server) handleFixes(w http.ResponseWriter, _ *http.Request) {
	fixes := s.ctrl.Fixes()
	if fixes == nil {
		fixes = []fixer.Outcome{}
	}
	writeJSON(w, http.StatusOK, fixes)
}

func (s *Server) handleTimeline(w http.ResponseWriter, _ *http.Request) {
	runs := s.ctrl.Timeline()
	if runs == nil {
		runs = []results.TimelineEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"steps": s.status.Snapshot().Timeline,
	})
}

func (s *Server) handleResults(w http.ResponseWriter, _ *http.Request) {
	sum, ok, err := s.store.Load()
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("load results: %v", err))
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	path := s.store.ArchivePath()
	if _, err := os.Stat(path); err != nil {
		writeError(w, http.StatusNotFound, "no fixed repository available yet")
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="fixed_repo.zip"`)
	http.ServeFile(w, r, path)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
