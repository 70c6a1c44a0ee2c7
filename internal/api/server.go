package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/flowaudit/flowaudit/internal/project"
	"github.com/flowaudit/flowaudit/internal/ruleset"
	"github.com/flowaudit/flowaudit/internal/solution"
)

// DefaultMaxUploadBytes caps solution file uploads.
const DefaultMaxUploadBytes = 10 << 20

// shutdownTimeout bounds how long Run waits for in-flight requests.
const shutdownTimeout = 10 * time.Second

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping() error
}

// Deps are the services the server exposes.
type Deps struct {
	Catalog   *ruleset.Catalog
	Projects  *project.Service
	Solutions *solution.Service
	Health    Pinger
	Logger    *slog.Logger
}

// Config holds server settings.
type Config struct {
	Addr           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxUploadBytes int64
}

// Server provides HTTP API endpoints.
type Server struct {
	deps   Deps
	cfg    Config
	mux    *http.ServeMux
	logger *slog.Logger
}

// NewServer creates a server and registers its routes.
func NewServer(deps Deps, cfg Config) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	s := &Server{
		deps:   deps,
		cfg:    cfg,
		mux:    http.NewServeMux(),
		logger: logger,
	}
	s.registerRoutes()
	return s
}

// registerRoutes sets up the HTTP routes.
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("GET /rulesets", s.handleListRulesets)
	s.mux.HandleFunc("GET /rulesets/summaries", s.handleRulesetSummaries)
	s.mux.HandleFunc("GET /rulesets/{id}", s.handleGetRuleset)
	s.mux.HandleFunc("POST /rulesets", s.handleCreateRuleset)
	s.mux.HandleFunc("PUT /rulesets/{id}/{version}", s.handleUpdateRuleset)
	s.mux.HandleFunc("POST /rulesets/{id}/evaluate", s.handleEvaluate)

	s.mux.HandleFunc("POST /projects", s.handleCreateProject)
	s.mux.HandleFunc("GET /projects", s.handleListProjects)
	s.mux.HandleFunc("GET /projects/{id}", s.handleGetProject)
	s.mux.HandleFunc("POST /projects/{id}/documents", s.handleAddDocument)
	s.mux.HandleFunc("GET /projects/{id}/documents", s.handleListDocuments)
	s.mux.HandleFunc("POST /projects/{id}/documents/{docId}/evaluate", s.handleEvaluateDocument)

	s.mux.HandleFunc("GET /projects/{id}/solution-files", s.handleListSolutionFiles)
	s.mux.HandleFunc("POST /projects/{id}/solution-files", s.handleUploadSolutionFile)
	s.mux.HandleFunc("DELETE /projects/{id}/solution-files/{fileId}", s.handleDeleteSolutionFile)
	s.mux.HandleFunc("POST /projects/{id}/solution-files/{fileId}/preview", s.handlePreview)
	s.mux.HandleFunc("POST /projects/{id}/solution-files/{fileId}/apply", s.handleApply)
}

// Handler returns the routed handler wrapped in logging and recovery.
func (s *Server) Handler() http.Handler {
	return s.withLogging(s.withRecovery(s.mux))
}

// Run serves on cfg.Addr until ctx is cancelled, then shuts down
// gracefully. Returns nil after a clean shutdown.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api server listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("api server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health != nil {
		if err := s.deps.Health.Ping(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
