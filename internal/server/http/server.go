// Package httpserver provides the HTTP REST API of the citation verification service.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/citation-verification-service/internal/database"
	"github.com/helixir/citation-verification-service/internal/domain"
	"github.com/helixir/citation-verification-service/internal/repository"
	"github.com/helixir/citation-verification-service/internal/service"
	"github.com/helixir/citation-verification-service/internal/verification"
)

// Request limits applied when Config leaves them unset.
const (
	DefaultMaxReferences = 500
	DefaultMaxBodyBytes  = 1 << 20
)

// VerificationService is the subset of *service.Service used by the HTTP server.
type VerificationService interface {
	Verify(ctx context.Context, req service.Request) (verification.BatchResult, error)
	Start(base context.Context, req service.Request) (uuid.UUID, error)
	Cancel(runID uuid.UUID) error
	Subscribe(runID uuid.UUID) (<-chan service.Progress, func(), bool)
	GetRun(ctx context.Context, runID uuid.UUID) (*domain.VerificationRun, error)
	ListResults(ctx context.Context, runID uuid.UUID) ([]domain.StoredResult, error)
	ListRuns(ctx context.Context, filter repository.RunFilter) ([]*domain.VerificationRun, int64, error)
}

// HealthChecker reports database health. *database.DB implements it.
type HealthChecker interface {
	Health(ctx context.Context) database.HealthStatus
}

var (
	_ VerificationService = (*service.Service)(nil)
	_ HealthChecker       = (*database.DB)(nil)
)

// Server is the HTTP REST API server.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	svc        VerificationService
	health     HealthChecker
	runCtx     context.Context
	cfg        Config
	logger     zerolog.Logger
}

// Config holds HTTP server configuration.
type Config struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// MaxReferences caps the references accepted per request.
	MaxReferences int
	// MaxBodyBytes caps the request body size.
	MaxBodyBytes int64
}

func (c Config) withDefaults() Config {
	if c.MaxReferences <= 0 {
		c.MaxReferences = DefaultMaxReferences
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return c
}

// NewServer creates a new HTTP server. Background runs started through the
// API are bound to runCtx rather than to the request that started them.
// health may be nil when no database is configured.
func NewServer(
	runCtx context.Context,
	cfg Config,
	svc VerificationService,
	health HealthChecker,
	logger zerolog.Logger,
) *Server {
	cfg = cfg.withDefaults()
	s := &Server{
		svc:    svc,
		health: health,
		runCtx: runCtx,
		cfg:    cfg,
		logger: logger.With().Str("component", "http-server").Logger(),
	}

	s.router = s.buildRouter()

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// buildRouter creates the chi router with all middleware and routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(correlationIDMiddleware)
	r.Use(requestLogMiddleware(s.logger))
	r.Use(jsonContentTypeMiddleware)

	r.Get("/healthz", s.healthHandler)
	r.Get("/readyz", s.readinessHandler)

	r.Route("/api/v1/verifications", func(r chi.Router) {
		r.Post("/", s.createVerification)
		r.Get("/", s.listVerifications)
		r.Get("/{runID}", s.getVerification)
		r.Delete("/{runID}", s.cancelVerification)
		r.Get("/{runID}/results", s.getVerificationResults)
		r.Get("/{runID}/progress", s.streamProgress)
	})

	return r
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.httpServer.Addr).Msg("HTTP server starting")
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on HTTP address: %w", err)
	}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// healthHandler returns basic liveness status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": "disabled"})
		return
	}
	health := s.health.Health(r.Context())
	if health.Healthy() {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": health.Status})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{
		"status":   "unhealthy",
		"database": health.Status,
		"error":    health.Error,
	})
}

// readinessHandler reports whether the server can accept verification requests.
func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "database": "disabled"})
		return
	}
	health := s.health.Health(r.Context())
	if !health.Healthy() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":   "not_ready",
			"database": health.Status,
			"error":    health.Error,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ready",
		"database": "healthy",
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Best-effort; headers already sent.
		_ = err
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{
		"error": message,
	})
}
