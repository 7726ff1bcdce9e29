// Package core provides the HTTP chassis for the CrewBook service: a chi
// router with the cross-cutting middleware (request IDs, panic recovery,
// structured request logging, security headers) and the shared response
// envelope, applied before requests reach domain handlers.
package core

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"crewbook/internal/config"
)

// Server encapsulates the router and the dependencies every handler needs,
// allowing injection during testing and distinct configuration per
// environment.
type Server struct {
	Config *config.Config
	Logger *slog.Logger

	// HealthProbes are checked concurrently by the health endpoint.
	HealthProbes []HealthProbe

	// closers are shut down in reverse registration order.
	closers []io.Closer

	router *chi.Mux
}

// NewServer initializes the chassis and installs the base middleware chain.
// Routes are mounted by the caller after construction so tests can register
// only what they exercise.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	s := &Server{
		Config: cfg,
		Logger: logger,
		router: chi.NewRouter(),
	}

	s.router.Use(s.Recoverer)
	s.router.Use(RequestID)
	s.router.Use(SecurityHeaders)
	s.router.Use(RequestLogger(logger, []string{"Authorization", "X-Jobber-Hmac-SHA256"}))

	return s, nil
}

// Handler returns the http.Handler for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// RegisterCloser adds a resource to be released on shutdown.
func (s *Server) RegisterCloser(c io.Closer) {
	s.closers = append(s.closers, c)
}

// Shutdown releases registered resources in reverse order.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")

	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing resource: %w", err)
			s.Logger.Error("error during shutdown", "error", err)
		}
	}

	s.Logger.Info("server shutdown complete")
	return firstErr
}
