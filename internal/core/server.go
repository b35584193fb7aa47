// Package core provides the HTTP chassis for the spectator sheet webhook.
// It builds a chi router usable both behind net/http (local, containers) and
// behind a Lambda Function URL adapter, and applies the cross-cutting
// concerns (panic recovery, request IDs, logging, metrics) before a request
// reaches a domain handler.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"spectatorsheet/internal/config"
)

// RouteRegistrar mounts domain routes onto the router. Handlers are registered
// from main so that core never imports handler packages.
type RouteRegistrar func(r chi.Router)

// Server bundles the router with its dependencies.
type Server struct {
	Config       *config.Config
	Logger       *slog.Logger
	Validator    *Validator
	Metrics      MetricsCollector
	HealthProbes []HealthProbe

	// RouteRegistrars are applied by MountRoutes after global middleware.
	RouteRegistrars []RouteRegistrar

	router *chi.Mux
}

// NewServer creates a server with an empty router. Call MountRoutes after
// setting RouteRegistrars, probes and metrics.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router exposes the chi.Mux for tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown flushes anything the metrics collector still buffers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")

	if flusher, ok := s.Metrics.(interface{ Flush(context.Context) error }); ok {
		if err := flusher.Flush(ctx); err != nil {
			s.Logger.Error("error flushing metrics", "error", err)
			return fmt.Errorf("flushing metrics: %w", err)
		}
	}

	s.Logger.Info("server shutdown complete")
	return nil
}
