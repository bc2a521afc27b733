// Package core provides the API chassis for the lightalert service: the chi
// router, the response envelope, the global middleware chain (panic recovery,
// request IDs, request logging), request validation, and the health endpoint.
// It enforces cross-cutting concerns before requests reach domain handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"lightalert/internal/config"
)

// RouteRegistrar mounts a handler group on a chi router. The application
// entry point populates V1RouteRegistrars with one registrar per handler
// package; this indirection avoids an import cycle between core and handlers.
type RouteRegistrar func(chi.Router)

// Server encapsulates the HTTP chassis dependencies, allowing injection
// during testing and distinct configuration per environment.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *Validator

	// V1RouteRegistrars are mounted under /v1 by MountRoutes.
	V1RouteRegistrars []RouteRegistrar

	// HealthProbes are checked by GET /health.
	HealthProbes []HealthProbe

	router *chi.Mux

	shutdownHooks []func(context.Context) error
}

// NewServer initializes the router and validator and performs fail-fast
// checks on critical dependencies. The caller mounts routes afterwards via
// MountRoutes; the separation lets tests customize route registration.
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
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the http.Handler for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// OnShutdown registers a hook to run during Shutdown, in registration order.
// Used by main to close the database pool after the HTTP listener drains.
func (s *Server) OnShutdown(fn func(context.Context) error) {
	s.shutdownHooks = append(s.shutdownHooks, fn)
}

// Shutdown runs the registered shutdown hooks. The first hook error is
// returned; remaining hooks still run so resources are not leaked.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")

	var firstErr error
	for _, hook := range s.shutdownHooks {
		if err := hook(ctx); err != nil {
			s.Logger.Error("shutdown hook failed", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if firstErr != nil {
		return fmt.Errorf("shutdown: %w", firstErr)
	}
	s.Logger.Info("server shutdown complete")
	return nil
}
