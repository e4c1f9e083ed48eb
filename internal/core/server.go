// Package core provides the HTTP chassis for the FinPulse engine. It builds
// a chi router that enforces cross-cutting concerns -- recovery, logging,
// observability, traffic shaping, and error handling -- before requests
// reach domain-specific handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"finpulse/internal/config"
)

// MetricsCollector defines the interface for recording API telemetry.
type MetricsCollector interface {
	// RecordRequest records request latency and count for one completed
	// request.
	RecordRequest(method, endpoint, status string, duration time.Duration)
}

// RouteRegistrar mounts a group of domain handler routes onto a router.
// Registrars are populated by the application entry point; the indirection
// keeps core free of handler package imports.
type RouteRegistrar func(r chi.Router)

// Server encapsulates the dependencies of the engine's HTTP API, allowing
// for easy injection during testing and distinct configuration for
// different environments.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *Validator

	// Optional collaborators. Nil values disable the corresponding
	// middleware or endpoint rather than failing.
	Metrics        MetricsCollector
	MetricsHandler http.Handler // mounted at GET /metrics when set
	RateLimits     RateLimitStore
	HealthProbes   []HealthProbe

	// V1RouteRegistrars is run by MountRoutes inside the /v1 group.
	V1RouteRegistrars []RouteRegistrar

	router *chi.Mux
}

// NewServer initializes dependencies, sets up the router, and prepares the
// server for route mounting. It performs a fail-fast check on critical
// configuration.
//
// The caller is responsible for mounting routes (via MountRoutes or
// equivalent) after construction. This separation allows tests to customize
// route registration.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	s := &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}

	return s, nil
}

// Handler returns the http.Handler interface for the router, for use with
// http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration.
// This is used internally by route-mounting methods and tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown logs the termination of the HTTP layer. Connection draining is
// the caller's job via http.Server.Shutdown; pool and worker teardown
// belong to the components that own them.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("api server shutdown complete")
	return nil
}
