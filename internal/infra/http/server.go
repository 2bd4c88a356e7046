// Package http serves the worker's operational endpoints: liveness,
// readiness and Prometheus metrics.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openctemio/membership/internal/infra/http/handler"
	"github.com/openctemio/membership/internal/infra/http/middleware"
	"github.com/openctemio/membership/pkg/logger"
)

// Server represents the ops HTTP server.
type Server struct {
	httpServer *http.Server
	router     chi.Router
	logger     *logger.Logger
}

// ServerOption is a function that configures the server.
type ServerOption func(*serverOptions)

type serverOptions struct {
	gatherer     prometheus.Gatherer
	isProduction bool
}

// WithGatherer serves metrics from g instead of the default registry.
func WithGatherer(g prometheus.Gatherer) ServerOption {
	return func(o *serverOptions) {
		o.gatherer = g
	}
}

// WithProduction omits stack traces from recovered panics.
func WithProduction(isProduction bool) ServerOption {
	return func(o *serverOptions) {
		o.isProduction = isProduction
	}
}

// NewServer creates the ops server listening on addr.
func NewServer(addr string, health *handler.HealthHandler, log *logger.Logger, opts ...ServerOption) *Server {
	o := serverOptions{gatherer: prometheus.DefaultGatherer}
	for _, opt := range opts {
		opt(&o)
	}
	log = log.With("component", "ops_server")

	r := chi.NewRouter()
	r.Use(
		middleware.Recovery(log, o.isProduction),
		middleware.Logger(log, middleware.SkipPaths...),
	)
	r.Get("/healthz", health.Health)
	r.Get("/readyz", health.Ready)
	r.Handle("/metrics", promhttp.HandlerFor(o.gatherer, promhttp.HandlerOpts{}))

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       time.Minute,
		},
		router: r,
		logger: log,
	}
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server. It returns nil after Shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting ops server", "addr", s.httpServer.Addr)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down ops server")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info("ops server stopped")
	return nil
}
