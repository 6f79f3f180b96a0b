// Package api provides the HTTP transport for Kestrel.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/profile"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, store domain.FeatureStore, cache domain.Cache, bus domain.EventBus, profiles *profile.Service, engine *rules.Engine, version string) *Server {
	handler := NewHandler(store, cache, bus, profiles, engine, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(metrics.Middleware)     // Prometheus request metrics
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(middleware.Compress(5)) // Gzip compression

	// Transaction evaluation
	router.Post("/transaction/evaluate", handler.Evaluate)

	// Health and introspection
	router.Get("/health", handler.Health)
	router.Get("/rules", handler.ListRules)
	router.Get("/profiles/{userID}", handler.GetProfile)

	// Prometheus exposition
	router.Method(http.MethodGet, "/metrics", metrics.Handler())

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
