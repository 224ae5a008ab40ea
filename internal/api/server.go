package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opensource-fleet/fleetwatch/internal/domain"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, deps Deps, version string) *Server {
	handler := NewHandler(deps, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware(cfg.CORSOrigins)) // CORS for the refuel form
	router.Use(RecoverMiddleware)               // Recover from panics
	router.Use(TracingMiddleware)               // OpenTelemetry tracing
	router.Use(LoggingMiddleware)               // Request logging and metrics
	router.Use(middleware.RealIP)               // Extract real IP
	router.Use(middleware.Compress(5))          // Gzip compression

	// Probes and metrics
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Handle("/metrics", promhttp.Handler())

	// Interactive validation fires on every keystroke pause; cap it per client.
	router.Group(func(r chi.Router) {
		if cfg.ValidateRatePerMinute > 0 {
			r.Use(httprate.Limit(cfg.ValidateRatePerMinute, time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
					writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "too many validation requests"})
				}),
			))
		}
		r.Post("/validate", handler.Validate)
	})

	// Refuel records
	router.Post("/refuels", handler.CreateRefuel)
	router.Get("/refuels/{id}", handler.GetRefuel)
	router.Put("/refuels/{id}", handler.UpdateRefuel)

	// Vehicles
	router.Post("/vehicles", handler.CreateVehicle)
	router.Get("/vehicles/{id}", handler.GetVehicle)
	router.Get("/vehicles/{id}/last-reading", handler.LastReading)
	router.Get("/vehicles/{id}/rate", handler.Rate)
	router.Get("/vehicles/{id}/refuels", handler.ListVehicleRefuels)

	// Data quality
	router.Post("/sanitize", handler.Sanitize)
	router.Get("/health/database", handler.DatabaseHealth)
	router.Get("/health/database/report.md", handler.DatabaseHealthMarkdown)

	// Bulk import
	router.Post("/import/validate", handler.ValidateImport)
	router.Get("/import/rules", handler.ListImportRules)

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
