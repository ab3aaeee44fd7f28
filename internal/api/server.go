// Package api serves the operations HTTP surface: health, result history and
// on-demand batch runs.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/dvloznov/receipt-flow/internal/api/handlers"
	"github.com/dvloznov/receipt-flow/internal/api/middleware"
	"github.com/dvloznov/receipt-flow/internal/history"
)

// Config holds server configuration
type Config struct {
	Port   int
	Log    zerolog.Logger
	Store  history.Store
	Runner handlers.BatchTrigger
}

// Server represents the HTTP server
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger
	port   int
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		log:    cfg.Log.With().Str("component", "api").Logger(),
		port:   cfg.Port,
	}

	s.setupMiddleware()
	s.setupRoutes(cfg)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recovery(s.log))
	s.router.Use(middleware.RequestID(s.log))
	s.router.Use(middleware.Logger(s.log))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader},
		MaxAge:         3600,
	}))
}

func (s *Server) setupRoutes(cfg Config) {
	health := handlers.NewHealthHandler(cfg.Runner)
	results := handlers.NewResultsHandler(cfg.Store, s.log)
	runs := handlers.NewRunsHandler(cfg.Runner, cfg.Store, s.log)

	s.router.Get("/health", health.Health)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/results", results.ListResults)
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", runs.ListRuns)
			r.Post("/", runs.TriggerRun)
			r.Get("/{runID}", runs.GetRun)
		})
	})
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	s.log.Info().Int("port", s.port).Msg("Starting API server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("Start: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down API server")
	return s.server.Shutdown(ctx)
}
