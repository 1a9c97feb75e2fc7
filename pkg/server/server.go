package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iddaa-lens/edge/pkg/handlers/health"
	jobshandler "github.com/iddaa-lens/edge/pkg/handlers/jobs"
	"github.com/iddaa-lens/edge/pkg/jobs"
	"github.com/iddaa-lens/edge/pkg/logger"
	"github.com/iddaa-lens/edge/pkg/middleware"
)

// Config holds server configuration
type Config struct {
	Port         string
	Logger       *logger.Logger
	Scheduler    jobshandler.Scheduler
	History      *jobs.RunHistory
	Gatherer     prometheus.Gatherer
	HealthChecks map[string]health.Check
}

// Server serves the ops endpoints: health, job state and metrics
type Server struct {
	router *chi.Mux
	server *http.Server
	port   string
	logger *logger.Logger
	cfg    Config
}

// New creates a new server instance
func New(cfg Config) *Server {
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.History == nil {
		cfg.History = jobs.NewRunHistory(jobs.DefaultHistorySize)
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		router: chi.NewRouter(),
		port:   cfg.Port,
		logger: cfg.Logger,
		cfg:    cfg,
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(chimw.Recoverer)
	s.router.Use(chimw.RequestID)
	s.router.Use(chimw.RealIP)
	s.router.Use(middleware.RequestLogger(s.logger))
	s.router.Use(chimw.Timeout(10 * time.Second))
	s.router.Use(middleware.CORS())
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	healthHandler := health.NewHandler(s.logger, s.cfg.HealthChecks)
	s.router.Get("/health", healthHandler.HealthCheck)

	if s.cfg.Scheduler != nil {
		jobsHandler := jobshandler.NewHandler(s.cfg.Scheduler, s.cfg.History, s.logger)
		s.router.Route("/jobs", func(r chi.Router) {
			r.Get("/", jobsHandler.List)
			r.Get("/{name}", jobsHandler.Get)
		})
	}

	s.router.Handle("/metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))
}

// Handler returns the routed handler, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.logger.Info().
		Str("action", "server_start").
		Str("port", s.port).
		Msg("Starting ops server")

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed to start on port %s: %w", s.port, err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().
		Str("action", "server_shutdown").
		Msg("Shutting down ops server")
	return s.server.Shutdown(ctx)
}
