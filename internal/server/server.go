package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/me/slotq/internal/config"
	"github.com/me/slotq/internal/engine"
	"github.com/me/slotq/internal/ui"
)

// Server is the slotq REST API server.
type Server struct {
	router    chi.Router
	logger    *slog.Logger
	config    config.ServerConfig
	startTime time.Time
	engine    *engine.Engine
	ui        *ui.UI
	version   string

	// secureCookies marks dashboard session cookies HTTPS-only.
	secureCookies bool

	// archiveStatus reports the retention sweeper's state for /health.
	archiveStatus func() string
}

// Option configures optional Server dependencies.
type Option func(*Server)

// WithVersion sets the build version reported by health and discovery.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// WithArchiveStatus sets the probe the health endpoint uses to report
// the retention sweeper.
func WithArchiveStatus(probe func() string) Option {
	return func(s *Server) {
		s.archiveStatus = probe
	}
}

// WithSecureCookies marks dashboard session cookies HTTPS-only.
func WithSecureCookies() Option {
	return func(s *Server) {
		s.secureCookies = true
	}
}

// New creates a Server with all routes registered.
func New(cfg config.ServerConfig, eng *engine.Engine, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		router:        chi.NewRouter(),
		logger:        logger.With("component", "server"),
		config:        cfg,
		startTime:     time.Now(),
		engine:        eng,
		version:       "0.1.0",
		archiveStatus: func() string { return "disabled" },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ui = ui.New(eng, cfg, logger, ui.Config{Secure: s.secureCookies})
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	// Global middleware
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(tracingMiddleware)
	r.Use(loggingMiddleware(s.logger))

	r.Route("/api/v1", func(r chi.Router) {
		// Discovery and health stay reachable without credentials.
		r.Get("/", s.handleDiscovery)
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware(s.config, s.logger))

			// Tasks
			r.Route("/tasks", func(r chi.Router) {
				r.Get("/", s.handleListTasks)
				r.Post("/", s.handleScheduleTask)
				r.Post("/reschedule", s.handleReschedule)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetTask)
					r.Delete("/", s.handleCancelTask)
					r.Get("/metadata", s.handleTaskMetadata)
					r.Route("/cancellers", func(r chi.Router) {
						r.Get("/", s.handleListTaskCancellers)
						r.Post("/", s.handleAddTaskCanceller)
						r.Delete("/{address}", s.handleRemoveTaskCanceller)
					})
				})
			})

			// Environment canceller grants
			r.Route("/environments/{id}/cancellers", func(r chi.Router) {
				r.Get("/", s.handleListEnvCancellers)
				r.Post("/", s.handleAddEnvCanceller)
				r.Delete("/{address}", s.handleRemoveEnvCanceller)
			})

			// Pricing and the queue preview
			r.Post("/estimate", s.handleEstimate)
			r.Get("/schedule", s.handleSchedulePreview)

			// Execution passes
			r.Post("/execute", s.handleExecute)

			// Accounts
			r.Route("/accounts", func(r chi.Router) {
				r.Post("/deposit", s.handleDeposit)
				r.Get("/balance", s.handleOwnBalance)
				r.Get("/{address}/balance", s.handleBalance)
			})
		})
	})

	// Operator dashboard at the root, session-authenticated.
	s.ui.RegisterRoutes(r)
}
