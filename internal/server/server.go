package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fullvlad/lava-server/pkg/model"
)

// Scheduler is the set of dispatcher-facing operations served over HTTP.
type Scheduler interface {
	GetJobList(ctx context.Context) ([]*model.TestJob, error)
	GetJobDetails(ctx context.Context, jobID string) (string, error)
	GetOutputDirForJobOnBoard(ctx context.Context, hostname string) (string, error)
	JobCompleted(ctx context.Context, hostname string, exitCode int, killReason string) error
	JobCheckForCancellation(ctx context.Context, hostname string) (bool, error)
}

// Server is the dispatcher-facing REST API server.
type Server struct {
	router    chi.Router
	logger    *slog.Logger
	scheduler Scheduler
	registry  *prometheus.Registry
	version   string
	master    bool
	startTime time.Time
}

// Option configures optional Server dependencies.
type Option func(*Server)

// WithRegistry registers the HTTP metrics on reg and serves everything
// registered there on /metrics.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) {
		s.registry = reg
	}
}

// WithVersion sets the version reported by /api/v1/health.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// WithMaster reports the scheduling role on /api/v1/health.
func WithMaster(master bool) Option {
	return func(s *Server) {
		s.master = master
	}
}

// New creates a new Server with all routes registered.
func New(sched Scheduler, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		logger:    logger.With("component", "server"),
		scheduler: sched,
		version:   "dev",
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
	}
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
	r.Use(loggingMiddleware(s.logger))
	r.Use(newHTTPMetrics(s.registry).middleware)

	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.handleJobList)
			r.Post("/{id}/start", s.handleJobStart)
		})

		r.Route("/devices/{hostname}", func(r chi.Router) {
			r.Get("/output-dir", s.handleOutputDir)
			r.Post("/complete", s.handleJobCompleted)
			r.Get("/cancellation", s.handleCancellation)
		})
	})
}
