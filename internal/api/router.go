package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"threatprint/internal/api/handlers"
	apimiddleware "threatprint/internal/api/middleware"
	"threatprint/internal/config"
	"threatprint/internal/metrics"
	"threatprint/pkg/logger"
)

// Router holds dependencies for the API router
type Router struct {
	config   config.Config
	handlers *handlers.Handlers
	metrics  *metrics.Metrics
	logger   *logger.Logger
}

// NewRouter creates a new Router instance
func NewRouter(cfg config.Config, h *handlers.Handlers, m *metrics.Metrics, log *logger.Logger) *Router {
	return &Router{
		config:   cfg,
		handlers: h,
		metrics:  m,
		logger:   log.WithComponent("router"),
	}
}

// Setup sets up the Chi router with all routes and middleware
func (r *Router) Setup() http.Handler {
	router := chi.NewRouter()

	// Core middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(apimiddleware.Logger(r.logger))
	router.Use(apimiddleware.Metrics(r.metrics))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// CORS
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	// Operational endpoints
	router.Get("/health", r.handlers.Health.Check)
	router.Handle("/metrics", r.metrics.Handler())

	router.Route("/api/v1", func(api chi.Router) {
		// Ingest
		api.Post("/ingest", r.handlers.Ingest.Ingest)
		api.Route("/ingest/jobs", func(jobs chi.Router) {
			jobs.Post("/", r.handlers.Ingest.Begin)
			jobs.Get("/{id}", r.handlers.Ingest.Status)
			jobs.Post("/{id}/chunks", r.handlers.Ingest.Feed)
			jobs.Post("/{id}/end", r.handlers.Ingest.End)
			jobs.Post("/{id}/cancel", r.handlers.Ingest.Cancel)
		})

		// Query
		api.Post("/correlate", r.handlers.Query.Correlate)
		api.Post("/correlate/batch", r.handlers.Query.BulkCorrelate)
		api.Get("/indicators/{id}", r.handlers.Query.Get)
		api.Delete("/indicators/{id}", r.handlers.Query.Evict)

		// Integrity & evidence
		api.Post("/integrity/check", r.handlers.Evidence.CheckIntegrity)
		api.Post("/integrity/verify", r.handlers.Evidence.VerifyIntegrity)
		api.Post("/evidence/protect", r.handlers.Evidence.Protect)
		api.Post("/evidence/recover", r.handlers.Evidence.Recover)

		// Introspection
		api.Get("/stats", r.handlers.Stats.Get)
	})

	return router
}
