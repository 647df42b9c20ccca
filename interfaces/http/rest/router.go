package rest

import (
	"net/http"

	"canvas-backend/application/services"
	"canvas-backend/infrastructure/config"
	"canvas-backend/interfaces/http/rest/handlers"
	"canvas-backend/interfaces/http/rest/middleware"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Router creates and configures the HTTP router
type Router struct {
	service   *services.ElementService
	wsHandler http.HandlerFunc
	cfg       *config.Config
	logger    *zap.Logger
}

// NewRouter creates a new router instance. wsHandler serves the live update
// channel upgrade endpoint.
func NewRouter(
	service *services.ElementService,
	wsHandler http.HandlerFunc,
	cfg *config.Config,
	logger *zap.Logger,
) *Router {
	return &Router{
		service:   service,
		wsHandler: wsHandler,
		cfg:       cfg,
		logger:    logger,
	}
}

// Setup configures all routes and middleware
func (rt *Router) Setup() http.Handler {
	router := chi.NewRouter()

	// Global middleware
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(middleware.Logger(rt.logger))

	if rt.cfg.EnableCORS {
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	elementHandler := handlers.NewElementHandler(rt.service, rt.logger)

	// Health check and metrics
	router.Get("/health", elementHandler.Health)
	if rt.cfg.EnableMetrics {
		router.Handle("/metrics", promhttp.Handler())
	}

	// Live update channel
	router.Get("/ws", rt.wsHandler)

	// Mutation API
	router.Route("/api", func(r chi.Router) {
		r.Route("/elements", func(r chi.Router) {
			r.Get("/", elementHandler.ListElements)
			r.Post("/", elementHandler.CreateElement)
			r.Get("/search", elementHandler.SearchElements)
			r.Post("/batch", elementHandler.BatchCreateElements)
			r.Post("/sync", elementHandler.SyncElements)
			r.Get("/{elementID}", elementHandler.GetElement)
			r.Put("/{elementID}", elementHandler.UpdateElement)
			r.Delete("/{elementID}", elementHandler.DeleteElement)
		})

		r.Get("/sync/status", elementHandler.SyncStatus)
		r.Post("/mermaid/convert", elementHandler.ConvertMermaid)
	})

	return router
}
