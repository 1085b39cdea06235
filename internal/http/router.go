package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/wolfeidau/leadlink/internal/store"
)

// RouterConfig wires the chat surface.
type RouterConfig struct {
	Processor      TurnProcessor
	Store          store.Store
	Logger         zerolog.Logger
	AllowedOrigins []string

	// Registry receives the HTTP metrics and is served on /metrics. Defaults to the global registry.
	Registry *prometheus.Registry
}

// NewRouter builds the chat API router.
func NewRouter(cfg RouterConfig) http.Handler {
	var (
		reg      prometheus.Registerer = prometheus.DefaultRegisterer
		gatherer prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if cfg.Registry != nil {
		reg, gatherer = cfg.Registry, cfg.Registry
	}

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	metrics := NewHTTPMetrics(reg)
	handlers := NewChatHandlers(cfg.Processor, cfg.Store)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", APIKeyHeader},
	}).Handler)
	r.Use(ClientIPMiddleware())

	r.Get("/health", Health)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Use(OrganizationMiddleware(cfg.Store.Organizations()))

		r.Post("/chat", handlers.Chat)
		r.Get("/conversation/{userID}", handlers.Conversation)
		r.Delete("/conversation/{userID}", handlers.ClearConversation)
		r.Get("/leads", handlers.Leads)
	})

	return r
}
