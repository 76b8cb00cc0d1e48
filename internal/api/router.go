package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/relaydesk/relaydesk/internal/api/handlers"
	"github.com/relaydesk/relaydesk/internal/api/middleware"
)

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, h *handlers.Handler, redisClient *redis.Client) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(16 * 1024)) // 16KB max body
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// Rate limiting (pass-through without Redis)
	limiter := middleware.NewRateLimiter(redisClient, logger)
	r.Use(limiter.Middleware)

	// CORS - the web and mobile clients call from their own origins
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-User-ID", "X-User-Role"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	// Public routes (no identity required)
	r.Get("/health", h.Health)

	// Routes for any authenticated caller
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireIdentity)

		r.Post("/sessions", h.CreateSession)
		r.Get("/sessions/{id}", h.GetSession)
		r.Post("/sessions/{id}/close", h.CloseSession)
		r.Post("/sessions/{id}/messages", h.SendMessage)
		r.Get("/sessions/{id}/messages", h.ListMessages)

		r.Post("/messages/{id}/edit", h.EditMessage)
		r.Post("/messages/{id}/recall", h.RecallMessage)
		r.Post("/messages/{id}/status", h.UpdateMessageStatus)
		r.Get("/messages/undelivered", h.ListUndelivered)

		r.Post("/connections/{id}/heartbeat", h.Heartbeat)
		r.Delete("/connections/{id}", h.Disconnect)
	})

	// Staff-only routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireIdentity)
		r.Use(middleware.RequireStaff)

		r.Get("/sessions/pending", h.ListPendingSessions)
		r.Get("/sessions/mine", h.ListMySessions)
		r.Post("/sessions/{id}/assign", h.AssignSession)
		r.Post("/agents/status", h.UpdateAgentStatus)
		r.Get("/agents/online", h.ListOnlineAgents)
		r.Post("/users/{id}/vip", h.UpdateVIPStatus)
	})

	return r
}
