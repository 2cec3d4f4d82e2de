package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

// RouterConfig holds router-level settings.
type RouterConfig struct {
	AllowedOrigins   []string
	WebhookRateLimit float64 // requests per second per client IP
	WebhookBurst     int
}

// NewRouter creates a new router with all routes configured
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware (all routes)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(RecoveryMiddleware)

	r.Handle("/metrics", promhttp.Handler())

	var webhookLimiter *RateLimiter
	if cfg.WebhookRateLimit > 0 {
		webhookLimiter = NewRateLimiter(cfg.WebhookRateLimit, cfg.WebhookBurst)
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Public routes
		r.Get("/health", h.Health)

		// Provider webhooks authenticate with a shared secret
		r.Group(func(r chi.Router) {
			if webhookLimiter != nil {
				r.Use(webhookLimiter.Middleware)
			}
			r.Use(WebhookSecretMiddleware(h.webhookSecret))
			r.Post("/webhooks/calls", h.CallWebhook)
			r.Post("/webhooks/email", h.EmailWebhook)
		})

		// Review surface (auth required)
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(h.apiKey))
			r.Use(ActorMiddleware)

			r.Get("/suggestions", h.ListSuggestions)
			r.Post("/suggestions/expire", h.ExpireSuggestions)
			r.Get("/suggestions/{id}", h.GetSuggestion)
			r.Post("/suggestions/{id}/approve", h.ApproveSuggestion)
			r.Post("/suggestions/{id}/decline", h.DeclineSuggestion)

			r.Put("/tasks/{id}/assignee", h.ReassignTask)

			r.Get("/patterns", h.ListPatterns)
			r.Patch("/patterns/{id}", h.UpdatePattern)

			r.Get("/feedback/{id}", h.GetFeedback)
		})
	})

	if len(cfg.AllowedOrigins) == 0 {
		return r
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", ActorHeader},
		AllowCredentials: true,
	})
	return c.Handler(r)
}
