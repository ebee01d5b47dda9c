package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures all API routes. The /v1 group carries the API-key
// middleware; the callback and unsubscribe surfaces stay public because
// the provider and mail clients call them without credentials.
func SetupRoutes(h *Handlers, keys KeyStore, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	if len(allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: allowedOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
			MaxAge:         300,
		}))
	}

	// Health check (no auth required)
	r.Get("/health", h.HealthCheck)

	// Provider event callback. SNS retries on non-2xx, so the handler
	// always answers 200; see SESCallback.
	r.Post("/api/ses_callback", h.SESCallback)

	// Public unsubscribe surface, reached from email clients.
	r.Get("/unsubscribe", h.UnsubscribePage)
	r.Post("/unsubscribe", h.Unsubscribe)
	r.Post("/resubscribe", h.Resubscribe)
	r.Post("/api/unsubscribe-oneclick", h.OneClickUnsubscribe)

	// API routes (protected by API-key middleware)
	r.Route("/v1", func(r chi.Router) {
		r.Use(APIKeyAuth(keys))

		r.Route("/emails", func(r chi.Router) {
			r.Post("/", h.SendEmail)
			r.Post("/batch", h.SendBatch)
			r.Get("/{id}", h.GetEmail)
			r.Post("/{id}/cancel", h.CancelEmail)
		})

		r.Route("/domains", func(r chi.Router) {
			r.Post("/", h.CreateDomain)
			r.Get("/", h.ListDomains)
			r.Get("/{id}", h.GetDomain)
			r.Put("/{id}/verify", h.VerifyDomain)
			r.Patch("/{id}", h.UpdateDomainTracking)
			r.Delete("/{id}", h.DeleteDomain)
			r.Get("/{id}/reputation", h.GetDomainReputation)
		})

		r.Route("/suppressions", func(r chi.Router) {
			r.Get("/", h.ListSuppressions)
			r.Post("/", h.AddSuppression)
			r.Post("/bulk", h.BulkAddSuppressions)
			r.Delete("/", h.RemoveSuppression)
			r.Get("/stats", h.SuppressionStats)
		})

		r.Route("/usage", func(r chi.Router) {
			r.Get("/", h.GetUsage)
			r.Get("/daily", h.GetDailyUsage)
		})

		r.Route("/webhooks", func(r chi.Router) {
			r.Post("/", h.CreateWebhookEndpoint)
			r.Get("/", h.ListWebhookEndpoints)
			r.Get("/{id}", h.GetWebhookEndpoint)
			r.Put("/{id}", h.UpdateWebhookEndpoint)
			r.Delete("/{id}", h.DeleteWebhookEndpoint)
		})

		r.Route("/regions", func(r chi.Router) {
			r.Get("/", h.ListRegions)
			r.Put("/{region}", h.UpsertRegion)
		})
	})

	return r
}
