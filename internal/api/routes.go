package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures the full route tree.
func SetupRoutes(h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Organization-ID", "X-Signature"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// liveness, no auth
	r.Get("/health", h.HealthCheck)

	// inbound webhooks: platform events are trusted (tenant header),
	// billing is HMAC-verified
	r.Post("/webhooks/events", h.HandleEvents)
	r.Post("/webhooks/billing", h.HandleBilling)

	// SSE sync progress
	r.Get("/sync-progress/{sessionId}", h.HandleSyncProgress)

	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", h.Stats)
		r.Post("/gate/can-execute", h.HandleCanExecute)
		r.Post("/admin/rpc", h.HandleAdminRPC)
	})

	return r
}
