package handlers

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter wires the webhook and admin surfaces. The webhook path stays
// middleware-light: validation and enqueue only, nothing that would eat
// into the receipt-to-ack latency budget.
func NewRouter(webhook *WebhookHandler, admin *AdminHandler, adminJWTSecret string) *chi.Mux {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	router.Route("/webhooks", func(r chi.Router) {
		r.Get("/health", webhook.Health)
		r.Post("/{module}", webhook.Receive)
	})

	router.Route("/admin", func(r chi.Router) {
		r.Use(AdminAuth(adminJWTSecret))
		r.Get("/sync-status", admin.SyncStatus)
		r.Get("/dead-letters", admin.DeadLetters)
	})

	return router
}
