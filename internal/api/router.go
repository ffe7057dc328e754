package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/orbitalapp/minutes-ledger/internal/api/handlers"
	"github.com/orbitalapp/minutes-ledger/internal/config"
	"github.com/orbitalapp/minutes-ledger/internal/metrics"
	"github.com/orbitalapp/minutes-ledger/internal/middleware"
)

func NewRouter(cfg config.Config, am *middleware.AuthMiddleware, lh *handlers.LedgerHandler, wh *handlers.WebhookHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recover, middleware.HTTPMetrics, middleware.RateLimit(cfg.RateRPS))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	// health & metrics
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("ok")) })
	r.Handle("/metrics", metrics.Handler())

	// signed webhooks from external collaborators
	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/payment", wh.Payment)
		r.Post("/usage", wh.Usage)
		r.Post("/identity", wh.Identity)
	})

	r.Route("/api/v1", func(r chi.Router) {
		// user surface, identity-provider tokens
		r.Group(func(r chi.Router) {
			r.Use(am.Auth)
			r.Get("/balance", lh.MyBalance)
			r.Get("/transactions", lh.MyHistory)
		})

		// admin surface, API key
		r.Route("/admin", func(r chi.Router) {
			r.Use(am.AdminKey)
			r.Post("/adjustments", lh.AdminAdjust)
			r.Get("/accounts/{id}", lh.AdminGetAccount)
			r.Get("/accounts/{id}/transactions", lh.AdminHistory)
			r.Get("/accounts/{id}/reconcile", lh.AdminReconcile)
		})
	})

	return r
}
