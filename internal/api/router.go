// Package api assembles the HTTP router for the HiveMind server.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/hivemind/hivemind/internal/api/handlers"
	"github.com/hivemind/hivemind/internal/api/middleware"
	"github.com/hivemind/hivemind/internal/config"
)

// NewRouter creates the HTTP router with all API routes.
func NewRouter(cfg *config.Config, h *handlers.Handlers, authmw *middleware.AuthMiddleware) http.Handler {
	r := chi.NewRouter()

	// Global middleware. CORS precedes auth so preflights pass uncredentialed.
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.Logger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(authmw.Handler)
	r.Use(middleware.Telemetry)

	// Health & discovery
	r.Get("/health", healthHandler)
	r.Get("/version", versionHandler(cfg))
	r.Get("/.well-known/mcp/server-card.json", h.ServeServerCard)

	// Tool RPC surface
	r.Post("/rpc/tools/{tool}", h.ToolDispatch)

	// REST mirror
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/knowledge", func(r chi.Router) {
			r.Post("/", h.AddKnowledge)
			r.Get("/", h.ListKnowledge)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetKnowledge)
				r.Delete("/", h.DeleteKnowledge)
				r.Post("/publish", h.PublishKnowledge)
			})
		})
		r.Post("/search", h.SearchKnowledge)
		r.Post("/outcomes", h.ReportOutcome)
		r.Post("/contradictions", h.ReportContradiction)

		// Review queue (admin)
		r.Route("/contributions", func(r chi.Router) {
			r.Get("/", h.ListContributions)
			r.Post("/release", h.ReleaseContributions)
			r.Post("/{id}/approve", h.ApproveContribution)
			r.Post("/{id}/reject", h.RejectContribution)
		})

		// Tenant management (admin)
		r.Put("/rules/auto-approve", h.UpsertAutoApproveRule)
		r.Route("/keys", func(r chi.Router) {
			r.Post("/", h.MintAPIKey)
			r.Get("/", h.ListAPIKeys)
			r.Delete("/{id}", h.RevokeAPIKey)
		})
		r.Route("/webhooks", func(r chi.Router) {
			r.Post("/", h.RegisterWebhook)
			r.Get("/", h.ListWebhooks)
			r.Delete("/{id}", h.DeleteWebhook)
		})

		// Aggregates
		r.Route("/stats", func(r chi.Router) {
			r.Get("/commons", h.CommonsStatsHandler)
			r.Get("/org", h.OrgStatsHandler)
			r.Get("/user", h.UserStatsHandler)
		})

		// Live feed
		r.Get("/stream/feed", h.StreamFeed)
	})

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "hivemind",
	})
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"version": cfg.Version,
			"service": "hivemind",
		})
	}
}
