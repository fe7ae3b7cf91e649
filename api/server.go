/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, middleware stack and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request, picked up by the logger
  2. Logger:     slog request logging (logging.Middleware)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the web client
  5. RequireOwner (on /api): X-User-ID from the auth proxy

ROUTE GROUPS:
  /api/sources/*       Source management
  /api/categories/*    Category management
  /api/transactions/*  Transaction operations
  /api/agent/*         Chat agent tool calls
  /api/audit           Balance drift report
  /api/scenarios/*     Demo data
  /healthz             Liveness (no owner required)

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/warp/finance-engine/logging"
)

type RouterOptions struct {
	AllowedOrigins []string
	Logger         *slog.Logger
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(logging.Middleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", OwnerHeader},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(RequireOwner)

		r.Route("/sources", func(r chi.Router) {
			r.Get("/", h.ListSources)
			r.Post("/", h.CreateSource)
			r.Get("/{id}", h.GetSource)
			r.Put("/{id}", h.UpdateSource)
			r.Delete("/{id}", h.DeleteSource)
		})

		r.Route("/categories", func(r chi.Router) {
			r.Get("/", h.ListCategories)
			r.Post("/", h.CreateCategory)
			r.Delete("/{id}", h.DeleteCategory)
		})

		r.Route("/transactions", func(r chi.Router) {
			r.Get("/", h.ListTransactions)
			r.Post("/", h.CreateTransaction)
			r.Delete("/", h.BulkDeleteTransactions)
			r.Post("/batch", h.AddMultipleTransactions)
			r.Get("/{id}", h.GetTransaction)
			r.Put("/{id}", h.UpdateTransaction)
			r.Delete("/{id}", h.DeleteTransaction)
		})

		r.Route("/agent", func(r chi.Router) {
			r.Get("/tools", h.ListTools)
			r.Post("/tools/{name}", h.InvokeTool)
		})

		r.Get("/audit", h.Audit)

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
