/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:          Request logging
  2. Recoverer:       Panic recovery (500 instead of crash)
  3. RequestID:       Unique ID per request for tracing
  4. CORS:            Cross-origin requests for the storefront
  5. RequireIdentity: Gateway-resolved caller identity (all /api routes)

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Account-Id", "X-Role"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(RequireIdentity)

		r.Route("/managers", func(r chi.Router) {
			r.Get("/", h.ListManagers)
			r.Post("/", h.CreateManager)
			r.Get("/{id}", h.GetManager)
			r.Put("/{id}", h.UpdateManager)
		})

		r.Route("/sellers", func(r chi.Router) {
			r.Get("/", h.ListSellers)
			r.Post("/", h.CreateSeller)
			r.Get("/{id}", h.GetSeller)
		})

		r.Route("/products", func(r chi.Router) {
			r.Get("/", h.ListProducts)
			r.Post("/", h.CreateProduct)
			r.Get("/{id}", h.GetProduct)
			r.Put("/{id}", h.UpdateProduct)
			r.Delete("/{id}", h.DeleteProduct)
			r.Post("/{id}/assign", h.AssignProduct)
			r.Post("/{id}/restock", h.RestockProduct)
			r.Get("/{id}/stock", h.ProductStock)
		})

		r.Route("/assignments", func(r chi.Router) {
			r.Get("/", h.ListAssignments)
			r.Delete("/{id}", h.Unassign)
		})

		r.Route("/sales", func(r chi.Router) {
			r.Get("/", h.ListSales)
			r.Post("/", h.Sell)
			r.Post("/{id}/pay", h.PaySale)
			r.Post("/{id}/cancel", h.CancelSale)
			r.Get("/stats/summary", h.SalesSummary)
		})
	})

	return r
}
