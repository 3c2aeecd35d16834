/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/users/*          User, account-listing, budget and report routes
  /api/accounts/*       Account detail and transaction routes
  /api/transactions/*   Single-transaction operations
  /api/transfers        Transfer creation
  /api/admin/*          Audit and repair

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// User routes
		r.Route("/users", func(r chi.Router) {
			r.Get("/", h.ListUsers)
			r.Post("/", h.CreateUser)
			r.Get("/{id}", h.GetUser)
			r.Put("/{id}", h.RenameUser)
			r.Delete("/{id}", h.DeleteUser)
			r.Get("/{id}/accounts", h.ListAccounts)
			r.Post("/{id}/accounts", h.CreateAccount)
			r.Get("/{id}/budgets", h.ListBudgets)
			r.Put("/{id}/budgets", h.SetBudget)
			r.Get("/{id}/budgets/{category}", h.GetBudget)
			r.Delete("/{id}/budgets/{category}", h.DeleteBudget)
			r.Get("/{id}/report", h.GetReport)
		})

		// Account routes
		r.Route("/accounts", func(r chi.Router) {
			r.Get("/{id}", h.GetAccount)
			r.Put("/{id}", h.RenameAccount)
			r.Delete("/{id}", h.DeleteAccount)
			r.Get("/{id}/transactions", h.ListTransactions)
			r.Post("/{id}/transactions", h.AddTransaction)
		})

		// Transaction routes
		r.Route("/transactions", func(r chi.Router) {
			r.Get("/{id}", h.GetTransaction)
			r.Put("/{id}", h.UpdateTransaction)
			r.Delete("/{id}", h.DeleteTransaction)
		})

		// Transfer routes
		r.Post("/transfers", h.CreateTransfer)

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Get("/audit/{userID}", h.AuditUser)
			r.Post("/repair/{userID}", h.RepairUser)
		})
	})

	return r
}
