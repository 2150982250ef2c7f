/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the admin frontend

ROUTE GROUPS:
  /api/transactions        Sale intake (public, called by the storefront)
  /api/gateway/webhook     Gateway event intake (HMAC-signed, not bearer-auth)
  /api/admin/*             Back-office, bearer-token protected

AUTH:
  Admin routes require "Authorization: Bearer <token>" matching the
  configured token. Comparison is constant-time. Missing or wrong
  credentials return 401 with a JSON error body.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

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
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Gateway-Signature"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// Storefront routes
		r.Post("/transactions", h.CreateSale)

		// Gateway events (signature-verified, no bearer token)
		r.Post("/gateway/webhook", h.HandleWebhook)

		// Admin back-office
		r.Route("/admin", func(r chi.Router) {
			r.Use(h.RequireAdmin)

			r.Get("/reconciliation", h.RunReconciliation)
			r.Get("/reconciliation/runs", h.ListRuns)
			r.Get("/dashboard", h.Dashboard)

			r.Route("/transactions", func(r chi.Router) {
				r.Get("/", h.ListSales)
				r.Get("/{id}", h.GetSale)
				r.Post("/{id}/complete", h.CompleteSale)
			})
		})
	})

	return r
}

// RequireAdmin enforces the bearer token on admin routes.
func (h *Handler) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "Unauthorized", nil)
			return
		}
		token := strings.TrimPrefix(auth, "Bearer ")
		if h.AuthToken == "" ||
			subtle.ConstantTimeCompare([]byte(token), []byte(h.AuthToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "Unauthorized", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
