/**
 * @description
 * This file sets up the HTTP router for the billing-service using the go-chi/chi
 * router. It defines the API routes, applies middleware for logging, CORS, and
 * authentication, and maps the routes to their corresponding handler functions.
 */
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new Chi router and registers the billing-service routes.
func NewRouter(h *Handler, jwksURL string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any major browsers
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Billing service is healthy"))
	})

	// The provider callback carries no bearer token; trust rests on the
	// correlation id matching a recorded initiated event.
	r.Post("/payments/callback", h.handlePaymentCallback)

	// Protected routes that require authentication
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwksURL))

		r.Get("/plans", h.handleListPlans)
		r.Get("/subscriptions/me", h.handleGetSubscription)
		r.Post("/subscriptions/subscribe", h.handleSubscribe)
		r.Post("/subscriptions/status", h.handleChargeStatus)
	})

	return r
}
