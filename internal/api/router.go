/**
 * @description
 * This file sets up the HTTP router for the booking service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies the
 * middleware for logging, recovery, CORS and authentication.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS handling for the web frontend.
 */

package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates the router of the booking service.
func NewRouter(h *BookingHandlers, jwtSecret string, frontendURL string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(frontendURL),
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Gateway callbacks: the gateway posts here, then the browser follows the redirect.
	r.Route("/payments", func(r chi.Router) {
		r.Post("/success", h.PaymentSuccessHandler)
		r.Post("/fail", h.PaymentFailHandler)
		r.Post("/cancel", h.PaymentCancelHandler)
		r.Post("/validate", h.ValidatePaymentHandler)
	})

	r.Group(func(r chi.Router) {
		r.Use(JWTAuthMiddleware(jwtSecret))

		r.Post("/orders", h.CreateOrderHandler)
		r.Get("/orders", h.ListOrdersHandler)
		r.Get("/orders/my-orders", h.MyOrdersHandler)
		r.Get("/orders/customer-orders", h.CustomerOrdersHandler)
		r.Get("/orders/{id}", h.GetOrderHandler)
		r.Patch("/orders/{id}/status", h.UpdateOrderStatusHandler)

		r.Post("/payments/init/{orderId}", h.InitPaymentHandler)
		r.Get("/payments/{id}/invoice", h.GetInvoiceHandler)

		r.Patch("/items/{id}/status", h.UpdateItemStatusHandler)
		r.Patch("/items/{id}/listing", h.UpdateItemListingHandler)
	})

	return r
}

func allowedOrigins(frontendURL string) []string {
	var origins []string
	for _, origin := range strings.Split(frontendURL, ",") {
		if trimmed := strings.TrimSuffix(strings.TrimSpace(origin), "/"); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	if len(origins) == 0 {
		return []string{"https://*", "http://*"}
	}
	return origins
}
