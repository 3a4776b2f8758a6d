/**
 * @description
 * This file sets up the HTTP router for the pin-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies
 * the standard middleware stack plus a permissive CORS policy (the map is a
 * public surface consumed from arbitrary origins).
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS middleware.
 * - internal/ws: The subscriber hub for the websocket endpoint.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/zapin/pin-service/internal/ws"
)

// PinRoutes creates and returns the router for the pin service.
func PinRoutes(h *PinHandlers, hub *ws.Hub) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and CORS.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	// The websocket endpoint lives outside the timeout group: subscriptions
	// are long-lived by design.
	r.Get("/ws", SubscribeHandler(hub))

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			h.writeJSON(w, http.StatusOK, map[string]string{"message": "Hello World!"})
		})

		// Health check endpoint
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("healthy"))
		})

		r.Post("/new-invoice", h.NewInvoiceHandler)
		r.Get("/invoices", h.ListInvoicesHandler)
		r.Get("/invoices/count", h.CountInvoicesHandler)
		r.Get("/invoices/deactivated", h.ListDeactivatedInvoicesHandler)
		r.Get("/get-url-info", h.GetURLInfoHandler)
	})

	return r
}
