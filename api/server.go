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
  4. CORS:       Cross-origin requests for the booking frontend

ROUTE GROUPS:
  /api/resources/*     Resource and maintenance management
  /api/reservations/*  Single + recurring submission, preview, cancellation
  /api/requests/*      Approval actions, prerequisites, history
  /api/rules           Approval rule definitions
  /api/trainings/*     Training-completion cascade intake
  /api/billing/*       Rates and charge records

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public; the
  engine trusts actor_id fields from the caller.

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

	r.Route("/api", func(r chi.Router) {
		// Resource routes
		r.Route("/resources", func(r chi.Router) {
			r.Get("/", h.ListResources)
			r.Post("/", h.CreateResource)
			r.Get("/{id}", h.GetResource)
		})
		r.Post("/maintenance", h.CreateMaintenance)

		// Reservation routes
		r.Route("/reservations", func(r chi.Router) {
			r.Post("/", h.SubmitReservation)
			r.Post("/preview", h.PreviewConflicts)
			r.Post("/recurring", h.SubmitRecurring)
			r.Delete("/series/{groupID}", h.CancelSeries)
			r.Get("/{id}", h.GetReservation)
			r.Delete("/{id}", h.CancelReservation)
			r.Post("/{id}/charge", h.CalculateCharge)
		})

		// Approval routes
		r.Post("/rules", h.CreateRule)
		r.Route("/requests", func(r chi.Router) {
			r.Get("/pending", h.ListPendingRequests)
			r.Get("/{id}", h.GetRequest)
			r.Get("/{id}/history", h.GetHistory)
			r.Post("/{id}/approve", h.ApproveRequest)
			r.Post("/{id}/reject", h.RejectRequest)
			r.Post("/{id}/prerequisites", h.ConfirmPrerequisite)
		})
		r.Post("/trainings/completions", h.TrainingCompletion)

		// Billing routes
		r.Route("/billing", func(r chi.Router) {
			r.Post("/rates", h.CreateRate)
			r.Get("/records/{id}", h.GetRecord)
			r.Post("/records/{id}/confirm", h.ConfirmRecord)
		})
	})

	return r
}
