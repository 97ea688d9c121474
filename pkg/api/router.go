package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// RegisterRoutes mounts the /api/v1 routes on r. A nil paywall leaves the
// paid endpoints open.
func (h *Handler) RegisterRoutes(r chi.Router, paywall *Paywall) {
	r.Get("/healthz", h.Healthz)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/tasks", h.CreateTask)
		r.Get("/tasks/{taskID}", h.GetTask)
		r.Post("/tasks/{taskID}/complete", h.CompleteTask)
		r.Post("/tasks/{taskID}/approve", h.ApproveTask)
		r.Post("/refunds/process", h.ProcessRefunds)
		r.Get("/users/{address}/tasks", h.GetUserTasks)

		r.Post("/payments/validate", h.ValidatePayment)
		r.Get("/payments/{txHash}", h.GetPayment)

		r.Group(func(r chi.Router) {
			if paywall != nil {
				r.Use(paywall.Middleware)
			}
			r.Get("/analytics", h.GetAnalytics)
			r.Get("/users/{address}/payments", h.GetUserPayments)
		})
	})
}

// NewRouter builds the full middleware stack around the routes.
func NewRouter(h *Handler, limiter *RateLimiter, paywall *Paywall) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(RequestID)
	r.Use(Instrument)
	if limiter != nil {
		r.Use(limiter.RateLimit)
	}
	h.RegisterRoutes(r, paywall)
	return r
}
