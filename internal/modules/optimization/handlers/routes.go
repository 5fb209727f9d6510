package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers the request/response optimizer routes under
// /optimizer
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/optimizer", func(r chi.Router) {
		r.Post("/portfolio", h.HandlePortfolio)
		r.Post("/optimize", h.HandleOptimize)
		r.Post("/batch", h.HandleBatch)
		r.Get("/sample", h.HandleSample)
		r.Post("/estimate", h.HandleEstimate)
		r.Get("/runs", h.HandleRuns)
	})
}

// RegisterStreamRoutes registers the websocket route. It is kept apart from
// RegisterRoutes so long-lived connections stay outside request timeouts.
func (h *Handler) RegisterStreamRoutes(r chi.Router) {
	r.Get("/optimizer/ws", h.HandleWebSocket)
}
