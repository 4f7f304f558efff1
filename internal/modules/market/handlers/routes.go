package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all market routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/market", func(r chi.Router) {
		r.Get("/stocks", h.HandleListStocks)
		r.Put("/stocks", h.HandleUpsertStock) // admin: create or edit by symbol
		r.Route("/stocks/{symbol}", func(r chi.Router) {
			r.Get("/", h.HandleGetStock)
			r.Get("/prices", h.HandleGetPrices)
			r.Post("/freeze", h.HandleFreeze)
			r.Post("/unfreeze", h.HandleUnfreeze)
		})
		r.Post("/simulate", h.HandleSimulate)
		r.Get("/runs", h.HandleListRuns)
		r.Get("/stream", h.HandleStream) // websocket
	})
}
