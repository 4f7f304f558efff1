package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all portfolio routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/leaderboard", h.HandleGetLeaderboard)

	r.Route("/portfolio", func(r chi.Router) {
		r.Post("/reconcile", h.HandleReconcileAll) // admin: every portfolio

		r.Route("/{userID}", func(r chi.Router) {
			r.Get("/history", h.HandleGetHistory)
			r.Get("/performance", h.HandleGetPerformance)
			r.Get("/analytics", h.HandleGetAnalytics)
			r.Get("/positions", h.HandleGetPositions)
			r.Post("/reconcile", h.HandleReconcile)
			r.Post("/trades", h.HandleRecordTrade)
			r.Get("/transactions", h.HandleListTransactions)
			r.Delete("/transactions/{transactionID}", h.HandleDeleteTransaction)
		})
	})
}
