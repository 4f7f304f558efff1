// Package handlers provides HTTP handlers for portfolio valuation and trading.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/aristath/stocksim/internal/domain"
	"github.com/aristath/stocksim/internal/modules/portfolio"
	"github.com/aristath/stocksim/pkg/date"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// defaultHistoryDays is the history window when no "from" is given
const defaultHistoryDays = 30

// Handler handles portfolio HTTP requests
type Handler struct {
	service *portfolio.Service
	log     zerolog.Logger
}

// NewHandler creates a new portfolio handler
func NewHandler(service *portfolio.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "portfolio").Logger(),
	}
}

// HandleGetHistory returns the daily valuation series; ?from and ?to are YYYY-MM-DD
func (h *Handler) HandleGetHistory(w http.ResponseWriter, r *http.Request) {
	from, to, ok := h.parseWindow(w, r)
	if !ok {
		return
	}

	series, err := h.service.History(r.Context(), chi.URLParam(r, "userID"), from, to)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	points := make([]valuationResponse, 0, len(series))
	for _, v := range series {
		points = append(points, valuationResponse{
			Date:       v.Date.String(),
			TotalValue: v.TotalValue.StringFixed(2),
			Invested:   v.Invested.StringFixed(2),
			NetFlow:    v.NetFlow.StringFixed(2),
		})
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id": chi.URLParam(r, "userID"),
		"from":    from.String(),
		"to":      to.String(),
		"history": points,
	})
}

// HandleGetPerformance returns return and risk figures; ?sma sets the moving-average window
func (h *Handler) HandleGetPerformance(w http.ResponseWriter, r *http.Request) {
	from, to, ok := h.parseWindow(w, r)
	if !ok {
		return
	}
	sma := 0
	if raw := r.URL.Query().Get("sma"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.writeError(w, http.StatusBadRequest, "sma must be a positive integer")
			return
		}
		sma = n
	}

	perf, err := h.service.Performance(r.Context(), chi.URLParam(r, "userID"), from, to, sma)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, perf)
}

// HandleGetAnalytics returns P&L, sector allocation and top movers; ?top sets the movers count
func (h *Handler) HandleGetAnalytics(w http.ResponseWriter, r *http.Request) {
	top := 0
	if raw := r.URL.Query().Get("top"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.writeError(w, http.StatusBadRequest, "top must be a positive integer")
			return
		}
		top = n
	}

	a, err := h.service.Analytics(r.Context(), chi.URLParam(r, "userID"), top)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toAnalyticsResponse(a))
}

// HandleGetPositions returns the stored position cache
func (h *Handler) HandleGetPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := h.service.Positions(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	result := make([]positionResponse, 0, len(positions))
	for _, p := range positions {
		result = append(result, toPositionResponse(p))
	}
	h.writeJSON(w, http.StatusOK, result)
}

// HandleReconcile rebuilds one portfolio's positions from the ledger
func (h *Handler) HandleReconcile(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.Reconcile(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	positions := make([]positionResponse, 0, len(result.Positions))
	for _, p := range result.Positions {
		positions = append(positions, toPositionResponse(p))
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":   result.UserID,
		"positions": positions,
		"drift":     result.Drift,
	})
}

// HandleReconcileAll rebuilds every portfolio's positions
func (h *Handler) HandleReconcileAll(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.ReconcileAll(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

// HandleRecordTrade executes a BUY or SELL at the current simulated price
func (h *Handler) HandleRecordTrade(w http.ResponseWriter, r *http.Request) {
	var req portfolio.TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Symbol == "" {
		h.writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}

	tx, err := h.service.RecordTrade(r.Context(), chi.URLParam(r, "userID"), req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, toTransactionResponse(*tx))
}

// HandleListTransactions returns the user's ledger
func (h *Handler) HandleListTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.service.Transactions(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	result := make([]transactionResponse, 0, len(txs))
	for _, tx := range txs {
		result = append(result, toTransactionResponse(tx))
	}
	h.writeJSON(w, http.StatusOK, result)
}

// HandleDeleteTransaction removes a transaction (admin correction)
func (h *Handler) HandleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	err := h.service.DeleteTransaction(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "transactionID"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleGetLeaderboard ranks users by return; ?limit bounds the count
func (h *Handler) HandleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	board, err := h.service.Leaderboard(r.Context(), limit)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	result := make([]map[string]interface{}, 0, len(board))
	for _, e := range board {
		result = append(result, map[string]interface{}{
			"rank":           e.Rank,
			"user_id":        e.UserID,
			"total_value":    e.TotalValue.StringFixed(2),
			"total_pnl":      e.TotalPnL.StringFixed(2),
			"return_pct":     e.ReturnPct.StringFixed(2),
			"open_positions": e.OpenPositions,
		})
	}
	h.writeJSON(w, http.StatusOK, result)
}

// parseWindow reads ?from and ?to, defaulting to the last defaultHistoryDays days
func (h *Handler) parseWindow(w http.ResponseWriter, r *http.Request) (date.Date, date.Date, bool) {
	to, err := parseDayParam(r, "to", h.service.Today())
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return date.Date{}, date.Date{}, false
	}
	from, err := parseDayParam(r, "from", to.Add(-(defaultHistoryDays - 1)))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return date.Date{}, date.Date{}, false
	}
	return from, to, true
}

func parseDayParam(r *http.Request, key string, fallback date.Date) (date.Date, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	d, err := date.Parse(raw)
	if err != nil {
		return date.Date{}, errors.New("invalid " + key + " date, expected YYYY-MM-DD")
	}
	return d, nil
}

type valuationResponse struct {
	Date       string `json:"date"`
	TotalValue string `json:"total_value"`
	Invested   string `json:"invested"`
	NetFlow    string `json:"net_flow"`
}

type positionResponse struct {
	StockID         string `json:"stock_id"`
	AverageBuyPrice string `json:"average_buy_price"`
	CurrentValue    string `json:"current_value"`
	ProfitLoss      string `json:"profit_loss"`
	UpdatedAt       string `json:"updated_at"`
	Quantity        int64  `json:"quantity"`
}

func toPositionResponse(p domain.Position) positionResponse {
	return positionResponse{
		StockID:         p.StockID,
		Quantity:        p.Quantity,
		AverageBuyPrice: p.AverageBuyPrice.StringFixed(4),
		CurrentValue:    p.CurrentValue.StringFixed(2),
		ProfitLoss:      p.ProfitLoss.StringFixed(2),
		UpdatedAt:       p.UpdatedAt.Format(time.RFC3339),
	}
}

type transactionResponse struct {
	ID          string `json:"id"`
	StockID     string `json:"stock_id"`
	Type        string `json:"type"`
	Status      string `json:"status"`
	Price       string `json:"price"`
	TotalAmount string `json:"total_amount"`
	Timestamp   string `json:"timestamp"`
	Quantity    int64  `json:"quantity"`
}

func toTransactionResponse(tx domain.Transaction) transactionResponse {
	return transactionResponse{
		ID:          tx.ID,
		StockID:     tx.StockID,
		Type:        string(tx.Type),
		Status:      string(tx.Status),
		Quantity:    tx.Quantity,
		Price:       tx.Price.StringFixed(2),
		TotalAmount: tx.TotalAmount.StringFixed(2),
		Timestamp:   tx.Timestamp.Format(time.RFC3339Nano),
	}
}

type stockPnLResponse struct {
	StockID         string `json:"stock_id"`
	Symbol          string `json:"symbol"`
	Name            string `json:"name"`
	Sector          string `json:"sector"`
	AverageBuyPrice string `json:"average_buy_price"`
	CurrentPrice    string `json:"current_price"`
	MarketValue     string `json:"market_value"`
	CostBasis       string `json:"cost_basis"`
	Realized        string `json:"realized"`
	Unrealized      string `json:"unrealized"`
	Total           string `json:"total"`
	ReturnPct       string `json:"return_pct"`
	Quantity        int64  `json:"quantity"`
}

func toStockPnLResponse(p portfolio.StockPnL) stockPnLResponse {
	return stockPnLResponse{
		StockID:         p.StockID,
		Symbol:          p.Symbol,
		Name:            p.Name,
		Sector:          p.Sector,
		Quantity:        p.Quantity,
		AverageBuyPrice: p.AverageBuyPrice.StringFixed(4),
		CurrentPrice:    p.CurrentPrice.StringFixed(2),
		MarketValue:     p.MarketValue.StringFixed(2),
		CostBasis:       p.CostBasis.StringFixed(2),
		Realized:        p.Realized.StringFixed(2),
		Unrealized:      p.Unrealized.StringFixed(2),
		Total:           p.Total.StringFixed(2),
		ReturnPct:       p.ReturnPct.StringFixed(2),
	}
}

func stockPnLList(list []portfolio.StockPnL) []stockPnLResponse {
	out := make([]stockPnLResponse, 0, len(list))
	for _, p := range list {
		out = append(out, toStockPnLResponse(p))
	}
	return out
}

func toAnalyticsResponse(a *portfolio.Analytics) map[string]interface{} {
	s := a.Summary
	summary := map[string]interface{}{
		"total_realized":   s.TotalRealized.StringFixed(2),
		"total_unrealized": s.TotalUnrealized.StringFixed(2),
		"total_pnl":        s.TotalPnL.StringFixed(2),
		"total_cost_basis": s.TotalCostBasis.StringFixed(2),
		"total_value":      s.TotalValue.StringFixed(2),
		"return_pct":       s.ReturnPct.StringFixed(2),
		"open_positions":   s.OpenPositions,
		"best_performer":   nil,
		"worst_performer":  nil,
	}
	if s.BestPerformer != nil {
		summary["best_performer"] = toStockPnLResponse(*s.BestPerformer)
	}
	if s.WorstPerformer != nil {
		summary["worst_performer"] = toStockPnLResponse(*s.WorstPerformer)
	}

	sectors := make([]map[string]interface{}, 0, len(a.SectorAllocation))
	for _, b := range a.SectorAllocation {
		sectors = append(sectors, map[string]interface{}{
			"sector":          b.Sector,
			"value":           b.Value.StringFixed(2),
			"percent":         b.Percent.StringFixed(2),
			"positions":       b.Positions,
			"below_threshold": b.BelowThreshold,
		})
	}

	return map[string]interface{}{
		"summary":           summary,
		"per_stock":         stockPnLList(a.PerStock),
		"sector_allocation": sectors,
		"top_movers": map[string]interface{}{
			"gainers": stockPnLList(a.TopMovers.Gainers),
			"losers":  stockPnLList(a.TopMovers.Losers),
		},
	}
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidTransactionSequence):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrStockNotFound), errors.Is(err, domain.ErrTransactionNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrStockNotTradable):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrInvalidQuantity),
		errors.Is(err, domain.ErrInvalidTransactionType),
		errors.Is(err, domain.ErrInvalidDateRange):
		h.writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.log.Error().Err(err).Msg("Portfolio request failed")
		h.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
