// Package handlers provides HTTP handlers for the simulated market.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/stocksim/internal/domain"
	"github.com/aristath/stocksim/internal/events"
	"github.com/aristath/stocksim/internal/modules/market"
	"github.com/aristath/stocksim/pkg/date"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// defaultPriceWindowDays is the price history window when no "from" is given
const defaultPriceWindowDays = 30

// Handler handles market HTTP requests
type Handler struct {
	service *market.Service
	bus     *events.Bus
	log     zerolog.Logger
}

// NewHandler creates a new market handler
func NewHandler(service *market.Service, bus *events.Bus, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		bus:     bus,
		log:     log.With().Str("handler", "market").Logger(),
	}
}

// HandleListStocks returns all stocks; ?active=true limits to active ones
func (h *Handler) HandleListStocks(w http.ResponseWriter, r *http.Request) {
	activeOnly, _ := strconv.ParseBool(r.URL.Query().Get("active"))

	stocks, err := h.service.ListStocks(r.Context(), activeOnly)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list stocks")
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	result := make([]stockResponse, 0, len(stocks))
	for _, s := range stocks {
		result = append(result, toStockResponse(s))
	}
	h.writeJSON(w, http.StatusOK, result)
}

// HandleGetStock returns one stock by symbol
func (h *Handler) HandleGetStock(w http.ResponseWriter, r *http.Request) {
	stock, err := h.service.GetStock(r.Context(), chi.URLParam(r, "symbol"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toStockResponse(*stock))
}

// upsertStockRequest is the admin payload for creating or editing a stock
type upsertStockRequest struct {
	Symbol        string           `json:"symbol"`
	Name          string           `json:"name"`
	Sector        *string          `json:"sector"`
	CurrentPrice  decimal.Decimal  `json:"current_price"`
	PreviousClose *decimal.Decimal `json:"previous_close"`
	MarketCap     *decimal.Decimal `json:"market_cap"`
	Volume        int64            `json:"volume"`
	IsActive      *bool            `json:"is_active"`
	IsFrozen      bool             `json:"is_frozen"`
}

// HandleUpsertStock creates or updates a stock by symbol
func (h *Handler) HandleUpsertStock(w http.ResponseWriter, r *http.Request) {
	var req upsertStockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Symbol) == "" {
		h.writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}

	stock := domain.Stock{
		Symbol:        req.Symbol,
		Name:          req.Name,
		Sector:        req.Sector,
		CurrentPrice:  req.CurrentPrice,
		PreviousClose: req.CurrentPrice,
		MarketCap:     req.MarketCap,
		Volume:        req.Volume,
		IsActive:      req.IsActive == nil || *req.IsActive,
		IsFrozen:      req.IsFrozen,
	}
	if req.PreviousClose != nil {
		stock.PreviousClose = *req.PreviousClose
	}

	if err := h.service.UpsertStock(r.Context(), &stock); err != nil {
		if errors.Is(err, domain.ErrInvalidPrice) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toStockResponse(stock))
}

// HandleFreeze suspends simulation for a stock
func (h *Handler) HandleFreeze(w http.ResponseWriter, r *http.Request) {
	h.setFrozen(w, r, true)
}

// HandleUnfreeze resumes simulation for a stock
func (h *Handler) HandleUnfreeze(w http.ResponseWriter, r *http.Request) {
	h.setFrozen(w, r, false)
}

func (h *Handler) setFrozen(w http.ResponseWriter, r *http.Request, frozen bool) {
	stock, err := h.service.SetFrozen(r.Context(), chi.URLParam(r, "symbol"), frozen)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toStockResponse(*stock))
}

// HandleGetPrices returns daily snapshots for a stock; ?from and ?to are YYYY-MM-DD.
// Without ?to the window ends at the latest simulated day.
func (h *Handler) HandleGetPrices(w http.ResponseWriter, r *http.Request) {
	latest, err := h.service.LatestPriceDay(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	to, err := parseDayParam(r, "to", latest)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	from, err := parseDayParam(r, "from", to.Add(-defaultPriceWindowDays))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	points, err := h.service.PriceHistory(r.Context(), chi.URLParam(r, "symbol"), from, to)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	result := make([]map[string]interface{}, 0, len(points))
	for _, p := range points {
		result = append(result, map[string]interface{}{
			"day":    p.Day.String(),
			"price":  p.Price.StringFixed(2),
			"volume": p.Volume,
		})
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbol": strings.ToUpper(chi.URLParam(r, "symbol")),
		"from":   from.String(),
		"to":     to.String(),
		"prices": result,
	})
}

// HandleSimulate triggers a simulation batch; ?day=YYYY-MM-DD simulates a specific day
func (h *Handler) HandleSimulate(w http.ResponseWriter, r *http.Request) {
	day, err := parseDayParam(r, "day", h.service.Today())
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	run, err := h.service.RunSimulationFor(r.Context(), day)
	if err != nil {
		h.log.Error().Err(err).Msg("Manual simulation failed")
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, run)
}

// HandleListRuns returns recent simulation runs; ?limit bounds the count
func (h *Handler) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := h.service.ListRuns(r.Context(), limit)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, runs)
}

type stockResponse struct {
	ID             string  `json:"id"`
	Symbol         string  `json:"symbol"`
	Name           string  `json:"name"`
	Sector         string  `json:"sector"`
	CurrentPrice   string  `json:"current_price"`
	PreviousClose  string  `json:"previous_close"`
	ChangePercent  string  `json:"change_percent"`
	MarketCap      *string `json:"market_cap"`
	Volume         int64   `json:"volume"`
	IsActive       bool    `json:"is_active"`
	IsFrozen       bool    `json:"is_frozen"`
	LastUpdatedISO string  `json:"updated_at"`
}

func toStockResponse(s domain.Stock) stockResponse {
	resp := stockResponse{
		ID:             s.ID,
		Symbol:         s.Symbol,
		Name:           s.Name,
		Sector:         s.SectorName(),
		CurrentPrice:   s.CurrentPrice.StringFixed(2),
		PreviousClose:  s.PreviousClose.StringFixed(2),
		ChangePercent:  s.DailyChangePercent().StringFixed(2),
		Volume:         s.Volume,
		IsActive:       s.IsActive,
		IsFrozen:       s.IsFrozen,
		LastUpdatedISO: s.UpdatedAt.Format(time.RFC3339),
	}
	if s.MarketCap != nil {
		mc := s.MarketCap.StringFixed(2)
		resp.MarketCap = &mc
	}
	return resp
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

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrStockNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	default:
		h.log.Error().Err(err).Msg("Market request failed")
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
