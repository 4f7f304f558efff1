package portfolio

import (
	"sort"
	"time"

	"github.com/aristath/stocksim/internal/domain"
	"github.com/shopspring/decimal"
)

// PositionDrift is a stored position that disagrees with the ledger
type PositionDrift struct {
	StockID         string          `json:"stock_id"`
	StoredAverage   decimal.Decimal `json:"stored_average"`
	DerivedAverage  decimal.Decimal `json:"derived_average"`
	StoredQuantity  int64           `json:"stored_quantity"`
	DerivedQuantity int64           `json:"derived_quantity"`
}

// DerivePositions builds the open positions held by tracker, valued at current prices.
// A stock missing from stocks is valued at its latest execution price.
func DerivePositions(portfolioID string, tracker *Tracker, stocks map[string]domain.Stock, now time.Time) []domain.Position {
	positions := []domain.Position{}
	for _, id := range tracker.StockIDs() {
		h := tracker.Holding(id)
		if !h.Open() {
			continue
		}
		price := h.LastPrice
		if stock, ok := stocks[id]; ok && stock.CurrentPrice.IsPositive() {
			price = stock.CurrentPrice
		}
		qty := decimal.NewFromInt(h.Quantity)
		positions = append(positions, domain.Position{
			PortfolioID:     portfolioID,
			StockID:         id,
			Quantity:        h.Quantity,
			AverageBuyPrice: h.AverageBuyPrice,
			CurrentValue:    price.Mul(qty),
			ProfitLoss:      price.Sub(h.AverageBuyPrice).Mul(qty),
			UpdatedAt:       now,
		})
	}
	return positions
}

// DiffPositions reports every stock whose stored quantity or average cost differs from
// the derived one. Value and P&L columns follow prices and are not compared.
func DiffPositions(stored, derived []domain.Position) []PositionDrift {
	byStock := func(list []domain.Position) map[string]domain.Position {
		out := make(map[string]domain.Position, len(list))
		for _, p := range list {
			out[p.StockID] = p
		}
		return out
	}
	old, fresh := byStock(stored), byStock(derived)

	ids := make(map[string]struct{}, len(old)+len(fresh))
	for id := range old {
		ids[id] = struct{}{}
	}
	for id := range fresh {
		ids[id] = struct{}{}
	}

	drift := []PositionDrift{}
	for id := range ids {
		o, n := old[id], fresh[id]
		if o.Quantity == n.Quantity && o.AverageBuyPrice.Equal(n.AverageBuyPrice) {
			continue
		}
		drift = append(drift, PositionDrift{
			StockID:         id,
			StoredQuantity:  o.Quantity,
			DerivedQuantity: n.Quantity,
			StoredAverage:   o.AverageBuyPrice,
			DerivedAverage:  n.AverageBuyPrice,
		})
	}
	sort.Slice(drift, func(i, j int) bool { return drift[i].StockID < drift[j].StockID })
	return drift
}
