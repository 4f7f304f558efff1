package portfolio

import (
	"fmt"
	"sort"
	"time"

	"github.com/aristath/stocksim/internal/domain"
	"github.com/shopspring/decimal"
)

// Holding is the running weighted-average state of one stock
type Holding struct {
	AverageBuyPrice decimal.Decimal // zero while Quantity is 0
	RealizedGain    decimal.Decimal
	ClosedCost      decimal.Decimal // cost basis of every share sold so far
	LastPrice       decimal.Decimal // execution price of the latest transaction
	Quantity        int64
}

// Open reports whether any shares are held
func (h Holding) Open() bool {
	return h.Quantity > 0
}

// CostBasis returns Quantity × AverageBuyPrice
func (h Holding) CostBasis() decimal.Decimal {
	return h.AverageBuyPrice.Mul(decimal.NewFromInt(h.Quantity))
}

// Realization is the gain booked by one SELL
type Realization struct {
	Timestamp     time.Time       `json:"timestamp"`
	TransactionID string          `json:"transaction_id"`
	StockID       string          `json:"stock_id"`
	Proceeds      decimal.Decimal `json:"proceeds"`
	Cost          decimal.Decimal `json:"cost"`
	Gain          decimal.Decimal `json:"gain"`
	Quantity      int64           `json:"quantity"`
}

// Holdings maps stock id to holding state
type Holdings map[string]Holding

// Clone returns an independent copy
func (h Holdings) Clone() Holdings {
	out := make(Holdings, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// ApplyTransaction folds tx into a copy of state. On error the returned state is the
// unchanged input. The Realization is nil for BUYs.
func ApplyTransaction(state Holdings, tx domain.Transaction) (Holdings, *Realization, error) {
	next, realization, err := applyToHolding(state[tx.StockID], tx)
	if err != nil {
		return state, nil, err
	}
	out := state.Clone()
	out[tx.StockID] = next
	return out, realization, nil
}

func applyToHolding(h Holding, tx domain.Transaction) (Holding, *Realization, error) {
	if tx.Quantity <= 0 {
		return h, nil, fmt.Errorf("transaction %s: %w", tx.ID, domain.ErrInvalidQuantity)
	}
	if !tx.Price.IsPositive() {
		return h, nil, fmt.Errorf("transaction %s: %w", tx.ID, domain.ErrInvalidPrice)
	}

	qty := decimal.NewFromInt(tx.Quantity)

	switch tx.Type {
	case domain.TransactionTypeBuy:
		if h.Quantity == 0 {
			h.AverageBuyPrice = tx.Price
		} else {
			total := h.CostBasis().Add(tx.Price.Mul(qty))
			h.AverageBuyPrice = total.Div(decimal.NewFromInt(h.Quantity + tx.Quantity))
		}
		h.Quantity += tx.Quantity
		h.LastPrice = tx.Price
		return h, nil, nil

	case domain.TransactionTypeSell:
		if tx.Quantity > h.Quantity {
			return h, nil, &domain.InvalidTransactionSequenceError{
				TransactionID: tx.ID,
				StockID:       tx.StockID,
				Held:          h.Quantity,
				Requested:     tx.Quantity,
			}
		}
		cost := h.AverageBuyPrice.Mul(qty)
		proceeds := tx.Price.Mul(qty)
		r := &Realization{
			Timestamp:     tx.Timestamp,
			TransactionID: tx.ID,
			StockID:       tx.StockID,
			Quantity:      tx.Quantity,
			Proceeds:      proceeds,
			Cost:          cost,
			Gain:          proceeds.Sub(cost),
		}
		h.Quantity -= tx.Quantity
		h.RealizedGain = h.RealizedGain.Add(r.Gain)
		h.ClosedCost = h.ClosedCost.Add(cost)
		h.LastPrice = tx.Price
		if h.Quantity == 0 {
			h.AverageBuyPrice = decimal.Zero
		}
		return h, r, nil

	default:
		return h, nil, fmt.Errorf("transaction %s: %w: %q", tx.ID, domain.ErrInvalidTransactionType, tx.Type)
	}
}

// Tracker accumulates holdings over an ordered transaction stream.
// It is not safe for concurrent use.
type Tracker struct {
	holdings     Holdings
	realizations []Realization
}

// NewTracker creates an empty tracker
func NewTracker() *Tracker {
	return &Tracker{holdings: make(Holdings)}
}

// Apply folds tx into the tracker. A rejected transaction leaves the tracker untouched.
func (t *Tracker) Apply(tx domain.Transaction) (*Realization, error) {
	next, realization, err := applyToHolding(t.holdings[tx.StockID], tx)
	if err != nil {
		return nil, err
	}
	t.holdings[tx.StockID] = next
	if realization != nil {
		t.realizations = append(t.realizations, *realization)
	}
	return realization, nil
}

// ApplyAll applies transactions in order and stops at the first error
func (t *Tracker) ApplyAll(transactions []domain.Transaction) error {
	for _, tx := range transactions {
		if _, err := t.Apply(tx); err != nil {
			return err
		}
	}
	return nil
}

// Holding returns the state for one stock (zero value if never traded)
func (t *Tracker) Holding(stockID string) Holding {
	return t.holdings[stockID]
}

// Holdings returns a copy of every holding ever touched, closed ones included
func (t *Tracker) Holdings() Holdings {
	return t.holdings.Clone()
}

// Realizations returns the SELL realizations in application order
func (t *Tracker) Realizations() []Realization {
	out := make([]Realization, len(t.realizations))
	copy(out, t.realizations)
	return out
}

// StockIDs returns every stock id the tracker has seen, sorted
func (t *Tracker) StockIDs() []string {
	ids := make([]string, 0, len(t.holdings))
	for id := range t.holdings {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// OpenValue returns Σ qty × price for open holdings, using prices[stockID] and falling
// back to the holding's last execution price
func (t *Tracker) OpenValue(prices map[string]decimal.Decimal) (value, invested decimal.Decimal) {
	value, invested = decimal.Zero, decimal.Zero
	for id, h := range t.holdings {
		if !h.Open() {
			continue
		}
		price, ok := prices[id]
		if !ok {
			price = h.LastPrice
		}
		value = value.Add(price.Mul(decimal.NewFromInt(h.Quantity)))
		invested = invested.Add(h.CostBasis())
	}
	return value, invested
}
