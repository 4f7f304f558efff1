package portfolio

import (
	"fmt"
	"sort"
	"time"

	"github.com/aristath/stocksim/internal/domain"
	"github.com/aristath/stocksim/pkg/date"
	"github.com/shopspring/decimal"
)

// Replayer rebuilds a daily valuation series from the ledger and price snapshots.
// Transactions are bucketed into calendar days of Location.
type Replayer struct {
	Location *time.Location
}

// NewReplayer creates a replayer for the given reporting timezone (nil means UTC)
func NewReplayer(loc *time.Location) *Replayer {
	if loc == nil {
		loc = time.UTC
	}
	return &Replayer{Location: loc}
}

// priceSeries walks one stock's snapshots forward in day order
type priceSeries struct {
	points []domain.PricePoint
	next   int
	last   decimal.Decimal
	seen   bool
}

// advance consumes every point dated on or before day
func (s *priceSeries) advance(day date.Date) {
	for s.next < len(s.points) && !s.points[s.next].Day.After(day) {
		s.last = s.points[s.next].Price
		s.seen = true
		s.next++
	}
}

// Reconstruct returns exactly one DailyValuation per day in [start, end], ascending.
// pricePoints must cover every day the valuation needs to forward-fill from, including
// days before start. The inputs are not modified.
func (r *Replayer) Reconstruct(transactions []domain.Transaction, pricePoints []domain.PricePoint, start, end date.Date) ([]domain.DailyValuation, error) {
	window := date.Range{From: start, To: end}
	out := make([]domain.DailyValuation, 0, window.Len())
	if window.Len() == 0 {
		return out, nil
	}

	txs := make([]domain.Transaction, len(transactions))
	copy(txs, transactions)
	sort.SliceStable(txs, func(i, j int) bool {
		return txs[i].Timestamp.Before(txs[j].Timestamp)
	})

	series := make(map[string]*priceSeries)
	for _, p := range pricePoints {
		s, ok := series[p.StockID]
		if !ok {
			s = &priceSeries{}
			series[p.StockID] = s
		}
		s.points = append(s.points, p)
	}
	for _, s := range series {
		sort.SliceStable(s.points, func(i, j int) bool {
			return s.points[i].Day.Before(s.points[j].Day)
		})
	}

	tracker := NewTracker()
	idx := 0
	for idx < len(txs) && r.dayOf(txs[idx]).Before(start) {
		if _, err := tracker.Apply(txs[idx]); err != nil {
			return nil, fmt.Errorf("failed to replay transactions before %s: %w", start, err)
		}
		idx++
	}

	prices := make(map[string]decimal.Decimal, len(series))
	for day := range window.Days() {
		flow := decimal.Zero
		for idx < len(txs) && !r.dayOf(txs[idx]).After(day) {
			tx := txs[idx]
			if _, err := tracker.Apply(tx); err != nil {
				return nil, fmt.Errorf("failed to replay %s: %w", day, err)
			}
			switch tx.Type {
			case domain.TransactionTypeBuy:
				flow = flow.Add(tx.Price.Mul(decimal.NewFromInt(tx.Quantity)))
			case domain.TransactionTypeSell:
				flow = flow.Sub(tx.Price.Mul(decimal.NewFromInt(tx.Quantity)))
			}
			idx++
		}

		for id, s := range series {
			s.advance(day)
			if s.seen {
				prices[id] = s.last
			}
		}

		value, invested := tracker.OpenValue(prices)
		out = append(out, domain.DailyValuation{
			Date:       day,
			TotalValue: value,
			Invested:   invested,
			NetFlow:    flow,
		})
	}
	return out, nil
}

func (r *Replayer) dayOf(tx domain.Transaction) date.Date {
	return date.FromTime(tx.Timestamp, r.Location)
}
