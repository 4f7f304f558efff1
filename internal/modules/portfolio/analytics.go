package portfolio

import (
	"sort"

	"github.com/aristath/stocksim/internal/domain"
	"github.com/shopspring/decimal"
)

// DefaultTopN is the number of gainers and losers reported when none is requested
const DefaultTopN = 3

var hundred = decimal.NewFromInt(100)

// AnalyticsOptions tunes ComputeAnalytics
type AnalyticsOptions struct {
	TopN           int     // gainers/losers to report, DefaultTopN when < 1
	MaterialityPct float64 // sectors under this share of value are flagged
}

// StockPnL is the profit and loss of one stock ever transacted
type StockPnL struct {
	StockID         string          `json:"stock_id"`
	Symbol          string          `json:"symbol"`
	Name            string          `json:"name"`
	Sector          string          `json:"sector"`
	AverageBuyPrice decimal.Decimal `json:"average_buy_price"`
	CurrentPrice    decimal.Decimal `json:"current_price"`
	MarketValue     decimal.Decimal `json:"market_value"`
	CostBasis       decimal.Decimal `json:"cost_basis"` // open plus closed
	Realized        decimal.Decimal `json:"realized"`
	Unrealized      decimal.Decimal `json:"unrealized"`
	Total           decimal.Decimal `json:"total"`
	ReturnPct       decimal.Decimal `json:"return_pct"`
	Quantity        int64           `json:"quantity"`
}

// Summary aggregates the per-stock figures
type Summary struct {
	BestPerformer   *StockPnL       `json:"best_performer,omitempty"`
	WorstPerformer  *StockPnL       `json:"worst_performer,omitempty"`
	TotalRealized   decimal.Decimal `json:"total_realized"`
	TotalUnrealized decimal.Decimal `json:"total_unrealized"`
	TotalPnL        decimal.Decimal `json:"total_pnl"`
	TotalCostBasis  decimal.Decimal `json:"total_cost_basis"`
	TotalValue      decimal.Decimal `json:"total_value"`
	ReturnPct       decimal.Decimal `json:"return_pct"`
	OpenPositions   int             `json:"open_positions"`
}

// SectorBucket is one sector's share of open market value
type SectorBucket struct {
	Sector         string          `json:"sector"`
	Value          decimal.Decimal `json:"value"`
	Percent        decimal.Decimal `json:"percent"`
	Positions      int             `json:"positions"`
	BelowThreshold bool            `json:"below_threshold"`
}

// TopMovers lists the best and worst stocks by total P&L
type TopMovers struct {
	Gainers []StockPnL `json:"gainers"`
	Losers  []StockPnL `json:"losers"`
}

// Analytics is the full snapshot returned by ComputeAnalytics
type Analytics struct {
	PerStock         []StockPnL     `json:"per_stock"`
	SectorAllocation []SectorBucket `json:"sector_allocation"`
	TopMovers        TopMovers      `json:"top_movers"`
	Summary          Summary        `json:"summary"`
}

// ComputeAnalytics derives P&L, sector allocation and top movers for one portfolio.
//
// positions carry the open holdings (quantity and average cost). transactions are replayed
// for realized gains and the cost of closed lots. stocks supplies current prices, symbols and
// sectors; a stock missing from it is valued at its latest execution price.
func ComputeAnalytics(positions []domain.Position, transactions []domain.Transaction, stocks map[string]domain.Stock, opts AnalyticsOptions) (*Analytics, error) {
	topN := opts.TopN
	if topN < 1 {
		topN = DefaultTopN
	}

	tracker := NewTracker()
	if err := tracker.ApplyAll(transactions); err != nil {
		return nil, err
	}
	holdings := tracker.Holdings()

	open := make(map[string]domain.Position, len(positions))
	for _, p := range positions {
		if p.Quantity > 0 {
			open[p.StockID] = p
		}
	}

	ids := make(map[string]struct{}, len(holdings)+len(open))
	for id := range holdings {
		ids[id] = struct{}{}
	}
	for id := range open {
		ids[id] = struct{}{}
	}

	result := &Analytics{
		PerStock:         make([]StockPnL, 0, len(ids)),
		SectorAllocation: []SectorBucket{},
		TopMovers:        TopMovers{Gainers: []StockPnL{}, Losers: []StockPnL{}},
		Summary: Summary{
			TotalRealized:   decimal.Zero,
			TotalUnrealized: decimal.Zero,
			TotalPnL:        decimal.Zero,
			TotalCostBasis:  decimal.Zero,
			TotalValue:      decimal.Zero,
			ReturnPct:       decimal.Zero,
		},
	}

	sectors := make(map[string]*SectorBucket)
	for id := range ids {
		h := holdings[id]
		pnl := StockPnL{
			StockID: id,
			Symbol:  id,
			Sector:  domain.UnclassifiedSector,
		}
		price := h.LastPrice
		if stock, ok := stocks[id]; ok {
			pnl.Symbol = stock.Symbol
			pnl.Name = stock.Name
			pnl.Sector = stock.SectorName()
			price = stock.CurrentPrice
		}

		qty := int64(0)
		avg := decimal.Zero
		if p, ok := open[id]; ok {
			qty = p.Quantity
			avg = p.AverageBuyPrice
			if price.IsZero() && qty > 0 {
				price = p.CurrentValue.Div(decimal.NewFromInt(qty))
			}
		}

		qtyDec := decimal.NewFromInt(qty)
		openCost := avg.Mul(qtyDec)
		pnl.Quantity = qty
		pnl.AverageBuyPrice = avg
		pnl.CurrentPrice = price
		pnl.MarketValue = price.Mul(qtyDec)
		pnl.Realized = h.RealizedGain
		pnl.Unrealized = price.Sub(avg).Mul(qtyDec)
		pnl.Total = pnl.Realized.Add(pnl.Unrealized)
		pnl.CostBasis = openCost.Add(h.ClosedCost)
		pnl.ReturnPct = percentOf(pnl.Total, pnl.CostBasis)
		result.PerStock = append(result.PerStock, pnl)

		s := &result.Summary
		s.TotalRealized = s.TotalRealized.Add(pnl.Realized)
		s.TotalUnrealized = s.TotalUnrealized.Add(pnl.Unrealized)
		s.TotalCostBasis = s.TotalCostBasis.Add(pnl.CostBasis)
		s.TotalValue = s.TotalValue.Add(pnl.MarketValue)

		if qty > 0 {
			s.OpenPositions++
			bucket, ok := sectors[pnl.Sector]
			if !ok {
				bucket = &SectorBucket{Sector: pnl.Sector, Value: decimal.Zero}
				sectors[pnl.Sector] = bucket
			}
			bucket.Value = bucket.Value.Add(pnl.MarketValue)
			bucket.Positions++
		}
	}

	sort.Slice(result.PerStock, func(i, j int) bool {
		return bySymbol(result.PerStock[i], result.PerStock[j])
	})

	s := &result.Summary
	s.TotalPnL = s.TotalRealized.Add(s.TotalUnrealized)
	s.ReturnPct = percentOf(s.TotalPnL, s.TotalCostBasis)

	for _, bucket := range sectors {
		bucket.Percent = percentOf(bucket.Value, s.TotalValue)
		bucket.BelowThreshold = bucket.Percent.LessThan(decimal.NewFromFloat(opts.MaterialityPct))
		result.SectorAllocation = append(result.SectorAllocation, *bucket)
	}
	sort.Slice(result.SectorAllocation, func(i, j int) bool {
		a, b := result.SectorAllocation[i], result.SectorAllocation[j]
		if !a.Value.Equal(b.Value) {
			return a.Value.GreaterThan(b.Value)
		}
		return a.Sector < b.Sector
	})

	result.TopMovers = topMovers(result.PerStock, topN)
	if len(result.PerStock) > 0 {
		best := result.TopMovers.Gainers[0]
		worst := result.TopMovers.Losers[0]
		s.BestPerformer = &best
		s.WorstPerformer = &worst
	}

	return result, nil
}

func topMovers(perStock []StockPnL, n int) TopMovers {
	gainers := make([]StockPnL, len(perStock))
	copy(gainers, perStock)
	sort.SliceStable(gainers, func(i, j int) bool {
		if !gainers[i].Total.Equal(gainers[j].Total) {
			return gainers[i].Total.GreaterThan(gainers[j].Total)
		}
		return bySymbol(gainers[i], gainers[j])
	})

	losers := make([]StockPnL, len(perStock))
	copy(losers, perStock)
	sort.SliceStable(losers, func(i, j int) bool {
		if !losers[i].Total.Equal(losers[j].Total) {
			return losers[i].Total.LessThan(losers[j].Total)
		}
		return bySymbol(losers[i], losers[j])
	})

	if len(gainers) > n {
		gainers = gainers[:n]
		losers = losers[:n]
	}
	return TopMovers{Gainers: gainers, Losers: losers}
}

func bySymbol(a, b StockPnL) bool {
	if a.Symbol != b.Symbol {
		return a.Symbol < b.Symbol
	}
	return a.StockID < b.StockID
}

// percentOf returns part / whole × 100, or 0 when whole is 0
func percentOf(part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return part.Div(whole).Mul(hundred)
}
