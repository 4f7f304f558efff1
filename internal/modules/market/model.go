// Package market provides the simulated stock market: the daily price model,
// the batch simulator and the persistence of stocks and price snapshots.
package market

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/aristath/stocksim/internal/domain"
	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat/distuv"
)

// PriceModel draws the next day's close from a bounded normal return.
//
// r ~ Normal(0, Volatility), clamped to ±MaxDailyMove.
// next = current × (1 + r), rounded to cents, never below MinPrice.
type PriceModel struct {
	MinPrice       decimal.Decimal
	Volatility     float64
	MaxDailyMove   float64
	MaxVolumeDelta int64
}

// DefaultPriceModel returns a model with 2% daily volatility bounded at ±10%
func DefaultPriceModel() PriceModel {
	return PriceModel{
		MinPrice:       decimal.New(1, -2),
		Volatility:     0.02,
		MaxDailyMove:   0.10,
		MaxVolumeDelta: 100000,
	}
}

// Validate checks the model parameters
func (m PriceModel) Validate() error {
	if m.Volatility <= 0 || math.IsNaN(m.Volatility) || math.IsInf(m.Volatility, 0) {
		return fmt.Errorf("volatility must be a positive number, got %v", m.Volatility)
	}
	if m.MaxDailyMove <= 0 || m.MaxDailyMove >= 1 {
		return fmt.Errorf("max daily move must be in (0, 1), got %v", m.MaxDailyMove)
	}
	if !m.MinPrice.IsPositive() {
		return fmt.Errorf("min price must be positive, got %s", m.MinPrice)
	}
	if m.MaxVolumeDelta < 0 {
		return fmt.Errorf("max volume delta must not be negative, got %d", m.MaxVolumeDelta)
	}
	return nil
}

// NextPrice computes the next close and volume for a stock using src as the only entropy.
// ok is false for inactive or frozen stocks. The returned update carries
// PreviousClose = stock.CurrentPrice; Day is left for the caller to set.
func (m PriceModel) NextPrice(stock domain.Stock, src rand.Source) (domain.PriceUpdate, bool, error) {
	if !stock.Tradable() {
		return domain.PriceUpdate{}, false, nil
	}
	if !stock.CurrentPrice.IsPositive() {
		return domain.PriceUpdate{}, false, fmt.Errorf("%w: stock %s has current price %s",
			domain.ErrInvalidPrice, stock.Symbol, stock.CurrentPrice)
	}
	if stock.Volume < 0 {
		return domain.PriceUpdate{}, false, fmt.Errorf("stock %s has negative volume %d", stock.Symbol, stock.Volume)
	}

	r := distuv.Normal{Mu: 0, Sigma: m.Volatility, Src: src}.Rand()
	r = math.Max(-m.MaxDailyMove, math.Min(m.MaxDailyMove, r))

	price := stock.CurrentPrice.Mul(decimal.NewFromFloat(1 + r)).Round(2)
	if price.LessThan(m.MinPrice) {
		price = m.MinPrice
	}

	var delta int64
	switch {
	case m.MaxVolumeDelta == math.MaxInt64:
		// Int64 already covers [0, MaxInt64]; MaxVolumeDelta+1 would overflow
		delta = rand.New(src).Int64()
	case m.MaxVolumeDelta > 0:
		delta = rand.New(src).Int64N(m.MaxVolumeDelta + 1)
	}
	volume := stock.Volume + delta
	if volume < stock.Volume {
		volume = math.MaxInt64
	}

	return domain.PriceUpdate{
		StockID:       stock.ID,
		Symbol:        stock.Symbol,
		PreviousClose: stock.CurrentPrice,
		Price:         price,
		VolumeDelta:   delta,
		Volume:        volume,
	}, true, nil
}
