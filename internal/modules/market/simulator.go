package market

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand/v2"

	"github.com/aristath/stocksim/internal/domain"
	"github.com/aristath/stocksim/pkg/date"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// SourceFactory returns the entropy source for one stock on one day
type SourceFactory func(stockID string, day date.Date) rand.Source

// SeededSourceFactory derives an independent PCG stream per (seed, day, stock).
// The same seed reproduces the same market regardless of goroutine scheduling.
func SeededSourceFactory(seed uint64) SourceFactory {
	return func(stockID string, day date.Date) rand.Source {
		h := fnv.New64a()
		_, _ = h.Write([]byte(stockID))
		dayKey := uint64(day.Year())*10000 + uint64(day.Month())*100 + uint64(day.Day())
		return rand.NewPCG(seed^(dayKey*0x9E3779B97F4A7C15), h.Sum64())
	}
}

// StockFailure records a stock the model could not price
type StockFailure struct {
	StockID string `json:"stock_id"`
	Symbol  string `json:"symbol"`
	Error   string `json:"error"`
}

// BatchResult is the outcome of simulating every stock for one day
type BatchResult struct {
	Day      date.Date            `json:"day"`
	Updates  []domain.PriceUpdate `json:"updates"`
	Skipped  []string             `json:"skipped"` // stock ids the model declined (frozen/inactive)
	Failures []StockFailure       `json:"failures"`
}

// Simulator runs the price model over a set of stocks
type Simulator struct {
	model   PriceModel
	sources SourceFactory
	workers int
	log     zerolog.Logger
}

// NewSimulator creates a simulator. workers bounds parallel model calls.
func NewSimulator(model PriceModel, sources SourceFactory, workers int, log zerolog.Logger) (*Simulator, error) {
	if err := model.Validate(); err != nil {
		return nil, fmt.Errorf("invalid price model: %w", err)
	}
	if sources == nil {
		return nil, fmt.Errorf("source factory is required")
	}
	if workers < 1 {
		workers = 1
	}
	return &Simulator{
		model:   model,
		sources: sources,
		workers: workers,
		log:     log.With().Str("component", "simulator").Logger(),
	}, nil
}

// SimulateDay prices one stock for day. It returns nil when the stock is not simulated.
func (s *Simulator) SimulateDay(stock domain.Stock, day date.Date) (*domain.PriceUpdate, error) {
	update, ok, err := s.model.NextPrice(stock, s.sources(stock.ID, day))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	update.Day = day
	return &update, nil
}

// simulateIsolated turns a panic while pricing one stock into that stock's error
func (s *Simulator) simulateIsolated(stock domain.Stock, day date.Date) (update *domain.PriceUpdate, err error) {
	defer func() {
		if r := recover(); r != nil {
			update = nil
			err = fmt.Errorf("panic while simulating %s: %v", stock.Symbol, r)
		}
	}()
	return s.SimulateDay(stock, day)
}

// SimulateBatch prices every stock in parallel for one day.
// A failing stock is recorded in the result and never aborts the others;
// only context cancellation fails the batch.
func (s *Simulator) SimulateBatch(ctx context.Context, stocks []domain.Stock, day date.Date) (*BatchResult, error) {
	type outcome struct {
		update *domain.PriceUpdate
		err    error
	}
	outcomes := make([]outcome, len(stocks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i := range stocks {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			update, err := s.simulateIsolated(stocks[i], day)
			outcomes[i] = outcome{update: update, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("simulation cancelled: %w", err)
	}

	result := &BatchResult{
		Day:      day,
		Updates:  make([]domain.PriceUpdate, 0, len(stocks)),
		Skipped:  []string{},
		Failures: []StockFailure{},
	}
	for i, o := range outcomes {
		stock := stocks[i]
		switch {
		case o.err != nil:
			s.log.Warn().Err(o.err).Str("symbol", stock.Symbol).Msg("Failed to simulate stock")
			result.Failures = append(result.Failures, StockFailure{
				StockID: stock.ID,
				Symbol:  stock.Symbol,
				Error:   o.err.Error(),
			})
		case o.update == nil:
			result.Skipped = append(result.Skipped, stock.ID)
		default:
			result.Updates = append(result.Updates, *o.update)
		}
	}
	return result, nil
}
