package market

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/stocksim/internal/domain"
	"github.com/aristath/stocksim/internal/events"
	"github.com/aristath/stocksim/pkg/date"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Service runs the daily market simulation and exposes stock administration
type Service struct {
	stocks    *StockRepository
	prices    *PricePointRepository
	simulator *Simulator
	events    *events.Manager
	loc       *time.Location
	now       func() time.Time
	log       zerolog.Logger
}

// NewService creates a new market service. loc is the reporting timezone that defines calendar days.
func NewService(
	stocks *StockRepository,
	prices *PricePointRepository,
	simulator *Simulator,
	eventManager *events.Manager,
	loc *time.Location,
	log zerolog.Logger,
) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		stocks:    stocks,
		prices:    prices,
		simulator: simulator,
		events:    eventManager,
		loc:       loc,
		now:       time.Now,
		log:       log.With().Str("service", "market").Logger(),
	}
}

// RunDailySimulation simulates today's close (in the reporting timezone) for every active stock
func (s *Service) RunDailySimulation(ctx context.Context) (*SimulationRun, error) {
	return s.RunSimulationFor(ctx, date.FromTime(s.now(), s.loc))
}

// RunSimulationFor simulates one day. All snapshots of the batch share day as their "as of" date
// and are written in one transaction.
func (s *Service) RunSimulationFor(ctx context.Context, day date.Date) (*SimulationRun, error) {
	run := &SimulationRun{
		ID:        uuid.NewString(),
		Day:       day,
		StartedAt: s.now(),
	}

	stocks, err := s.stocks.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active stocks: %w", err)
	}

	batch, err := s.simulator.SimulateBatch(ctx, stocks, day)
	if err != nil {
		return nil, err
	}
	run.Skipped = len(batch.Skipped)
	run.Failed = len(batch.Failures)
	run.Failures = batch.Failures
	run.FinishedAt = s.now()

	applied, err := s.prices.ApplyBatch(ctx, run, batch.Updates)
	if err != nil {
		return nil, fmt.Errorf("failed to persist simulation batch: %w", err)
	}

	for _, f := range batch.Failures {
		s.emitError(errors.New(f.Error), map[string]interface{}{"stock_id": f.StockID, "symbol": f.Symbol})
	}
	if s.events != nil {
		for _, u := range applied {
			s.events.EmitTyped(events.PriceUpdated, "market", &events.PriceUpdatedData{
				StockID:       u.StockID,
				Symbol:        u.Symbol,
				Day:           u.Day.String(),
				PreviousClose: u.PreviousClose.StringFixed(2),
				Price:         u.Price.StringFixed(2),
				Volume:        u.Volume,
			})
		}
		s.events.EmitTyped(events.SimulationCompleted, "market", &events.SimulationCompletedData{
			RunID:      run.ID,
			Day:        day.String(),
			Updated:    run.Updated,
			Skipped:    run.Skipped,
			Failed:     run.Failed,
			DurationMs: run.FinishedAt.Sub(run.StartedAt).Milliseconds(),
		})
	}

	s.log.Info().
		Str("run_id", run.ID).
		Str("day", day.String()).
		Int("updated", run.Updated).
		Int("skipped", run.Skipped).
		Int("failed", run.Failed).
		Msg("Market simulation completed")

	return run, nil
}

// ListStocks returns every stock, or only active ones
func (s *Service) ListStocks(ctx context.Context, activeOnly bool) ([]domain.Stock, error) {
	if activeOnly {
		return s.stocks.ListActive(ctx)
	}
	return s.stocks.List(ctx)
}

// GetStock returns a stock by symbol or domain.ErrStockNotFound
func (s *Service) GetStock(ctx context.Context, symbol string) (*domain.Stock, error) {
	stock, err := s.stocks.GetBySymbol(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if stock == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrStockNotFound, symbol)
	}
	return stock, nil
}

// StocksByID returns the given stocks keyed by id
func (s *Service) StocksByID(ctx context.Context, ids []string) (map[string]domain.Stock, error) {
	stocks, err := s.stocks.ListByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[string]domain.Stock, len(stocks))
	for _, st := range stocks {
		out[st.ID] = st
	}
	return out, nil
}

// UpsertStock creates or edits a stock (admin path)
func (s *Service) UpsertStock(ctx context.Context, stock *domain.Stock) error {
	if err := s.stocks.Upsert(ctx, stock); err != nil {
		return err
	}
	s.emitStockUpdated(stock)
	return nil
}

// SetFrozen freezes or unfreezes a stock; frozen stocks are skipped by the simulator
func (s *Service) SetFrozen(ctx context.Context, symbol string, frozen bool) (*domain.Stock, error) {
	found, err := s.stocks.SetFrozen(ctx, symbol, frozen)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", domain.ErrStockNotFound, symbol)
	}
	stock, err := s.GetStock(ctx, symbol)
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("symbol", stock.Symbol).Bool("frozen", frozen).Msg("Stock freeze state changed")
	s.emitStockUpdated(stock)
	return stock, nil
}

// PriceHistory returns the snapshots of one stock in [from, to]
func (s *Service) PriceHistory(ctx context.Context, symbol string, from, to date.Date) ([]domain.PricePoint, error) {
	stock, err := s.GetStock(ctx, symbol)
	if err != nil {
		return nil, err
	}
	return s.prices.ListRange(ctx, []string{stock.ID}, from, to)
}

// LatestPriceDay returns the newest simulated day, or today when nothing has been simulated yet
func (s *Service) LatestPriceDay(ctx context.Context) (date.Date, error) {
	day, ok, err := s.prices.LatestDay(ctx)
	if err != nil {
		return date.Date{}, err
	}
	if !ok {
		return s.Today(), nil
	}
	return day, nil
}

// ListRuns returns recent simulation runs
func (s *Service) ListRuns(ctx context.Context, limit int) ([]SimulationRun, error) {
	return s.prices.ListRuns(ctx, limit)
}

// Today returns the current calendar day in the reporting timezone
func (s *Service) Today() date.Date {
	return date.FromTime(s.now(), s.loc)
}

func (s *Service) emitStockUpdated(stock *domain.Stock) {
	if s.events == nil {
		return
	}
	s.events.EmitTyped(events.StockUpdated, "market", &events.StockUpdatedData{
		StockID:  stock.ID,
		Symbol:   strings.ToUpper(stock.Symbol),
		IsActive: stock.IsActive,
		IsFrozen: stock.IsFrozen,
	})
}

func (s *Service) emitError(err error, details map[string]interface{}) {
	if s.events != nil {
		s.events.EmitError("market", err, details)
	}
}
