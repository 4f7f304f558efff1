// Package portfolio values user portfolios from the trade ledger and the simulated market.
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aristath/stocksim/internal/domain"
	"github.com/aristath/stocksim/internal/events"
	"github.com/aristath/stocksim/internal/modules/ledger"
	"github.com/aristath/stocksim/pkg/date"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// TransactionStore is the ledger surface used by the service
type TransactionStore interface {
	Create(ctx context.Context, tx *domain.Transaction) error
	ListByUser(ctx context.Context, userID string, upTo date.Date) ([]domain.Transaction, error)
	GetByID(ctx context.Context, id string) (*domain.Transaction, error)
	ListUsers(ctx context.Context) ([]string, error)
	Fingerprint(ctx context.Context, userID string) (ledger.Fingerprint, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// StockStore is the stock lookup surface used by the service
type StockStore interface {
	List(ctx context.Context) ([]domain.Stock, error)
	ListByIDs(ctx context.Context, ids []string) ([]domain.Stock, error)
	GetBySymbol(ctx context.Context, symbol string) (*domain.Stock, error)
}

// PriceStore is the snapshot lookup surface used by the service
type PriceStore interface {
	ListRange(ctx context.Context, stockIDs []string, from, to date.Date) ([]domain.PricePoint, error)
	LatestBefore(ctx context.Context, stockIDs []string, day date.Date) ([]domain.PricePoint, error)
	Fingerprint(ctx context.Context) (string, error)
}

// Options configures the service
type Options struct {
	MaxHistoryDays     int     // 0 means unbounded
	TopN               int     // default top movers count
	MaterialityPct     float64 // sector materiality threshold
	LeaderboardWorkers int
}

// TradeRequest asks to buy or sell at the stock's current simulated price
type TradeRequest struct {
	Symbol   string                 `json:"symbol"`
	Type     domain.TransactionType `json:"type"`
	Quantity int64                  `json:"quantity"`
}

// ReconcileResult reports one portfolio's reconciliation
type ReconcileResult struct {
	UserID    string            `json:"user_id"`
	Positions []domain.Position `json:"positions"`
	Drift     []PositionDrift   `json:"drift"`
}

// ReconcileSummary reports a reconciliation pass over every portfolio
type ReconcileSummary struct {
	FailedUsers []string `json:"failed_users"`
	Users       int      `json:"users"`
	Reconciled  int      `json:"reconciled"`
	Drifted     int      `json:"drifted"`
}

// LeaderboardEntry is one ranked user
type LeaderboardEntry struct {
	UserID        string          `json:"user_id"`
	TotalValue    decimal.Decimal `json:"total_value"`
	TotalPnL      decimal.Decimal `json:"total_pnl"`
	ReturnPct     decimal.Decimal `json:"return_pct"`
	Rank          int             `json:"rank"`
	OpenPositions int             `json:"open_positions"`
}

// Service answers valuation queries and records trades.
// All figures are computed on demand from the ledger; stored positions are a cache
// refreshed by Reconcile.
type Service struct {
	ledger    TransactionStore
	stocks    StockStore
	prices    PriceStore
	positions *PositionRepository
	cache     *ValuationCache
	replayer  *Replayer
	events    *events.Manager
	opts      Options
	loc       *time.Location
	now       func() time.Time
	tradeMu   sync.Map // user id -> *sync.Mutex
	log       zerolog.Logger
}

// NewService creates a new portfolio service. cache may be nil to disable series caching.
func NewService(
	ledgerStore TransactionStore,
	stocks StockStore,
	prices PriceStore,
	positions *PositionRepository,
	cache *ValuationCache,
	eventManager *events.Manager,
	opts Options,
	loc *time.Location,
	log zerolog.Logger,
) *Service {
	if loc == nil {
		loc = time.UTC
	}
	if opts.TopN < 1 {
		opts.TopN = DefaultTopN
	}
	if opts.LeaderboardWorkers < 1 {
		opts.LeaderboardWorkers = 4
	}
	return &Service{
		ledger:    ledgerStore,
		stocks:    stocks,
		prices:    prices,
		positions: positions,
		cache:     cache,
		replayer:  NewReplayer(loc),
		events:    eventManager,
		opts:      opts,
		loc:       loc,
		now:       time.Now,
		log:       log.With().Str("service", "portfolio").Logger(),
	}
}

// Today returns the current calendar day in the reporting timezone
func (s *Service) Today() date.Date {
	return date.FromTime(s.now(), s.loc)
}

// History returns one DailyValuation per day in [from, to].
// A reversed range yields an empty series; a range longer than MaxHistoryDays is rejected.
func (s *Service) History(ctx context.Context, userID string, from, to date.Date) ([]domain.DailyValuation, error) {
	window := date.Range{From: from, To: to}
	if window.Len() == 0 {
		return []domain.DailyValuation{}, nil
	}
	if s.opts.MaxHistoryDays > 0 && window.Len() > s.opts.MaxHistoryDays {
		return nil, fmt.Errorf("%w: %d days requested, at most %d allowed",
			domain.ErrInvalidDateRange, window.Len(), s.opts.MaxHistoryDays)
	}

	key := CacheKey(userID, from, to)
	fingerprint := ""
	if s.cache != nil {
		fp, err := s.fingerprint(ctx, userID)
		if err != nil {
			return nil, err
		}
		fingerprint = fp
		series, ok, err := s.cache.Get(ctx, key, fingerprint)
		if err != nil {
			s.log.Warn().Err(err).Str("user_id", userID).Msg("Valuation cache read failed")
		} else if ok {
			return series, nil
		}
	}

	txs, err := s.ledger.ListByUser(ctx, userID, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}
	points, err := s.loadPrices(ctx, stockIDs(txs), from, to)
	if err != nil {
		return nil, err
	}

	series, err := s.replayer.Reconstruct(txs, points, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to reconstruct history for %s: %w", userID, err)
	}

	if s.cache != nil {
		if err := s.cache.Put(ctx, key, fingerprint, series); err != nil {
			s.log.Warn().Err(err).Str("user_id", userID).Msg("Valuation cache write failed")
		}
	}
	return series, nil
}

// Performance computes return and risk figures over History(from, to)
func (s *Service) Performance(ctx context.Context, userID string, from, to date.Date, smaPeriod int) (*Performance, error) {
	series, err := s.History(ctx, userID, from, to)
	if err != nil {
		return nil, err
	}
	perf := ComputePerformance(series, smaPeriod)
	return &perf, nil
}

// Analytics returns the current P&L, sector allocation and top movers of a portfolio.
// topN < 1 uses the configured default.
func (s *Service) Analytics(ctx context.Context, userID string, topN int) (*Analytics, error) {
	txs, err := s.ledger.ListByUser(ctx, userID, date.Date{})
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}
	stocks, err := s.stocksByID(ctx, stockIDs(txs))
	if err != nil {
		return nil, err
	}
	if topN < 1 {
		topN = s.opts.TopN
	}
	return s.analyticsFor(userID, txs, stocks, topN)
}

func (s *Service) analyticsFor(userID string, txs []domain.Transaction, stocks map[string]domain.Stock, topN int) (*Analytics, error) {
	tracker := NewTracker()
	if err := tracker.ApplyAll(txs); err != nil {
		return nil, err
	}
	positions := DerivePositions(userID, tracker, stocks, s.now())
	return ComputeAnalytics(positions, txs, stocks, AnalyticsOptions{
		TopN:           topN,
		MaterialityPct: s.opts.MaterialityPct,
	})
}

// Positions returns the stored position cache of a portfolio
func (s *Service) Positions(ctx context.Context, userID string) ([]domain.Position, error) {
	return s.positions.ListByPortfolio(ctx, userID)
}

// Transactions returns a user's whole ledger in execution order
func (s *Service) Transactions(ctx context.Context, userID string) ([]domain.Transaction, error) {
	return s.ledger.ListByUser(ctx, userID, date.Date{})
}

// Reconcile recomputes a portfolio's positions from the ledger, reports where the stored
// rows had drifted, and replaces them.
func (s *Service) Reconcile(ctx context.Context, userID string) (*ReconcileResult, error) {
	txs, err := s.ledger.ListByUser(ctx, userID, date.Date{})
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}
	tracker := NewTracker()
	if err := tracker.ApplyAll(txs); err != nil {
		return nil, fmt.Errorf("failed to replay ledger of %s: %w", userID, err)
	}
	stocks, err := s.stocksByID(ctx, tracker.StockIDs())
	if err != nil {
		return nil, err
	}

	derived := DerivePositions(userID, tracker, stocks, s.now())
	stored, err := s.positions.ListByPortfolio(ctx, userID)
	if err != nil {
		return nil, err
	}
	drift := DiffPositions(stored, derived)
	for _, d := range drift {
		s.log.Warn().
			Str("user_id", userID).
			Str("stock_id", d.StockID).
			Int64("stored_quantity", d.StoredQuantity).
			Int64("derived_quantity", d.DerivedQuantity).
			Str("stored_average", d.StoredAverage.String()).
			Str("derived_average", d.DerivedAverage.String()).
			Msg("Position drift corrected")
	}

	if err := s.positions.Replace(ctx, userID, derived); err != nil {
		return nil, err
	}

	if s.events != nil {
		s.events.EmitTyped(events.PositionsReconciled, "portfolio", &events.PositionsReconciledData{
			UserID:    userID,
			Positions: len(derived),
			Drifted:   len(drift),
		})
	}
	return &ReconcileResult{UserID: userID, Positions: derived, Drift: drift}, nil
}

// ReconcileAll reconciles every portfolio. A user whose ledger is out of sequence is logged,
// reported in FailedUsers and skipped; any other error aborts the pass.
func (s *Service) ReconcileAll(ctx context.Context) (*ReconcileSummary, error) {
	users, err := s.allPortfolios(ctx)
	if err != nil {
		return nil, err
	}

	summary := &ReconcileSummary{Users: len(users), FailedUsers: []string{}}
	for _, userID := range users {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		result, err := s.Reconcile(ctx, userID)
		if errors.Is(err, domain.ErrInvalidTransactionSequence) {
			s.log.Error().Err(err).Str("user_id", userID).Msg("Ledger out of sequence, skipping user")
			if s.events != nil {
				s.events.EmitError("portfolio", err, map[string]interface{}{"user_id": userID})
			}
			summary.FailedUsers = append(summary.FailedUsers, userID)
			continue
		}
		if err != nil {
			return summary, fmt.Errorf("failed to reconcile %s: %w", userID, err)
		}
		summary.Reconciled++
		if len(result.Drift) > 0 {
			summary.Drifted++
		}
	}

	s.log.Info().
		Int("users", summary.Users).
		Int("reconciled", summary.Reconciled).
		Int("drifted", summary.Drifted).
		Int("failed", len(summary.FailedUsers)).
		Msg("Position reconciliation completed")
	return summary, nil
}

// PruneCache drops cached series older than maxAge
func (s *Service) PruneCache(ctx context.Context, maxAge time.Duration) (int64, error) {
	if s.cache == nil {
		return 0, nil
	}
	return s.cache.Prune(ctx, s.now().Add(-maxAge))
}

// RecordTrade executes a BUY or SELL at the stock's current price.
// Trades of one user are serialized so a SELL is always validated against the latest ledger.
func (s *Service) RecordTrade(ctx context.Context, userID string, req TradeRequest) (*domain.Transaction, error) {
	if !req.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidTransactionType, req.Type)
	}
	if req.Quantity <= 0 {
		return nil, domain.ErrInvalidQuantity
	}
	stock, err := s.stocks.GetBySymbol(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}
	if stock == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrStockNotFound, req.Symbol)
	}
	if !stock.Tradable() {
		return nil, fmt.Errorf("%w: %s", domain.ErrStockNotTradable, stock.Symbol)
	}

	mu := s.userLock(userID)
	mu.Lock()
	defer mu.Unlock()

	txs, err := s.ledger.ListByUser(ctx, userID, date.Date{})
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}
	tracker := NewTracker()
	if err := tracker.ApplyAll(txs); err != nil {
		return nil, err
	}

	tx := domain.NewTransaction(userID, stock.ID, req.Type, req.Quantity, stock.CurrentPrice, s.now())
	if _, err := tracker.Apply(tx); err != nil {
		return nil, err
	}
	if err := s.ledger.Create(ctx, &tx); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("user_id", userID).
		Str("symbol", stock.Symbol).
		Str("type", string(tx.Type)).
		Int64("quantity", tx.Quantity).
		Str("price", tx.Price.String()).
		Msg("Trade recorded")

	if s.events != nil {
		s.events.EmitTyped(events.TradeRecorded, "portfolio", &events.TradeRecordedData{
			TransactionID: tx.ID,
			UserID:        userID,
			StockID:       tx.StockID,
			Type:          string(tx.Type),
			Price:         tx.Price.StringFixed(2),
			Quantity:      tx.Quantity,
		})
	}

	if _, err := s.Reconcile(ctx, userID); err != nil {
		s.log.Warn().Err(err).Str("user_id", userID).Msg("Failed to refresh positions after trade")
	}
	return &tx, nil
}

// DeleteTransaction removes one of the user's transactions (admin correction).
// The deletion is refused with an InvalidTransactionSequenceError when a later SELL would
// no longer be covered.
func (s *Service) DeleteTransaction(ctx context.Context, userID, transactionID string) error {
	mu := s.userLock(userID)
	mu.Lock()
	defer mu.Unlock()

	existing, err := s.ledger.GetByID(ctx, transactionID)
	if err != nil {
		return err
	}
	if existing == nil || existing.UserID != userID {
		return fmt.Errorf("%w: %s", domain.ErrTransactionNotFound, transactionID)
	}

	txs, err := s.ledger.ListByUser(ctx, userID, date.Date{})
	if err != nil {
		return fmt.Errorf("failed to load transactions: %w", err)
	}
	remaining := make([]domain.Transaction, 0, len(txs))
	for _, tx := range txs {
		if tx.ID != transactionID {
			remaining = append(remaining, tx)
		}
	}
	if err := NewTracker().ApplyAll(remaining); err != nil {
		return err
	}

	deleted, err := s.ledger.Delete(ctx, transactionID)
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("%w: %s", domain.ErrTransactionNotFound, transactionID)
	}

	if _, err := s.Reconcile(ctx, userID); err != nil {
		s.log.Warn().Err(err).Str("user_id", userID).Msg("Failed to refresh positions after deletion")
	}
	return nil
}

// Leaderboard ranks users by return percentage, then total value (desc), then user id.
// limit <= 0 returns every user. Users whose ledger is out of sequence are left out.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	users, err := s.ledger.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	all, err := s.stocks.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list stocks: %w", err)
	}
	stocks := make(map[string]domain.Stock, len(all))
	for _, st := range all {
		stocks[st.ID] = st
	}

	results := make([]*LeaderboardEntry, len(users))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.LeaderboardWorkers)
	for i, userID := range users {
		g.Go(func() error {
			txs, err := s.ledger.ListByUser(gctx, userID, date.Date{})
			if err != nil {
				return fmt.Errorf("failed to load transactions of %s: %w", userID, err)
			}
			a, err := s.analyticsFor(userID, txs, stocks, 1)
			if errors.Is(err, domain.ErrInvalidTransactionSequence) {
				s.log.Warn().Err(err).Str("user_id", userID).Msg("Leaving user out of leaderboard")
				return nil
			}
			if err != nil {
				return err
			}
			results[i] = &LeaderboardEntry{
				UserID:        userID,
				TotalValue:    a.Summary.TotalValue,
				TotalPnL:      a.Summary.TotalPnL,
				ReturnPct:     a.Summary.ReturnPct,
				OpenPositions: a.Summary.OpenPositions,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	board := make([]LeaderboardEntry, 0, len(results))
	for _, r := range results {
		if r != nil {
			board = append(board, *r)
		}
	}
	sort.Slice(board, func(i, j int) bool {
		a, b := board[i], board[j]
		if !a.ReturnPct.Equal(b.ReturnPct) {
			return a.ReturnPct.GreaterThan(b.ReturnPct)
		}
		if !a.TotalValue.Equal(b.TotalValue) {
			return a.TotalValue.GreaterThan(b.TotalValue)
		}
		return a.UserID < b.UserID
	})
	for i := range board {
		board[i].Rank = i + 1
	}
	if limit > 0 && len(board) > limit {
		board = board[:limit]
	}
	return board, nil
}

func (s *Service) userLock(userID string) *sync.Mutex {
	mu, _ := s.tradeMu.LoadOrStore(userID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (s *Service) fingerprint(ctx context.Context, userID string) (string, error) {
	ledgerFP, err := s.ledger.Fingerprint(ctx, userID)
	if err != nil {
		return "", err
	}
	pricesFP, err := s.prices.Fingerprint(ctx)
	if err != nil {
		return "", err
	}
	return ledgerFP.String() + "|" + pricesFP, nil
}

// loadPrices returns the snapshots in [from, to] plus the latest one before from, so the
// replayer can forward-fill from the first day of the window
func (s *Service) loadPrices(ctx context.Context, ids []string, from, to date.Date) ([]domain.PricePoint, error) {
	if len(ids) == 0 {
		return []domain.PricePoint{}, nil
	}
	before, err := s.prices.LatestBefore(ctx, ids, from)
	if err != nil {
		return nil, err
	}
	inRange, err := s.prices.ListRange(ctx, ids, from, to)
	if err != nil {
		return nil, err
	}
	return append(before, inRange...), nil
}

func (s *Service) stocksByID(ctx context.Context, ids []string) (map[string]domain.Stock, error) {
	list, err := s.stocks.ListByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load stocks: %w", err)
	}
	out := make(map[string]domain.Stock, len(list))
	for _, st := range list {
		out[st.ID] = st
	}
	return out, nil
}

// allPortfolios returns ledger users plus portfolios that only have stored positions left
func (s *Service) allPortfolios(ctx context.Context) ([]string, error) {
	users, err := s.ledger.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	stored, err := s.positions.ListPortfolios(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(users)+len(stored))
	out := make([]string, 0, len(users)+len(stored))
	for _, id := range append(users, stored...) {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func stockIDs(txs []domain.Transaction) []string {
	seen := make(map[string]struct{})
	ids := make([]string, 0)
	for _, tx := range txs {
		if _, ok := seen[tx.StockID]; ok {
			continue
		}
		seen[tx.StockID] = struct{}{}
		ids = append(ids, tx.StockID)
	}
	sort.Strings(ids)
	return ids
}
