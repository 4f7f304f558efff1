package portfolio

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/stocksim/internal/domain"
	"github.com/aristath/stocksim/pkg/date"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"
)

// cachedValuation is the msgpack wire form of one DailyValuation
type cachedValuation struct {
	Date       string `msgpack:"d"`
	TotalValue string `msgpack:"v"`
	Invested   string `msgpack:"i"`
	NetFlow    string `msgpack:"f"`
}

// ValuationCache stores reconstructed series keyed by portfolio and range.
// An entry is served only while its fingerprint matches the caller's.
type ValuationCache struct {
	db  *sql.DB
	log zerolog.Logger
	now func() time.Time
}

// NewValuationCache creates a new valuation cache backed by cache.db
func NewValuationCache(db *sql.DB, log zerolog.Logger) *ValuationCache {
	return &ValuationCache{
		db:  db,
		log: log.With().Str("repo", "valuation_cache").Logger(),
		now: time.Now,
	}
}

// CacheKey builds the key of a portfolio's series over [from, to]
func CacheKey(portfolioID string, from, to date.Date) string {
	return portfolioID + "|" + from.String() + "|" + to.String()
}

// Get returns the cached series for key, or ok=false when missing or stale
func (c *ValuationCache) Get(ctx context.Context, key, fingerprint string) ([]domain.DailyValuation, bool, error) {
	var (
		stored  string
		payload []byte
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT fingerprint, payload FROM valuation_cache WHERE cache_key = ?`, key).Scan(&stored, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read valuation cache: %w", err)
	}
	if stored != fingerprint {
		return nil, false, nil
	}

	var entries []cachedValuation
	if err := msgpack.Unmarshal(payload, &entries); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Discarding undecodable cache entry")
		return nil, false, nil
	}

	series := make([]domain.DailyValuation, 0, len(entries))
	for _, e := range entries {
		v, err := e.decode()
		if err != nil {
			c.log.Warn().Err(err).Str("key", key).Msg("Discarding malformed cache entry")
			return nil, false, nil
		}
		series = append(series, v)
	}
	return series, true, nil
}

// Put stores series under key, replacing any previous entry
func (c *ValuationCache) Put(ctx context.Context, key, fingerprint string, series []domain.DailyValuation) error {
	entries := make([]cachedValuation, len(series))
	for i, v := range series {
		entries[i] = cachedValuation{
			Date:       v.Date.String(),
			TotalValue: v.TotalValue.String(),
			Invested:   v.Invested.String(),
			NetFlow:    v.NetFlow.String(),
		}
	}
	payload, err := msgpack.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to encode valuation series: %w", err)
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO valuation_cache (cache_key, fingerprint, payload, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			fingerprint = excluded.fingerprint,
			payload = excluded.payload,
			created_at = excluded.created_at`,
		key, fingerprint, payload, c.now().Unix())
	if err != nil {
		return fmt.Errorf("failed to write valuation cache: %w", err)
	}
	return nil
}

// Invalidate drops every entry of one portfolio
func (c *ValuationCache) Invalidate(ctx context.Context, portfolioID string) error {
	if _, err := c.db.ExecContext(ctx,
		`DELETE FROM valuation_cache WHERE cache_key >= ? AND cache_key < ?`,
		portfolioID+"|", portfolioID+"}"); err != nil {
		return fmt.Errorf("failed to invalidate valuation cache: %w", err)
	}
	return nil
}

// Prune removes entries written before cutoff and returns how many were removed
func (c *ValuationCache) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := c.db.ExecContext(ctx, `DELETE FROM valuation_cache WHERE created_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to prune valuation cache: %w", err)
	}
	return result.RowsAffected()
}

func (e cachedValuation) decode() (domain.DailyValuation, error) {
	day, err := date.Parse(e.Date)
	if err != nil {
		return domain.DailyValuation{}, err
	}
	value, err := decimal.NewFromString(e.TotalValue)
	if err != nil {
		return domain.DailyValuation{}, err
	}
	invested, err := decimal.NewFromString(e.Invested)
	if err != nil {
		return domain.DailyValuation{}, err
	}
	flow, err := decimal.NewFromString(e.NetFlow)
	if err != nil {
		return domain.DailyValuation{}, err
	}
	return domain.DailyValuation{Date: day, TotalValue: value, Invested: invested, NetFlow: flow}, nil
}
