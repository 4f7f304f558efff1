package market

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/stocksim/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const stockColumns = `id, symbol, name, sector, current_price, previous_close, volume,
	market_cap, is_active, is_frozen, updated_at`

// StockRepository handles stock database operations (market.db)
type StockRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewStockRepository creates a new stock repository
func NewStockRepository(db *sql.DB, log zerolog.Logger) *StockRepository {
	return &StockRepository{
		db:  db,
		log: log.With().Str("repo", "stock").Logger(),
	}
}

// ListActive returns active stocks ordered by symbol. Frozen stocks are included.
func (r *StockRepository) ListActive(ctx context.Context) ([]domain.Stock, error) {
	return r.query(ctx, `SELECT `+stockColumns+` FROM stocks WHERE is_active = 1 ORDER BY symbol`)
}

// List returns every stock ordered by symbol
func (r *StockRepository) List(ctx context.Context) ([]domain.Stock, error) {
	return r.query(ctx, `SELECT `+stockColumns+` FROM stocks ORDER BY symbol`)
}

// ListByIDs returns the stocks with the given ids, in symbol order
func (r *StockRepository) ListByIDs(ctx context.Context, ids []string) ([]domain.Stock, error) {
	if len(ids) == 0 {
		return []domain.Stock{}, nil
	}
	placeholders, args := inClause(ids)
	return r.query(ctx, `SELECT `+stockColumns+` FROM stocks WHERE id IN (`+placeholders+`) ORDER BY symbol`, args...)
}

// GetByID returns a stock by id, or nil if not found
func (r *StockRepository) GetByID(ctx context.Context, id string) (*domain.Stock, error) {
	return r.queryOne(ctx, `SELECT `+stockColumns+` FROM stocks WHERE id = ?`, id)
}

// GetBySymbol returns a stock by symbol (case-insensitive), or nil if not found
func (r *StockRepository) GetBySymbol(ctx context.Context, symbol string) (*domain.Stock, error) {
	return r.queryOne(ctx, `SELECT `+stockColumns+` FROM stocks WHERE symbol = ?`, strings.ToUpper(symbol))
}

// Upsert inserts a stock or updates the existing row with the same symbol.
// The stored id is kept on update and written back into stock.
func (r *StockRepository) Upsert(ctx context.Context, stock *domain.Stock) error {
	stock.Symbol = strings.ToUpper(strings.TrimSpace(stock.Symbol))
	if stock.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if !stock.CurrentPrice.IsPositive() {
		return fmt.Errorf("%w: %s", domain.ErrInvalidPrice, stock.CurrentPrice)
	}
	if stock.Volume < 0 {
		return fmt.Errorf("volume must not be negative")
	}
	if stock.ID == "" {
		stock.ID = uuid.NewString()
	}
	if stock.UpdatedAt.IsZero() {
		stock.UpdatedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO stocks (`+stockColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			name = excluded.name,
			sector = excluded.sector,
			current_price = excluded.current_price,
			previous_close = excluded.previous_close,
			volume = excluded.volume,
			market_cap = excluded.market_cap,
			is_active = excluded.is_active,
			is_frozen = excluded.is_frozen,
			updated_at = excluded.updated_at`,
		stock.ID, stock.Symbol, stock.Name, nullableString(stock.Sector),
		stock.CurrentPrice.String(), stock.PreviousClose.String(), stock.Volume,
		nullableDecimal(stock.MarketCap), boolToInt(stock.IsActive), boolToInt(stock.IsFrozen),
		stock.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert stock %s: %w", stock.Symbol, err)
	}

	if err := r.db.QueryRowContext(ctx, `SELECT id FROM stocks WHERE symbol = ?`, stock.Symbol).Scan(&stock.ID); err != nil {
		return fmt.Errorf("failed to read back stock %s: %w", stock.Symbol, err)
	}

	r.log.Debug().Str("symbol", stock.Symbol).Msg("Stock upserted")
	return nil
}

// SetFrozen freezes or unfreezes a stock. It returns false when the symbol is unknown.
func (r *StockRepository) SetFrozen(ctx context.Context, symbol string, frozen bool) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE stocks SET is_frozen = ?, updated_at = ? WHERE symbol = ?`,
		boolToInt(frozen), time.Now().Unix(), strings.ToUpper(symbol))
	if err != nil {
		return false, fmt.Errorf("failed to update stock %s: %w", symbol, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected > 0, nil
}

func (r *StockRepository) queryOne(ctx context.Context, query string, args ...interface{}) (*domain.Stock, error) {
	stock, err := scanStock(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query stock: %w", err)
	}
	return &stock, nil
}

func (r *StockRepository) query(ctx context.Context, query string, args ...interface{}) ([]domain.Stock, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query stocks: %w", err)
	}
	defer rows.Close()

	stocks := make([]domain.Stock, 0)
	for rows.Next() {
		stock, err := scanStock(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stock: %w", err)
		}
		stocks = append(stocks, stock)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stocks: %w", err)
	}
	return stocks, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanStock(row rowScanner) (domain.Stock, error) {
	var (
		stock     domain.Stock
		sector    sql.NullString
		marketCap decimal.NullDecimal
		isActive  int
		isFrozen  int
		updatedAt int64
	)
	err := row.Scan(&stock.ID, &stock.Symbol, &stock.Name, &sector, &stock.CurrentPrice,
		&stock.PreviousClose, &stock.Volume, &marketCap, &isActive, &isFrozen, &updatedAt)
	if err != nil {
		return domain.Stock{}, err
	}
	if sector.Valid {
		stock.Sector = &sector.String
	}
	if marketCap.Valid {
		stock.MarketCap = &marketCap.Decimal
	}
	stock.IsActive = isActive != 0
	stock.IsFrozen = isFrozen != 0
	stock.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return stock, nil
}

func inClause(values []string) (string, []interface{}) {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return strings.TrimSuffix(strings.Repeat("?,", len(values)), ","), args
}

func nullableString(s *string) interface{} {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	return *s
}

func nullableDecimal(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.String()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
