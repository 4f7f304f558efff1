package market

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/stocksim/internal/database"
	"github.com/aristath/stocksim/internal/domain"
	"github.com/aristath/stocksim/pkg/date"
	"github.com/rs/zerolog"
)

// SimulationRun is the persisted summary of one simulation batch
type SimulationRun struct {
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	ID         string         `json:"id"`
	Day        date.Date      `json:"day"`
	Failures   []StockFailure `json:"failures,omitempty"`
	Updated    int            `json:"updated"`
	Skipped    int            `json:"skipped"`
	Failed     int            `json:"failed"`
}

// PricePointRepository handles price snapshots and simulation runs (market.db)
type PricePointRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewPricePointRepository creates a new price point repository
func NewPricePointRepository(db *sql.DB, log zerolog.Logger) *PricePointRepository {
	return &PricePointRepository{
		db:  db,
		log: log.With().Str("repo", "price_point").Logger(),
	}
}

// ListRange returns price points for the given stocks with from <= day <= to,
// ordered by day then stock id.
func (r *PricePointRepository) ListRange(ctx context.Context, stockIDs []string, from, to date.Date) ([]domain.PricePoint, error) {
	if len(stockIDs) == 0 || to.Before(from) {
		return []domain.PricePoint{}, nil
	}
	placeholders, args := inClause(stockIDs)
	args = append(args, from, to)

	rows, err := r.db.QueryContext(ctx, `
		SELECT stock_id, day, price, volume FROM price_points
		WHERE stock_id IN (`+placeholders+`) AND day >= ? AND day <= ?
		ORDER BY day, stock_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query price points: %w", err)
	}
	defer rows.Close()

	points := make([]domain.PricePoint, 0)
	for rows.Next() {
		var p domain.PricePoint
		if err := rows.Scan(&p.StockID, &p.Day, &p.Price, &p.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan price point: %w", err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating price points: %w", err)
	}
	return points, nil
}

// LatestDay returns the most recent day with any price point. ok is false when there are none.
func (r *PricePointRepository) LatestDay(ctx context.Context) (day date.Date, ok bool, err error) {
	var raw sql.NullString
	if err := r.db.QueryRowContext(ctx, `SELECT MAX(day) FROM price_points`).Scan(&raw); err != nil {
		return date.Date{}, false, fmt.Errorf("failed to query latest price day: %w", err)
	}
	if !raw.Valid {
		return date.Date{}, false, nil
	}
	day, err = date.Parse(raw.String)
	if err != nil {
		return date.Date{}, false, fmt.Errorf("invalid stored day %q: %w", raw.String, err)
	}
	return day, true, nil
}

// LatestBefore returns, for each given stock, its most recent price point dated strictly
// before day. Stocks without such a point are absent from the result.
func (r *PricePointRepository) LatestBefore(ctx context.Context, stockIDs []string, day date.Date) ([]domain.PricePoint, error) {
	if len(stockIDs) == 0 {
		return []domain.PricePoint{}, nil
	}
	placeholders, args := inClause(stockIDs)
	args = append(args, day)

	rows, err := r.db.QueryContext(ctx, `
		SELECT p.stock_id, p.day, p.price, p.volume
		FROM price_points p
		JOIN (
			SELECT stock_id, MAX(day) AS day FROM price_points
			WHERE stock_id IN (`+placeholders+`) AND day < ?
			GROUP BY stock_id
		) latest ON latest.stock_id = p.stock_id AND latest.day = p.day
		ORDER BY p.stock_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest price points: %w", err)
	}
	defer rows.Close()

	points := make([]domain.PricePoint, 0, len(stockIDs))
	for rows.Next() {
		var p domain.PricePoint
		if err := rows.Scan(&p.StockID, &p.Day, &p.Price, &p.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan price point: %w", err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating price points: %w", err)
	}
	return points, nil
}

// Fingerprint summarises the stored snapshots as "count:latestDay".
// Price points are never updated in place, so any write changes it.
func (r *PricePointRepository) Fingerprint(ctx context.Context) (string, error) {
	var (
		count  int64
		latest sql.NullString
	)
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*), MAX(day) FROM price_points`).Scan(&count, &latest); err != nil {
		return "", fmt.Errorf("failed to fingerprint price points: %w", err)
	}
	return fmt.Sprintf("%d:%s", count, latest.String), nil
}

// ApplyBatch writes one simulation batch in a single transaction.
// Each update inserts its price point; when a point for (stock, day) already exists
// the update is skipped entirely so re-running a day never moves a price twice.
// Otherwise the stock row takes the new price, previous close and volume.
// The run row is written last with Updated/Skipped filled in. Applied updates are returned.
func (r *PricePointRepository) ApplyBatch(ctx context.Context, run *SimulationRun, updates []domain.PriceUpdate) ([]domain.PriceUpdate, error) {
	applied := make([]domain.PriceUpdate, 0, len(updates))

	err := database.WithTransaction(ctx, r.db, func(tx *sql.Tx) error {
		insertPoint, err := tx.PrepareContext(ctx,
			`INSERT OR IGNORE INTO price_points (stock_id, day, price, volume) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare price point insert: %w", err)
		}
		defer insertPoint.Close()

		updateStock, err := tx.PrepareContext(ctx,
			`UPDATE stocks SET previous_close = ?, current_price = ?, volume = ?, updated_at = ? WHERE id = ?`)
		if err != nil {
			return fmt.Errorf("failed to prepare stock update: %w", err)
		}
		defer updateStock.Close()

		now := time.Now().Unix()
		for _, u := range updates {
			result, err := insertPoint.ExecContext(ctx, u.StockID, u.Day, u.Price.String(), u.Volume)
			if err != nil {
				return fmt.Errorf("failed to insert price point for %s: %w", u.Symbol, err)
			}
			inserted, err := result.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to get rows affected: %w", err)
			}
			if inserted == 0 {
				r.log.Debug().Str("symbol", u.Symbol).Str("day", u.Day.String()).Msg("Price point already recorded, skipping")
				continue
			}

			if _, err := updateStock.ExecContext(ctx, u.PreviousClose.String(), u.Price.String(), u.Volume, now, u.StockID); err != nil {
				return fmt.Errorf("failed to update stock %s: %w", u.Symbol, err)
			}
			applied = append(applied, u)
		}

		if run != nil {
			run.Skipped += len(updates) - len(applied)
			run.Updated = len(applied)
			if run.FinishedAt.IsZero() {
				run.FinishedAt = time.Now()
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO simulation_runs (id, day, started_at, finished_at, updated, skipped, failed)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				run.ID, run.Day, run.StartedAt.UnixMilli(), run.FinishedAt.UnixMilli(),
				run.Updated, run.Skipped, run.Failed); err != nil {
				return fmt.Errorf("failed to record simulation run: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return applied, nil
}

// ListRuns returns the most recent simulation runs, newest first
func (r *PricePointRepository) ListRuns(ctx context.Context, limit int) ([]SimulationRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, day, started_at, finished_at, updated, skipped, failed
		FROM simulation_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query simulation runs: %w", err)
	}
	defer rows.Close()

	runs := make([]SimulationRun, 0)
	for rows.Next() {
		var (
			run               SimulationRun
			started, finished int64
		)
		if err := rows.Scan(&run.ID, &run.Day, &started, &finished, &run.Updated, &run.Skipped, &run.Failed); err != nil {
			return nil, fmt.Errorf("failed to scan simulation run: %w", err)
		}
		run.StartedAt = time.UnixMilli(started).UTC()
		run.FinishedAt = time.UnixMilli(finished).UTC()
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating simulation runs: %w", err)
	}
	return runs, nil
}
