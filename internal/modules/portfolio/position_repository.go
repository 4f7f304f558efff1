package portfolio

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/stocksim/internal/database"
	"github.com/aristath/stocksim/internal/domain"
	"github.com/rs/zerolog"
)

// PositionRepository stores the derived position cache (portfolio.db).
// Rows are only ever written by reconciliation; the ledger stays the source of truth.
type PositionRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewPositionRepository creates a new position repository
func NewPositionRepository(db *sql.DB, log zerolog.Logger) *PositionRepository {
	return &PositionRepository{
		db:  db,
		log: log.With().Str("repo", "position").Logger(),
	}
}

// ListByPortfolio returns the stored positions of one portfolio ordered by stock id
func (r *PositionRepository) ListByPortfolio(ctx context.Context, portfolioID string) ([]domain.Position, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT portfolio_id, stock_id, quantity, average_buy_price, current_value, profit_loss, updated_at
		FROM positions WHERE portfolio_id = ? ORDER BY stock_id`, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	positions := make([]domain.Position, 0)
	for rows.Next() {
		var (
			p         domain.Position
			updatedAt int64
		)
		if err := rows.Scan(&p.PortfolioID, &p.StockID, &p.Quantity, &p.AverageBuyPrice,
			&p.CurrentValue, &p.ProfitLoss, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		p.UpdatedAt = time.Unix(updatedAt, 0).UTC()
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating positions: %w", err)
	}
	return positions, nil
}

// Replace swaps every stored position of portfolioID for positions in one transaction
func (r *PositionRepository) Replace(ctx context.Context, portfolioID string, positions []domain.Position) error {
	err := database.WithTransaction(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM positions WHERE portfolio_id = ?`, portfolioID); err != nil {
			return fmt.Errorf("failed to clear positions: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO positions (portfolio_id, stock_id, quantity, average_buy_price, current_value, profit_loss, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare position insert: %w", err)
		}
		defer stmt.Close()

		for _, p := range positions {
			if p.Quantity <= 0 {
				continue
			}
			if _, err := stmt.ExecContext(ctx, portfolioID, p.StockID, p.Quantity,
				p.AverageBuyPrice.String(), p.CurrentValue.String(), p.ProfitLoss.String(),
				p.UpdatedAt.Unix()); err != nil {
				return fmt.Errorf("failed to insert position %s: %w", p.StockID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.log.Debug().Str("portfolio_id", portfolioID).Int("positions", len(positions)).Msg("Positions replaced")
	return nil
}

// ListPortfolios returns every portfolio id with stored positions
func (r *PositionRepository) ListPortfolios(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT portfolio_id FROM positions ORDER BY portfolio_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query portfolios: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan portfolio id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
