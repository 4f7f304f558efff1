// Package ledger persists the immutable trade log (ledger.db).
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/stocksim/internal/domain"
	"github.com/aristath/stocksim/pkg/date"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const transactionColumns = `id, user_id, stock_id, type, quantity, price, total_amount, status, executed_at`

// Fingerprint identifies the state of one user's ledger.
// It changes whenever a transaction is added or removed.
type Fingerprint struct {
	Count  int
	LastID string
}

// String renders the fingerprint for cache keys
func (f Fingerprint) String() string {
	return fmt.Sprintf("%d:%s", f.Count, f.LastID)
}

// TransactionRepository handles transaction database operations
type TransactionRepository struct {
	db  *sql.DB
	loc *time.Location
	log zerolog.Logger
}

// NewTransactionRepository creates a new transaction repository.
// loc is the reporting timezone used to turn an "up to" day into a timestamp bound.
func NewTransactionRepository(db *sql.DB, loc *time.Location, log zerolog.Logger) *TransactionRepository {
	if loc == nil {
		loc = time.UTC
	}
	return &TransactionRepository{
		db:  db,
		loc: loc,
		log: log.With().Str("repo", "transaction").Logger(),
	}
}

// Create appends a transaction. ID and TotalAmount are filled in when missing.
func (r *TransactionRepository) Create(ctx context.Context, tx *domain.Transaction) error {
	if !tx.Type.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidTransactionType, tx.Type)
	}
	if tx.Quantity <= 0 {
		return domain.ErrInvalidQuantity
	}
	if !tx.Price.IsPositive() {
		return domain.ErrInvalidPrice
	}
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.Status == "" {
		tx.Status = domain.TransactionStatusExecuted
	}
	if tx.Timestamp.IsZero() {
		tx.Timestamp = time.Now()
	}
	tx.TotalAmount = tx.Price.Mul(decimal.NewFromInt(tx.Quantity))

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.UserID, tx.StockID, string(tx.Type), tx.Quantity,
		tx.Price.String(), tx.TotalAmount.String(), string(tx.Status), tx.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}

	r.log.Debug().
		Str("transaction_id", tx.ID).
		Str("user_id", tx.UserID).
		Str("type", string(tx.Type)).
		Int64("quantity", tx.Quantity).
		Msg("Transaction recorded")
	return nil
}

// ListByUser returns a user's transactions executed on or before the end of upTo,
// ordered by timestamp ascending (insertion order breaks ties).
// A zero upTo returns the whole log.
func (r *TransactionRepository) ListByUser(ctx context.Context, userID string, upTo date.Date) ([]domain.Transaction, error) {
	bound := int64(1<<63 - 1)
	if !upTo.IsZero() {
		bound = upTo.End(r.loc).UnixNano()
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE user_id = ? AND executed_at <= ?
		ORDER BY executed_at, rowid`, userID, bound)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	transactions := make([]domain.Transaction, 0)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}
	return transactions, nil
}

// GetByID returns a transaction, or nil if not found
func (r *TransactionRepository) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	tx, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query transaction: %w", err)
	}
	return &tx, nil
}

// ListUsers returns every user id with at least one transaction, sorted
func (r *TransactionRepository) ListUsers(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT user_id FROM transactions ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	users := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

// Fingerprint summarises a user's ledger for cache invalidation
func (r *TransactionRepository) Fingerprint(ctx context.Context, userID string) (Fingerprint, error) {
	var fp Fingerprint
	var lastID sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			(SELECT id FROM transactions WHERE user_id = ? ORDER BY executed_at DESC, rowid DESC LIMIT 1)
		FROM transactions WHERE user_id = ?`, userID, userID).Scan(&fp.Count, &lastID)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("failed to fingerprint ledger: %w", err)
	}
	fp.LastID = lastID.String
	return fp, nil
}

// Delete removes a whole transaction (admin correction). It returns false if none matched.
func (r *TransactionRepository) Delete(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete transaction: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected > 0 {
		r.log.Warn().Str("transaction_id", id).Msg("Transaction deleted")
	}
	return affected > 0, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row rowScanner) (domain.Transaction, error) {
	var (
		tx         domain.Transaction
		txType     string
		status     string
		executedAt int64
	)
	if err := row.Scan(&tx.ID, &tx.UserID, &tx.StockID, &txType, &tx.Quantity,
		&tx.Price, &tx.TotalAmount, &status, &executedAt); err != nil {
		return domain.Transaction{}, err
	}
	tx.Type = domain.TransactionType(txType)
	tx.Status = domain.TransactionStatus(status)
	tx.Timestamp = time.Unix(0, executedAt).UTC()
	return tx, nil
}
