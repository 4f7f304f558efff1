package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransactionSequence means a SELL exceeds the quantity held
	ErrInvalidTransactionSequence = errors.New("invalid transaction sequence")
	// ErrStockNotFound is returned when a stock id or symbol is unknown
	ErrStockNotFound = errors.New("stock not found")
	// ErrStockNotTradable is returned for trades on inactive or frozen stocks
	ErrStockNotTradable = errors.New("stock is not tradable")
	// ErrInvalidQuantity is returned for non-positive trade quantities
	ErrInvalidQuantity = errors.New("quantity must be positive")
	// ErrInvalidPrice is returned when a price is not strictly positive
	ErrInvalidPrice = errors.New("price must be positive")
	// ErrInvalidDateRange is returned when a requested window exceeds the configured bound
	ErrInvalidDateRange = errors.New("invalid date range")
	// ErrInvalidTransactionType is returned for sides other than BUY and SELL
	ErrInvalidTransactionType = errors.New("invalid transaction type")
	// ErrTransactionNotFound is returned when a transaction id is unknown for the user
	ErrTransactionNotFound = errors.New("transaction not found")
)

// InvalidTransactionSequenceError carries the details of a SELL that exceeds the held quantity
type InvalidTransactionSequenceError struct {
	TransactionID string
	StockID       string
	Held          int64
	Requested     int64
}

func (e *InvalidTransactionSequenceError) Error() string {
	return fmt.Sprintf("%s: transaction %s sells %d of stock %s but only %d held",
		ErrInvalidTransactionSequence, e.TransactionID, e.Requested, e.StockID, e.Held)
}

// Unwrap makes errors.Is(err, ErrInvalidTransactionSequence) work
func (e *InvalidTransactionSequenceError) Unwrap() error {
	return ErrInvalidTransactionSequence
}
