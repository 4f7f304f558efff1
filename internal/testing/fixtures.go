package testing

import (
	"time"

	"github.com/aristath/stocksim/internal/domain"
	"github.com/shopspring/decimal"
)

// NewStockFixtures returns a set of test stocks for use in tests.
// TEST is frozen and OLD is inactive so simulation filters can be exercised.
func NewStockFixtures() []domain.Stock {
	tech := "Technology"
	energy := "Energy"
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return []domain.Stock{
		{
			ID:            "stk-acme",
			Symbol:        "ACME",
			Name:          "Acme Corporation",
			Sector:        &tech,
			CurrentPrice:  decimal.RequireFromString("100.00"),
			PreviousClose: decimal.RequireFromString("98.50"),
			Volume:        1000,
			IsActive:      true,
			UpdatedAt:     now,
		},
		{
			ID:            "stk-volt",
			Symbol:        "VOLT",
			Name:          "Volt Energy",
			Sector:        &energy,
			CurrentPrice:  decimal.RequireFromString("42.10"),
			PreviousClose: decimal.RequireFromString("42.10"),
			Volume:        500,
			IsActive:      true,
			UpdatedAt:     now,
		},
		{
			ID:            "stk-test",
			Symbol:        "TEST",
			Name:          "Frozen Test Co",
			CurrentPrice:  decimal.RequireFromString("10.00"),
			PreviousClose: decimal.RequireFromString("10.00"),
			IsActive:      true,
			IsFrozen:      true,
			UpdatedAt:     now,
		},
		{
			ID:            "stk-old",
			Symbol:        "OLD",
			Name:          "Delisted Holdings",
			CurrentPrice:  decimal.RequireFromString("1.00"),
			PreviousClose: decimal.RequireFromString("1.00"),
			IsActive:      false,
			UpdatedAt:     now,
		},
	}
}

// NewTransactionFixture builds an executed transaction at the given UTC time
func NewTransactionFixture(id, userID, stockID string, typ domain.TransactionType, qty int64, price string, at time.Time) domain.Transaction {
	p := decimal.RequireFromString(price)
	return domain.Transaction{
		ID:          id,
		UserID:      userID,
		StockID:     stockID,
		Type:        typ,
		Quantity:    qty,
		Price:       p,
		TotalAmount: p.Mul(decimal.NewFromInt(qty)),
		Status:      domain.TransactionStatusExecuted,
		Timestamp:   at,
	}
}
