// Package domain provides core domain models and types.
package domain

import (
	"strings"
	"time"

	"github.com/aristath/stocksim/pkg/date"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// UnclassifiedSector is the bucket for stocks without a sector
const UnclassifiedSector = "Unclassified"

// TransactionType is the side of a trade
type TransactionType string

const (
	TransactionTypeBuy  TransactionType = "BUY"
	TransactionTypeSell TransactionType = "SELL"
)

// Valid reports whether t is a known side
func (t TransactionType) Valid() bool {
	return t == TransactionTypeBuy || t == TransactionTypeSell
}

// TransactionStatus is the lifecycle state of a transaction
type TransactionStatus string

const (
	// TransactionStatusExecuted is the only status the simulator produces: trades fill instantly
	TransactionStatusExecuted TransactionStatus = "EXECUTED"
)

// Stock represents a simulated listed company
type Stock struct {
	UpdatedAt     time.Time        `json:"updated_at"`
	Sector        *string          `json:"sector,omitempty"`
	MarketCap     *decimal.Decimal `json:"market_cap,omitempty"`
	ID            string           `json:"id"`
	Symbol        string           `json:"symbol"`
	Name          string           `json:"name"`
	CurrentPrice  decimal.Decimal  `json:"current_price"`
	PreviousClose decimal.Decimal  `json:"previous_close"`
	Volume        int64            `json:"volume"`
	IsActive      bool             `json:"is_active"`
	IsFrozen      bool             `json:"is_frozen"`
}

// SectorName returns the stock's sector, or UnclassifiedSector when it has none
func (s Stock) SectorName() string {
	if s.Sector == nil || strings.TrimSpace(*s.Sector) == "" {
		return UnclassifiedSector
	}
	return strings.TrimSpace(*s.Sector)
}

// Tradable reports whether the stock takes part in simulation and trading
func (s Stock) Tradable() bool {
	return s.IsActive && !s.IsFrozen
}

// DailyChangePercent returns the change from previous close in percent (0 without a previous close)
func (s Stock) DailyChangePercent() decimal.Decimal {
	if !s.PreviousClose.IsPositive() {
		return decimal.Zero
	}
	return s.CurrentPrice.Sub(s.PreviousClose).Div(s.PreviousClose).Mul(decimal.NewFromInt(100)).Round(2)
}

// PricePoint is one stock's closing snapshot for one calendar day
type PricePoint struct {
	StockID string          `json:"stock_id"`
	Day     date.Date       `json:"day"`
	Price   decimal.Decimal `json:"price"`
	Volume  int64           `json:"volume"`
}

// PriceUpdate is the outcome of simulating one stock for one day
type PriceUpdate struct {
	StockID       string          `json:"stock_id"`
	Symbol        string          `json:"symbol"`
	Day           date.Date       `json:"day"`
	PreviousClose decimal.Decimal `json:"previous_close"`
	Price         decimal.Decimal `json:"price"`
	VolumeDelta   int64           `json:"volume_delta"`
	Volume        int64           `json:"volume"`
}

// PricePoint returns the snapshot to persist for this update
func (u PriceUpdate) PricePoint() PricePoint {
	return PricePoint{StockID: u.StockID, Day: u.Day, Price: u.Price, Volume: u.Volume}
}

// Transaction is an immutable executed trade. It is the only source of truth for holdings.
type Transaction struct {
	Timestamp   time.Time         `json:"timestamp"`
	ID          string            `json:"id"`
	UserID      string            `json:"user_id"`
	StockID     string            `json:"stock_id"`
	Type        TransactionType   `json:"type"`
	Status      TransactionStatus `json:"status"`
	Price       decimal.Decimal   `json:"price"`
	TotalAmount decimal.Decimal   `json:"total_amount"`
	Quantity    int64             `json:"quantity"`
}

// NewTransaction builds an executed transaction with a fresh id and TotalAmount = Quantity × Price
func NewTransaction(userID, stockID string, typ TransactionType, quantity int64, price decimal.Decimal, ts time.Time) Transaction {
	return Transaction{
		ID:          uuid.NewString(),
		UserID:      userID,
		StockID:     stockID,
		Type:        typ,
		Quantity:    quantity,
		Price:       price,
		TotalAmount: price.Mul(decimal.NewFromInt(quantity)),
		Status:      TransactionStatusExecuted,
		Timestamp:   ts,
	}
}

// Position is a derived cache of one user's holding in one stock
type Position struct {
	UpdatedAt       time.Time       `json:"updated_at"`
	PortfolioID     string          `json:"portfolio_id"`
	StockID         string          `json:"stock_id"`
	AverageBuyPrice decimal.Decimal `json:"average_buy_price"`
	CurrentValue    decimal.Decimal `json:"current_value"`
	ProfitLoss      decimal.Decimal `json:"profit_loss"`
	Quantity        int64           `json:"quantity"`
}

// DailyValuation is the value of a portfolio at the end of one calendar day
type DailyValuation struct {
	Date       date.Date       `json:"date"`
	TotalValue decimal.Decimal `json:"total_value"`
	Invested   decimal.Decimal `json:"invested"` // cost basis of open positions
	NetFlow    decimal.Decimal `json:"net_flow"` // BUY amounts minus SELL proceeds booked that day
}
