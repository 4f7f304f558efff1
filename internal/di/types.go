// Package di provides dependency injection type definitions.
package di

import (
	"github.com/aristath/stocksim/internal/database"
	"github.com/aristath/stocksim/internal/events"
	"github.com/aristath/stocksim/internal/modules/ledger"
	"github.com/aristath/stocksim/internal/modules/market"
	"github.com/aristath/stocksim/internal/modules/portfolio"
	"github.com/aristath/stocksim/internal/reliability"
	"github.com/aristath/stocksim/internal/scheduler"
)

// Container holds all dependencies for the application.
// It is created by Wire() and passed to the server for access to services.
type Container struct {
	// Databases
	MarketDB    *database.DB // stocks, price points, simulation runs
	LedgerDB    *database.DB // append-only transactions
	PortfolioDB *database.DB // position cache
	CacheDB     *database.DB // valuation series cache

	// Events
	EventBus     *events.Bus
	EventManager *events.Manager

	// Repositories
	StockRepo       *market.StockRepository
	PriceRepo       *market.PricePointRepository
	TransactionRepo *ledger.TransactionRepository
	PositionRepo    *portfolio.PositionRepository
	ValuationCache  *portfolio.ValuationCache // nil when caching is disabled

	// Services
	Simulator        *market.Simulator
	MarketService    *market.Service
	PortfolioService *portfolio.Service
	BackupService    *reliability.BackupService // nil when backups are not configured

	Scheduler *scheduler.Scheduler
}

// Databases returns the open databases in a stable order
func (c *Container) Databases() []*database.DB {
	out := make([]*database.DB, 0, 4)
	for _, db := range []*database.DB{c.MarketDB, c.LedgerDB, c.PortfolioDB, c.CacheDB} {
		if db != nil {
			out = append(out, db)
		}
	}
	return out
}

// Close closes every database
func (c *Container) Close() {
	for _, db := range c.Databases() {
		_ = db.Close()
	}
}

// JobInstances holds references to all registered jobs for manual triggering
type JobInstances struct {
	SimulateMarket      scheduler.Job
	ReconcilePositions  scheduler.Job
	BackupDatabases     scheduler.Job // nil when backups are not configured
	CheckCoreDatabases  scheduler.Job
	CheckWALCheckpoints scheduler.Job
	Maintenance         scheduler.Job
}

// All returns the non-nil jobs
func (j *JobInstances) All() []scheduler.Job {
	var out []scheduler.Job
	for _, job := range []scheduler.Job{
		j.SimulateMarket,
		j.ReconcilePositions,
		j.BackupDatabases,
		j.CheckCoreDatabases,
		j.CheckWALCheckpoints,
		j.Maintenance,
	} {
		if job != nil {
			out = append(out, job)
		}
	}
	return out
}
