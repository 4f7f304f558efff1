package scheduler

import (
	"context"
	"time"

	"github.com/aristath/stocksim/internal/modules/market"
	"github.com/aristath/stocksim/internal/modules/portfolio"
	"github.com/aristath/stocksim/internal/reliability"
)

// MarketSimulatorInterface defines the market operations used by jobs
type MarketSimulatorInterface interface {
	RunDailySimulation(ctx context.Context) (*market.SimulationRun, error)
}

// PortfolioReconcilerInterface defines the portfolio operations used by jobs
type PortfolioReconcilerInterface interface {
	ReconcileAll(ctx context.Context) (*portfolio.ReconcileSummary, error)
	PruneCache(ctx context.Context, maxAge time.Duration) (int64, error)
}

// BackupServiceInterface defines the backup operations used by jobs
type BackupServiceInterface interface {
	Backup(ctx context.Context) (*reliability.BackupResult, error)
}
