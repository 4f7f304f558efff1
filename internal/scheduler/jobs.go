package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const (
	simulationTimeout = 10 * time.Minute
	reconcileTimeout  = 30 * time.Minute
	backupTimeout     = 30 * time.Minute
)

// SimulateMarketJob produces today's price snapshot for every active stock
type SimulateMarketJob struct {
	market MarketSimulatorInterface
	log    zerolog.Logger
}

// NewSimulateMarketJob creates a new SimulateMarketJob
func NewSimulateMarketJob(market MarketSimulatorInterface, log zerolog.Logger) *SimulateMarketJob {
	return &SimulateMarketJob{
		market: market,
		log:    log.With().Str("job", "simulate_market").Logger(),
	}
}

// Name returns the job name
func (j *SimulateMarketJob) Name() string {
	return "simulate_market"
}

// Run executes the daily simulation
func (j *SimulateMarketJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), simulationTimeout)
	defer cancel()

	run, err := j.market.RunDailySimulation(ctx)
	if err != nil {
		return fmt.Errorf("daily simulation failed: %w", err)
	}

	j.log.Info().
		Str("run_id", run.ID).
		Str("day", run.Day.String()).
		Int("updated", run.Updated).
		Int("skipped", run.Skipped).
		Int("failed", run.Failed).
		Msg("Market simulated")
	return nil
}

// ReconcilePositionsJob rebuilds every position cache from the ledger and prunes stale series
type ReconcilePositionsJob struct {
	portfolio   PortfolioReconcilerInterface
	cacheMaxAge time.Duration
	log         zerolog.Logger
}

// NewReconcilePositionsJob creates a new ReconcilePositionsJob. cacheMaxAge <= 0 disables pruning.
func NewReconcilePositionsJob(portfolio PortfolioReconcilerInterface, cacheMaxAge time.Duration, log zerolog.Logger) *ReconcilePositionsJob {
	return &ReconcilePositionsJob{
		portfolio:   portfolio,
		cacheMaxAge: cacheMaxAge,
		log:         log.With().Str("job", "reconcile_positions").Logger(),
	}
}

// Name returns the job name
func (j *ReconcilePositionsJob) Name() string {
	return "reconcile_positions"
}

// Run executes the reconciliation pass
func (j *ReconcilePositionsJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
	defer cancel()

	summary, err := j.portfolio.ReconcileAll(ctx)
	if err != nil {
		return fmt.Errorf("reconciliation failed: %w", err)
	}

	event := j.log.Info()
	if len(summary.FailedUsers) > 0 {
		event = j.log.Warn().Strs("failed_users", summary.FailedUsers)
	}
	event.
		Int("users", summary.Users).
		Int("reconciled", summary.Reconciled).
		Int("drifted", summary.Drifted).
		Msg("Positions reconciled")

	if j.cacheMaxAge <= 0 {
		return nil
	}
	pruned, err := j.portfolio.PruneCache(ctx, j.cacheMaxAge)
	if err != nil {
		return fmt.Errorf("failed to prune valuation cache: %w", err)
	}
	if pruned > 0 {
		j.log.Info().Int64("pruned", pruned).Msg("Valuation cache pruned")
	}
	return nil
}

// BackupDatabasesJob uploads a snapshot of every database
type BackupDatabasesJob struct {
	backup BackupServiceInterface
	log    zerolog.Logger
}

// NewBackupDatabasesJob creates a new BackupDatabasesJob
func NewBackupDatabasesJob(backup BackupServiceInterface, log zerolog.Logger) *BackupDatabasesJob {
	return &BackupDatabasesJob{
		backup: backup,
		log:    log.With().Str("job", "backup_databases").Logger(),
	}
}

// Name returns the job name
func (j *BackupDatabasesJob) Name() string {
	return "backup_databases"
}

// Run executes the backup
func (j *BackupDatabasesJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), backupTimeout)
	defer cancel()

	result, err := j.backup.Backup(ctx)
	if err != nil {
		return fmt.Errorf("backup failed: %w", err)
	}
	j.log.Info().
		Str("key", result.Key).
		Int64("size_bytes", result.SizeBytes).
		Int("pruned", result.Pruned).
		Msg("Backup completed")
	return nil
}
