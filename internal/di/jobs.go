// Package di provides dependency injection for scheduler jobs.
package di

import (
	"fmt"

	"github.com/aristath/stocksim/internal/config"
	"github.com/aristath/stocksim/internal/reliability"
	"github.com/aristath/stocksim/internal/scheduler"
	"github.com/rs/zerolog"
)

// RegisterJobs creates every job and registers it with the scheduler.
// Returns JobInstances for manual triggering via API.
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) (*JobInstances, error) {
	if container == nil {
		return nil, fmt.Errorf("container cannot be nil")
	}
	if container.Scheduler == nil {
		container.Scheduler = scheduler.New(log)
	}

	instances := &JobInstances{
		SimulateMarket:     scheduler.NewSimulateMarketJob(container.MarketService, log),
		ReconcilePositions: scheduler.NewReconcilePositionsJob(container.PortfolioService, cfg.Analytics.CacheMaxAge, log),
		Maintenance:        reliability.NewMaintenanceJob(container.Databases(), cfg.DataDir, log),
	}

	checkCore := scheduler.NewCheckCoreDatabasesJob(container.Databases()...)
	checkCore.SetLogger(log)
	instances.CheckCoreDatabases = checkCore

	checkWAL := scheduler.NewCheckWALCheckpointsJob(container.Databases()...)
	checkWAL.SetLogger(log)
	instances.CheckWALCheckpoints = checkWAL

	registrations := []struct {
		schedule string
		job      scheduler.Job
	}{
		{cfg.Simulation.Schedule, instances.SimulateMarket},
		{cfg.Reconcile.Schedule, instances.ReconcilePositions},
		{cfg.Maintenance.HealthCheckSchedule, instances.CheckCoreDatabases},
		{cfg.Maintenance.HealthCheckSchedule, instances.CheckWALCheckpoints},
		{cfg.Maintenance.VacuumSchedule, instances.Maintenance},
	}

	if container.BackupService != nil {
		instances.BackupDatabases = scheduler.NewBackupDatabasesJob(container.BackupService, log)
		registrations = append(registrations, struct {
			schedule string
			job      scheduler.Job
		}{cfg.Backup.Schedule, instances.BackupDatabases})
	}

	for _, reg := range registrations {
		if err := container.Scheduler.AddJob(reg.schedule, reg.job); err != nil {
			return nil, fmt.Errorf("failed to register job %s: %w", reg.job.Name(), err)
		}
	}

	log.Info().Int("jobs", len(registrations)).Msg("Jobs registered")
	return instances, nil
}
