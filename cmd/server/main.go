// Package main is the entry point for the stocksim virtual trading server.
//
// Startup order:
//  1. Load configuration from the environment (.env supported)
//  2. Wire databases, repositories, services and jobs
//  3. Start the HTTP server and the job scheduler
//  4. Wait for SIGINT/SIGTERM and shut down gracefully
//
// Data lives in four SQLite databases under STOCKSIM_DATA_DIR:
//   - market.db: stocks, daily price points, simulation runs
//   - ledger.db: the append-only transaction log
//   - portfolio.db: rebuildable position cache
//   - cache.db: valuation series cache, safe to delete
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/stocksim/internal/config"
	"github.com/aristath/stocksim/internal/di"
	"github.com/aristath/stocksim/internal/server"
	"github.com/aristath/stocksim/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Use fallback logger if config fails
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().
		Str("data_dir", cfg.DataDir).
		Str("timezone", cfg.ReportingTimezone).
		Msg("Starting stocksim")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	container, jobs, err := di.Wire(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	defer container.Close()

	srv := server.New(server.Config{
		Log:       log,
		Config:    cfg,
		Container: container,
		Jobs:      jobs,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	container.Scheduler.Start()
	log.Info().Int("jobs", len(jobs.All())).Msg("Scheduler started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")
	cancel()

	// Stop waits for running jobs so databases are not closed under them
	container.Scheduler.Stop()
	log.Info().Msg("Scheduler stopped")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
