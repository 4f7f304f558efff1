// Package di provides dependency injection for service implementations.
package di

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/stocksim/internal/config"
	"github.com/aristath/stocksim/internal/events"
	"github.com/aristath/stocksim/internal/modules/market"
	"github.com/aristath/stocksim/internal/modules/portfolio"
	"github.com/aristath/stocksim/internal/reliability"
	"github.com/rs/zerolog"
)

// InitializeServices creates the event bus, domain services and the optional backup service
func InitializeServices(ctx context.Context, container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container == nil {
		return fmt.Errorf("container cannot be nil")
	}

	container.EventBus = events.NewBus(log)
	container.EventManager = events.NewManager(container.EventBus, log)

	model := market.DefaultPriceModel()
	model.Volatility = cfg.Simulation.Volatility
	model.MaxDailyMove = cfg.Simulation.MaxDailyMove
	model.MaxVolumeDelta = cfg.Simulation.MaxVolumeDelta

	seed := ResolveSeed(cfg.Simulation.Seed, time.Now)
	log.Info().Uint64("seed", seed).Msg("Market simulation seed")

	simulator, err := market.NewSimulator(model, market.SeededSourceFactory(seed), cfg.Simulation.Workers, log)
	if err != nil {
		return fmt.Errorf("failed to create simulator: %w", err)
	}
	container.Simulator = simulator

	container.MarketService = market.NewService(
		container.StockRepo,
		container.PriceRepo,
		simulator,
		container.EventManager,
		cfg.Location,
		log,
	)

	container.PortfolioService = portfolio.NewService(
		container.TransactionRepo,
		container.StockRepo,
		container.PriceRepo,
		container.PositionRepo,
		container.ValuationCache,
		container.EventManager,
		portfolio.Options{
			MaxHistoryDays: cfg.Analytics.HistoryMaxDays,
			TopN:           cfg.Analytics.TopN,
			MaterialityPct: cfg.Analytics.MaterialityPct,
		},
		cfg.Location,
		log,
	)

	if cfg.Backup.Enabled() {
		store, err := reliability.NewS3Store(ctx, reliability.S3Config{
			Endpoint:        cfg.Backup.Endpoint,
			Region:          cfg.Backup.Region,
			Bucket:          cfg.Backup.Bucket,
			AccessKeyID:     cfg.Backup.AccessKeyID,
			SecretAccessKey: cfg.Backup.SecretAccessKey,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to create backup store: %w", err)
		}
		container.BackupService = reliability.NewBackupService(
			store,
			container.Databases(),
			cfg.DataDir,
			cfg.Backup.Prefix,
			cfg.Backup.RetentionDays,
			container.EventManager,
			log,
		)
	} else {
		log.Info().Msg("Backups disabled (BACKUP_S3_BUCKET not set)")
	}

	log.Info().Msg("Services initialized")
	return nil
}

// ResolveSeed returns the configured simulation seed, or a clock-derived one when it is 0
func ResolveSeed(configured int64, now func() time.Time) uint64 {
	if configured != 0 {
		return uint64(configured)
	}
	return uint64(now().UnixNano())
}
