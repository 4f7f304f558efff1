// Package di provides dependency injection for database connections.
package di

import (
	"fmt"
	"path/filepath"

	"github.com/aristath/stocksim/internal/config"
	"github.com/aristath/stocksim/internal/database"
	"github.com/rs/zerolog"
)

// InitializeDatabases opens the market, ledger and portfolio databases and applies schemas
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{}

	stores := []struct {
		name    string
		profile database.DatabaseProfile
		target  **database.DB
	}{
		// market.db - stocks, daily price points, simulation runs
		{"market", database.ProfileStandard, &container.MarketDB},
		// ledger.db - the transaction log everything else is derived from
		{"ledger", database.ProfileLedger, &container.LedgerDB},
		// portfolio.db - rebuildable position cache
		{"portfolio", database.ProfileStandard, &container.PortfolioDB},
		// cache.db - valuation series, disposable
		{"cache", database.ProfileCache, &container.CacheDB},
	}

	for _, store := range stores {
		db, err := database.New(database.Config{
			Path:    filepath.Join(cfg.DataDir, store.name+".db"),
			Profile: store.profile,
			Name:    store.name,
		})
		if err != nil {
			container.Close()
			return nil, fmt.Errorf("failed to initialize %s database: %w", store.name, err)
		}
		*store.target = db

		if err := db.Migrate(); err != nil {
			container.Close()
			return nil, fmt.Errorf("failed to apply schema to %s: %w", store.name, err)
		}
	}

	log.Info().Msg("All databases initialized and schemas applied")

	return container, nil
}
