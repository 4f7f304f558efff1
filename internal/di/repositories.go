// Package di provides dependency injection for repository implementations.
package di

import (
	"fmt"

	"github.com/aristath/stocksim/internal/config"
	"github.com/aristath/stocksim/internal/modules/ledger"
	"github.com/aristath/stocksim/internal/modules/market"
	"github.com/aristath/stocksim/internal/modules/portfolio"
	"github.com/rs/zerolog"
)

// InitializeRepositories creates all repositories and stores them in the container
func InitializeRepositories(container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container == nil {
		return fmt.Errorf("container cannot be nil")
	}

	container.StockRepo = market.NewStockRepository(container.MarketDB.Conn(), log)
	container.PriceRepo = market.NewPricePointRepository(container.MarketDB.Conn(), log)

	// "Up to day D" bounds are cut in the reporting timezone
	container.TransactionRepo = ledger.NewTransactionRepository(container.LedgerDB.Conn(), cfg.Location, log)

	container.PositionRepo = portfolio.NewPositionRepository(container.PortfolioDB.Conn(), log)
	if cfg.Analytics.CacheEnabled {
		container.ValuationCache = portfolio.NewValuationCache(container.CacheDB.Conn(), log)
	}

	log.Info().Msg("Repositories initialized")
	return nil
}
