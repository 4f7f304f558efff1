package di

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeRepositories(t *testing.T) {
	cfg := testConfig(t)
	container, err := InitializeDatabases(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer container.Close()

	require.NoError(t, InitializeRepositories(container, cfg, zerolog.Nop()))
	assert.NotNil(t, container.StockRepo)
	assert.NotNil(t, container.PriceRepo)
	assert.NotNil(t, container.TransactionRepo)
	assert.NotNil(t, container.PositionRepo)
	assert.NotNil(t, container.ValuationCache)
}

func TestInitializeRepositories_CacheDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Analytics.CacheEnabled = false
	container, err := InitializeDatabases(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer container.Close()

	require.NoError(t, InitializeRepositories(container, cfg, zerolog.Nop()))
	assert.Nil(t, container.ValuationCache)
}

func TestInitializeRepositories_NilContainer(t *testing.T) {
	assert.Error(t, InitializeRepositories(nil, testConfig(t), zerolog.Nop()))
}
