package market

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/aristath/stocksim/internal/domain"
	testingpkg "github.com/aristath/stocksim/internal/testing"
	"github.com/aristath/stocksim/pkg/date"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSimulator(t *testing.T, seed uint64, workers int) *Simulator {
	t.Helper()
	sim, err := NewSimulator(DefaultPriceModel(), SeededSourceFactory(seed), workers, zerolog.Nop())
	require.NoError(t, err)
	return sim
}

func TestNewSimulator_Validation(t *testing.T) {
	bad := DefaultPriceModel()
	bad.Volatility = -1
	_, err := NewSimulator(bad, SeededSourceFactory(1), 1, zerolog.Nop())
	assert.Error(t, err)

	_, err = NewSimulator(DefaultPriceModel(), nil, 1, zerolog.Nop())
	assert.Error(t, err)
}

func TestSimulateDay_FrozenStockReturnsNone(t *testing.T) {
	sim := newTestSimulator(t, 1, 1)
	stocks := testingpkg.NewStockFixtures()

	update, err := sim.SimulateDay(stocks[2], date.New(2024, 1, 2)) // TEST is frozen
	require.NoError(t, err)
	assert.Nil(t, update)
}

func TestSimulateDay_SetsDay(t *testing.T) {
	sim := newTestSimulator(t, 1, 1)
	day := date.New(2024, 1, 2)

	update, err := sim.SimulateDay(testingpkg.NewStockFixtures()[0], day)
	require.NoError(t, err)
	require.NotNil(t, update)
	assert.Equal(t, day, update.Day)
	assert.Equal(t, "ACME", update.Symbol)
}

func TestSeededSourceFactory_IndependentOfScheduling(t *testing.T) {
	day := date.New(2024, 5, 1)
	stocks := make([]domain.Stock, 0, 50)
	for i := 0; i < 50; i++ {
		s := testingpkg.NewStockFixtures()[0]
		s.ID = "stk-" + string(rune('a'+i%26)) + string(rune('a'+i/26))
		stocks = append(stocks, s)
	}

	serial, err := newTestSimulator(t, 99, 1).SimulateBatch(context.Background(), stocks, day)
	require.NoError(t, err)
	parallel, err := newTestSimulator(t, 99, 8).SimulateBatch(context.Background(), stocks, day)
	require.NoError(t, err)

	require.Len(t, serial.Updates, 50)
	assert.Equal(t, serial.Updates, parallel.Updates)

	other, err := newTestSimulator(t, 99, 4).SimulateBatch(context.Background(), stocks, day.Add(1))
	require.NoError(t, err)
	assert.NotEqual(t, serial.Updates[0].Price.String()+serial.Updates[1].Price.String(),
		other.Updates[0].Price.String()+other.Updates[1].Price.String())
}

func TestSimulateBatch_IsolatesFailures(t *testing.T) {
	sim := newTestSimulator(t, 5, 4)
	stocks := testingpkg.NewStockFixtures()

	broken := stocks[1]
	broken.ID = "stk-broken"
	broken.Symbol = "BRKN"
	broken.CurrentPrice = decimal.Zero
	stocks = append(stocks, broken)

	day := date.New(2024, 1, 3)
	result, err := sim.SimulateBatch(context.Background(), stocks, day)
	require.NoError(t, err)

	assert.Equal(t, day, result.Day)
	require.Len(t, result.Updates, 2) // ACME, VOLT
	assert.ElementsMatch(t, []string{"stk-test", "stk-old"}, result.Skipped)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "BRKN", result.Failures[0].Symbol)
	for _, u := range result.Updates {
		assert.Equal(t, day, u.Day)
	}
}

func TestSimulateBatch_RecoversPanickingStock(t *testing.T) {
	seeded := SeededSourceFactory(5)
	sources := func(stockID string, day date.Date) rand.Source {
		if stockID == "stk-volt" {
			panic("entropy exhausted")
		}
		return seeded(stockID, day)
	}
	sim, err := NewSimulator(DefaultPriceModel(), sources, 2, zerolog.Nop())
	require.NoError(t, err)

	result, err := sim.SimulateBatch(context.Background(), testingpkg.NewStockFixtures(), date.New(2024, 1, 3))
	require.NoError(t, err)

	require.Len(t, result.Updates, 1)
	assert.Equal(t, "ACME", result.Updates[0].Symbol)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "VOLT", result.Failures[0].Symbol)
	assert.Contains(t, result.Failures[0].Error, "entropy exhausted")
}

func TestSimulateBatch_Cancelled(t *testing.T) {
	sim := newTestSimulator(t, 5, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := sim.SimulateBatch(ctx, testingpkg.NewStockFixtures(), date.New(2024, 1, 3))
	assert.ErrorIs(t, err, context.Canceled)
}
