package market

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/aristath/stocksim/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func activeStock(price string) domain.Stock {
	return domain.Stock{
		ID:           "stk-1",
		Symbol:       "ACME",
		CurrentPrice: decimal.RequireFromString(price),
		Volume:       1000,
		IsActive:     true,
	}
}

func TestPriceModel_SkipsFrozenAndInactive(t *testing.T) {
	model := DefaultPriceModel()

	frozen := activeStock("100")
	frozen.IsFrozen = true
	_, ok, err := model.NextPrice(frozen, rand.NewPCG(1, 2))
	require.NoError(t, err)
	assert.False(t, ok)

	inactive := activeStock("100")
	inactive.IsActive = false
	_, ok, err = model.NextPrice(inactive, rand.NewPCG(1, 2))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPriceModel_RejectsNonPositivePrice(t *testing.T) {
	model := DefaultPriceModel()
	for _, price := range []string{"0", "-5"} {
		_, ok, err := model.NextPrice(activeStock(price), rand.NewPCG(1, 2))
		assert.ErrorIs(t, err, domain.ErrInvalidPrice)
		assert.False(t, ok)
	}
}

func TestPriceModel_SameSeedSameSequence(t *testing.T) {
	model := DefaultPriceModel()

	walk := func(seed uint64) []string {
		src := rand.NewPCG(seed, 7)
		stock := activeStock("100")
		out := make([]string, 0, 20)
		for i := 0; i < 20; i++ {
			update, ok, err := model.NextPrice(stock, src)
			require.NoError(t, err)
			require.True(t, ok)
			stock.CurrentPrice = update.Price
			stock.Volume = update.Volume
			out = append(out, update.Price.String())
		}
		return out
	}

	assert.Equal(t, walk(42), walk(42))
	assert.NotEqual(t, walk(42), walk(43))
}

func TestPriceModel_MoveIsBoundedAndVolumeNonDecreasing(t *testing.T) {
	model := DefaultPriceModel()
	model.Volatility = 0.5 // large enough that the clamp is hit often

	current := decimal.NewFromInt(100)
	maxUp := decimal.RequireFromString("110.00")
	maxDown := decimal.RequireFromString("90.00")

	for seed := uint64(0); seed < 500; seed++ {
		stock := activeStock("100")
		update, ok, err := model.NextPrice(stock, rand.NewPCG(seed, seed))
		require.NoError(t, err)
		require.True(t, ok)

		assert.True(t, update.Price.LessThanOrEqual(maxUp), "price %s above bound", update.Price)
		assert.True(t, update.Price.GreaterThanOrEqual(maxDown), "price %s below bound", update.Price)
		assert.True(t, update.PreviousClose.Equal(current))
		assert.GreaterOrEqual(t, update.VolumeDelta, int64(0))
		assert.LessOrEqual(t, update.VolumeDelta, model.MaxVolumeDelta)
		assert.GreaterOrEqual(t, update.Volume, stock.Volume)
	}
}

func TestPriceModel_FloorsAtMinPrice(t *testing.T) {
	model := DefaultPriceModel()
	model.Volatility = 0.5

	for seed := uint64(0); seed < 200; seed++ {
		update, ok, err := model.NextPrice(activeStock("0.01"), rand.NewPCG(seed, 1))
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, update.Price.GreaterThanOrEqual(model.MinPrice), "price %s below floor", update.Price)
	}
}

func TestPriceModel_RoundsToCents(t *testing.T) {
	model := DefaultPriceModel()
	update, ok, err := model.NextPrice(activeStock("123.45"), rand.NewPCG(9, 9))
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, update.Price.Equal(update.Price.Round(2)))
}

func TestPriceModel_ZeroVolumeDelta(t *testing.T) {
	model := DefaultPriceModel()
	model.MaxVolumeDelta = 0
	update, ok, err := model.NextPrice(activeStock("10"), rand.NewPCG(3, 3))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(0), update.VolumeDelta)
	assert.Equal(t, int64(1000), update.Volume)
}

func TestPriceModel_MaxInt64VolumeDelta(t *testing.T) {
	model := DefaultPriceModel()
	model.MaxVolumeDelta = math.MaxInt64
	require.NoError(t, model.Validate())

	for seed := uint64(0); seed < 20; seed++ {
		update, ok, err := model.NextPrice(activeStock("10"), rand.NewPCG(seed, seed))
		require.NoError(t, err)
		require.True(t, ok)
		assert.GreaterOrEqual(t, update.VolumeDelta, int64(0))
		assert.GreaterOrEqual(t, update.Volume, int64(1000))
	}
}

func TestPriceModel_Validate(t *testing.T) {
	require.NoError(t, DefaultPriceModel().Validate())

	tests := []struct {
		name   string
		mutate func(m *PriceModel)
	}{
		{"zero volatility", func(m *PriceModel) { m.Volatility = 0 }},
		{"move of 100%", func(m *PriceModel) { m.MaxDailyMove = 1 }},
		{"zero min price", func(m *PriceModel) { m.MinPrice = decimal.Zero }},
		{"negative volume delta", func(m *PriceModel) { m.MaxVolumeDelta = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := DefaultPriceModel()
			tt.mutate(&m)
			assert.Error(t, m.Validate())
		})
	}
}
