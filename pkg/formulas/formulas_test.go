package formulas

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMeanAndStdDev(t *testing.T) {
	assert.Equal(t, 0.0, Mean(nil))
	assert.InDelta(t, 2.5, Mean([]float64{1, 2, 3, 4}), 1e-12)

	assert.Equal(t, 0.0, StdDev([]float64{5}))
	// sample std dev of 2,4,4,4,5,5,7,9 is sqrt(32/7)
	assert.InDelta(t, math.Sqrt(32.0/7.0), StdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9}), 1e-12)
}

func TestAnnualizedVolatility(t *testing.T) {
	assert.Equal(t, 0.0, AnnualizedVolatility(nil))
	daily := []float64{0.01, -0.01, 0.01, -0.01}
	assert.InDelta(t, StdDev(daily)*math.Sqrt(252), AnnualizedVolatility(daily), 1e-12)
}

func TestSMA(t *testing.T) {
	assert.Empty(t, SMA([]float64{1, 2}, 3))
	assert.Empty(t, SMA([]float64{1, 2}, 0))

	sma := SMA([]float64{1, 2, 3, 4, 5}, 3)
	require.Len(t, sma, 3)
	assert.InDelta(t, 2.0, sma[0], 1e-12)
	assert.InDelta(t, 3.0, sma[1], 1e-12)
	assert.InDelta(t, 4.0, sma[2], 1e-12)
}

func TestCalculateDrawdownMetrics(t *testing.T) {
	assert.Nil(t, CalculateDrawdownMetrics([]float64{100}))

	m := CalculateDrawdownMetrics([]float64{100, 120, 90, 110})
	require.NotNil(t, m)
	assert.InDelta(t, 0.25, m.MaxDrawdown, 1e-12)
	assert.InDelta(t, (120.0-110.0)/120.0, m.CurrentDrawdown, 1e-12)
	assert.Equal(t, 2, m.DaysInDrawdown)
	assert.Equal(t, 120.0, m.PeakValue)
	assert.Equal(t, 110.0, m.CurrentValue)
}
