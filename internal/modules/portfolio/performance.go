package portfolio

import (
	"github.com/aristath/stocksim/internal/domain"
	"github.com/aristath/stocksim/pkg/date"
	"github.com/aristath/stocksim/pkg/formulas"
	"github.com/shopspring/decimal"
)

// DefaultSMAPeriod is the moving-average window used when none is requested
const DefaultSMAPeriod = 7

// SMAPoint is one value of the moving average, dated at the window's last day
type SMAPoint struct {
	Date  date.Date `json:"date"`
	Value float64   `json:"value"`
}

// Performance summarizes a valuation series
type Performance struct {
	From                 date.Date       `json:"from"`
	To                   date.Date       `json:"to"`
	SMA                  []SMAPoint      `json:"sma"`
	DailyReturns         []float64       `json:"daily_returns"`
	StartValue           decimal.Decimal `json:"start_value"`
	EndValue             decimal.Decimal `json:"end_value"`
	NetFlows             decimal.Decimal `json:"net_flows"`
	Gain                 decimal.Decimal `json:"gain"`
	TimeWeightedReturn   float64         `json:"time_weighted_return_pct"`
	MeanDailyReturn      float64         `json:"mean_daily_return_pct"`
	AnnualizedVolatility float64         `json:"annualized_volatility_pct"`
	MaxDrawdown          float64         `json:"max_drawdown_pct"`
	CurrentDrawdown      float64         `json:"current_drawdown_pct"`
	DaysInDrawdown       int             `json:"days_in_drawdown"`
	SMAPeriod            int             `json:"sma_period"`
	Days                 int             `json:"days"`
}

// ComputePerformance derives return, risk and trend figures from a daily series.
//
// Daily returns are flow-adjusted: the day's NetFlow is removed from the value change so
// that buying shares is not counted as performance. Days following a zero valuation have
// no defined return and are skipped.
func ComputePerformance(series []domain.DailyValuation, smaPeriod int) Performance {
	if smaPeriod < 1 {
		smaPeriod = DefaultSMAPeriod
	}
	perf := Performance{
		SMAPeriod:    smaPeriod,
		Days:         len(series),
		SMA:          []SMAPoint{},
		DailyReturns: []float64{},
		StartValue:   decimal.Zero,
		EndValue:     decimal.Zero,
		NetFlows:     decimal.Zero,
		Gain:         decimal.Zero,
	}
	if len(series) == 0 {
		return perf
	}

	first, last := series[0], series[len(series)-1]
	perf.From, perf.To = first.Date, last.Date
	perf.StartValue, perf.EndValue = first.TotalValue, last.TotalValue

	values := make([]float64, len(series))
	values[0] = first.TotalValue.InexactFloat64()
	index := []float64{1}
	growth := 1.0
	for i := 1; i < len(series); i++ {
		values[i] = series[i].TotalValue.InexactFloat64()
		perf.NetFlows = perf.NetFlows.Add(series[i].NetFlow)

		prev := series[i-1].TotalValue
		if !prev.IsPositive() {
			continue
		}
		change := series[i].TotalValue.Sub(series[i].NetFlow).Sub(prev)
		r := change.Div(prev).InexactFloat64()
		perf.DailyReturns = append(perf.DailyReturns, r)
		growth *= 1 + r
		index = append(index, growth)
	}
	perf.Gain = perf.EndValue.Sub(perf.StartValue).Sub(perf.NetFlows)

	if len(perf.DailyReturns) > 0 {
		perf.TimeWeightedReturn = (growth - 1) * 100
		perf.MeanDailyReturn = formulas.Mean(perf.DailyReturns) * 100
		perf.AnnualizedVolatility = formulas.AnnualizedVolatility(perf.DailyReturns) * 100
	}

	if dd := formulas.CalculateDrawdownMetrics(index); dd != nil {
		perf.MaxDrawdown = dd.MaxDrawdown * 100
		perf.CurrentDrawdown = dd.CurrentDrawdown * 100
		perf.DaysInDrawdown = dd.DaysInDrawdown
	}

	sma := formulas.SMA(values, smaPeriod)
	offset := smaPeriod - 1
	for i, v := range sma {
		perf.SMA = append(perf.SMA, SMAPoint{Date: series[offset+i].Date, Value: v})
	}

	return perf
}
