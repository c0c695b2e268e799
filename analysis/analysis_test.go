package analysis

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/marketpulse/errors"
	"github.com/teranos/marketpulse/feed"
	"github.com/teranos/marketpulse/internal/util"
	"github.com/teranos/marketpulse/market"
)

var testNow = time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC)

// series builds n daily bars whose closes follow f(i)
func series(n int, f func(i int) float64) []market.Price {
	prices := make([]market.Price, n)
	start := testNow.AddDate(0, 0, -n)
	for i := range prices {
		c := decimal.NewFromFloat(f(i))
		prices[i] = market.Price{StockID: 7, Timestamp: start.AddDate(0, 0, i), Open: c, High: c, Low: c, Close: c}
	}
	return prices
}

func TestComputeIndicators_Warmup(t *testing.T) {
	prices := series(60, func(i int) float64 { return 100 + float64(i) })
	inds := ComputeIndicators(prices)

	// first row appears once EMA12 has 12 bars
	require.Len(t, inds, 60-(EMAFast-1))
	first := inds[0]
	assert.Equal(t, prices[EMAFast-1].Timestamp, first.Timestamp)
	assert.NotNil(t, first.EMA12)
	assert.Nil(t, first.SMA20)
	assert.Nil(t, first.EMA26)

	last := inds[len(inds)-1]
	require.NotNil(t, last.SMA20)
	require.NotNil(t, last.SMA50)
	// closes 140..159 average 149.5; closes 110..159 average 134.5
	assert.InDelta(t, 149.5, *last.SMA20, 1e-9)
	assert.InDelta(t, 134.5, *last.SMA50, 1e-9)
	require.NotNil(t, last.RSI14)
	assert.InDelta(t, 100, *last.RSI14, 1e-9, "only gains")
	assert.Equal(t, int64(7), last.StockID)
}

func TestComputeIndicators_RSIAndVolatility(t *testing.T) {
	// alternating +1 / -1 moves: equal gains and losses
	flat := series(30, func(i int) float64 { return 100 + float64(i%2) })
	last := ComputeIndicators(flat)
	ind := last[len(last)-1]
	require.NotNil(t, ind.RSI14)
	assert.InDelta(t, 50, *ind.RSI14, 1e-9)
	require.NotNil(t, ind.Volatility20)
	assert.Greater(t, *ind.Volatility20, 0.0)

	constant := series(30, func(int) float64 { return 42 })
	c := ComputeIndicators(constant)
	ci := c[len(c)-1]
	assert.InDelta(t, 50, *ci.RSI14, 1e-9)
	assert.InDelta(t, 0, *ci.Volatility20, 1e-12)
	assert.InDelta(t, 42, *ci.EMA26, 1e-9)
}

func TestComputeIndicators_TooShort(t *testing.T) {
	assert.Empty(t, ComputeIndicators(series(5, func(int) float64 { return 1 })))
	assert.Empty(t, ComputeIndicators(nil))
}

func TestFromFinancials(t *testing.T) {
	end := time.Date(2023, 9, 30, 0, 0, 0, 0, time.UTC)
	row := FromFinancials(7, feed.Financials{
		FiscalYear:   2023,
		FiscalPeriod: "FY",
		EndDate:      &end,
		Revenue:      util.Ptr(200.0),
		NetIncome:    util.Ptr(50.0),
		Liabilities:  util.Ptr(300.0),
		Equity:       util.Ptr(0.0),
	})

	assert.Equal(t, int64(7), row.StockID)
	assert.Equal(t, &end, row.ReportDate)
	require.NotNil(t, row.ProfitMargin)
	assert.InDelta(t, 25.0, *row.ProfitMargin, 1e-9)
	assert.Nil(t, row.DebtToEquity, "zero equity has no ratio")

	assert.Equal(t, FundamentalView{}, AnalyzeFundamentals(nil))
}

func TestLinearTrendModel(t *testing.T) {
	m := NewLinearTrendModel(60)
	err := m.Train(series(29, func(i int) float64 { return float64(i) }))
	assert.True(t, errors.Is(err, ErrInsufficientData))

	_, err = m.Predict(testNow, DefaultHorizons)
	assert.Error(t, err, "untrained")

	// perfect line: close = 50 + 2i over the last 60 of 100 bars
	require.NoError(t, m.Train(series(100, func(i int) float64 { return 50 + 2*float64(i) })))
	slope, r2 := m.Fit()
	assert.InDelta(t, 2, slope, 1e-9)
	assert.InDelta(t, 1, r2, 1e-9)

	preds, err := m.Predict(testNow, DefaultHorizons)
	require.NoError(t, err)
	require.Len(t, preds, 3)

	// last close is 50 + 2*99 = 248
	assert.True(t, decimal.NewFromInt(250).Equal(preds[0].PredictedClose), preds[0].PredictedClose.String())
	assert.True(t, decimal.NewFromInt(262).Equal(preds[2].PredictedClose), preds[2].PredictedClose.String())
	assert.Equal(t, 7, preds[2].HorizonDays)
	assert.Equal(t, ModelTypeLinearTrend, preds[0].ModelType)
	assert.Equal(t, int64(7), preds[0].StockID)
	assert.Equal(t, time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC), preds[0].PredictionDate)
	assert.Equal(t, time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC), preds[2].TargetDate)
	assert.InDelta(t, 1, preds[0].Confidence, 1e-9)
	assert.Less(t, preds[2].Confidence, preds[0].Confidence)
}

func TestBuildReport(t *testing.T) {
	latest := market.Price{Close: decimal.NewFromInt(100)}

	t.Run("bullish cross and forecast", func(t *testing.T) {
		r := BuildReport(ReportInput{
			StockID: 7, Symbol: "AAPL", Now: testNow, Latest: latest,
			Indicator: &market.Indicator{SMA20: util.Ptr(105.0), SMA50: util.Ptr(100.0), RSI14: util.Ptr(55.0)},
			Predictions: []market.Prediction{
				{HorizonDays: 7, PredictedClose: decimal.NewFromInt(90)},
				{HorizonDays: 1, PredictedClose: decimal.NewFromInt(103)},
			},
		})
		assert.Equal(t, market.SignalBullish, r.Signal)
		assert.Equal(t, []string{"sma_20 above sma_50", "forecast up"}, r.Summary.Reasons)
		assert.Len(t, r.Summary.Forecasts, 2)
		assert.Equal(t, time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC), r.ReportDate)
		assert.True(t, latest.Close.Equal(r.LastClose))
	})

	t.Run("overbought below cross", func(t *testing.T) {
		r := BuildReport(ReportInput{
			Now: testNow, Latest: latest,
			Indicator: &market.Indicator{SMA20: util.Ptr(95.0), SMA50: util.Ptr(100.0), RSI14: util.Ptr(80.0)},
		})
		assert.Equal(t, market.SignalBearish, r.Signal)
	})

	t.Run("no inputs is neutral", func(t *testing.T) {
		r := BuildReport(ReportInput{Now: testNow, Latest: latest})
		assert.Equal(t, market.SignalNeutral, r.Signal)
		assert.Empty(t, r.Summary.Reasons)
	})
}
