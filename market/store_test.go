package market

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/marketpulse/errors"
	mptest "github.com/teranos/marketpulse/internal/testing"
	"github.com/teranos/marketpulse/internal/util"
)

var testNow = time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC)

func day(d int) time.Time {
	return time.Date(2024, 6, d, 4, 0, 0, 0, time.UTC)
}

func price(stockID int64, at time.Time, close string, volume int64) Price {
	c := decimal.RequireFromString(close)
	return Price{StockID: stockID, Timestamp: at, Open: c, High: c, Low: c, Close: c, Volume: volume}
}

func newStore(t *testing.T) (*Store, int64) {
	t.Helper()
	conn := mptest.CreateTestDB(t)
	return NewStore(conn), mptest.InsertStock(t, conn, "AAPL")
}

func TestSavePrices_Idempotent(t *testing.T) {
	ctx := context.Background()
	store, id := newStore(t)

	first := price(id, day(1), "190.10", 1000)
	first.VWAP = decimal.RequireFromString("190.05")
	first.Transactions = 42
	_, err := store.SavePrices(ctx, []Price{first, price(id, day(2), "191.00", 2000)})
	require.NoError(t, err)

	// same natural key, new payload
	_, err = store.SavePrices(ctx, []Price{price(id, day(2), "192.50", 2500)})
	require.NoError(t, err)

	prices, err := store.Prices(ctx, id, 0)
	require.NoError(t, err)
	require.Len(t, prices, 2)
	assert.Equal(t, day(1), prices[0].Timestamp, "oldest first")
	assert.True(t, decimal.RequireFromString("190.05").Equal(prices[0].VWAP))
	assert.Equal(t, int64(42), prices[0].Transactions)
	assert.True(t, decimal.RequireFromString("192.50").Equal(prices[1].Close))
	assert.Equal(t, int64(2500), prices[1].Volume)
	assert.True(t, prices[1].VWAP.IsZero())

	last, err := store.Prices(ctx, id, 1)
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, day(2), last[0].Timestamp, "limit keeps the newest bars")

	counts, err := store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts["stock_prices"])
}

func TestFetchWindow(t *testing.T) {
	ctx := context.Background()
	store, id := newStore(t)

	// Nothing stored: full history
	from, to, upToDate, err := store.FetchWindow(ctx, id, testNow, 730)
	require.NoError(t, err)
	assert.False(t, upToDate)
	assert.Equal(t, testNow.AddDate(0, 0, -730), from)
	assert.Equal(t, testNow, to)

	// Stored through yesterday: resume the next day
	_, err = store.SavePrices(ctx, []Price{price(id, day(2), "1", 1)})
	require.NoError(t, err)
	from, _, upToDate, err = store.FetchWindow(ctx, id, testNow, 730)
	require.NoError(t, err)
	assert.False(t, upToDate)
	assert.Equal(t, day(3), from)

	// Stored through today: nothing to ask for
	_, err = store.SavePrices(ctx, []Price{price(id, day(3), "1", 1)})
	require.NoError(t, err)
	_, _, upToDate, err = store.FetchWindow(ctx, id, testNow, 730)
	require.NoError(t, err)
	assert.True(t, upToDate)
}

func TestLatestPrice_NotFound(t *testing.T) {
	store, id := newStore(t)
	_, err := store.LatestPrice(context.Background(), id)
	assert.True(t, errors.IsNotFound(err))
}

func TestIndicators_NullsRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, id := newStore(t)

	_, err := store.SaveIndicators(ctx, []Indicator{
		{StockID: id, Timestamp: day(1), SMA20: util.Ptr(10.5)},
		{StockID: id, Timestamp: day(2), SMA20: util.Ptr(11.0), RSI14: util.Ptr(62.5)},
	})
	require.NoError(t, err)

	ind, err := store.LatestIndicator(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, day(2), ind.Timestamp)
	require.NotNil(t, ind.RSI14)
	assert.InDelta(t, 62.5, *ind.RSI14, 1e-9)
	assert.Nil(t, ind.SMA50)
	assert.Nil(t, ind.Volatility20)
}

func TestFundamentals_LatestAndOverwrite(t *testing.T) {
	ctx := context.Background()
	store, id := newStore(t)

	end := time.Date(2023, 9, 30, 0, 0, 0, 0, time.UTC)
	_, err := store.SaveFundamentals(ctx, []Fundamental{
		{StockID: id, FiscalYear: 2022, FiscalPeriod: "FY", Revenue: util.Ptr(100.0)},
		{StockID: id, FiscalYear: 2023, FiscalPeriod: "FY", ReportDate: &end, Revenue: util.Ptr(120.0)},
	})
	require.NoError(t, err)
	_, err = store.SaveFundamentals(ctx, []Fundamental{
		{StockID: id, FiscalYear: 2023, FiscalPeriod: "FY", ReportDate: &end, Revenue: util.Ptr(125.0), ProfitMargin: util.Ptr(20.0)},
	})
	require.NoError(t, err)

	f, err := store.LatestFundamental(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2023, f.FiscalYear)
	require.NotNil(t, f.ReportDate)
	assert.Equal(t, end, *f.ReportDate)
	assert.InDelta(t, 125.0, *f.Revenue, 1e-9)
	assert.InDelta(t, 20.0, *f.ProfitMargin, 1e-9)

	counts, err := store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts["fundamental_data"])
}

func TestPredictions_KeyedByHorizonAndDay(t *testing.T) {
	ctx := context.Background()
	store, id := newStore(t)

	mk := func(h int, close string) Prediction {
		return Prediction{
			StockID: id, ModelType: "linear_trend", HorizonDays: h,
			PredictionDate: testNow, TargetDate: testNow.AddDate(0, 0, h),
			PredictedClose: decimal.RequireFromString(close), Confidence: 0.8,
		}
	}
	_, err := store.SavePredictions(ctx, []Prediction{mk(1, "100"), mk(7, "105")})
	require.NoError(t, err)
	// a rerun on the same day replaces, a later intraday time maps to the same key
	rerun := mk(1, "101")
	rerun.PredictionDate = testNow.Add(3 * time.Hour)
	_, err = store.SavePredictions(ctx, []Prediction{rerun})
	require.NoError(t, err)

	preds, err := store.Predictions(ctx, id, testNow)
	require.NoError(t, err)
	require.Len(t, preds, 2)
	assert.Equal(t, 1, preds[0].HorizonDays)
	assert.True(t, decimal.RequireFromString("101").Equal(preds[0].PredictedClose))
	assert.Equal(t, time.Date(2024, 6, 4, 0, 0, 0, 0, time.UTC), preds[0].TargetDate)
	assert.Equal(t, 7, preds[1].HorizonDays)
}

func TestReports_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store, id := newStore(t)

	report := Report{
		StockID:    id,
		Symbol:     "AAPL",
		ReportDate: testNow,
		Signal:     SignalBullish,
		LastClose:  decimal.RequireFromString("195.12"),
		Summary: Summary{
			SMA20:   util.Ptr(190.0),
			Reasons: []string{"sma_20 above sma_50"},
			Forecasts: []ForecastSummary{
				{HorizonDays: 1, TargetDate: testNow.AddDate(0, 0, 1).Truncate(24 * time.Hour), PredictedClose: decimal.RequireFromString("196"), Confidence: 0.7},
			},
		},
	}
	require.NoError(t, store.SaveReport(ctx, report))

	report.Signal = SignalNeutral
	require.NoError(t, store.SaveReport(ctx, report))

	got, err := store.LatestReport(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "AAPL", got.Symbol)
	assert.Equal(t, SignalNeutral, got.Signal)
	assert.True(t, report.LastClose.Equal(got.LastClose))
	assert.Equal(t, time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC), got.ReportDate)
	assert.Equal(t, []string{"sma_20 above sma_50"}, got.Summary.Reasons)
	require.Len(t, got.Summary.Forecasts, 1)
	assert.True(t, decimal.RequireFromString("196").Equal(got.Summary.Forecasts[0].PredictedClose))

	counts, err := store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts["analysis_reports"])
}
