package analysis

import (
	"time"

	"github.com/teranos/marketpulse/market"
)

// RSI bands
const (
	RSIOversold   = 30.0
	RSIOverbought = 70.0
)

// forecastThreshold is the relative move a forecast must show to count
const forecastThreshold = 0.01

// ReportInput is everything a report is built from. Only Latest is required.
type ReportInput struct {
	StockID     int64
	Symbol      string
	Now         time.Time
	Latest      market.Price
	Indicator   *market.Indicator
	Fundamental FundamentalView
	Predictions []market.Prediction
}

// BuildReport scores the SMA cross, the RSI band and the nearest forecast.
// A positive score is bullish, a negative one bearish.
func BuildReport(in ReportInput) market.Report {
	summary := market.Summary{
		ProfitMargin: in.Fundamental.ProfitMargin,
		DebtToEquity: in.Fundamental.DebtToEquity,
	}
	score := 0

	if ind := in.Indicator; ind != nil {
		summary.SMA20 = ind.SMA20
		summary.SMA50 = ind.SMA50
		summary.RSI14 = ind.RSI14
		summary.Volatility20 = ind.Volatility20

		if ind.SMA20 != nil && ind.SMA50 != nil {
			switch {
			case *ind.SMA20 > *ind.SMA50:
				score++
				summary.Reasons = append(summary.Reasons, "sma_20 above sma_50")
			case *ind.SMA20 < *ind.SMA50:
				score--
				summary.Reasons = append(summary.Reasons, "sma_20 below sma_50")
			}
		}
		if ind.RSI14 != nil {
			switch {
			case *ind.RSI14 < RSIOversold:
				score++
				summary.Reasons = append(summary.Reasons, "rsi oversold")
			case *ind.RSI14 > RSIOverbought:
				score--
				summary.Reasons = append(summary.Reasons, "rsi overbought")
			}
		}
	}

	var nearest *market.Prediction
	for i := range in.Predictions {
		p := &in.Predictions[i]
		summary.Forecasts = append(summary.Forecasts, market.ForecastSummary{
			HorizonDays:    p.HorizonDays,
			TargetDate:     p.TargetDate,
			PredictedClose: p.PredictedClose,
			Confidence:     p.Confidence,
		})
		if nearest == nil || p.HorizonDays < nearest.HorizonDays {
			nearest = p
		}
	}
	if last := in.Latest.Close; nearest != nil && last.IsPositive() {
		move := nearest.PredictedClose.Sub(last).Div(last).InexactFloat64()
		switch {
		case move > forecastThreshold:
			score++
			summary.Reasons = append(summary.Reasons, "forecast up")
		case move < -forecastThreshold:
			score--
			summary.Reasons = append(summary.Reasons, "forecast down")
		}
	}

	signal := market.SignalNeutral
	switch {
	case score > 0:
		signal = market.SignalBullish
	case score < 0:
		signal = market.SignalBearish
	}

	return market.Report{
		StockID:    in.StockID,
		Symbol:     in.Symbol,
		ReportDate: in.Now.UTC().Truncate(24 * time.Hour),
		Signal:     signal,
		LastClose:  in.Latest.Close,
		Summary:    summary,
	}
}
