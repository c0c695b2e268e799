// Package analysis holds the default derive, predict and report
// collaborators of the pipeline. Each can be replaced without touching
// scheduling or persistence.
package analysis

import (
	"math"

	"github.com/teranos/marketpulse/internal/util"
	"github.com/teranos/marketpulse/market"
)

// Indicator windows
const (
	SMAShort      = 20
	SMALong       = 50
	EMAFast       = 12
	EMASlow       = 26
	RSIPeriod     = 14
	VolatilityWin = 20
)

// ComputeIndicators derives technical indicators for each bar of prices,
// which must be oldest first. A bar gets a row once at least one indicator has
// enough history; indicators still warming up are nil.
func ComputeIndicators(prices []market.Price) []market.Indicator {
	closes := make([]float64, len(prices))
	for i, p := range prices {
		closes[i] = p.Close.InexactFloat64()
	}

	emaFast := ema(closes, EMAFast)
	emaSlow := ema(closes, EMASlow)

	var out []market.Indicator
	for i, p := range prices {
		ind := market.Indicator{
			StockID:      p.StockID,
			Timestamp:    p.Timestamp,
			SMA20:        sma(closes, i, SMAShort),
			SMA50:        sma(closes, i, SMALong),
			RSI14:        rsi(closes, i, RSIPeriod),
			Volatility20: volatility(closes, i, VolatilityWin),
		}
		if i >= EMAFast-1 {
			ind.EMA12 = util.Ptr(emaFast[i])
		}
		if i >= EMASlow-1 {
			ind.EMA26 = util.Ptr(emaSlow[i])
		}
		if ind.SMA20 == nil && ind.SMA50 == nil && ind.EMA12 == nil && ind.EMA26 == nil && ind.RSI14 == nil && ind.Volatility20 == nil {
			continue
		}
		out = append(out, ind)
	}
	return out
}

// sma is the mean of the period closes ending at i
func sma(closes []float64, i, period int) *float64 {
	if i < period-1 {
		return nil
	}
	sum := 0.0
	for _, c := range closes[i-period+1 : i+1] {
		sum += c
	}
	return util.Ptr(sum / float64(period))
}

// ema is seeded with the first close, smoothing 2/(period+1)
func ema(closes []float64, period int) []float64 {
	out := make([]float64, len(closes))
	if len(closes) == 0 {
		return out
	}
	alpha := 2.0 / float64(period+1)
	out[0] = closes[0]
	for i := 1; i < len(closes); i++ {
		out[i] = alpha*closes[i] + (1-alpha)*out[i-1]
	}
	return out
}

// rsi uses simple averages of the last period gains and losses
func rsi(closes []float64, i, period int) *float64 {
	if i < period {
		return nil
	}
	var gain, loss float64
	for j := i - period + 1; j <= i; j++ {
		d := closes[j] - closes[j-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	switch {
	case gain == 0 && loss == 0:
		return util.Ptr(50.0)
	case loss == 0:
		return util.Ptr(100.0)
	}
	rs := gain / loss
	return util.Ptr(100 - 100/(1+rs))
}

// volatility is the sample standard deviation of the last window daily returns
func volatility(closes []float64, i, window int) *float64 {
	if i < window {
		return nil
	}
	returns := make([]float64, 0, window)
	for j := i - window + 1; j <= i; j++ {
		if closes[j-1] == 0 {
			return nil
		}
		returns = append(returns, closes[j]/closes[j-1]-1)
	}
	mean := util.Mean(returns)
	ss := 0.0
	for _, r := range returns {
		ss += (r - mean) * (r - mean)
	}
	return util.Ptr(math.Sqrt(ss / float64(len(returns)-1)))
}
