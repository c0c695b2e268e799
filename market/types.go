// Package market holds the durable artifacts of the pipeline: prices,
// technical indicators, fundamentals, predictions and analysis reports.
//
// Every write goes through db.Upsert keyed on the artifact's natural key, so
// re-ingesting the same bar, period or horizon overwrites in place.
package market

import (
	"time"

	"github.com/shopspring/decimal"
)

// Price is one daily bar, unique on (StockID, Timestamp)
type Price struct {
	StockID      int64
	Timestamp    time.Time
	Open         decimal.Decimal
	High         decimal.Decimal
	Low          decimal.Decimal
	Close        decimal.Decimal
	Volume       int64
	VWAP         decimal.Decimal // zero when the feed sent none
	Transactions int64
}

// Indicator holds the technical indicators of one bar, unique on
// (StockID, Timestamp). A nil field lacks enough history.
type Indicator struct {
	StockID      int64
	Timestamp    time.Time
	SMA20        *float64
	SMA50        *float64
	EMA12        *float64
	EMA26        *float64
	RSI14        *float64
	Volatility20 *float64
}

// Fundamental is one reported statement period, unique on
// (StockID, FiscalYear, FiscalPeriod)
type Fundamental struct {
	StockID      int64
	FiscalYear   int
	FiscalPeriod string
	ReportDate   *time.Time
	Revenue      *float64
	NetIncome    *float64
	Assets       *float64
	Liabilities  *float64
	Equity       *float64
	EPS          *float64
	ProfitMargin *float64 // percent
	DebtToEquity *float64
}

// Prediction is one model forecast, unique on
// (StockID, ModelType, HorizonDays, PredictionDate)
type Prediction struct {
	StockID        int64
	ModelType      string
	HorizonDays    int
	PredictionDate time.Time // day the forecast was made
	TargetDate     time.Time
	PredictedClose decimal.Decimal
	Confidence     float64 // 0..1
}

// Signal is the headline call of a report
type Signal string

// Report signals
const (
	SignalBullish Signal = "bullish"
	SignalBearish Signal = "bearish"
	SignalNeutral Signal = "neutral"
)

// Report is the per-day analysis summary, unique on (StockID, ReportDate)
type Report struct {
	StockID    int64           `json:"stock_id"`
	Symbol     string          `json:"symbol"`
	ReportDate time.Time       `json:"report_date"`
	Signal     Signal          `json:"signal"`
	LastClose  decimal.Decimal `json:"last_close"`
	Summary    Summary         `json:"summary"`
}

// Summary is the structured body of a report, stored as JSON
type Summary struct {
	SMA20        *float64          `json:"sma_20,omitempty"`
	SMA50        *float64          `json:"sma_50,omitempty"`
	RSI14        *float64          `json:"rsi_14,omitempty"`
	Volatility20 *float64          `json:"volatility_20,omitempty"`
	ProfitMargin *float64          `json:"profit_margin,omitempty"`
	DebtToEquity *float64          `json:"debt_to_equity,omitempty"`
	Forecasts    []ForecastSummary `json:"forecasts,omitempty"`
	Reasons      []string          `json:"reasons,omitempty"`
}

// ForecastSummary is a prediction as carried inside a report
type ForecastSummary struct {
	HorizonDays    int             `json:"horizon_days"`
	TargetDate     time.Time       `json:"target_date"`
	PredictedClose decimal.Decimal `json:"predicted_close"`
	Confidence     float64         `json:"confidence"`
}
