// Package feed is the client for the external market data feed.
//
// Every request passes through the call budget limiter before it leaves the
// process. Transient failures (429, 5xx, transport errors) are retried with
// exponential backoff, and each retry pays the limiter again.
package feed

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Client is the market data surface the pipeline and catalog depend on
type Client interface {
	// FetchSeries returns daily bars for symbol between from and to, inclusive, oldest first
	FetchSeries(ctx context.Context, symbol string, from, to time.Time) ([]Bar, error)

	// FetchPeriodicMetrics returns the most recent financial statements for symbol
	FetchPeriodicMetrics(ctx context.Context, symbol string, period Period) ([]Financials, error)

	// ListTickers returns one page of active tickers. An empty cursor starts from the beginning.
	ListTickers(ctx context.Context, cursor string) (TickerPage, error)
}

// Period selects annual or quarterly statements
type Period string

// Statement periods
const (
	PeriodAnnual    Period = "annual"
	PeriodQuarterly Period = "quarterly"
)

// ParsePeriod validates a configured period name
func ParsePeriod(s string) (Period, bool) {
	switch Period(s) {
	case PeriodAnnual, PeriodQuarterly:
		return Period(s), true
	}
	return "", false
}

// Bar is one daily OHLCV aggregate
type Bar struct {
	Timestamp    time.Time
	Open         decimal.Decimal
	High         decimal.Decimal
	Low          decimal.Decimal
	Close        decimal.Decimal
	Volume       int64
	VWAP         decimal.Decimal
	Transactions int64
}

// Financials is one reported statement period. Missing line items are nil.
type Financials struct {
	FiscalYear   int
	FiscalPeriod string // FY, Q1..Q4
	StartDate    *time.Time
	EndDate      *time.Time
	FilingDate   *time.Time
	Revenue      *float64
	NetIncome    *float64
	EPS          *float64
	Assets       *float64
	Liabilities  *float64
	Equity       *float64
}

// Ticker is one catalog entry as listed by the feed
type Ticker struct {
	Symbol   string
	Name     string
	Exchange string
	Type     string
	Active   bool
}

// TickerPage is one page of the ticker listing. NextCursor is empty on the last page.
type TickerPage struct {
	Tickers    []Ticker
	NextCursor string
}
