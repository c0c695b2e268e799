package catalog

import (
	"context"
	"time"
)

// DefaultStocks is a starter universe of large, liquid US listings for use
// without a catalog sync.
var DefaultStocks = []Stock{
	{Symbol: "AAPL", Name: "Apple Inc.", Exchange: "XNAS", Sector: "Technology"},
	{Symbol: "MSFT", Name: "Microsoft Corporation", Exchange: "XNAS", Sector: "Technology"},
	{Symbol: "NVDA", Name: "NVIDIA Corporation", Exchange: "XNAS", Sector: "Technology"},
	{Symbol: "GOOGL", Name: "Alphabet Inc. Class A", Exchange: "XNAS", Sector: "Communication Services"},
	{Symbol: "AMZN", Name: "Amazon.com, Inc.", Exchange: "XNAS", Sector: "Consumer Discretionary"},
	{Symbol: "META", Name: "Meta Platforms, Inc.", Exchange: "XNAS", Sector: "Communication Services"},
	{Symbol: "TSLA", Name: "Tesla, Inc.", Exchange: "XNAS", Sector: "Consumer Discretionary"},
	{Symbol: "BRK.B", Name: "Berkshire Hathaway Inc. Class B", Exchange: "XNYS", Sector: "Financials"},
	{Symbol: "JPM", Name: "JPMorgan Chase & Co.", Exchange: "XNYS", Sector: "Financials"},
	{Symbol: "V", Name: "Visa Inc.", Exchange: "XNYS", Sector: "Financials"},
	{Symbol: "JNJ", Name: "Johnson & Johnson", Exchange: "XNYS", Sector: "Health Care"},
	{Symbol: "UNH", Name: "UnitedHealth Group Incorporated", Exchange: "XNYS", Sector: "Health Care"},
	{Symbol: "XOM", Name: "Exxon Mobil Corporation", Exchange: "XNYS", Sector: "Energy"},
	{Symbol: "PG", Name: "The Procter & Gamble Company", Exchange: "XNYS", Sector: "Consumer Staples"},
	{Symbol: "HD", Name: "The Home Depot, Inc.", Exchange: "XNYS", Sector: "Consumer Discretionary"},
	{Symbol: "KO", Name: "The Coca-Cola Company", Exchange: "XNYS", Sector: "Consumer Staples"},
	{Symbol: "PEP", Name: "PepsiCo, Inc.", Exchange: "XNAS", Sector: "Consumer Staples"},
	{Symbol: "WMT", Name: "Walmart Inc.", Exchange: "XNYS", Sector: "Consumer Staples"},
	{Symbol: "DIS", Name: "The Walt Disney Company", Exchange: "XNYS", Sector: "Communication Services"},
	{Symbol: "INTC", Name: "Intel Corporation", Exchange: "XNAS", Sector: "Technology"},
}

// Seed upserts DefaultStocks as active and returns how many were written
func Seed(ctx context.Context, store *Store, now time.Time) (int, error) {
	for i, st := range DefaultStocks {
		st.Active = true
		if _, err := store.UpsertStock(ctx, st, now); err != nil {
			return i, err
		}
	}
	return len(DefaultStocks), nil
}
