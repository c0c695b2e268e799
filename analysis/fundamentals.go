package analysis

import (
	"github.com/teranos/marketpulse/feed"
	"github.com/teranos/marketpulse/internal/util"
	"github.com/teranos/marketpulse/market"
)

// FundamentalView is the derived reading of one statement period
type FundamentalView struct {
	ProfitMargin *float64 // percent
	DebtToEquity *float64
	ROE          *float64 // percent
}

// FromFinancials converts a feed statement into a storable row with its
// derived ratios filled in.
func FromFinancials(stockID int64, f feed.Financials) market.Fundamental {
	row := market.Fundamental{
		StockID:      stockID,
		FiscalYear:   f.FiscalYear,
		FiscalPeriod: f.FiscalPeriod,
		ReportDate:   f.EndDate,
		Revenue:      f.Revenue,
		NetIncome:    f.NetIncome,
		Assets:       f.Assets,
		Liabilities:  f.Liabilities,
		Equity:       f.Equity,
		EPS:          f.EPS,
	}
	view := AnalyzeFundamentals(&row)
	row.ProfitMargin = view.ProfitMargin
	row.DebtToEquity = view.DebtToEquity
	return row
}

// AnalyzeFundamentals computes ratios from the raw line items of f. Ratios
// with a missing or zero denominator are nil.
func AnalyzeFundamentals(f *market.Fundamental) FundamentalView {
	if f == nil {
		return FundamentalView{}
	}
	return FundamentalView{
		ProfitMargin: percent(f.NetIncome, f.Revenue),
		DebtToEquity: ratio(f.Liabilities, f.Equity),
		ROE:          percent(f.NetIncome, f.Equity),
	}
}

func ratio(num, den *float64) *float64 {
	if num == nil || den == nil || *den == 0 {
		return nil
	}
	return util.Ptr(*num / *den)
}

func percent(num, den *float64) *float64 {
	r := ratio(num, den)
	if r == nil {
		return nil
	}
	return util.Ptr(*r * 100)
}
