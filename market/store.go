package market

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/teranos/marketpulse/db"
	"github.com/teranos/marketpulse/errors"
)

// Natural keys
var (
	priceKey       = []string{"stock_id", "timestamp"}
	indicatorKey   = []string{"stock_id", "timestamp"}
	fundamentalKey = []string{"stock_id", "fiscal_year", "fiscal_period"}
	predictionKey  = []string{"stock_id", "model_type", "horizon_days", "prediction_date"}
	reportKey      = []string{"stock_id", "report_date"}
)

// Store handles persistence of every artifact kind
type Store struct {
	db *sql.DB
}

// NewStore creates a new artifact store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// FetchWindow returns the range of days an incremental price fetch should
// request: from the day after the latest stored bar, or historyDays back when
// nothing is stored, up to now. upToDate is true when there is nothing to ask for.
func (s *Store) FetchWindow(ctx context.Context, stockID int64, now time.Time, historyDays int) (from, to time.Time, upToDate bool, err error) {
	to = now.UTC()
	latest, err := s.LatestPrice(ctx, stockID)
	switch {
	case errors.IsNotFound(err):
		from = to.AddDate(0, 0, -historyDays)
	case err != nil:
		return time.Time{}, time.Time{}, false, err
	default:
		from = latest.Timestamp.AddDate(0, 0, 1)
	}
	return from, to, !from.Before(to), nil
}

// SavePrices upserts bars in one transaction and returns how many were written
func (s *Store) SavePrices(ctx context.Context, prices []Price) (int, error) {
	rows := make([]db.Row, len(prices))
	for i, p := range prices {
		rows[i] = db.Row{}.
			Set("stock_id", p.StockID).
			Set("timestamp", db.FormatTime(p.Timestamp)).
			Set("open", p.Open.String()).
			Set("high", p.High.String()).
			Set("low", p.Low.String()).
			Set("close", p.Close.String()).
			Set("volume", p.Volume).
			Set("vwap", nullDecimal(p.VWAP)).
			Set("transactions", p.Transactions)
	}
	if _, err := db.UpsertMany(ctx, s.db, "stock_prices", priceKey, rows); err != nil {
		return 0, errors.Wrapf(err, "save %d prices", len(prices))
	}
	return len(prices), nil
}

const priceColumns = `stock_id, timestamp, open, high, low, close, volume, vwap, transactions`

// LatestPrice returns the most recent stored bar of a stock
func (s *Store) LatestPrice(ctx context.Context, stockID int64) (*Price, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+priceColumns+` FROM stock_prices
		WHERE stock_id = ? ORDER BY timestamp DESC LIMIT 1`, stockID)
	p, err := scanPrice(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("no prices for stock %d", stockID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "latest price of stock %d", stockID)
	}
	return p, nil
}

// Prices returns the last limit bars of a stock, oldest first. limit <= 0
// returns every bar.
func (s *Store) Prices(ctx context.Context, stockID int64, limit int) ([]Price, error) {
	query := `SELECT ` + priceColumns + ` FROM stock_prices WHERE stock_id = ? ORDER BY timestamp DESC`
	args := []any{stockID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "query prices of stock %d", stockID)
	}
	defer rows.Close()

	var prices []Price
	for rows.Next() {
		p, err := scanPrice(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan price")
		}
		prices = append(prices, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate prices")
	}

	for i, j := 0, len(prices)-1; i < j; i, j = i+1, j-1 {
		prices[i], prices[j] = prices[j], prices[i]
	}
	return prices, nil
}

// SaveIndicators upserts indicator rows in one transaction
func (s *Store) SaveIndicators(ctx context.Context, indicators []Indicator) (int, error) {
	rows := make([]db.Row, len(indicators))
	for i, ind := range indicators {
		rows[i] = db.Row{}.
			Set("stock_id", ind.StockID).
			Set("timestamp", db.FormatTime(ind.Timestamp)).
			Set("sma_20", ind.SMA20).
			Set("sma_50", ind.SMA50).
			Set("ema_12", ind.EMA12).
			Set("ema_26", ind.EMA26).
			Set("rsi_14", ind.RSI14).
			Set("volatility_20", ind.Volatility20)
	}
	if _, err := db.UpsertMany(ctx, s.db, "technical_indicators", indicatorKey, rows); err != nil {
		return 0, errors.Wrapf(err, "save %d indicators", len(indicators))
	}
	return len(indicators), nil
}

// LatestIndicator returns the most recent indicator row of a stock
func (s *Store) LatestIndicator(ctx context.Context, stockID int64) (*Indicator, error) {
	var ind Indicator
	var ts string
	err := s.db.QueryRowContext(ctx, `
		SELECT stock_id, timestamp, sma_20, sma_50, ema_12, ema_26, rsi_14, volatility_20
		FROM technical_indicators WHERE stock_id = ? ORDER BY timestamp DESC LIMIT 1`, stockID).
		Scan(&ind.StockID, &ts, &ind.SMA20, &ind.SMA50, &ind.EMA12, &ind.EMA26, &ind.RSI14, &ind.Volatility20)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("no indicators for stock %d", stockID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "latest indicator of stock %d", stockID)
	}
	if ind.Timestamp, err = db.ParseTime(ts); err != nil {
		return nil, err
	}
	return &ind, nil
}

// SaveFundamentals upserts statement periods in one transaction
func (s *Store) SaveFundamentals(ctx context.Context, fundamentals []Fundamental) (int, error) {
	rows := make([]db.Row, len(fundamentals))
	for i, f := range fundamentals {
		rows[i] = db.Row{}.
			Set("stock_id", f.StockID).
			Set("fiscal_year", f.FiscalYear).
			Set("fiscal_period", f.FiscalPeriod).
			Set("report_date", nullableDate(f.ReportDate)).
			Set("revenue", f.Revenue).
			Set("net_income", f.NetIncome).
			Set("assets", f.Assets).
			Set("liabilities", f.Liabilities).
			Set("equity", f.Equity).
			Set("eps", f.EPS).
			Set("profit_margin", f.ProfitMargin).
			Set("debt_to_equity", f.DebtToEquity)
	}
	if _, err := db.UpsertMany(ctx, s.db, "fundamental_data", fundamentalKey, rows); err != nil {
		return 0, errors.Wrapf(err, "save %d fundamentals", len(fundamentals))
	}
	return len(fundamentals), nil
}

// LatestFundamental returns the newest stored statement period of a stock
func (s *Store) LatestFundamental(ctx context.Context, stockID int64) (*Fundamental, error) {
	var f Fundamental
	var reportDate sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT stock_id, fiscal_year, fiscal_period, report_date, revenue, net_income, assets,
		       liabilities, equity, eps, profit_margin, debt_to_equity
		FROM fundamental_data WHERE stock_id = ?
		ORDER BY fiscal_year DESC, COALESCE(report_date, '') DESC, fiscal_period DESC LIMIT 1`, stockID).
		Scan(&f.StockID, &f.FiscalYear, &f.FiscalPeriod, &reportDate, &f.Revenue, &f.NetIncome, &f.Assets,
			&f.Liabilities, &f.Equity, &f.EPS, &f.ProfitMargin, &f.DebtToEquity)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("no fundamentals for stock %d", stockID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "latest fundamental of stock %d", stockID)
	}
	if f.ReportDate, err = db.ParseNullTime(reportDate); err != nil {
		return nil, err
	}
	return &f, nil
}

// SavePredictions upserts forecasts in one transaction
func (s *Store) SavePredictions(ctx context.Context, predictions []Prediction) (int, error) {
	rows := make([]db.Row, len(predictions))
	for i, p := range predictions {
		rows[i] = db.Row{}.
			Set("stock_id", p.StockID).
			Set("model_type", p.ModelType).
			Set("horizon_days", p.HorizonDays).
			Set("prediction_date", db.FormatDate(p.PredictionDate)).
			Set("target_date", db.FormatDate(p.TargetDate)).
			Set("predicted_close", p.PredictedClose.String()).
			Set("confidence", p.Confidence)
	}
	if _, err := db.UpsertMany(ctx, s.db, "predictions", predictionKey, rows); err != nil {
		return 0, errors.Wrapf(err, "save %d predictions", len(predictions))
	}
	return len(predictions), nil
}

// Predictions returns the forecasts a stock received on a given day, by horizon
func (s *Store) Predictions(ctx context.Context, stockID int64, day time.Time) ([]Prediction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT stock_id, model_type, horizon_days, prediction_date, target_date, predicted_close, confidence
		FROM predictions WHERE stock_id = ? AND prediction_date = ?
		ORDER BY model_type, horizon_days`, stockID, db.FormatDate(day))
	if err != nil {
		return nil, errors.Wrapf(err, "query predictions of stock %d", stockID)
	}
	defer rows.Close()

	var out []Prediction
	for rows.Next() {
		var p Prediction
		var predictionDate, targetDate string
		if err := rows.Scan(&p.StockID, &p.ModelType, &p.HorizonDays, &predictionDate, &targetDate, &p.PredictedClose, &p.Confidence); err != nil {
			return nil, errors.Wrap(err, "scan prediction")
		}
		if p.PredictionDate, err = db.ParseTime(predictionDate); err != nil {
			return nil, err
		}
		if p.TargetDate, err = db.ParseTime(targetDate); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, errors.Wrap(rows.Err(), "iterate predictions")
}

// SaveReport upserts the report of one stock and day
func (s *Store) SaveReport(ctx context.Context, r Report) error {
	summary, err := json.Marshal(r.Summary)
	if err != nil {
		return errors.Wrapf(err, "encode report summary for %s", r.Symbol)
	}
	row := db.Row{}.
		Set("stock_id", r.StockID).
		Set("report_date", db.FormatDate(r.ReportDate)).
		Set("signal", string(r.Signal)).
		Set("last_close", r.LastClose.String()).
		Set("summary", string(summary))
	if _, err := db.Upsert(ctx, s.db, "analysis_reports", reportKey, row); err != nil {
		return errors.Wrapf(err, "save report for %s", r.Symbol)
	}
	return nil
}

// LatestReport returns the newest report of a stock
func (s *Store) LatestReport(ctx context.Context, stockID int64) (*Report, error) {
	var r Report
	var reportDate, summary string
	var lastClose decimal.NullDecimal
	err := s.db.QueryRowContext(ctx, `
		SELECT r.stock_id, s.symbol, r.report_date, r.signal, r.last_close, r.summary
		FROM analysis_reports r JOIN stocks s ON s.id = r.stock_id
		WHERE r.stock_id = ? ORDER BY r.report_date DESC LIMIT 1`, stockID).
		Scan(&r.StockID, &r.Symbol, &reportDate, &r.Signal, &lastClose, &summary)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("no reports for stock %d", stockID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "latest report of stock %d", stockID)
	}
	if r.ReportDate, err = db.ParseTime(reportDate); err != nil {
		return nil, err
	}
	r.LastClose = lastClose.Decimal
	if err := json.Unmarshal([]byte(summary), &r.Summary); err != nil {
		return nil, errors.Wrapf(err, "decode report summary of stock %d", stockID)
	}
	return &r, nil
}

// Counts returns the row count of every artifact table
func (s *Store) Counts(ctx context.Context) (map[string]int, error) {
	tables := []string{"stock_prices", "technical_indicators", "fundamental_data", "predictions", "analysis_reports"}
	counts := make(map[string]int, len(tables))
	for _, table := range tables {
		var n int
		// table names come from the fixed list above
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
			return nil, errors.Wrapf(err, "count %s", table)
		}
		counts[table] = n
	}
	return counts, nil
}

func scanPrice(row interface{ Scan(...any) error }) (*Price, error) {
	var p Price
	var ts string
	var vwap decimal.NullDecimal
	var transactions sql.NullInt64
	if err := row.Scan(&p.StockID, &ts, &p.Open, &p.High, &p.Low, &p.Close, &p.Volume, &vwap, &transactions); err != nil {
		return nil, err
	}
	var err error
	if p.Timestamp, err = db.ParseTime(ts); err != nil {
		return nil, err
	}
	p.VWAP = vwap.Decimal
	p.Transactions = transactions.Int64
	return &p, nil
}

func nullDecimal(d decimal.Decimal) any {
	if d.IsZero() {
		return nil
	}
	return d.String()
}

func nullableDate(t *time.Time) any {
	if t == nil {
		return nil
	}
	return db.FormatDate(*t)
}
