package pipeline

import (
	"context"

	"github.com/teranos/marketpulse/analysis"
	"github.com/teranos/marketpulse/errors"
	"github.com/teranos/marketpulse/feed"
	"github.com/teranos/marketpulse/logger"
	"github.com/teranos/marketpulse/market"
)

// fetch pulls new daily bars since the last stored one, then the latest
// statements when fundamentals are enabled.
func (r *Runner) fetch(ctx context.Context, run *entityRun) error {
	from, to, upToDate, err := r.deps.Market.FetchWindow(ctx, run.stockID, run.now, r.opts.HistoryDays)
	if err != nil {
		return err
	}
	if !upToDate {
		bars, err := r.deps.Feed.FetchSeries(ctx, run.symbol, from, to)
		if err != nil {
			return errors.Wrap(err, "fetch prices")
		}
		if len(bars) > 0 {
			n, err := r.deps.Market.SavePrices(ctx, pricesFromBars(run.stockID, bars))
			if err != nil {
				return err
			}
			run.result.PricesStored = n
			run.result.Categories.Price = true
		}
	}

	if r.opts.SkipFundamentals {
		return nil
	}
	period, ok := feed.ParsePeriod(r.opts.FundamentalPeriod)
	if !ok {
		return errors.Wrapf(errors.ErrInvalidRequest, "fundamental period %q", r.opts.FundamentalPeriod)
	}
	statements, err := r.deps.Feed.FetchPeriodicMetrics(ctx, run.symbol, period)
	if err != nil {
		return errors.Wrap(err, "fetch fundamentals")
	}
	if len(statements) == 0 {
		return nil
	}
	fundamentals := make([]market.Fundamental, len(statements))
	for i, f := range statements {
		fundamentals[i] = analysis.FromFinancials(run.stockID, f)
	}
	n, err := r.deps.Market.SaveFundamentals(ctx, fundamentals)
	if err != nil {
		return err
	}
	run.result.FundamentalsStored = n
	run.result.Categories.Fundamental = true
	return nil
}

// derive recomputes indicators over the recent window and analyzes the
// latest statement period.
func (r *Runner) derive(ctx context.Context, run *entityRun) error {
	if !r.opts.SkipIndicators {
		prices, err := r.loadPrices(ctx, run)
		if err != nil {
			return err
		}
		indicators := r.deps.Analysis.Indicators(prices)
		if len(indicators) > 0 {
			n, err := r.deps.Market.SaveIndicators(ctx, indicators)
			if err != nil {
				return err
			}
			run.result.IndicatorsStored = n
		}
	}
	if !r.opts.SkipFundamentals {
		view, err := r.latestFundamentalView(ctx, run)
		if err != nil {
			return err
		}
		run.fundamental = &view
	}
	return nil
}

// predict trains a fresh model on stored closes and stores one forecast per
// horizon. Too little history skips the stage without failing the entity.
func (r *Runner) predict(ctx context.Context, run *entityRun) error {
	if r.opts.SkipPredictions {
		return nil
	}
	prices, err := r.loadPrices(ctx, run)
	if err != nil {
		return err
	}
	model := r.deps.Analysis.NewModel(r.opts.TrainingWindow)
	if err := model.Train(prices); err != nil {
		if errors.Is(err, analysis.ErrInsufficientData) {
			logger.FromContext(ctx, r.logger).Infow("Prediction skipped",
				logger.FieldStage, StagePredict,
				logger.FieldCount, len(prices),
				"reason", err.Error())
			return nil
		}
		return errors.Wrap(err, "train model")
	}
	predictions, err := model.Predict(run.now, r.opts.Horizons)
	if err != nil {
		return err
	}
	if len(predictions) == 0 {
		return nil
	}
	n, err := r.deps.Market.SavePredictions(ctx, predictions)
	if err != nil {
		return err
	}
	run.predictions = predictions
	run.result.PredictionsStored = n
	run.result.Categories.Prediction = true
	return nil
}

// report builds and stores the day's report from the stored artifacts
func (r *Runner) report(ctx context.Context, run *entityRun) error {
	latest, err := r.deps.Market.LatestPrice(ctx, run.stockID)
	if err != nil {
		return errors.Wrap(err, "report needs a stored price")
	}
	indicator, err := r.deps.Market.LatestIndicator(ctx, run.stockID)
	if err != nil && !errors.IsNotFound(err) {
		return err
	}

	var view analysis.FundamentalView
	switch {
	case run.fundamental != nil:
		view = *run.fundamental
	case !r.opts.SkipFundamentals:
		if view, err = r.latestFundamentalView(ctx, run); err != nil {
			return err
		}
	}

	predictions := run.predictions
	if predictions == nil {
		if predictions, err = r.deps.Market.Predictions(ctx, run.stockID, run.now); err != nil {
			return err
		}
	}

	rep := r.deps.Analysis.Report(analysis.ReportInput{
		StockID:     run.stockID,
		Symbol:      run.symbol,
		Now:         run.now,
		Latest:      *latest,
		Indicator:   indicator,
		Fundamental: view,
		Predictions: predictions,
	})
	if err := r.deps.Market.SaveReport(ctx, rep); err != nil {
		return err
	}
	run.result.Report = &rep
	return nil
}

// loadPrices reads the recent window once per entity, oldest first
func (r *Runner) loadPrices(ctx context.Context, run *entityRun) ([]market.Price, error) {
	if run.prices != nil {
		return run.prices, nil
	}
	window := r.opts.DeriveWindow
	if r.opts.TrainingWindow > window {
		window = r.opts.TrainingWindow
	}
	prices, err := r.deps.Market.Prices(ctx, run.stockID, window)
	if err != nil {
		return nil, err
	}
	if prices == nil {
		prices = []market.Price{}
	}
	run.prices = prices
	return prices, nil
}

func (r *Runner) latestFundamentalView(ctx context.Context, run *entityRun) (analysis.FundamentalView, error) {
	f, err := r.deps.Market.LatestFundamental(ctx, run.stockID)
	if errors.IsNotFound(err) {
		return analysis.FundamentalView{}, nil
	}
	if err != nil {
		return analysis.FundamentalView{}, err
	}
	return analysis.AnalyzeFundamentals(f), nil
}

func pricesFromBars(stockID int64, bars []feed.Bar) []market.Price {
	prices := make([]market.Price, len(bars))
	for i, b := range bars {
		prices[i] = market.Price{
			StockID:      stockID,
			Timestamp:    b.Timestamp,
			Open:         b.Open,
			High:         b.High,
			Low:          b.Low,
			Close:        b.Close,
			Volume:       b.Volume,
			VWAP:         b.VWAP,
			Transactions: b.Transactions,
		}
	}
	return prices
}
