// Package pipeline runs batches of entities through the fetch, derive,
// predict and report stages.
//
// Entities are processed one at a time in the order given. A failing or
// panicking stage ends that entity's run and is recorded as a StageError;
// the batch always moves on to the next entity. Every attempted entity
// reports its outcome to the state updater exactly once.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/teranos/marketpulse/am"
	"github.com/teranos/marketpulse/analysis"
	"github.com/teranos/marketpulse/market"
)

// Stage names, in execution order
const (
	StageFetch   = "fetch"
	StageDerive  = "derive"
	StagePredict = "predict"
	StageReport  = "report"
)

// StageToggles enables stages for one batch
type StageToggles struct {
	Fetch   bool
	Derive  bool
	Predict bool
	Report  bool
}

// AllStages enables every stage
func AllStages() StageToggles {
	return StageToggles{Fetch: true, Derive: true, Predict: true, Report: true}
}

// UpdateStages is the incremental profile: no feed traffic, everything else
// recomputed from stored prices.
func UpdateStages() StageToggles {
	return StageToggles{Derive: true, Predict: true, Report: true}
}

// Enabled lists the enabled stage names in order
func (t StageToggles) Enabled() []string {
	var out []string
	for _, s := range []struct {
		name string
		on   bool
	}{{StageFetch, t.Fetch}, {StageDerive, t.Derive}, {StagePredict, t.Predict}, {StageReport, t.Report}} {
		if s.on {
			out = append(out, s.name)
		}
	}
	return out
}

// StageError is the failure of one entity, tagged with the stage it died in
type StageError struct {
	Stage  string
	Symbol string
	Err    error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %s stage: %v", e.Symbol, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Categories reports which artifact kinds an entity run actually wrote
type Categories struct {
	Price       bool
	Fundamental bool
	Prediction  bool
}

// Result is the outcome of one entity in a batch
type Result struct {
	Symbol      string
	StockID     int64
	OK          bool
	Err         error
	FailedStage string
	Categories  Categories

	PricesStored       int
	FundamentalsStored int
	IndicatorsStored   int
	PredictionsStored  int
	Report             *market.Report

	Elapsed time.Duration
}

// Options are the config-level switches and tunables of the stages. The zero
// value runs every analysis with default windows.
type Options struct {
	HistoryDays       int // backfill depth when no price is stored
	FundamentalPeriod string
	SkipIndicators    bool
	SkipFundamentals  bool
	SkipPredictions   bool
	Horizons          []int
	TrainingWindow    int
	DeriveWindow      int // bars loaded to recompute indicators
}

// OptionsFromAM extracts stage options from the configuration
func OptionsFromAM(cfg *am.Config) Options {
	return Options{
		HistoryDays:       cfg.Ingest.HistoryDays,
		FundamentalPeriod: cfg.Pipeline.FundamentalPeriod,
		SkipIndicators:    !cfg.Pipeline.TechnicalIndicators,
		SkipFundamentals:  !cfg.Pipeline.FundamentalAnalysis,
		SkipPredictions:   !cfg.Pipeline.Predictions,
	}
}

func (o Options) withDefaults() Options {
	if o.HistoryDays <= 0 {
		o.HistoryDays = 730
	}
	if o.FundamentalPeriod == "" {
		o.FundamentalPeriod = "annual"
	}
	if len(o.Horizons) == 0 {
		o.Horizons = analysis.DefaultHorizons
	}
	if o.TrainingWindow < analysis.MinTrainingBars {
		o.TrainingWindow = 60
	}
	if o.DeriveWindow <= 0 {
		o.DeriveWindow = 260
	}
	return o
}

// Model is a trainable price forecaster
type Model interface {
	Train(prices []market.Price) error
	Predict(now time.Time, horizons []int) ([]market.Prediction, error)
}

// Collaborators are the replaceable analysis steps. Nil fields fall back to
// the analysis package defaults.
type Collaborators struct {
	Indicators func(prices []market.Price) []market.Indicator
	NewModel   func(window int) Model
	Report     func(in analysis.ReportInput) market.Report
}

func (c Collaborators) withDefaults() Collaborators {
	if c.Indicators == nil {
		c.Indicators = analysis.ComputeIndicators
	}
	if c.NewModel == nil {
		c.NewModel = func(window int) Model { return analysis.NewLinearTrendModel(window) }
	}
	if c.Report == nil {
		c.Report = analysis.BuildReport
	}
	return c
}

// stageFunc runs one stage of one entity
type stageFunc func(ctx context.Context, run *entityRun) error

// entityRun carries what earlier stages of one entity produced
type entityRun struct {
	symbol  string
	stockID int64
	now     time.Time
	result  *Result

	prices      []market.Price // loaded by derive, reused by predict
	fundamental *analysis.FundamentalView
	predictions []market.Prediction
}
