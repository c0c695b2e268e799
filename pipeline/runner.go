package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/marketpulse/db"
	"github.com/teranos/marketpulse/errors"
	"github.com/teranos/marketpulse/export"
	"github.com/teranos/marketpulse/feed"
	"github.com/teranos/marketpulse/logger"
	"github.com/teranos/marketpulse/market"
	"github.com/teranos/marketpulse/pulse/schedule"
)

// exportTimeout bounds the post-batch export, which runs even after cancellation
const exportTimeout = 2 * time.Minute

// StateUpdater receives the outcome of every attempted entity
type StateUpdater interface {
	UpdateState(ctx context.Context, stockID int64, o schedule.Outcome, now time.Time) (*schedule.State, error)
}

// Selector picks the entities of a scheduled batch
type Selector interface {
	SelectBatch(ctx context.Context, entities []schedule.Entity, now time.Time) ([]schedule.Entity, error)
}

// EntitySource lists the candidates of a scheduled batch
type EntitySource func(ctx context.Context) ([]schedule.Entity, error)

// Observer receives per-entity and per-batch measurements
type Observer interface {
	EntityProcessed(failedStage string, elapsed time.Duration)
	BatchCompleted(trigger string, processed, failed int, elapsed time.Duration)
}

// Deps are the collaborators of a Runner. Runs, Exporter and Observer are optional.
type Deps struct {
	Feed     feed.Client
	Market   *market.Store
	States   StateUpdater
	Runs     *schedule.RunStore
	Exporter export.Exporter
	Observer Observer
	Analysis Collaborators
	Now      func() time.Time
}

// BatchSummary is the aggregate of one batch
type BatchSummary struct {
	BatchID   string
	Trigger   string
	Requested int
	Processed int
	Succeeded int
	Failed    int
	Skipped   int // duplicates and entities never started due to cancellation
	Duration  time.Duration
}

// BatchOutcome is everything a batch produced
type BatchOutcome struct {
	Results   map[string]*Result
	Order     []string // symbols in processing order
	Summary   BatchSummary
	ExportErr error // a warning, persistence is unaffected
}

// Runner executes batches
type Runner struct {
	deps   Deps
	opts   Options
	logger *zap.SugaredLogger
}

// NewRunner validates deps and fills defaults
func NewRunner(deps Deps, opts Options, log *zap.SugaredLogger) (*Runner, error) {
	if deps.Feed == nil || deps.Market == nil || deps.States == nil {
		return nil, errors.Wrap(errors.ErrInvalidRequest, "pipeline needs a feed, a market store and a state updater")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	deps.Analysis = deps.Analysis.withDefaults()
	return &Runner{
		deps:   deps,
		opts:   opts.withDefaults(),
		logger: logger.AddPulseSymbol(log),
	}, nil
}

// RunBatch processes entities with a manual trigger and returns one result
// per requested symbol.
func (r *Runner) RunBatch(ctx context.Context, entities []schedule.Entity, toggles StageToggles) (map[string]*Result, error) {
	out, err := r.Run(ctx, schedule.TriggerManual, entities, toggles)
	if out == nil {
		return nil, err
	}
	return out.Results, err
}

// Run processes entities sequentially. Cancellation is honoured between
// entities only; entities not started are reported failed with the context
// error, which is also returned.
func (r *Runner) Run(ctx context.Context, trigger string, entities []schedule.Entity, toggles StageToggles) (*BatchOutcome, error) {
	start := r.deps.Now()
	run := schedule.NewRun(trigger, len(entities), start)
	ctx = logger.WithBatchID(ctx, run.ID)
	log := logger.FromContext(ctx, r.logger)

	r.saveRun(ctx, run, log)
	log.Infow("Batch started",
		logger.FieldTrigger, trigger,
		logger.FieldRequested, len(entities),
		"stages", toggles.Enabled())

	out := &BatchOutcome{
		Results: make(map[string]*Result, len(entities)),
		Summary: BatchSummary{BatchID: run.ID, Trigger: trigger, Requested: len(entities)},
	}
	var loopErr error
	for _, e := range entities {
		if _, dup := out.Results[e.Symbol]; dup {
			out.Summary.Skipped++
			log.Warnw("Duplicate entity skipped", logger.FieldSymbol, e.Symbol)
			continue
		}
		if err := ctx.Err(); err != nil {
			loopErr = err
			out.Results[e.Symbol] = &Result{Symbol: e.Symbol, StockID: e.ID, Err: err}
			out.Order = append(out.Order, e.Symbol)
			out.Summary.Skipped++
			continue
		}

		// a started entity always finishes, cancellation only stops the next one
		res := r.processEntity(context.WithoutCancel(ctx), e, toggles)
		out.Results[e.Symbol] = res
		out.Order = append(out.Order, e.Symbol)
		out.Summary.Processed++
		if res.OK {
			out.Summary.Succeeded++
		} else {
			out.Summary.Failed++
		}
	}

	out.ExportErr = r.export(ctx, out, log)

	end := r.deps.Now()
	out.Summary.Duration = end.Sub(start)
	run.Complete(out.Summary.Processed, out.Summary.Failed, loopErr, end)
	r.saveRun(ctx, run, log)
	if r.deps.Observer != nil {
		r.deps.Observer.BatchCompleted(trigger, out.Summary.Processed, out.Summary.Failed, out.Summary.Duration)
	}

	log.Infow("Batch completed",
		logger.FieldTrigger, trigger,
		logger.FieldRequested, out.Summary.Requested,
		logger.FieldProcessed, out.Summary.Processed,
		"succeeded", out.Summary.Succeeded,
		logger.FieldFailed, out.Summary.Failed,
		"skipped", out.Summary.Skipped,
		logger.FieldDurationMS, out.Summary.Duration.Milliseconds())
	return out, loopErr
}

// ScheduledBatch adapts the runner to a trigger: list candidates, let the
// selector pick the batch, run it. A failed selection is recorded as a
// failed batch run.
func (r *Runner) ScheduledBatch(source EntitySource, selector Selector, trigger string, toggles StageToggles) schedule.BatchFunc {
	return func(ctx context.Context) error {
		entities, err := source(ctx)
		if err == nil && selector != nil {
			entities, err = selector.SelectBatch(ctx, entities, r.deps.Now())
		}
		if err != nil {
			now := r.deps.Now()
			run := schedule.NewRun(trigger, 0, now)
			run.Complete(0, 0, err, now)
			r.saveRun(ctx, run, r.logger)
			return errors.Wrap(err, "select batch")
		}
		if len(entities) == 0 {
			r.logger.Infow("No entities due", logger.FieldTrigger, trigger)
			return nil
		}
		_, err = r.Run(ctx, trigger, entities, toggles)
		return err
	}
}

// processEntity runs the enabled stages of one entity and reports the
// outcome to the state updater.
func (r *Runner) processEntity(ctx context.Context, e schedule.Entity, toggles StageToggles) *Result {
	start := r.deps.Now()
	res := &Result{Symbol: e.Symbol, StockID: e.ID}
	run := &entityRun{symbol: e.Symbol, stockID: e.ID, now: start, result: res}
	ctx = logger.WithSymbol(ctx, e.Symbol)
	log := logger.FromContext(ctx, r.logger)

	stages := []struct {
		name string
		on   bool
		fn   stageFunc
	}{
		{StageFetch, toggles.Fetch, r.fetch},
		{StageDerive, toggles.Derive, r.derive},
		{StagePredict, toggles.Predict, r.predict},
		{StageReport, toggles.Report, r.report},
	}
	for _, st := range stages {
		if !st.on {
			continue
		}
		stageStart := time.Now()
		if err := runStage(ctx, st.fn, run); err != nil {
			res.Err = &StageError{Stage: st.name, Symbol: e.Symbol, Err: err}
			res.FailedStage = st.name
			log.Errorw("Entity failed",
				logger.FieldStage, st.name,
				logger.FieldError, err)
			break
		}
		log.Debugw("Stage completed",
			logger.FieldStage, st.name,
			logger.FieldDurationMS, time.Since(stageStart).Milliseconds())
	}
	res.OK = res.Err == nil
	res.Elapsed = r.deps.Now().Sub(start)

	outcome := schedule.Outcome{
		OK:                 res.OK,
		PriceUpdated:       res.Categories.Price,
		FundamentalUpdated: res.Categories.Fundamental,
		PredictionUpdated:  res.Categories.Prediction,
		RuntimeMS:          res.Elapsed.Milliseconds(),
	}
	if _, err := r.deps.States.UpdateState(ctx, e.ID, outcome, r.deps.Now()); err != nil {
		// artifacts stay written, the next selection sees stale state
		log.Errorw("State update failed", logger.FieldError, err)
	}
	if r.deps.Observer != nil {
		r.deps.Observer.EntityProcessed(res.FailedStage, res.Elapsed)
	}
	return res
}

// runStage converts a panic into an error
func runStage(ctx context.Context, fn stageFunc, run *entityRun) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.Newf("panic: %v", p)
		}
	}()
	return fn(ctx, run)
}

// export mirrors the reports of successful entities to the configured sinks
func (r *Runner) export(ctx context.Context, out *BatchOutcome, log *zap.SugaredLogger) error {
	if r.deps.Exporter == nil {
		return nil
	}
	var reports []market.Report
	for _, symbol := range out.Order {
		if res := out.Results[symbol]; res.OK && res.Report != nil {
			reports = append(reports, *res.Report)
		}
	}
	if len(reports) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), exportTimeout)
	defer cancel()
	if err := r.deps.Exporter.Export(ctx, reports); err != nil {
		log.Warnw("Batch export failed, results are unaffected",
			logger.FieldSink, r.deps.Exporter.Name(),
			logger.FieldCount, len(reports),
			logger.FieldError, err)
		return err
	}
	return nil
}

func (r *Runner) saveRun(ctx context.Context, run *schedule.Run, log *zap.SugaredLogger) {
	if r.deps.Runs == nil {
		return
	}
	err := r.deps.Runs.SaveRun(context.WithoutCancel(ctx), run)
	switch {
	case err == nil:
	case db.IsDatabaseClosed(err):
		log.Debugw("Batch run not recorded, database closed during shutdown", logger.FieldBatchID, run.ID)
	default:
		log.Warnw("Failed to record batch run", logger.FieldError, err)
	}
}
