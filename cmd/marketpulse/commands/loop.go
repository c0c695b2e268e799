package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/teranos/marketpulse/am"
	"github.com/teranos/marketpulse/errors"
	"github.com/teranos/marketpulse/internal/util"
	"github.com/teranos/marketpulse/logger"
	"github.com/teranos/marketpulse/metrics"
	"github.com/teranos/marketpulse/pipeline"
	"github.com/teranos/marketpulse/pulse/schedule"
	"github.com/teranos/marketpulse/sym"
)

// LoopCmd runs batches back to back until a wall-clock cutoff
var LoopCmd = &cobra.Command{
	Use:   "loop",
	Short: sym.Pulse + " Run batches continuously until a cutoff",
	Long: sym.Pulse + ` loop - Continuous, bounded ingestion

Runs a priority-selected batch, sleeps, and repeats until --max-hours of wall
time have passed. A failed batch lengthens the following sleep. SIGINT or
SIGTERM stops the loop between symbols.

Examples:
  marketpulse loop                           # runner.max_hours and runner.sleep_minutes
  marketpulse loop --max-hours 5.5 --sleep-minutes 30`,
	PreRunE: preflight(true),
	RunE:    runLoop,
}

// ScheduleCmd runs batches on an interval or at daily times until a signal
var ScheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: sym.Pulse + " Run batches on an interval or at daily times",
	Long: sym.Pulse + ` schedule - Triggered ingestion

Runs a priority-selected batch every --interval minutes, or at each --at time
of day in runner.timezone. Runs until SIGINT or SIGTERM.

Examples:
  marketpulse schedule --interval 60
  marketpulse schedule --at 09:30,16:00`,
	PreRunE: preflight(true),
	RunE:    runSchedule,
}

var (
	loopMaxHours     float64
	loopSleepMinutes int

	scheduleInterval int
	scheduleAt       string
)

func init() {
	LoopCmd.Flags().Float64Var(&loopMaxHours, "max-hours", 0, "Wall-clock budget in hours (default runner.max_hours)")
	LoopCmd.Flags().IntVar(&loopSleepMinutes, "sleep-minutes", 0, "Sleep between batches (default runner.sleep_minutes)")

	ScheduleCmd.Flags().IntVar(&scheduleInterval, "interval", 0, "Minutes between batches (default ingest.update_interval_minutes)")
	ScheduleCmd.Flags().StringVar(&scheduleAt, "at", "", "Comma separated HH:MM times of day (default runner.daily_times)")
	ScheduleCmd.MarkFlagsMutuallyExclusive("interval", "at")
}

func runLoop(cmd *cobra.Command, args []string) error {
	cfg, err := configFrom(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	a, runner, stop, err := startDaemon(ctx, cmd, cfg)
	if err != nil {
		return err
	}
	defer stop()

	maxHours := loopMaxHours
	if maxHours <= 0 {
		maxHours = cfg.Runner.MaxHours
	}
	sleepMinutes := loopSleepMinutes
	if sleepMinutes <= 0 {
		sleepMinutes = cfg.EffectiveSleepMinutes()
	}

	batch := runner.ScheduledBatch(a.stocks.Entities, a.prioritizer, schedule.TriggerLoop, pipeline.AllStages())
	loop := schedule.NewLoop(batch, maxHours, sleepMinutes, schedule.RealClock{}, a.log)
	loop.OnIteration(a.iterationObserver())

	iterations, err := loop.Run(ctx)
	closeLog := logger.AddPulseCloseSymbol(a.log)
	if err != nil && errors.Is(err, context.Canceled) {
		closeLog.Infow("Pulse loop interrupted", logger.FieldIteration, iterations)
		return nil
	}
	if err != nil {
		return err
	}
	closeLog.Infow("Pulse loop reached its cutoff", logger.FieldIteration, iterations)
	return nil
}

func runSchedule(cmd *cobra.Command, args []string) error {
	cfg, err := configFrom(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	tc, err := tickerConfig(cfg, scheduleInterval, scheduleAt)
	if err != nil {
		return err
	}

	a, runner, stop, err := startDaemon(ctx, cmd, cfg)
	if err != nil {
		return err
	}
	defer stop()

	trigger := schedule.TriggerInterval
	if len(tc.DailyTimes) > 0 {
		trigger = schedule.TriggerDaily
	}
	batch := runner.ScheduledBatch(a.stocks.Entities, a.prioritizer, trigger, pipeline.AllStages())
	ticker, err := schedule.NewTicker(ctx, batch, tc, schedule.RealClock{}, a.log)
	if err != nil {
		return err
	}
	ticker.OnIteration(a.iterationObserver())
	ticker.Start()

	<-ctx.Done()
	ticker.Stop()
	return nil
}

// tickerConfig resolves the trigger from flags, falling back to configuration.
// Explicit --interval wins over configured daily times.
func tickerConfig(cfg *am.Config, intervalMinutes int, at string) (schedule.TickerConfig, error) {
	loc := time.UTC
	if cfg.Runner.Timezone != "" {
		l, err := time.LoadLocation(cfg.Runner.Timezone)
		if err != nil {
			return schedule.TickerConfig{}, errors.Wrapf(errors.ErrInvalidRequest, "unknown runner.timezone %q", cfg.Runner.Timezone)
		}
		loc = l
	}
	tc := schedule.TickerConfig{Location: loc}

	switch {
	case at != "":
		tc.DailyTimes = util.SplitList(at)
	case intervalMinutes > 0:
		tc.Interval = time.Duration(intervalMinutes) * time.Minute
	case len(cfg.Runner.DailyTimes) > 0:
		tc.DailyTimes = cfg.Runner.DailyTimes
	default:
		tc.Interval = time.Duration(cfg.Ingest.UpdateIntervalMinutes) * time.Minute
	}
	return tc, nil
}

// startDaemon builds the app for a long-running trigger, serves metrics when
// configured and retunes selection when a config file changes.
func startDaemon(ctx context.Context, cmd *cobra.Command, cfg *am.Config) (*app, *pipeline.Runner, func(), error) {
	a, err := openApp(cfg, true)
	if err != nil {
		return nil, nil, nil, err
	}
	runner, err := a.newRunner(ctx)
	if err != nil {
		a.Close()
		return nil, nil, nil, err
	}

	if cfg.Metrics.Addr != "" {
		if _, err := a.metrics.Serve(ctx, cfg.Metrics.Addr, a.log); err != nil {
			a.Close()
			return nil, nil, nil, err
		}
	}

	logger.AddPulseOpenSymbol(a.log).Infow("Pulse starting",
		logger.FieldCount, cfg.Ingest.MaxSymbolsPerRun,
		"calls_per_minute", cfg.Ingest.MaxAPICallsPerMinute,
		"sinks", cfg.Export.Sinks)

	stopWatch := a.watchConfig(cmd)
	return a, runner, func() {
		stopWatch()
		a.Close()
	}, nil
}

// watchConfig applies reloaded ingest settings to the prioritizer. The other
// sections take effect on the next start.
func (a *app) watchConfig(cmd *cobra.Command) func() {
	paths := watchedPaths(cmd)
	if len(paths) == 0 {
		return func() {}
	}
	w, err := am.NewConfigWatcher(paths, configLoader(cmd), a.log)
	if err != nil {
		a.log.Warnw("Config hot reload disabled", logger.FieldError, err)
		return func() {}
	}
	w.OnReload(func(cfg *am.Config) error {
		a.prioritizer.SetConfig(schedule.ConfigFromAM(cfg.Ingest))
		a.log.Infow("Ingest settings reloaded",
			"max_symbols_per_run", cfg.Ingest.MaxSymbolsPerRun,
			"exploration_rate", cfg.Ingest.ExplorationRate)
		return nil
	})
	w.Start()
	return func() {
		if err := w.Stop(); err != nil {
			a.log.Warnw("Failed to stop config watcher", logger.FieldError, err)
		}
	}
}

// iterationObserver counts iterations and samples host resources after each
func (a *app) iterationObserver() schedule.IterationFunc {
	return func(trigger string, err error) {
		a.metrics.LoopIteration(trigger, err)
		sample, serr := metrics.SampleSystem()
		if serr != nil {
			a.log.Debugw("System sample unavailable", logger.FieldError, serr)
			return
		}
		a.metrics.ObserveSystem(sample)
		fields := sample.Fields()
		if a.limiter != nil {
			calls, remaining := a.limiter.Stats()
			fields = append(fields, "calls_in_window", calls, "calls_remaining", remaining)
		}
		a.log.Infow("Iteration resources", fields...)
	}
}
