package commands

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/teranos/marketpulse/errors"
	"github.com/teranos/marketpulse/internal/util"
	"github.com/teranos/marketpulse/pipeline"
	"github.com/teranos/marketpulse/pulse/schedule"
	"github.com/teranos/marketpulse/sym"
)

// RunCmd runs one batch
var RunCmd = &cobra.Command{
	Use:   "run",
	Short: sym.Pulse + " Run one batch now",
	Long: sym.Pulse + ` run - Run one batch now

Without --symbols the batch is chosen by priority: stale, liquid symbols first,
with a share of the slots reserved for exploration. Stages can be switched off
individually; a failing symbol never stops the rest of the batch.

Examples:
  marketpulse run                      # Select by priority
  marketpulse run --limit 5            # At most 5 symbols
  marketpulse run --symbols AAPL,MSFT  # Explicit symbols
  marketpulse run --no-predict         # Skip forecasting`,
	PreRunE: preflight(true),
	RunE:    runRun,
}

// UpdateCmd re-derives recently priced symbols without calling the feed
var UpdateCmd = &cobra.Command{
	Use:   "update",
	Short: sym.Pulse + " Re-derive symbols priced in the last days",
	Long: sym.Pulse + ` update - Incremental run over stored data

Runs derive, predict and report over every symbol with a price stored in the
last --days-back days. The feed is not called.`,
	PreRunE: preflight(false),
	RunE:    runUpdate,
}

// FetchCmd fetches one symbol
var FetchCmd = &cobra.Command{
	Use:     "fetch SYMBOL",
	Short:   sym.IX + " Fetch prices and fundamentals for one symbol",
	Args:    cobra.ExactArgs(1),
	PreRunE: preflight(true),
	RunE:    runFetch,
}

var (
	runLimit     int
	runSymbols   string
	runNoFetch   bool
	runNoDerive  bool
	runNoPredict bool
	runNoReport  bool

	updateDaysBack int
)

func init() {
	RunCmd.Flags().IntVar(&runLimit, "limit", 0, "Override ingest.max_symbols_per_run")
	RunCmd.Flags().StringVar(&runSymbols, "symbols", "", "Comma separated symbols to process instead of selecting by priority")
	RunCmd.Flags().BoolVar(&runNoFetch, "no-fetch", false, "Skip the feed fetch stage")
	RunCmd.Flags().BoolVar(&runNoDerive, "no-derive", false, "Skip indicator and fundamental derivation")
	RunCmd.Flags().BoolVar(&runNoPredict, "no-predict", false, "Skip forecasting")
	RunCmd.Flags().BoolVar(&runNoReport, "no-report", false, "Skip the daily report")

	UpdateCmd.Flags().IntVar(&updateDaysBack, "days-back", 1, "Include symbols priced within this many days")
}

// togglesFromFlags switches off the stages named by --no-* flags
func togglesFromFlags(base pipeline.StageToggles, noFetch, noDerive, noPredict, noReport bool) pipeline.StageToggles {
	base.Fetch = base.Fetch && !noFetch
	base.Derive = base.Derive && !noDerive
	base.Predict = base.Predict && !noPredict
	base.Report = base.Report && !noReport
	return base
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := configFrom(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	a, err := openApp(cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	runner, err := a.newRunner(ctx)
	if err != nil {
		return err
	}
	toggles := togglesFromFlags(pipeline.AllStages(), runNoFetch, runNoDerive, runNoPredict, runNoReport)

	var entities []schedule.Entity
	if symbols := util.SplitList(runSymbols); len(symbols) > 0 {
		entities, err = a.stocks.EntitiesBySymbols(ctx, symbols)
		if err != nil {
			return err
		}
	} else {
		if runLimit > 0 {
			pc := a.prioritizer.Config()
			pc.MaxSymbolsPerRun = runLimit
			a.prioritizer.SetConfig(pc)
		}
		candidates, err := a.stocks.Entities(ctx)
		if err != nil {
			return err
		}
		if len(candidates) == 0 {
			return errors.WithHint(
				errors.Wrap(errors.ErrNotFound, "no active stocks"),
				"run `marketpulse stocks sync` or `marketpulse stocks seed` first",
			)
		}
		entities, err = a.prioritizer.SelectBatch(ctx, candidates, time.Now())
		if err != nil {
			return errors.Wrap(err, "select batch")
		}
	}

	out, err := runner.Run(ctx, schedule.TriggerManual, entities, toggles)
	if perr := printOutcome(out); perr != nil {
		return perr
	}
	return err
}

func runUpdate(cmd *cobra.Command, args []string) error {
	cfg, err := configFrom(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	a, err := openApp(cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	runner, err := a.newRunner(ctx)
	if err != nil {
		return err
	}

	days := updateDaysBack
	if days < 1 {
		days = 1
	}
	since := time.Now().UTC().AddDate(0, 0, -days)
	entities, err := a.stocks.RecentlyPriced(ctx, since)
	if err != nil {
		return err
	}
	if len(entities) == 0 {
		a.log.Infow("No symbols priced in window", "days_back", days)
		return nil
	}

	out, err := runner.Run(ctx, schedule.TriggerUpdate, entities, pipeline.UpdateStages())
	if perr := printOutcome(out); perr != nil {
		return perr
	}
	return err
}

func runFetch(cmd *cobra.Command, args []string) error {
	cfg, err := configFrom(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	a, err := openApp(cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	runner, err := a.newRunner(ctx)
	if err != nil {
		return err
	}
	entities, err := a.stocks.EntitiesBySymbols(ctx, []string{args[0]})
	if err != nil {
		return err
	}

	out, err := runner.Run(ctx, schedule.TriggerManual, entities, pipeline.StageToggles{Fetch: true})
	if perr := printOutcome(out); perr != nil {
		return perr
	}
	if err != nil {
		return err
	}
	if r := out.Results[entities[0].Symbol]; r != nil && !r.OK {
		return r.Err
	}
	return nil
}
