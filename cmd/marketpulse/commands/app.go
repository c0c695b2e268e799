package commands

import (
	"context"
	"database/sql"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teranos/marketpulse/am"
	"github.com/teranos/marketpulse/catalog"
	"github.com/teranos/marketpulse/db"
	"github.com/teranos/marketpulse/errors"
	"github.com/teranos/marketpulse/export"
	"github.com/teranos/marketpulse/feed"
	"github.com/teranos/marketpulse/logger"
	"github.com/teranos/marketpulse/market"
	"github.com/teranos/marketpulse/metrics"
	"github.com/teranos/marketpulse/pipeline"
	"github.com/teranos/marketpulse/pulse/budget"
	"github.com/teranos/marketpulse/pulse/schedule"
)

const closeTimeout = 10 * time.Second

type configKey struct{}

// loadConfig reads --config when given, otherwise every configuration source
func loadConfig(cmd *cobra.Command) (*am.Config, error) {
	cfg, err := configLoader(cmd)()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load config")
	}
	if cfg.Log.JSON && !logger.JSONOutput {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		if err := logger.Initialize(true, verbosity); err != nil {
			return nil, errors.Wrap(err, "failed to initialize logger")
		}
	}
	return cfg, nil
}

// configLoader returns the load function hot reload re-runs
func configLoader(cmd *cobra.Command) func() (*am.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path != "" {
		return func() (*am.Config, error) { return am.LoadFromFile(path) }
	}
	return am.Load
}

// watchedPaths returns the files hot reload watches
func watchedPaths(cmd *cobra.Command) []string {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		return []string{path}
	}
	return am.ConfigPaths()
}

// preflight loads and validates configuration before any work starts. A
// missing credential is fatal here, never half way through a batch.
func preflight(needsFeed bool) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return errors.Wrap(err, "configuration validation failed")
		}
		if needsFeed {
			if err := cfg.RequireAPIKey(); err != nil {
				return err
			}
		}
		cmd.SetContext(context.WithValue(cmd.Context(), configKey{}, cfg))
		return nil
	}
}

// configFrom returns the configuration preflight stored, loading it when absent
func configFrom(cmd *cobra.Command) (*am.Config, error) {
	if cfg, ok := cmd.Context().Value(configKey{}).(*am.Config); ok {
		return cfg, nil
	}
	return loadConfig(cmd)
}

// app wires every component of one command invocation
type app struct {
	cfg *am.Config
	log *zap.SugaredLogger

	db          *sql.DB
	stocks      *catalog.Store
	market      *market.Store
	states      *schedule.StateStore
	runs        *schedule.RunStore
	usage       *budget.Store
	prioritizer *schedule.Prioritizer
	metrics     *metrics.Manager

	limiter  *budget.Limiter
	feed     feed.Client
	exporter *export.Multi
}

// openApp opens the database and builds the stores. withFeed also builds the
// rate-limited feed client, recording every attempt to the usage ledger and
// to metrics.
func openApp(cfg *am.Config, withFeed bool) (*app, error) {
	log := logger.Logger
	database, err := db.OpenWithMigrations(cfg.GetDatabasePath(), log)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", cfg.GetDatabasePath())
	}

	states := schedule.NewStateStore(database)
	a := &app{
		cfg:         cfg,
		log:         log,
		db:          database,
		stocks:      catalog.NewStore(database),
		market:      market.NewStore(database),
		states:      states,
		runs:        schedule.NewRunStore(database),
		usage:       budget.NewStore(database),
		prioritizer: schedule.NewPrioritizer(states, schedule.ConfigFromAM(cfg.Ingest), log),
		metrics:     metrics.NewManager(),
		feed:        offlineFeed{},
	}

	if withFeed {
		a.limiter = budget.NewLimiter(cfg.Ingest.MaxAPICallsPerMinute)
		a.limiter.OnWait(a.metrics.LimiterWaited)
		client, err := feed.NewFromConfig(cfg, a.limiter, log, a.usage, a.metrics)
		if err != nil {
			database.Close()
			return nil, err
		}
		a.feed = client
	}
	return a, nil
}

// newRunner builds the pipeline runner with the configured export sinks
func (a *app) newRunner(ctx context.Context) (*pipeline.Runner, error) {
	sinks, err := export.FromConfig(ctx, a.cfg, a.log)
	if err != nil {
		return nil, err
	}
	a.exporter = sinks

	deps := pipeline.Deps{
		Feed:     a.feed,
		Market:   a.market,
		States:   a.prioritizer,
		Runs:     a.runs,
		Observer: a.metrics,
	}
	if sinks.Len() > 0 {
		deps.Exporter = sinks
	}
	return pipeline.NewRunner(deps, pipeline.OptionsFromAM(a.cfg), a.log)
}

// Close releases the export sinks and the database
func (a *app) Close() {
	if a.exporter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		if err := a.exporter.Close(ctx); err != nil {
			a.log.Warnw("Failed to close export sinks", logger.FieldError, err)
		}
		cancel()
	}
	if err := a.db.Close(); err != nil {
		a.log.Warnw("Failed to close database", logger.FieldError, err)
	}
}

// offlineFeed stands in for the feed in commands whose stages never call it
type offlineFeed struct{}

var errOffline = errors.Wrap(errors.ErrServiceUnavailable, "feed is not configured for this command")

func (offlineFeed) FetchSeries(context.Context, string, time.Time, time.Time) ([]feed.Bar, error) {
	return nil, errOffline
}

func (offlineFeed) FetchPeriodicMetrics(context.Context, string, feed.Period) ([]feed.Financials, error) {
	return nil, errOffline
}

func (offlineFeed) ListTickers(context.Context, string) (feed.TickerPage, error) {
	return feed.TickerPage{}, errOffline
}
