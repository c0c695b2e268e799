package am

import (
	"time"

	"github.com/teranos/marketpulse/errors"
)

// ErrMissingCredential is returned when a command needs the feed API key and
// none is configured. It is fatal: no batch may start without it.
var ErrMissingCredential = errors.New("missing feed api key")

// MaxRevisitDaysLimit caps ingest.max_revisit_days at ten years
const MaxRevisitDaysLimit = 3650

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	in := c.Ingest

	if in.MaxAPICallsPerMinute <= 0 {
		return errors.Newf("ingest.max_api_calls_per_minute must be > 0, got %d", in.MaxAPICallsPerMinute)
	}
	if in.MaxSymbolsPerRun <= 0 {
		return errors.Newf("ingest.max_symbols_per_run must be > 0, got %d", in.MaxSymbolsPerRun)
	}
	if in.ExplorationRate < 0 || in.ExplorationRate > 1 {
		return errors.Newf("ingest.exploration_rate must be within [0, 1], got %g", in.ExplorationRate)
	}
	if in.MinRevisitDays < 0 {
		return errors.Newf("ingest.min_revisit_days must be >= 0, got %d", in.MinRevisitDays)
	}
	if in.MaxRevisitDays < 1 || in.MaxRevisitDays > MaxRevisitDaysLimit {
		return errors.Newf("ingest.max_revisit_days must be within [1, %d], got %d", MaxRevisitDaysLimit, in.MaxRevisitDays)
	}
	if in.MaxRevisitDays < in.MinRevisitDays {
		return errors.Newf("ingest.max_revisit_days (%d) must be >= ingest.min_revisit_days (%d)",
			in.MaxRevisitDays, in.MinRevisitDays)
	}
	if in.UpdateIntervalMinutes <= 0 {
		return errors.Newf("ingest.update_interval_minutes must be > 0, got %d", in.UpdateIntervalMinutes)
	}
	if in.HistoryDays <= 0 {
		return errors.Newf("ingest.history_days must be > 0, got %d", in.HistoryDays)
	}
	if in.Weights.VolumeDivisor <= 0 {
		return errors.Newf("ingest.weights.volume_divisor must be > 0, got %g", in.Weights.VolumeDivisor)
	}

	if c.Feed.TimeoutSeconds <= 0 {
		return errors.Newf("feed.timeout_seconds must be > 0, got %d", c.Feed.TimeoutSeconds)
	}
	if c.Feed.MaxRetries < 0 {
		return errors.Newf("feed.max_retries must be >= 0, got %d", c.Feed.MaxRetries)
	}

	switch c.Pipeline.FundamentalPeriod {
	case "annual", "quarterly":
	default:
		return errors.Newf("pipeline.fundamental_period must be annual or quarterly, got %q", c.Pipeline.FundamentalPeriod)
	}

	if c.Runner.MaxHours < 0 {
		return errors.Newf("runner.max_hours must be >= 0, got %g", c.Runner.MaxHours)
	}
	if c.Runner.SleepMinutes < 0 {
		return errors.Newf("runner.sleep_minutes must be >= 0, got %d", c.Runner.SleepMinutes)
	}
	for _, hhmm := range c.Runner.DailyTimes {
		if _, err := time.Parse("15:04", hhmm); err != nil {
			return errors.Newf("runner.daily_times entry %q is not HH:MM", hhmm)
		}
	}
	if _, err := time.LoadLocation(c.Runner.Timezone); err != nil {
		return errors.Wrapf(err, "runner.timezone %q", c.Runner.Timezone)
	}

	for _, sink := range c.Export.Sinks {
		switch sink {
		case SinkJSON:
			if c.Export.JSONPath == "" {
				return errors.New("export.json_path cannot be empty when the json sink is enabled")
			}
		case SinkPostgres:
			if c.Export.PostgresDSN == "" {
				return errors.New("export.postgres_dsn cannot be empty when the postgres sink is enabled")
			}
		case SinkMongo:
			if c.Export.MongoURI == "" {
				return errors.New("export.mongo_uri cannot be empty when the mongo sink is enabled")
			}
		default:
			return errors.Newf("unknown export sink %q (supported: json, postgres, mongo)", sink)
		}
	}

	return nil
}

// RequireAPIKey returns ErrMissingCredential when no feed key is configured
func (c *Config) RequireAPIKey() error {
	if c.Feed.APIKey == "" {
		return errors.WithHint(ErrMissingCredential,
			"set MARKETPULSE_FEED_API_KEY (or POLYGON_API_KEY), or feed.api_key in marketpulse.toml")
	}
	return nil
}
