package am

import (
	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "marketpulse.db")

	// Feed defaults
	v.SetDefault("feed.base_url", "https://api.polygon.io")
	v.SetDefault("feed.timeout_seconds", 30)
	v.SetDefault("feed.max_retries", 3)

	// Ingest defaults (free-tier feed: 5 calls/minute)
	v.SetDefault("ingest.max_api_calls_per_minute", 5)
	v.SetDefault("ingest.max_symbols_per_run", 300)
	v.SetDefault("ingest.coverage_window_days", 7)
	v.SetDefault("ingest.min_revisit_days", 1)
	v.SetDefault("ingest.max_revisit_days", 14)
	v.SetDefault("ingest.exploration_rate", 0.05)
	v.SetDefault("ingest.update_interval_minutes", 30)
	v.SetDefault("ingest.history_days", 730) // two years of daily bars on first fetch

	v.SetDefault("ingest.weights.staleness", 2.0)
	v.SetDefault("ingest.weights.volume", 1.0)
	v.SetDefault("ingest.weights.volume_divisor", 1e7)
	v.SetDefault("ingest.weights.failure_penalty", 2.0)

	// Pipeline defaults
	v.SetDefault("pipeline.technical_indicators", true)
	v.SetDefault("pipeline.fundamental_analysis", true)
	v.SetDefault("pipeline.predictions", true)
	v.SetDefault("pipeline.fundamental_period", "annual")

	// Runner defaults (5.5h fits inside a 6h CI job limit)
	v.SetDefault("runner.max_hours", 5.5)
	v.SetDefault("runner.sleep_minutes", 0)
	v.SetDefault("runner.daily_times", []string{})
	v.SetDefault("runner.timezone", "UTC")

	// Export defaults
	v.SetDefault("export.sinks", []string{})
	v.SetDefault("export.json_path", "./exports")
	v.SetDefault("export.mongo_database", "marketpulse")

	v.SetDefault("metrics.addr", "")
	v.SetDefault("log.json", false)
}

// BindSensitiveEnvVars explicitly binds credentials to environment variables.
// POLYGON_API_KEY is accepted alongside the prefixed name.
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("feed.api_key", "MARKETPULSE_FEED_API_KEY", "POLYGON_API_KEY")
	v.BindEnv("export.postgres_dsn", "MARKETPULSE_EXPORT_POSTGRES_DSN", "DATABASE_URL")
	v.BindEnv("export.mongo_uri", "MARKETPULSE_EXPORT_MONGO_URI", "MONGODB_URI")
	v.BindEnv("database.path", "MARKETPULSE_DATABASE_PATH")
}

// GetDatabasePath returns the configured database path
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return "marketpulse.db"
	}
	return c.Database.Path
}

// legacyEnvKeys maps unprefixed environment names used by existing deployment
// scripts onto config keys.
var legacyEnvKeys = map[string]string{
	"ingest.max_api_calls_per_minute": "MAX_API_CALLS_PER_MINUTE",
	"ingest.max_symbols_per_run":      "MAX_SYMBOLS_PER_RUN",
	"ingest.coverage_window_days":     "COVERAGE_WINDOW_DAYS",
	"ingest.min_revisit_days":         "MIN_REVISIT_DAYS",
	"ingest.max_revisit_days":         "MAX_REVISIT_DAYS",
	"ingest.exploration_rate":         "EXPLORATION_RATE",
	"ingest.update_interval_minutes":  "UPDATE_INTERVAL_MINUTES",
	"runner.max_hours":                "MAX_HOURS",
	"runner.sleep_minutes":            "SLEEP_MINUTES",
	"export.json_path":                "JSON_EXPORT_PATH",
}

// BindLegacyEnvVars binds the unprefixed names after the prefixed ones, so
// MARKETPULSE_* wins when both are set.
func BindLegacyEnvVars(v *viper.Viper) {
	for key, legacy := range legacyEnvKeys {
		prefixed := EnvPrefix + "_" + envKey(key)
		v.BindEnv(key, prefixed, legacy)
	}
}
