// Package am holds marketpulse configuration ("I am").
//
// Configuration is loaded with viper from defaults, TOML files, a .env file
// and MARKETPULSE_* environment variables, then handed to constructors as an
// explicit *Config value. Nothing in this package caches a process-wide copy.
package am

// Config represents the complete marketpulse configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Feed     FeedConfig     `mapstructure:"feed"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Runner   RunnerConfig   `mapstructure:"runner"`
	Export   ExportConfig   `mapstructure:"export"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Log      LogConfig      `mapstructure:"log"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// FeedConfig configures the external market data feed
type FeedConfig struct {
	APIKey         string `mapstructure:"api_key" toml:"-" yaml:"-" json:"-"` // never rendered by `am show`
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxRetries     int    `mapstructure:"max_retries"`
}

// IngestConfig configures rate limiting and batch selection
type IngestConfig struct {
	MaxAPICallsPerMinute  int           `mapstructure:"max_api_calls_per_minute"`
	MaxSymbolsPerRun      int           `mapstructure:"max_symbols_per_run"`
	CoverageWindowDays    int           `mapstructure:"coverage_window_days"`
	MinRevisitDays        int           `mapstructure:"min_revisit_days"`
	MaxRevisitDays        int           `mapstructure:"max_revisit_days"`
	ExplorationRate       float64       `mapstructure:"exploration_rate"`
	UpdateIntervalMinutes int           `mapstructure:"update_interval_minutes"`
	HistoryDays           int           `mapstructure:"history_days"` // initial backfill when no price is stored
	Weights               WeightsConfig `mapstructure:"weights"`
}

// WeightsConfig holds the tunable constants of the priority score:
//
//	score = staleness_days*Staleness + (volume/VolumeDivisor)*Volume - failure_streak*FailurePenalty
type WeightsConfig struct {
	Staleness      float64 `mapstructure:"staleness"`
	Volume         float64 `mapstructure:"volume"`
	VolumeDivisor  float64 `mapstructure:"volume_divisor"`
	FailurePenalty float64 `mapstructure:"failure_penalty"`
}

// PipelineConfig toggles optional analysis stages globally
type PipelineConfig struct {
	TechnicalIndicators bool   `mapstructure:"technical_indicators"`
	FundamentalAnalysis bool   `mapstructure:"fundamental_analysis"`
	Predictions         bool   `mapstructure:"predictions"`
	FundamentalPeriod   string `mapstructure:"fundamental_period"` // annual or quarterly
}

// RunnerConfig configures the long-running trigger modes
type RunnerConfig struct {
	MaxHours     float64  `mapstructure:"max_hours"`     // continuous loop wall-clock budget
	SleepMinutes int      `mapstructure:"sleep_minutes"` // 0 = use ingest.update_interval_minutes
	DailyTimes   []string `mapstructure:"daily_times"`   // "HH:MM" entries for the daily trigger
	Timezone     string   `mapstructure:"timezone"`
}

// ExportConfig configures post-batch bulk export sinks
type ExportConfig struct {
	Sinks         []string `mapstructure:"sinks"` // json, postgres, mongo
	JSONPath      string   `mapstructure:"json_path"`
	PostgresDSN   string   `mapstructure:"postgres_dsn" toml:"-" yaml:"-" json:"-"`
	MongoURI      string   `mapstructure:"mongo_uri" toml:"-" yaml:"-" json:"-"`
	MongoDatabase string   `mapstructure:"mongo_database"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Addr string `mapstructure:"addr"` // empty disables the HTTP endpoint
}

// LogConfig configures log output
type LogConfig struct {
	JSON bool `mapstructure:"json"`
}

// Known export sinks
const (
	SinkJSON     = "json"
	SinkPostgres = "postgres"
	SinkMongo    = "mongo"
)

// File system constants
const (
	DefaultDirPermissions  = 0755
	DefaultFilePermissions = 0644
)

// EffectiveSleepMinutes returns runner.sleep_minutes, falling back to the
// update interval when unset.
func (c *Config) EffectiveSleepMinutes() int {
	if c.Runner.SleepMinutes > 0 {
		return c.Runner.SleepMinutes
	}
	return c.Ingest.UpdateIntervalMinutes
}

// HasSink reports whether the named export sink is enabled
func (c *Config) HasSink(name string) bool {
	for _, s := range c.Export.Sinks {
		if s == name {
			return true
		}
	}
	return false
}
