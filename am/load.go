package am

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/teranos/marketpulse/errors"
)

// EnvPrefix is the prefix for all environment overrides
const EnvPrefix = "MARKETPULSE"

// ProjectConfigName is the file searched for from the working directory upward
const ProjectConfigName = "marketpulse.toml"

// Load reads configuration from all sources.
// Precedence (lowest to highest): defaults < system < user < project < .env < environment.
func Load() (*Config, error) {
	v, err := NewViper()
	if err != nil {
		return nil, err
	}
	return LoadWithViper(v)
}

// LoadWithViper loads configuration using a provided Viper instance
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	return &config, nil
}

// LoadFromFile loads configuration from a specific TOML file plus defaults.
// Environment variables are not consulted.
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
	}

	return LoadWithViper(v)
}

// NewViper builds a viper instance wired to every configuration source.
func NewViper() (*viper.Viper, error) {
	// .env is optional; values already in the environment win over it
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "failed to load .env")
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	BindSensitiveEnvVars(v)
	BindLegacyEnvVars(v)
	SetDefaults(v)

	for _, path := range ConfigPaths() {
		if err := mergeFile(v, path); err != nil {
			return nil, err
		}
	}

	return v, nil
}

// ConfigPaths returns the config files that exist, lowest precedence first.
func ConfigPaths() []string {
	var candidates []string
	candidates = append(candidates, "/etc/marketpulse/config.toml")
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".marketpulse", "config.toml"))
	}
	if project := FindProjectConfig(); project != "" {
		candidates = append(candidates, project)
	}

	var existing []string
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			existing = append(existing, path)
		}
	}
	return existing
}

// FindProjectConfig walks up from the working directory looking for
// marketpulse.toml. Returns the empty string when none is found.
func FindProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		path := filepath.Join(dir, ProjectConfigName)
		if _, err := os.Stat(path); err == nil {
			return path
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// mergeFile merges one TOML file into v. A broken file is an error rather than
// silently skipped, since it would otherwise mask operator edits.
func mergeFile(v *viper.Viper, path string) error {
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.MergeInConfig(); err != nil {
		return errors.Wrapf(err, "failed to merge config file %s", path)
	}
	return nil
}

// envKey converts a dotted config key to its environment spelling
func envKey(key string) string {
	return strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}
