// Package config provides unified configuration loading for runcache.
// It supports loading from YAML files and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config contains all runcache configuration settings.
type Config struct {
	// Database is the path to the SQLite run database.
	Database string `json:"database" yaml:"database"`

	// Watch contains settings for incremental polling.
	Watch WatchConfig `json:"watch" yaml:"watch"`

	// Export contains settings for tabular export.
	Export ExportConfig `json:"export" yaml:"export"`

	// Logging contains settings for operational and load-trace logging.
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// WatchConfig configures how a live run is polled.
type WatchConfig struct {
	// Interval is the delay between incremental loads while a run is
	// still producing data.
	Interval time.Duration `json:"interval" yaml:"interval"`
}

// ExportConfig configures tabular export.
type ExportConfig struct {
	// Dir is the directory exported files are written to.
	Dir string `json:"dir" yaml:"dir"`

	// Format selects the output format: "csv" or "arrow".
	Format string `json:"format" yaml:"format"`
}

// LoggingConfig configures runcache's logging behavior.
type LoggingConfig struct {
	// Level sets the log verbosity: "info" (default), "debug", or "trace".
	// "debug" enables load tracing alongside the database file.
	Level string `json:"level" yaml:"level"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: "runs.db",
		Watch: WatchConfig{
			Interval: time.Second,
		},
		Export: ExportConfig{
			Dir:    ".",
			Format: "csv",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from the default locations and environment
// variables. Order: defaults -> ~/.runcache/config.yaml -> environment.
func Load() (*Config, error) {
	config := Default()

	homeDir, err := os.UserHomeDir()
	if err == nil {
		configPath := filepath.Join(homeDir, ".runcache", "config.yaml")
		if _, statErr := os.Stat(configPath); statErr == nil {
			fileConfig, loadErr := LoadFromFile(configPath)
			if loadErr != nil {
				return nil, fmt.Errorf("loading config file: %w", loadErr)
			}
			config = fileConfig
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// LoadFromFile loads configuration from a specific YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return config, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Database == "" {
		return fmt.Errorf("database path must not be empty")
	}

	if c.Watch.Interval <= 0 {
		return fmt.Errorf("watch interval must be positive, got %v", c.Watch.Interval)
	}

	validFormats := map[string]bool{"csv": true, "arrow": true}
	if !validFormats[c.Export.Format] {
		return fmt.Errorf("invalid export format: %s (valid: csv, arrow)", c.Export.Format)
	}

	validLevels := map[string]bool{"info": true, "debug": true, "trace": true}
	if c.Logging.Level != "" && !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: info, debug, trace, or empty for default)", c.Logging.Level)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("RUNCACHE_DB"); v != "" {
		config.Database = v
	}

	if v := os.Getenv("RUNCACHE_WATCH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Watch.Interval = d
		} else if n, err := strconv.Atoi(v); err == nil {
			config.Watch.Interval = time.Duration(n) * time.Second
		}
	}

	if v := os.Getenv("RUNCACHE_EXPORT_DIR"); v != "" {
		config.Export.Dir = v
	}

	if v := os.Getenv("RUNCACHE_EXPORT_FORMAT"); v != "" {
		config.Export.Format = v
	}

	if v := os.Getenv("RUNCACHE_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
}
