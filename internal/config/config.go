// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/hiresignal/jobscout/internal/score"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Scrape   ScrapeConfig   `mapstructure:"scrape"`
	Store    StoreConfig    `mapstructure:"store"`
	Health   HealthConfig   `mapstructure:"health"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
	Sources  SourcesConfig  `mapstructure:"sources"`
	Profile  score.Profile  `mapstructure:"profile"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls the HTTP status/query surface.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// ScrapeConfig governs orchestrator and adapter behavior.
type ScrapeConfig struct {
	Concurrency           int      `mapstructure:"concurrency"`
	AdapterTimeoutSeconds int      `mapstructure:"adapter_timeout_seconds"`
	RunTimeoutSeconds     int      `mapstructure:"run_timeout_seconds"`
	IntervalHours         int      `mapstructure:"interval_hours"`
	UserAgent             string   `mapstructure:"user_agent"`
	MinRequestIntervalMs  int      `mapstructure:"min_request_interval_ms"`
	MaxRetries            int      `mapstructure:"max_retries"`
	BackoffInitialMs      int      `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs          int      `mapstructure:"backoff_max_ms"`
	Keywords              []string `mapstructure:"keywords"`
	Locations             []string `mapstructure:"locations"`
	Remote                bool     `mapstructure:"remote"`
	HeadlessEnabled       bool     `mapstructure:"headless_enabled"`
	HeadlessTimeoutSec    int      `mapstructure:"headless_timeout_seconds"`
	HeadlessMaxParallel   int      `mapstructure:"headless_max_parallel"`
}

// StoreConfig controls the embedded SQLite store and its batch writer.
type StoreConfig struct {
	Path            string `mapstructure:"path"`
	BatchSize       int    `mapstructure:"batch_size"`
	FlushIntervalMs int    `mapstructure:"flush_interval_ms"`
	BusyRetries     int    `mapstructure:"busy_retries"`
	ReadConns       int    `mapstructure:"read_conns"`
}

// HealthConfig controls source disablement and recovery probing.
type HealthConfig struct {
	DisableThreshold   int `mapstructure:"disable_threshold"`
	SmokeIntervalHours int `mapstructure:"smoke_interval_hours"`
	CredentialWarnDays int `mapstructure:"credential_warn_days"`
}

// SnapshotConfig controls parse-drift page snapshots.
type SnapshotConfig struct {
	Dir      string `mapstructure:"dir"`
	MaxBytes int64  `mapstructure:"max_bytes"`
}

// SourcesConfig selects and parameterizes the adapter set.
type SourcesConfig struct {
	Enabled         []string `mapstructure:"enabled"`
	GreenhouseSlugs []string `mapstructure:"greenhouse_slugs"`
	LeverSlugs      []string `mapstructure:"lever_slugs"`
}

// LoggingConfig selects zap level and output encoding.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("JOBSCOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)

	v.SetDefault("scrape.concurrency", 4)
	v.SetDefault("scrape.adapter_timeout_seconds", 120)
	v.SetDefault("scrape.run_timeout_seconds", 900)
	v.SetDefault("scrape.interval_hours", 6)
	v.SetDefault("scrape.user_agent", "jobscout/1.0 (+https://github.com/hiresignal/jobscout)")
	v.SetDefault("scrape.min_request_interval_ms", 1500)
	v.SetDefault("scrape.max_retries", 3)
	v.SetDefault("scrape.backoff_initial_ms", 250)
	v.SetDefault("scrape.backoff_max_ms", 5000)
	v.SetDefault("scrape.headless_enabled", false)
	v.SetDefault("scrape.headless_timeout_seconds", 25)
	v.SetDefault("scrape.headless_max_parallel", 1)

	v.SetDefault("store.path", "data/jobscout.db")
	v.SetDefault("store.batch_size", 64)
	v.SetDefault("store.flush_interval_ms", 200)
	v.SetDefault("store.busy_retries", 5)
	v.SetDefault("store.read_conns", 4)

	v.SetDefault("health.disable_threshold", 3)
	v.SetDefault("health.smoke_interval_hours", 24)
	v.SetDefault("health.credential_warn_days", 7)

	v.SetDefault("snapshot.dir", "data/snapshots")
	v.SetDefault("snapshot.max_bytes", 5*1024*1024)

	v.SetDefault("sources.enabled", []string{"remoteok", "hn", "weworkremotely"})

	v.SetDefault("profile.weights.skills", 0.35)
	v.SetDefault("profile.weights.salary", 0.20)
	v.SetDefault("profile.weights.location", 0.15)
	v.SetDefault("profile.weights.company", 0.10)
	v.SetDefault("profile.weights.recency", 0.20)
	v.SetDefault("profile.remote_ok", true)
	v.SetDefault("profile.threshold", 0.6)
	v.SetDefault("profile.max_age_days", 30)
	v.SetDefault("profile.salary_neutral", 0.5)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate enforces required values and reasonable limits. Profile problems
// are rejected here, at the config boundary, so they never reach the pipeline.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Scrape.Concurrency <= 0 {
		return fmt.Errorf("scrape.concurrency must be > 0")
	}
	if c.Scrape.AdapterTimeoutSeconds <= 0 {
		return fmt.Errorf("scrape.adapter_timeout_seconds must be > 0")
	}
	if c.Scrape.RunTimeoutSeconds < c.Scrape.AdapterTimeoutSeconds {
		return fmt.Errorf("scrape.run_timeout_seconds must be >= adapter timeout")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path must be set")
	}
	if c.Store.BatchSize <= 0 {
		return fmt.Errorf("store.batch_size must be > 0")
	}
	if c.Health.DisableThreshold <= 0 {
		return fmt.Errorf("health.disable_threshold must be > 0")
	}
	if len(c.Sources.Enabled) == 0 {
		return fmt.Errorf("sources.enabled must name at least one source")
	}
	if err := c.Profile.Validate(); err != nil {
		return err
	}
	return nil
}

// AdapterTimeout returns the per-adapter wall-clock budget.
func (c Config) AdapterTimeout() time.Duration {
	return time.Duration(c.Scrape.AdapterTimeoutSeconds) * time.Second
}

// RunTimeout returns the whole-cycle budget.
func (c Config) RunTimeout() time.Duration {
	return time.Duration(c.Scrape.RunTimeoutSeconds) * time.Second
}

// FlushInterval returns the batch writer's timer threshold.
func (c Config) FlushInterval() time.Duration {
	return time.Duration(c.Store.FlushIntervalMs) * time.Millisecond
}

// MinRequestInterval returns the per-source polite delay between requests.
func (c Config) MinRequestInterval() time.Duration {
	return time.Duration(c.Scrape.MinRequestIntervalMs) * time.Millisecond
}

// SearchSpecFromConfig assembles the search spec handed to every adapter.
func (c Config) SearchSpec() map[string][]string {
	return map[string][]string{
		"greenhouse": c.Sources.GreenhouseSlugs,
		"lever":      c.Sources.LeverSlugs,
	}
}
