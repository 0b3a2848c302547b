// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig           `mapstructure:"server"`
	Auth        AuthConfig             `mapstructure:"auth"`
	Logging     LoggingConfig          `mapstructure:"logging"`
	Worker      WorkerConfig           `mapstructure:"worker"`
	Fetcher     FetcherConfig          `mapstructure:"fetcher"`
	Headless    HeadlessConfig         `mapstructure:"headless"`
	Detector    DetectorConfig         `mapstructure:"detector"`
	DB          DBConfig               `mapstructure:"db"`
	Screenshots ScreenshotConfig       `mapstructure:"screenshots"`
	PubSub      PubSubConfig           `mapstructure:"pubsub"`
	Security    SecurityConfig         `mapstructure:"security"`
	Scheduler   SchedulerConfig        `mapstructure:"scheduler"`
	Mapping     MappingConfig          `mapstructure:"mapping"`
	Extraction  ExtractionConfig       `mapstructure:"extraction"`
	Stores      map[string]StoreConfig `mapstructure:"stores"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	RequestTimeout int `mapstructure:"request_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// WorkerConfig governs the scrape worker pool.
type WorkerConfig struct {
	Count          int `mapstructure:"count"`
	MaxListingPage int `mapstructure:"max_listing_page"`
}

// FetcherConfig configures the plain HTTP probe fetcher.
type FetcherConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	MaxParallel       int  `mapstructure:"max_parallel"`
	NavTimeoutSec     int  `mapstructure:"nav_timeout_seconds"`
	ScreenshotQuality int  `mapstructure:"screenshot_quality"`
}

// DetectorConfig tunes the headless promotion heuristic.
type DetectorConfig struct {
	MinHTMLBytes int      `mapstructure:"min_html_bytes"`
	Selectors    []string `mapstructure:"selectors"`
	Keywords     []string `mapstructure:"keywords"`
}

// SecurityConfig controls the optional IP metadata lookup on security events.
type SecurityConfig struct {
	IPInfoEnabled  bool   `mapstructure:"ip_info_enabled"`
	IPInfoEndpoint string `mapstructure:"ip_info_endpoint"`
}

// DBConfig selects and configures the persistence backend.
type DBConfig struct {
	Provider string `mapstructure:"provider"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// ScreenshotConfig selects where worker screenshots land.
type ScreenshotConfig struct {
	Provider  string `mapstructure:"provider"`
	Dir       string `mapstructure:"dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// PubSubConfig holds metadata for job-completion notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// SchedulerConfig drives periodic refresh and cleanup.
type SchedulerConfig struct {
	RefreshSpec        string `mapstructure:"refresh_spec"`
	JanitorSpec        string `mapstructure:"janitor_spec"`
	TerminalJobTTLHrs  int    `mapstructure:"terminal_job_ttl_hours"`
	EventRetentionDays int    `mapstructure:"event_retention_days"`
}

// MappingConfig tunes the label mapping subsystem.
type MappingConfig struct {
	AutoAcceptThreshold float64 `mapstructure:"auto_accept_threshold"`
}

// ExtractionConfig tunes the label extraction pass.
type ExtractionConfig struct {
	SampleSize int `mapstructure:"sample_size"`
}

// StoreConfig seeds per-store settings for stores configured at boot. The
// values are editable at runtime through the settings API.
type StoreConfig struct {
	BaseURL            string `mapstructure:"base_url"`
	Enabled            bool   `mapstructure:"enabled"`
	MaxConcurrency     int    `mapstructure:"max_concurrency"`
	RetryCount         int    `mapstructure:"retry_count"`
	DelayMS            int    `mapstructure:"delay_ms"`
	UpdateFrequencyHrs int    `mapstructure:"update_frequency_hours"`
	JobTimeoutMinutes  int    `mapstructure:"job_timeout_minutes"`
	HeadlessAllowed    bool   `mapstructure:"headless_allowed"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCRAPERD")
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
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("logging.development", true)
	v.SetDefault("worker.count", 4)
	v.SetDefault("worker.max_listing_page", 50)
	v.SetDefault("fetcher.user_agent", "scraperd/1.0")
	v.SetDefault("fetcher.timeout_seconds", 15)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.screenshot_quality", 60)
	v.SetDefault("detector.min_html_bytes", 2000)
	v.SetDefault("detector.selectors", []string{".product-cell", ".product-card"})
	v.SetDefault("detector.keywords", []string{
		"__NEXT_DATA__",
		"data-reactroot",
		"window.__APOLLO_STATE__",
	})
	v.SetDefault("db.provider", "memory")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("screenshots.provider", "local")
	v.SetDefault("screenshots.dir", "data/screenshots")
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("pubsub.topic", "scrape-jobs-completed")
	v.SetDefault("security.ip_info_enabled", false)
	v.SetDefault("security.ip_info_endpoint", "")
	v.SetDefault("scheduler.refresh_spec", "@every 15m")
	v.SetDefault("scheduler.janitor_spec", "@every 1h")
	v.SetDefault("scheduler.terminal_job_ttl_hours", 24)
	v.SetDefault("scheduler.event_retention_days", 30)
	v.SetDefault("mapping.auto_accept_threshold", 0.75)
	v.SetDefault("extraction.sample_size", 500)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Worker.Count <= 0 {
		return fmt.Errorf("worker.count must be > 0")
	}
	if c.Fetcher.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetcher.timeout_seconds must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.DB.Provider != "memory" && c.DB.Provider != "postgres" {
		return fmt.Errorf("db.provider must be memory or postgres")
	}
	if c.DB.Provider == "postgres" && c.DB.DSN == "" {
		return fmt.Errorf("db.dsn must be set when db.provider is postgres")
	}
	switch c.Screenshots.Provider {
	case "local", "gcs", "none":
	default:
		return fmt.Errorf("screenshots.provider must be local, gcs or none")
	}
	if c.Screenshots.Provider == "gcs" && c.Screenshots.GCSBucket == "" {
		return fmt.Errorf("screenshots.gcs_bucket must be set when screenshots.provider is gcs")
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.Topic == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic must be set when pubsub is enabled")
	}
	if c.Mapping.AutoAcceptThreshold <= 0 || c.Mapping.AutoAcceptThreshold > 1 {
		return fmt.Errorf("mapping.auto_accept_threshold must be in (0, 1]")
	}
	return nil
}

// RequestTimeout converts the server timeout into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeout) * time.Second
}
