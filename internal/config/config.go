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
	Server     ServerConfig           `mapstructure:"server"`
	Scraper    ScraperConfig          `mapstructure:"scraper"`
	Stores     map[string]StoreConfig `mapstructure:"stores"`
	Antidetect AntidetectConfig       `mapstructure:"antidetect"`
	Headless   HeadlessConfig         `mapstructure:"headless"`
	DB         DBConfig               `mapstructure:"db"`
	Cache      CacheConfig            `mapstructure:"cache"`
	Scheduler  SchedulerConfig        `mapstructure:"scheduler"`
	Sales      SalesConfig            `mapstructure:"sales"`
	Capture    CaptureConfig          `mapstructure:"capture"`
	PubSub     PubSubConfig           `mapstructure:"pubsub"`
	Logging    LoggingConfig          `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// ScraperConfig governs the worker pool and job retry behavior.
type ScraperConfig struct {
	Concurrency         int `mapstructure:"concurrency"`
	PerStoreMax         int `mapstructure:"per_store_max"`
	FetchTimeoutSeconds int `mapstructure:"fetch_timeout_seconds"`
	MaxAttempts         int `mapstructure:"max_attempts"`
	BackoffBaseSeconds  int `mapstructure:"backoff_base_seconds"`
	QueueDepth          int `mapstructure:"queue_depth"`
	LeaseSeconds        int `mapstructure:"lease_seconds"`
	CooldownSeconds     int `mapstructure:"cooldown_seconds"`
}

// StoreConfig describes how one storefront is fetched and parsed.
type StoreConfig struct {
	Strategy      string  `mapstructure:"strategy"` // "static" or "headless"
	RPS           float64 `mapstructure:"rps"`
	Burst         int     `mapstructure:"burst"`
	MaxConcurrent int     `mapstructure:"max_concurrent"`

	PriceSelector         string `mapstructure:"price_selector"`
	OriginalPriceSelector string `mapstructure:"original_price_selector"`
	AvailabilitySelector  string `mapstructure:"availability_selector"`
	ShippingSelector      string `mapstructure:"shipping_selector"`
}

// AntidetectConfig tunes the anti-detection layer applied to every fetch.
type AntidetectConfig struct {
	UserAgents []string `mapstructure:"user_agents"`
	Proxies    []string `mapstructure:"proxies"`
	DelayMinMs int      `mapstructure:"delay_min_ms"`
	DelayMaxMs int      `mapstructure:"delay_max_ms"`
}

// HeadlessConfig configures the browser-automation fetcher.
type HeadlessConfig struct {
	MaxParallel   int `mapstructure:"max_parallel"`
	NavTimeoutSec int `mapstructure:"nav_timeout_seconds"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// CacheConfig tunes the best-price cache.
type CacheConfig struct {
	TTLMinutes     int `mapstructure:"ttl_minutes"`
	FreshnessHours int `mapstructure:"freshness_hours"`
}

// SchedulerConfig sets the sweep cadences.
type SchedulerConfig struct {
	FullSweepHours     int `mapstructure:"full_sweep_hours"`
	PrioritySweepHours int `mapstructure:"priority_sweep_hours"`
	CacheRefreshMin    int `mapstructure:"cache_refresh_minutes"`
	RetentionDays      int `mapstructure:"retention_days"`
}

// SalesConfig tunes sale detection queries.
type SalesConfig struct {
	LookbackDays int `mapstructure:"lookback_days"`
}

// CaptureConfig selects where parse-failure HTML evidence is stored.
type CaptureConfig struct {
	Provider  string `mapstructure:"provider"` // "gcs", "local", or "noop"
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for downstream price-event notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PRICEWATCH")
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
	v.SetDefault("scraper.concurrency", 8)
	v.SetDefault("scraper.per_store_max", 2)
	v.SetDefault("scraper.fetch_timeout_seconds", 15)
	v.SetDefault("scraper.max_attempts", 3)
	v.SetDefault("scraper.backoff_base_seconds", 2)
	v.SetDefault("scraper.queue_depth", 4096)
	v.SetDefault("scraper.lease_seconds", 120)
	v.SetDefault("scraper.cooldown_seconds", 300)
	v.SetDefault("antidetect.delay_min_ms", 2000)
	v.SetDefault("antidetect.delay_max_ms", 5000)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("cache.ttl_minutes", 60)
	v.SetDefault("cache.freshness_hours", 24)
	v.SetDefault("scheduler.full_sweep_hours", 12)
	v.SetDefault("scheduler.priority_sweep_hours", 4)
	v.SetDefault("scheduler.cache_refresh_minutes", 15)
	v.SetDefault("scheduler.retention_days", 90)
	v.SetDefault("sales.lookback_days", 7)
	v.SetDefault("capture.provider", "noop")
	v.SetDefault("capture.prefix", "parse-failures")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Scraper.Concurrency <= 0 {
		return fmt.Errorf("scraper.concurrency must be > 0")
	}
	if c.Scraper.PerStoreMax <= 0 {
		return fmt.Errorf("scraper.per_store_max must be > 0")
	}
	if c.Scraper.FetchTimeoutSeconds <= 0 {
		return fmt.Errorf("scraper.fetch_timeout_seconds must be > 0")
	}
	if c.Scraper.MaxAttempts <= 0 {
		return fmt.Errorf("scraper.max_attempts must be > 0")
	}
	if c.Antidetect.DelayMinMs < 0 || c.Antidetect.DelayMaxMs < c.Antidetect.DelayMinMs {
		return fmt.Errorf("antidetect delay range is invalid")
	}
	if c.Scheduler.RetentionDays <= 0 {
		return fmt.Errorf("scheduler.retention_days must be > 0")
	}
	for name, store := range c.Stores {
		switch store.Strategy {
		case "static", "headless":
		default:
			return fmt.Errorf("stores.%s.strategy must be static or headless", name)
		}
		if store.PriceSelector == "" {
			return fmt.Errorf("stores.%s.price_selector must be set", name)
		}
		if store.RPS < 0 {
			return fmt.Errorf("stores.%s.rps must be >= 0", name)
		}
	}
	return nil
}

// FetchTimeout returns the per-fetch hard deadline.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Scraper.FetchTimeoutSeconds) * time.Second
}

// BackoffBase returns the base delay for exponential retry backoff.
func (c Config) BackoffBase() time.Duration {
	return time.Duration(c.Scraper.BackoffBaseSeconds) * time.Second
}

// LeaseTimeout returns how long a dequeued job stays invisible before it
// becomes eligible for another worker.
func (c Config) LeaseTimeout() time.Duration {
	return time.Duration(c.Scraper.LeaseSeconds) * time.Second
}

// StoreCooldown returns the pause applied to a store after a blocked fetch.
func (c Config) StoreCooldown() time.Duration {
	return time.Duration(c.Scraper.CooldownSeconds) * time.Second
}

// CacheTTL returns the best-price cache entry lifetime.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLMinutes) * time.Minute
}

// FreshnessWindow returns the span within which a record counts as current.
func (c Config) FreshnessWindow() time.Duration {
	return time.Duration(c.Cache.FreshnessHours) * time.Hour
}
