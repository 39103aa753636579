package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("server.port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Scraper.MaxAttempts != 3 {
		t.Errorf("scraper.max_attempts = %d, want 3", cfg.Scraper.MaxAttempts)
	}
	if got := cfg.FetchTimeout(); got != 15*time.Second {
		t.Errorf("FetchTimeout() = %v, want 15s", got)
	}
	if cfg.Scheduler.FullSweepHours != 12 || cfg.Scheduler.PrioritySweepHours != 4 {
		t.Errorf("sweep cadences = %d/%d, want 12/4", cfg.Scheduler.FullSweepHours, cfg.Scheduler.PrioritySweepHours)
	}
	if cfg.Scheduler.RetentionDays != 90 {
		t.Errorf("retention_days = %d, want 90", cfg.Scheduler.RetentionDays)
	}
	if got := cfg.CacheTTL(); got != time.Hour {
		t.Errorf("CacheTTL() = %v, want 1h", got)
	}
	if got := cfg.FreshnessWindow(); got != 24*time.Hour {
		t.Errorf("FreshnessWindow() = %v, want 24h", got)
	}
	if cfg.Antidetect.DelayMinMs != 2000 || cfg.Antidetect.DelayMaxMs != 5000 {
		t.Errorf("delay range = %d-%d, want 2000-5000", cfg.Antidetect.DelayMinMs, cfg.Antidetect.DelayMaxMs)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
scraper:
  concurrency: 16
  per_store_max: 3
  fetch_timeout_seconds: 20
  max_attempts: 5
  cooldown_seconds: 120
stores:
  bootbarn:
    strategy: static
    rps: 0.5
    burst: 1
    max_concurrent: 2
    price_selector: ".price .value"
    original_price_selector: ".price .strike"
    availability_selector: ".availability"
  ariat:
    strategy: headless
    rps: 0.2
    price_selector: "[data-test=product-price]"
antidetect:
  user_agents: ["agent-a", "agent-b"]
  proxies: ["http://proxy-1:8080"]
  delay_min_ms: 1000
  delay_max_ms: 3000
scheduler:
  full_sweep_hours: 6
  retention_days: 30
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("server.port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Scraper.Concurrency != 16 {
		t.Errorf("scraper.concurrency = %d, want 16", cfg.Scraper.Concurrency)
	}
	if len(cfg.Stores) != 2 {
		t.Fatalf("stores = %d, want 2", len(cfg.Stores))
	}
	bb := cfg.Stores["bootbarn"]
	if bb.Strategy != "static" || bb.PriceSelector != ".price .value" {
		t.Errorf("bootbarn store parsed wrong: %+v", bb)
	}
	if cfg.Stores["ariat"].Strategy != "headless" {
		t.Errorf("ariat strategy = %q, want headless", cfg.Stores["ariat"].Strategy)
	}
	// Defaults still fill unset keys.
	if cfg.Scheduler.PrioritySweepHours != 4 {
		t.Errorf("priority_sweep_hours = %d, want default 4", cfg.Scheduler.PrioritySweepHours)
	}
	if got := cfg.StoreCooldown(); got != 2*time.Minute {
		t.Errorf("StoreCooldown() = %v, want 2m", got)
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero concurrency", func(c *Config) { c.Scraper.Concurrency = 0 }},
		{"zero attempts", func(c *Config) { c.Scraper.MaxAttempts = 0 }},
		{"inverted delay range", func(c *Config) { c.Antidetect.DelayMinMs = 500; c.Antidetect.DelayMaxMs = 100 }},
		{"bad strategy", func(c *Config) {
			c.Stores = map[string]StoreConfig{"x": {Strategy: "ftp", PriceSelector: ".p"}}
		}},
		{"missing price selector", func(c *Config) {
			c.Stores = map[string]StoreConfig{"x": {Strategy: "static"}}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg, err := Load("")
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("Validate() accepted invalid config")
			}
		})
	}
}
