// Package config loads the process-level configuration. One typed struct is
// built at startup; every component consumes a narrow view of it.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Config is the full process configuration.
type Config struct {
	OutputRoot string `yaml:"output_root"`
	DataRoot   string `yaml:"data_root"`
	LogLevel   string `yaml:"log_level"`
	HTTPAddr   string `yaml:"http_addr"`

	Channels []ChannelConfig `yaml:"channels"`

	Providers  map[string]ProviderConfig `yaml:"providers"`
	Redis      RedisConfig               `yaml:"redis"`
	Postgres   PostgresConfig            `yaml:"postgres"`
	Sheet      SheetConfig               `yaml:"sheet"`
	Transport  TransportConfig           `yaml:"transport"`
	Pipeline   PipelineConfig            `yaml:"pipeline"`
	Tracking   TrackingConfig            `yaml:"tracking"`
	Reputation ReputationConfig          `yaml:"reputation"`
}

// ChannelConfig names one monitored chat channel.
type ChannelConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// ProviderConfig holds one market-data provider's endpoint and ceiling.
type ProviderConfig struct {
	BaseURL          string `yaml:"base_url"`
	APIKey           string `yaml:"api_key"`
	RequestsPerMin   int    `yaml:"requests_per_minute"`
	BurstCapacity    int    `yaml:"burst_capacity"`
	TimeoutSeconds   int    `yaml:"timeout_seconds"`
	FailureThreshold int    `yaml:"failure_threshold"`
	CooldownSeconds  int    `yaml:"cooldown_seconds"`
}

// RedisConfig enables the optional second cache tier.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// PostgresConfig enables the optional analytics mirror.
type PostgresConfig struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
}

// SheetConfig enables the secondary sheet sink.
type SheetConfig struct {
	Enabled       bool   `yaml:"enabled"`
	WebhookURL    string `yaml:"webhook_url"`
	Credential    string `yaml:"credential"`
	SpreadsheetID string `yaml:"spreadsheet_id"`
}

// TransportConfig configures the chat-transport collaborator.
type TransportConfig struct {
	WebsocketURL string `yaml:"websocket_url"`
	AuthToken    string `yaml:"auth_token"`
	DryRun       bool   `yaml:"dry_run"`
}

// PipelineConfig holds the coordinator and queue knobs.
type PipelineConfig struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	MinMessageLength    int     `yaml:"min_message_length"`
	MaxEngagement       float64 `yaml:"max_engagement"`
	AddressParallelism  int     `yaml:"address_parallelism"`
	QueueCapacity       int     `yaml:"queue_capacity"`
	ScraperLimit        int     `yaml:"scraper_limit"`
	EntryPriceTimeout   int     `yaml:"entry_price_timeout_seconds"`
	ATHWindowTimeout    int     `yaml:"ath_window_timeout_seconds"`
}

// TrackingConfig holds the outcome-tracking windows.
type TrackingConfig struct {
	WindowDays        int `yaml:"window_days"`
	ForwardATHDays    int `yaml:"forward_ath_days"`
	UpdateIntervalSec int `yaml:"update_interval_seconds"`
	CacheTTLSeconds   int `yaml:"cache_ttl_seconds"`
	CacheCapacity     int `yaml:"cache_capacity"`
}

// ReputationConfig holds the tunable composite-score weights.
type ReputationConfig struct {
	WinRateWeight  float64 `yaml:"win_rate_weight"`
	AvgMultWeight  float64 `yaml:"avg_mult_weight"`
	VolumeWeight   float64 `yaml:"volume_weight"`
	RecencyWeight  float64 `yaml:"recency_weight"`
	WinnerMult     float64 `yaml:"winner_multiplier"`
}

// Default returns the configuration with all documented defaults applied.
func Default() *Config {
	return &Config{
		OutputRoot: "out",
		DataRoot:   "data",
		LogLevel:   "info",
		HTTPAddr:   ":8090",
		Providers: map[string]ProviderConfig{
			"dexscreener": {
				BaseURL:          "https://api.dexscreener.com",
				RequestsPerMin:   300,
				BurstCapacity:    10,
				TimeoutSeconds:   10,
				FailureThreshold: 5,
				CooldownSeconds:  60,
			},
			"geckoterminal": {
				BaseURL:          "https://api.geckoterminal.com/api/v2",
				RequestsPerMin:   30,
				BurstCapacity:    5,
				TimeoutSeconds:   10,
				FailureThreshold: 5,
				CooldownSeconds:  60,
			},
			"coingecko": {
				BaseURL:          "https://api.coingecko.com/api/v3",
				RequestsPerMin:   30,
				BurstCapacity:    5,
				TimeoutSeconds:   10,
				FailureThreshold: 5,
				CooldownSeconds:  60,
			},
			"jupiter": {
				BaseURL:          "https://price.jup.ag/v6",
				RequestsPerMin:   600,
				BurstCapacity:    10,
				TimeoutSeconds:   10,
				FailureThreshold: 5,
				CooldownSeconds:  60,
			},
			"cryptocompare": {
				BaseURL:          "https://min-api.cryptocompare.com",
				RequestsPerMin:   100,
				BurstCapacity:    5,
				TimeoutSeconds:   15,
				FailureThreshold: 5,
				CooldownSeconds:  60,
			},
		},
		Pipeline: PipelineConfig{
			ConfidenceThreshold: 0.5,
			MinMessageLength:    5,
			MaxEngagement:       1000,
			AddressParallelism:  5,
			QueueCapacity:       1000,
			ScraperLimit:        100,
			EntryPriceTimeout:   30,
			ATHWindowTimeout:    20,
		},
		Tracking: TrackingConfig{
			WindowDays:        7,
			ForwardATHDays:    30,
			UpdateIntervalSec: 7200,
			CacheTTLSeconds:   300,
			CacheCapacity:     2048,
		},
		Reputation: ReputationConfig{
			WinRateWeight: 0.45,
			AvgMultWeight: 0.35,
			VolumeWeight:  0.10,
			RecencyWeight: 0.10,
			WinnerMult:    2.0,
		},
	}
}

// Load reads the YAML config at path, applies defaults for unset fields, then
// applies environment overrides for credentials.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config YAML: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides credentials from the environment. Secrets never live in
// the YAML file in deployment.
func (c *Config) applyEnv() {
	if v := os.Getenv("SIGNALRUN_TRANSPORT_TOKEN"); v != "" {
		c.Transport.AuthToken = v
	}
	if v := os.Getenv("SIGNALRUN_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("SIGNALRUN_POSTGRES_DSN"); v != "" {
		c.Postgres.DSN = v
		c.Postgres.Enabled = true
	}
	if v := os.Getenv("SIGNALRUN_SHEET_CREDENTIAL"); v != "" {
		c.Sheet.Credential = v
	}
	for name, pc := range c.Providers {
		key := "SIGNALRUN_" + envName(name) + "_API_KEY"
		if v := os.Getenv(key); v != "" {
			pc.APIKey = v
			c.Providers[name] = pc
		}
	}
}

func envName(provider string) string {
	out := make([]byte, 0, len(provider))
	for i := 0; i < len(provider); i++ {
		ch := provider[i]
		if ch >= 'a' && ch <= 'z' {
			ch -= 'a' - 'A'
		}
		if (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9') {
			out = append(out, ch)
		} else {
			out = append(out, '_')
		}
	}
	return string(out)
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.OutputRoot == "" {
		return fmt.Errorf("config: output_root is required")
	}
	if c.DataRoot == "" {
		return fmt.Errorf("config: data_root is required")
	}
	if c.Pipeline.ConfidenceThreshold < 0 || c.Pipeline.ConfidenceThreshold > 1 {
		return fmt.Errorf("config: confidence_threshold must be in [0,1], got %v", c.Pipeline.ConfidenceThreshold)
	}
	if c.Pipeline.AddressParallelism < 1 {
		return fmt.Errorf("config: address_parallelism must be >= 1")
	}
	if c.Tracking.WindowDays < 1 {
		return fmt.Errorf("config: tracking window_days must be >= 1")
	}
	for name, pc := range c.Providers {
		if pc.RequestsPerMin < 1 {
			return fmt.Errorf("config: provider %s requests_per_minute must be >= 1", name)
		}
	}
	return nil
}

// EntryPriceTimeoutDur returns the historical entry-price fetch timeout.
func (p PipelineConfig) EntryPriceTimeoutDur() time.Duration {
	return time.Duration(p.EntryPriceTimeout) * time.Second
}

// ATHWindowTimeoutDur returns the forward-ATH window fetch timeout.
func (p PipelineConfig) ATHWindowTimeoutDur() time.Duration {
	return time.Duration(p.ATHWindowTimeout) * time.Second
}

// CacheTTL returns the current-price cache TTL as a duration.
func (t TrackingConfig) CacheTTL() time.Duration {
	return time.Duration(t.CacheTTLSeconds) * time.Second
}

// UpdateInterval returns the live-update cadence as a duration.
func (t TrackingConfig) UpdateInterval() time.Duration {
	return time.Duration(t.UpdateIntervalSec) * time.Second
}
