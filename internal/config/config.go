// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/walldrop/walldrop/internal/catalog"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Store        StoreConfig         `mapstructure:"store"`
	Telegram     TelegramConfig      `mapstructure:"telegram"`
	Harvest      HarvestConfig       `mapstructure:"harvest"`
	Pipeline     PipelineConfig      `mapstructure:"pipeline"`
	Autorun      AutorunConfig       `mapstructure:"autorun"`
	Ops          OpsConfig           `mapstructure:"ops"`
	Logging      LoggingConfig       `mapstructure:"logging"`
	Destinations []DestinationConfig `mapstructure:"destinations"`
}

// StoreConfig selects and configures the catalog store backend.
type StoreConfig struct {
	// Provider is "flatfile" or "postgres".
	Provider string `mapstructure:"provider"`
	// Path is the flatfile catalog location.
	Path string `mapstructure:"path"`
	// DSN is the postgres connection string.
	DSN string `mapstructure:"dsn"`
	// Table is the postgres items table name.
	Table string `mapstructure:"table"`
}

// TelegramConfig configures the delivery client.
type TelegramConfig struct {
	Token          string  `mapstructure:"token"`
	BaseURL        string  `mapstructure:"base_url"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	SendsPerSecond float64 `mapstructure:"sends_per_second"`
}

// HarvestConfig governs the catalog-site crawl.
type HarvestConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	UserAgent      string `mapstructure:"user_agent"`
	DelayMs        int    `mapstructure:"delay_ms"`
	MaxPages       int    `mapstructure:"max_pages"`
	StopAfterKnown int    `mapstructure:"stop_after_known"`
}

// PipelineConfig governs delivery attempt behavior.
type PipelineConfig struct {
	TempDir             string `mapstructure:"temp_dir"`
	InterSendPauseSec   int    `mapstructure:"inter_send_pause_seconds"`
	SimilarityThreshold int    `mapstructure:"similarity_threshold"`
	FetchTimeoutSec     int    `mapstructure:"fetch_timeout_seconds"`
	MaxFetchBytes       int64  `mapstructure:"max_fetch_bytes"`
	OutcomeRetries      int    `mapstructure:"outcome_retries"`
}

// AutorunConfig controls the re-run driver used by single-pass mode.
type AutorunConfig struct {
	ThresholdSeconds int    `mapstructure:"threshold_seconds"`
	TriggerCommand   string `mapstructure:"trigger_command"`
}

// OpsConfig controls the health/metrics HTTP listener.
type OpsConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// DestinationConfig is one delivery destination as written in the config
// file.
type DestinationConfig struct {
	Name            string   `mapstructure:"name"`
	ChatID          int64    `mapstructure:"chat_id"`
	Categories      []string `mapstructure:"categories"`
	IntervalSeconds int      `mapstructure:"interval_seconds"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WALLDROP")
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
	v.SetDefault("store.provider", "flatfile")
	v.SetDefault("store.path", "wallpapers.json")
	v.SetDefault("store.table", "wallpapers")
	v.SetDefault("telegram.timeout_seconds", 120)
	v.SetDefault("telegram.sends_per_second", 0.5)
	v.SetDefault("harvest.base_url", "https://4kwallpapers.com")
	v.SetDefault("harvest.user_agent", "walldrop/1.0")
	v.SetDefault("harvest.delay_ms", 500)
	v.SetDefault("harvest.stop_after_known", 50)
	v.SetDefault("pipeline.inter_send_pause_seconds", 5)
	v.SetDefault("pipeline.similarity_threshold", 5)
	v.SetDefault("pipeline.fetch_timeout_seconds", 60)
	v.SetDefault("pipeline.max_fetch_bytes", 100<<20)
	v.SetDefault("pipeline.outcome_retries", 3)
	v.SetDefault("autorun.threshold_seconds", 600)
	v.SetDefault("ops.port", 8080)
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	switch c.Store.Provider {
	case "flatfile":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path must be set for the flatfile provider")
		}
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn must be set for the postgres provider")
		}
	default:
		return fmt.Errorf("store.provider must be flatfile or postgres, got %q", c.Store.Provider)
	}
	if c.Telegram.Token == "" {
		return fmt.Errorf("telegram.token must be set")
	}
	if c.Pipeline.SimilarityThreshold <= 0 || c.Pipeline.SimilarityThreshold > 64 {
		return fmt.Errorf("pipeline.similarity_threshold must be in (0, 64]")
	}
	if c.Ops.Port <= 0 {
		return fmt.Errorf("ops.port must be > 0")
	}
	if len(c.Destinations) == 0 {
		return fmt.Errorf("at least one destination must be configured")
	}
	seen := make(map[string]bool, len(c.Destinations))
	for i, d := range c.Destinations {
		if d.Name == "" {
			return fmt.Errorf("destinations[%d].name must be set", i)
		}
		if seen[d.Name] {
			return fmt.Errorf("destination name %q is duplicated", d.Name)
		}
		seen[d.Name] = true
		if d.ChatID == 0 {
			return fmt.Errorf("destination %q: chat_id must be set", d.Name)
		}
		if d.IntervalSeconds <= 0 {
			return fmt.Errorf("destination %q: interval_seconds must be > 0", d.Name)
		}
	}
	return nil
}

// DestinationSet converts the configured destinations to catalog form.
func (c Config) DestinationSet() []catalog.Destination {
	out := make([]catalog.Destination, 0, len(c.Destinations))
	for _, d := range c.Destinations {
		out = append(out, catalog.Destination{
			Name:       d.Name,
			ChatID:     d.ChatID,
			Categories: d.Categories,
			Interval:   time.Duration(d.IntervalSeconds) * time.Second,
		})
	}
	return out
}
