// Package config loads application configuration from config.yaml and
// RADAR_-prefixed environment variables, and initializes logging.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
	Upstream UpstreamConfig `yaml:"upstream" mapstructure:"upstream"`
	Cache    CacheConfig    `yaml:"cache" mapstructure:"cache"`
	Scoring  ScoringConfig  `yaml:"scoring" mapstructure:"scoring"`
	Usage    UsageConfig    `yaml:"usage" mapstructure:"usage"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// UpstreamConfig configures the parcel-data provider client.
type UpstreamConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	APIKey      string  `yaml:"api_key" mapstructure:"api_key"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRecords  int     `yaml:"max_records" mapstructure:"max_records"`
	PageSize    int     `yaml:"page_size" mapstructure:"page_size"`
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	RateBurst   int     `yaml:"rate_burst" mapstructure:"rate_burst"`
}

// Timeout returns the per-fetch deadline for upstream calls.
func (c UpstreamConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// CacheConfig configures the property cache.
type CacheConfig struct {
	TTLSecs int `yaml:"ttl_secs" mapstructure:"ttl_secs"`
}

// TTL returns the cache entry time-to-live.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSecs) * time.Second
}

// ScoringConfig configures the batch scoring engine. Weights are
// normalized to sum to 1 when the scorer is constructed.
type ScoringConfig struct {
	EquityWeight       float64 `yaml:"equity_weight" mapstructure:"equity_weight"`
	ValueGapWeight     float64 `yaml:"value_gap_weight" mapstructure:"value_gap_weight"`
	RecencyWeight      float64 `yaml:"recency_weight" mapstructure:"recency_weight"`
	RecencyFullDays    int     `yaml:"recency_full_days" mapstructure:"recency_full_days"`
	RecencyHorizonDays int     `yaml:"recency_horizon_days" mapstructure:"recency_horizon_days"`
}

// UsageConfig configures usage tracking, the event store, and plan
// enforcement. When Enabled is false, quota checks always pass and no
// events are recorded.
type UsageConfig struct {
	Enabled              bool   `yaml:"enabled" mapstructure:"enabled"`
	Driver               string `yaml:"driver" mapstructure:"driver"`
	DSN                  string `yaml:"dsn" mapstructure:"dsn"`
	DefaultPlan          string `yaml:"default_plan" mapstructure:"default_plan"`
	CatalogPath          string `yaml:"catalog_path" mapstructure:"catalog_path"`
	AlertWebhookURL      string `yaml:"alert_webhook_url" mapstructure:"alert_webhook_url"`
	AlertMinIntervalMins int    `yaml:"alert_min_interval_mins" mapstructure:"alert_min_interval_mins"`
}

// AlertMinInterval returns the minimum gap between repeated alerts for the
// same account and event type.
func (c UsageConfig) AlertMinInterval() time.Duration {
	mins := c.AlertMinIntervalMins
	if mins < 1 {
		mins = 1
	}
	return time.Duration(mins) * time.Minute
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("RADAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"http://localhost:5173", "http://127.0.0.1:5173"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("upstream.base_url", "https://app.realie.ai/api/public/property/search/")
	v.SetDefault("upstream.timeout_secs", 10)
	v.SetDefault("upstream.max_records", 500)
	v.SetDefault("upstream.page_size", 100)
	v.SetDefault("upstream.rate_limit", 5)
	v.SetDefault("upstream.rate_burst", 5)
	v.SetDefault("cache.ttl_secs", 300)
	v.SetDefault("scoring.equity_weight", 0.45)
	v.SetDefault("scoring.value_gap_weight", 0.35)
	v.SetDefault("scoring.recency_weight", 0.20)
	v.SetDefault("scoring.recency_full_days", 730)
	v.SetDefault("scoring.recency_horizon_days", 3650)
	v.SetDefault("usage.enabled", true)
	v.SetDefault("usage.driver", "sqlite")
	v.SetDefault("usage.dsn", "data/usage.db")
	v.SetDefault("usage.default_plan", "starter")
	v.SetDefault("usage.alert_min_interval_mins", 30)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
