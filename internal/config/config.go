// Package config provides configuration management for the pipeline.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Gateway GatewayConfig `mapstructure:"gateway"`
	Stream  StreamConfig  `mapstructure:"stream"`
	PL      PLConfig      `mapstructure:"pl"`
	Risk    RiskConfig    `mapstructure:"risk"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// GatewayConfig holds market-data gateway configuration.
type GatewayConfig struct {
	Providers      []ProviderConfig `mapstructure:"providers"`
	RetryAttempts  int              `mapstructure:"retry_attempts"`
	RetryDelay     time.Duration    `mapstructure:"retry_delay"`
	CacheTTL       time.Duration    `mapstructure:"cache_ttl"`
	BatchSize      int              `mapstructure:"batch_size"`
	BatchDelay     time.Duration    `mapstructure:"batch_delay"`
	PriceCacheSize int              `mapstructure:"price_cache_size"`
}

// ProviderConfig describes one quote provider endpoint.
type ProviderConfig struct {
	Name    string        `mapstructure:"name"`
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// StreamConfig holds streaming transport configuration.
type StreamConfig struct {
	URL                  string        `mapstructure:"url"`
	ThrottleInterval     time.Duration `mapstructure:"throttle_interval"`
	BatchSize            int           `mapstructure:"batch_size"`
	QueueLimit           int           `mapstructure:"queue_limit"`
	OffloadThreshold     int           `mapstructure:"offload_threshold"`
	ReconnectBaseDelay   time.Duration `mapstructure:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `mapstructure:"reconnect_max_delay"`
	ReconnectMaxAttempts int           `mapstructure:"reconnect_max_attempts"`
}

// PLConfig holds P&L engine configuration.
type PLConfig struct {
	BaseInterval       time.Duration `mapstructure:"base_interval"`
	FastInterval       time.Duration `mapstructure:"fast_interval"`
	MonitorInterval    time.Duration `mapstructure:"monitor_interval"`
	VolatilityPercent  float64       `mapstructure:"volatility_percent"`
	DebounceInterval   time.Duration `mapstructure:"debounce_interval"`
	HeartbeatEvery     int           `mapstructure:"heartbeat_every"`
	PriceEpsilon       float64       `mapstructure:"price_epsilon"`
	HighMessageRate    float64       `mapstructure:"high_message_rate"`
	LowMessageRate     float64       `mapstructure:"low_message_rate"`
	ThrottleMinClamp   time.Duration `mapstructure:"throttle_min_clamp"`
	ThrottleMaxClamp   time.Duration `mapstructure:"throttle_max_clamp"`
	ThrottleNudgeRatio float64       `mapstructure:"throttle_nudge_ratio"`
}

// RiskConfig holds margin/risk engine configuration.
type RiskConfig struct {
	AmberUtilization   float64  `mapstructure:"amber_utilization"`
	RedUtilization     float64  `mapstructure:"red_utilization"`
	IncomeETFSymbols   []string `mapstructure:"income_etf_symbols"`
	DividendRiskFactor float64  `mapstructure:"dividend_risk_factor"`
	DividendRiskDays   int      `mapstructure:"dividend_risk_days"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Console  bool   `mapstructure:"console"`
	File     bool   `mapstructure:"file"`
	FilePath string `mapstructure:"file_path"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/optionsim"
	}
	return filepath.Join(home, ".config", "optionsim")
}

// Default returns the built-in configuration defaults.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			RetryAttempts:  3,
			RetryDelay:     time.Second,
			CacheTTL:       5 * time.Minute,
			BatchSize:      5,
			BatchDelay:     200 * time.Millisecond,
			PriceCacheSize: 500,
		},
		Stream: StreamConfig{
			ThrottleInterval:     time.Second,
			BatchSize:            50,
			QueueLimit:           1000,
			OffloadThreshold:     10,
			ReconnectBaseDelay:   time.Second,
			ReconnectMaxDelay:    30 * time.Second,
			ReconnectMaxAttempts: 10,
		},
		PL: PLConfig{
			BaseInterval:       5 * time.Second,
			FastInterval:       time.Second,
			MonitorInterval:    5 * time.Second,
			VolatilityPercent:  2.0,
			DebounceInterval:   100 * time.Millisecond,
			HeartbeatEvery:     10,
			PriceEpsilon:       0.01,
			HighMessageRate:    100,
			LowMessageRate:     10,
			ThrottleMinClamp:   100 * time.Millisecond,
			ThrottleMaxClamp:   5 * time.Second,
			ThrottleNudgeRatio: 0.10,
		},
		Risk: RiskConfig{
			AmberUtilization:   60,
			RedUtilization:     80,
			IncomeETFSymbols:   []string{"MSTY", "TSLY", "NVDY", "CONY", "ULTY", "YMAX"},
			DividendRiskFactor: 1.5,
			DividendRiskDays:   5,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			File:    true,
		},
	}
}

// Load loads configuration from the specified directory, layered over the
// built-in defaults. If configDir is empty, uses the default directory.
// A missing config file is not an error.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := Default()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.SetEnvPrefix("OPTIONSIM")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		return cfg, nil
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Gateway.RetryAttempts <= 0 {
		return fmt.Errorf("gateway.retry_attempts must be positive")
	}
	if c.Stream.BatchSize <= 0 {
		return fmt.Errorf("stream.batch_size must be positive")
	}
	if c.Stream.QueueLimit < c.Stream.BatchSize {
		return fmt.Errorf("stream.queue_limit must be at least stream.batch_size")
	}
	if c.PL.FastInterval > c.PL.BaseInterval {
		return fmt.Errorf("pl.fast_interval must not exceed pl.base_interval")
	}
	if c.Risk.RedUtilization < c.Risk.AmberUtilization {
		return fmt.Errorf("risk.red_utilization must be at least risk.amber_utilization")
	}
	return nil
}
