// Package config provides configuration management for the trading engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all engine configuration.
type Config struct {
	Trading  TradingConfig  `mapstructure:"trading"`
	Strategy StrategyConfig `mapstructure:"strategy"`
	Risk     RiskConfig     `mapstructure:"risk"`
	Venue    VenueConfig    `mapstructure:"venue"`
	Janitor  JanitorConfig  `mapstructure:"janitor"`
	Manager  ManagerConfig  `mapstructure:"manager"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Store    StoreConfig    `mapstructure:"store"`
}

// TradingConfig holds trading-mode configuration.
type TradingConfig struct {
	Mode    string   `mapstructure:"mode"` // "live", "paper"
	Symbols []string `mapstructure:"symbols"`
}

// StrategyConfig holds the ATR pullback strategy parameters.
type StrategyConfig struct {
	ATRPeriod           int     `mapstructure:"atr_period"`
	SwingLookback       int     `mapstructure:"swing_lookback"`
	PullbackFraction    float64 `mapstructure:"pullback_fraction"`
	StopMultiple        float64 `mapstructure:"stop_multiple"`
	LimitOffsetFraction float64 `mapstructure:"limit_offset_fraction"`
	RMultiple           float64 `mapstructure:"r_multiple"`
}

// RiskConfig holds position sizing limits.
type RiskConfig struct {
	RiskPercent    float64 `mapstructure:"risk_percent"`
	MaxNotionalPct float64 `mapstructure:"max_notional_pct"` // 0 disables the notional cap
}

// VenueConfig holds venue connection configuration.
type VenueConfig struct {
	URL              string        `mapstructure:"url"`
	Account          string        `mapstructure:"account"`
	BackoffBase      time.Duration `mapstructure:"reconnect_backoff_base"`
	BackoffCap       time.Duration `mapstructure:"reconnect_backoff_cap"`
	StablePeriod     time.Duration `mapstructure:"stable_period"`
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat_timeout"`
	AckRetries       int           `mapstructure:"ack_retries"`
	MaxAttempts      int           `mapstructure:"max_reconnect_attempts"` // 0 means unlimited
}

// JanitorConfig holds session close-out policy configuration.
type JanitorConfig struct {
	LeadMinutes    int           `mapstructure:"lead_minutes"`
	FlattenOnClose bool          `mapstructure:"flatten_on_close"`
	CheckInterval  time.Duration `mapstructure:"check_interval"`
}

// ManagerConfig holds the position manager loop configuration.
type ManagerConfig struct {
	TickInterval           time.Duration `mapstructure:"tick_interval"`
	TrailStopPercent       float64       `mapstructure:"trail_stop_percent"` // 0 disables trailing
	DraftExpiry            time.Duration `mapstructure:"draft_expiry"`
	MaxConsecutiveFailures int           `mapstructure:"max_consecutive_failures"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Console  bool   `mapstructure:"console"`
	File     bool   `mapstructure:"file"`
	FilePath string `mapstructure:"file_path"`
}

// StoreConfig holds journal persistence configuration.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/bracket-trader"
	}
	return filepath.Join(home, ".config", "bracket-trader")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("trading.mode", "paper")

	v.SetDefault("strategy.atr_period", 14)
	v.SetDefault("strategy.swing_lookback", 20)
	v.SetDefault("strategy.pullback_fraction", 0.5)
	v.SetDefault("strategy.stop_multiple", 2.0)
	v.SetDefault("strategy.limit_offset_fraction", 0.1)
	v.SetDefault("strategy.r_multiple", 2.0)

	v.SetDefault("risk.risk_percent", 1.0)
	v.SetDefault("risk.max_notional_pct", 0.0)

	v.SetDefault("venue.url", "ws://127.0.0.1:7497/session")
	v.SetDefault("venue.reconnect_backoff_base", 2*time.Second)
	v.SetDefault("venue.reconnect_backoff_cap", 60*time.Second)
	v.SetDefault("venue.stable_period", 5*time.Minute)
	v.SetDefault("venue.heartbeat_timeout", 10*time.Second)
	v.SetDefault("venue.ack_retries", 2)
	v.SetDefault("venue.max_reconnect_attempts", 0)

	v.SetDefault("janitor.lead_minutes", 20)
	v.SetDefault("janitor.flatten_on_close", false)
	v.SetDefault("janitor.check_interval", 30*time.Second)

	v.SetDefault("manager.tick_interval", 5*time.Second)
	v.SetDefault("manager.trail_stop_percent", 0.0)
	v.SetDefault("manager.draft_expiry", 30*time.Minute)
	v.SetDefault("manager.max_consecutive_failures", 5)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.file", false)

	v.SetDefault("store.path", filepath.Join(DefaultConfigDir(), "journal.db"))
}

// Load loads configuration from the specified directory. If configDir is
// empty, the default config directory is used. Missing files are fine; every
// option has a default. Environment variables prefixed BRACKET_TRADER
// override file values.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.SetEnvPrefix("BRACKET_TRADER")
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration values for consistency.
func (c *Config) Validate() error {
	if c.Trading.Mode != "live" && c.Trading.Mode != "paper" {
		return fmt.Errorf("trading.mode must be \"live\" or \"paper\", got %q", c.Trading.Mode)
	}
	if c.Strategy.ATRPeriod < 1 {
		return fmt.Errorf("strategy.atr_period must be >= 1, got %d", c.Strategy.ATRPeriod)
	}
	if c.Strategy.SwingLookback < 1 {
		return fmt.Errorf("strategy.swing_lookback must be >= 1, got %d", c.Strategy.SwingLookback)
	}
	if c.Strategy.PullbackFraction < 0 {
		return fmt.Errorf("strategy.pullback_fraction must be >= 0, got %g", c.Strategy.PullbackFraction)
	}
	if c.Strategy.LimitOffsetFraction < 0 {
		return fmt.Errorf("strategy.limit_offset_fraction must be >= 0, got %g", c.Strategy.LimitOffsetFraction)
	}
	if c.Strategy.StopMultiple <= 0 {
		return fmt.Errorf("strategy.stop_multiple must be positive, got %g", c.Strategy.StopMultiple)
	}
	if c.Strategy.RMultiple <= 0 {
		return fmt.Errorf("strategy.r_multiple must be positive, got %g", c.Strategy.RMultiple)
	}
	if c.Risk.RiskPercent <= 0 || c.Risk.RiskPercent > 100 {
		return fmt.Errorf("risk.risk_percent must be in (0, 100], got %g", c.Risk.RiskPercent)
	}
	if c.Risk.MaxNotionalPct < 0 {
		return fmt.Errorf("risk.max_notional_pct must be >= 0, got %g", c.Risk.MaxNotionalPct)
	}
	if c.Venue.BackoffBase <= 0 {
		return fmt.Errorf("venue.reconnect_backoff_base must be positive, got %s", c.Venue.BackoffBase)
	}
	if c.Venue.BackoffCap < c.Venue.BackoffBase {
		return fmt.Errorf("venue.reconnect_backoff_cap (%s) must be >= base (%s)", c.Venue.BackoffCap, c.Venue.BackoffBase)
	}
	if c.Venue.HeartbeatTimeout <= 0 {
		return fmt.Errorf("venue.heartbeat_timeout must be positive, got %s", c.Venue.HeartbeatTimeout)
	}
	if c.Venue.MaxAttempts < 0 {
		return fmt.Errorf("venue.max_reconnect_attempts must be >= 0, got %d", c.Venue.MaxAttempts)
	}
	if c.Janitor.LeadMinutes <= 0 {
		return fmt.Errorf("janitor.lead_minutes must be positive, got %d", c.Janitor.LeadMinutes)
	}
	if c.Manager.TickInterval <= 0 {
		return fmt.Errorf("manager.tick_interval must be positive, got %s", c.Manager.TickInterval)
	}
	if c.Manager.MaxConsecutiveFailures < 1 {
		return fmt.Errorf("manager.max_consecutive_failures must be >= 1, got %d", c.Manager.MaxConsecutiveFailures)
	}
	return nil
}
