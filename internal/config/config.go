// Package config provides configuration management for the trading bot.
package config

import (
	"fmt"
	"os"
	"strings"

	yaml "gopkg.in/yaml.v3"
)

const (
	// defaultRolloverDays is used when rollover.days is unset
	defaultRolloverDays = 4
	// defaultCutoffDay is used when rollover.cutoff_day is unset
	defaultCutoffDay = 21
	// defaultHedgeOffsetPct is used when hedge.offset_pct is unset
	defaultHedgeOffsetPct = 0.03
	// defaultJournalPath is used when journal.path is unset
	defaultJournalPath = "trades.json"
)

// Rollover policy names accepted in rollover.policy.
const (
	PolicyDaysToExpiry = "days_to_expiry"
	PolicyDayOfMonth   = "day_of_month"
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Broker      BrokerConfig      `yaml:"broker"`
	Server      ServerConfig      `yaml:"server"`
	Symbols     SymbolsConfig     `yaml:"symbols"`
	Signals     SignalsConfig     `yaml:"signals"`
	Rollover    RolloverConfig    `yaml:"rollover"`
	Hedge       HedgeConfig       `yaml:"hedge"`
	Journal     JournalConfig     `yaml:"journal"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // paper | live
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// BrokerConfig defines broker API settings.
type BrokerConfig struct {
	APIKey      string `yaml:"api_key"`
	AccessToken string `yaml:"access_token"`
	APIEndpoint string `yaml:"api_endpoint"` // empty uses the production endpoint
}

// ServerConfig defines the webhook HTTP server settings.
type ServerConfig struct {
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"` // empty disables webhook auth
}

// SymbolsConfig defines symbol resolution behavior.
type SymbolsConfig struct {
	// CommodityOnly rejects aliases that do not resolve to a known
	// commodity root instead of passing them through as equity roots.
	CommodityOnly bool `yaml:"commodity_only"`
}

// SignalsConfig defines which signals trigger trading.
type SignalsConfig struct {
	Timeframes []string `yaml:"timeframes"`
}

// RolloverConfig selects and tunes the contract rollover policy.
type RolloverConfig struct {
	Policy    string `yaml:"policy"`     // days_to_expiry | day_of_month
	Days      int    `yaml:"days"`       // days_to_expiry window
	CutoffDay int    `yaml:"cutoff_day"` // day_of_month cutoff
}

// HedgeConfig defines the optional option hedge leg.
type HedgeConfig struct {
	Enabled   bool    `yaml:"enabled"`
	OffsetPct float64 `yaml:"offset_pct"`
}

// JournalConfig defines trade journal storage.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	c.applyDefaults()

	// Environment validation
	if c.Environment.Mode != "paper" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be 'paper' or 'live'")
	}

	// Broker validation
	if c.Broker.APIKey == "" {
		return fmt.Errorf("broker.api_key is required")
	}
	if c.Broker.AccessToken == "" {
		return fmt.Errorf("broker.access_token is required")
	}

	// Server validation
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535")
	}

	// Signals validation
	if len(c.Signals.Timeframes) == 0 {
		return fmt.Errorf("signals.timeframes must list at least one timeframe")
	}
	for i, tf := range c.Signals.Timeframes {
		if strings.TrimSpace(tf) == "" {
			return fmt.Errorf("signals.timeframes[%d] is empty", i)
		}
	}

	// Rollover validation
	switch c.Rollover.Policy {
	case PolicyDaysToExpiry, PolicyDayOfMonth:
	default:
		return fmt.Errorf("rollover.policy must be '%s' or '%s'", PolicyDaysToExpiry, PolicyDayOfMonth)
	}
	if c.Rollover.Days < 1 {
		return fmt.Errorf("rollover.days must be >= 1")
	}
	if c.Rollover.CutoffDay < 1 || c.Rollover.CutoffDay > 28 {
		return fmt.Errorf("rollover.cutoff_day must be in 1..28")
	}

	// Hedge validation
	if c.Hedge.OffsetPct <= 0 || c.Hedge.OffsetPct >= 0.5 {
		return fmt.Errorf("hedge.offset_pct must be in (0, 0.5)")
	}

	return nil
}

// applyDefaults fills unset optional fields before validation.
func (c *Config) applyDefaults() {
	if c.Environment.LogLevel == "" {
		c.Environment.LogLevel = "info"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 5000
	}
	if c.Rollover.Policy == "" {
		c.Rollover.Policy = PolicyDaysToExpiry
	}
	if c.Rollover.Days == 0 {
		c.Rollover.Days = defaultRolloverDays
	}
	if c.Rollover.CutoffDay == 0 {
		c.Rollover.CutoffDay = defaultCutoffDay
	}
	if c.Hedge.OffsetPct == 0 {
		c.Hedge.OffsetPct = defaultHedgeOffsetPct
	}
	if c.Journal.Path == "" {
		c.Journal.Path = defaultJournalPath
	}
}

// IsPaperTrading returns true if the bot is configured for paper trading.
func (c *Config) IsPaperTrading() bool {
	return c.Environment.Mode == "paper"
}
