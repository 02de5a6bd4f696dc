package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad(t *testing.T) {
	// Test with example config file (should work for basic structure validation)
	configPath := filepath.Join("..", "..", "config.yaml.example")
	_, err := Load(configPath)
	if err != nil {
		t.Errorf("Expected config to load successfully from example file, got error: %v", err)
	}
}

func TestLoad_InvalidPath(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	if err == nil {
		t.Error("Expected error when loading nonexistent config file, got nil")
	}
}

func TestLoad_UnknownFieldRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
environment: {mode: paper}
broker: {api_key: k, access_token: t}
signals: {timeframes: ["5m"]}
bogus_section: {x: 1}
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Expected error for an unknown top-level section")
	}
}

func TestLoad_ExpandsEnvironmentVariables(t *testing.T) {
	t.Setenv("FUTROLL_TEST_TOKEN", "secret-token")
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
environment: {mode: paper}
broker: {api_key: k, access_token: ${FUTROLL_TEST_TOKEN}}
signals: {timeframes: ["5m"]}
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Broker.AccessToken != "secret-token" {
		t.Errorf("access_token = %q, want expanded env value", cfg.Broker.AccessToken)
	}
}

func baseConfig() *Config {
	return &Config{
		Environment: EnvironmentConfig{Mode: "paper", LogLevel: "info"},
		Broker: BrokerConfig{
			APIKey:      "test-key",
			AccessToken: "test-token",
		},
		Server:  ServerConfig{Port: 5000},
		Signals: SignalsConfig{Timeframes: []string{"5m"}},
		Rollover: RolloverConfig{
			Policy:    PolicyDaysToExpiry,
			Days:      4,
			CutoffDay: 21,
		},
		Hedge:   HedgeConfig{Enabled: false, OffsetPct: 0.03},
		Journal: JournalConfig{Path: "trades.json"},
	}
}

func TestValidate(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		config := baseConfig()
		if err := config.Validate(); err != nil {
			t.Errorf("Expected valid config, got error: %v", err)
		}
	})

	t.Run("invalid mode", func(t *testing.T) {
		config := baseConfig()
		config.Environment.Mode = "production"
		err := config.Validate()
		if err == nil || !strings.Contains(err.Error(), "environment.mode") {
			t.Errorf("Expected environment.mode error, got: %v", err)
		}
	})

	t.Run("missing access token", func(t *testing.T) {
		config := baseConfig()
		config.Broker.AccessToken = ""
		err := config.Validate()
		if err == nil || !strings.Contains(err.Error(), "broker.access_token") {
			t.Errorf("Expected broker.access_token error, got: %v", err)
		}
	})

	t.Run("port out of range", func(t *testing.T) {
		config := baseConfig()
		config.Server.Port = 70000
		err := config.Validate()
		if err == nil || !strings.Contains(err.Error(), "server.port") {
			t.Errorf("Expected server.port error, got: %v", err)
		}
	})

	t.Run("no timeframes", func(t *testing.T) {
		config := baseConfig()
		config.Signals.Timeframes = nil
		err := config.Validate()
		if err == nil || !strings.Contains(err.Error(), "signals.timeframes") {
			t.Errorf("Expected signals.timeframes error, got: %v", err)
		}
	})

	t.Run("unknown rollover policy", func(t *testing.T) {
		config := baseConfig()
		config.Rollover.Policy = "lunar_cycle"
		err := config.Validate()
		if err == nil || !strings.Contains(err.Error(), "rollover.policy") {
			t.Errorf("Expected rollover.policy error, got: %v", err)
		}
	})

	t.Run("cutoff day out of range", func(t *testing.T) {
		config := baseConfig()
		config.Rollover.CutoffDay = 31
		err := config.Validate()
		if err == nil || !strings.Contains(err.Error(), "rollover.cutoff_day") {
			t.Errorf("Expected rollover.cutoff_day error, got: %v", err)
		}
	})

	t.Run("hedge offset out of range", func(t *testing.T) {
		config := baseConfig()
		config.Hedge.OffsetPct = 0.5
		err := config.Validate()
		if err == nil || !strings.Contains(err.Error(), "hedge.offset_pct") {
			t.Errorf("Expected hedge.offset_pct error, got: %v", err)
		}
	})
}

func TestValidate_AppliesDefaults(t *testing.T) {
	config := &Config{
		Environment: EnvironmentConfig{Mode: "paper"},
		Broker:      BrokerConfig{APIKey: "k", AccessToken: "t"},
		Signals:     SignalsConfig{Timeframes: []string{"5m"}},
	}
	if err := config.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if config.Server.Port != 5000 {
		t.Errorf("port default = %d, want 5000", config.Server.Port)
	}
	if config.Rollover.Policy != PolicyDaysToExpiry || config.Rollover.Days != 4 {
		t.Errorf("rollover defaults = %+v", config.Rollover)
	}
	if config.Rollover.CutoffDay != 21 {
		t.Errorf("cutoff_day default = %d, want 21", config.Rollover.CutoffDay)
	}
	if config.Hedge.OffsetPct != 0.03 {
		t.Errorf("offset_pct default = %v, want 0.03", config.Hedge.OffsetPct)
	}
	if config.Journal.Path != "trades.json" {
		t.Errorf("journal path default = %q", config.Journal.Path)
	}
	if config.Environment.LogLevel != "info" {
		t.Errorf("log_level default = %q", config.Environment.LogLevel)
	}
}

func TestIsPaperTrading(t *testing.T) {
	config := baseConfig()
	if !config.IsPaperTrading() {
		t.Error("paper mode should report paper trading")
	}
	config.Environment.Mode = "live"
	if config.IsPaperTrading() {
		t.Error("live mode should not report paper trading")
	}
}
