// Package config provides configuration management for the auto trader
// process. Runtime trading thresholds live in the datastore; this file only
// covers process wiring: endpoints, credentials, schedule and storage.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	yaml "gopkg.in/yaml.v3"
)

// Defaults applied when the corresponding field is unset.
const (
	defaultMarketCycleCron = "*/15 9-16 * * MON-FRI"
	defaultOpenPrepCron    = "36 9 * * MON-FRI"
	defaultPostCloseCron   = "20 16 * * MON-FRI"
	defaultDashboardAddr   = ":8090"
	defaultStoragePath     = "autotrader.db"
	defaultBroadSymbol     = "SPY"
)

// Config represents the complete process configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Gateway     GatewayConfig     `yaml:"gateway"`
	Services    ServicesConfig    `yaml:"services"`
	MarketData  MarketDataConfig  `yaml:"market_data"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
	Storage     StorageConfig     `yaml:"storage"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // paper | live
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// GatewayConfig defines brokerage-gateway settings.
type GatewayConfig struct {
	BaseURL   string `yaml:"base_url"`
	AccountID string `yaml:"account_id"`
}

// ServicesConfig points at the external idea/analysis/suggestion services.
type ServicesConfig struct {
	ScannerURL     string `yaml:"scanner_url"`
	AnalysisURL    string `yaml:"analysis_url"`
	SuggestionsURL string `yaml:"suggestions_url"`
}

// MarketDataConfig defines quote/fundamentals provider settings.
type MarketDataConfig struct {
	BaseURL     string `yaml:"base_url"`
	Token       string `yaml:"token"`
	ChartsURL   string `yaml:"charts_url"`
	BroadSymbol string `yaml:"broad_symbol"` // macro-regime reference, e.g. SPY
}

// ScheduleConfig defines the cron triggers, all evaluated in ET.
type ScheduleConfig struct {
	MarketCycleCron string `yaml:"market_cycle_cron"`
	OpenPrepCron    string `yaml:"open_prep_cron"`
	PostCloseCron   string `yaml:"post_close_cron"`
	StartupDelay    string `yaml:"startup_delay"` // duration before the first cycle
}

// StorageConfig defines datastore settings.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// DashboardConfig defines the status API listener.
type DashboardConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	AuthToken string `yaml:"auth_token"`
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

	// Expand environment variables so secrets stay out of the file.
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Schedule.MarketCycleCron == "" {
		c.Schedule.MarketCycleCron = defaultMarketCycleCron
	}
	if c.Schedule.OpenPrepCron == "" {
		c.Schedule.OpenPrepCron = defaultOpenPrepCron
	}
	if c.Schedule.PostCloseCron == "" {
		c.Schedule.PostCloseCron = defaultPostCloseCron
	}
	if c.Storage.Path == "" {
		c.Storage.Path = defaultStoragePath
	}
	if c.Dashboard.Addr == "" {
		c.Dashboard.Addr = defaultDashboardAddr
	}
	if c.MarketData.BroadSymbol == "" {
		c.MarketData.BroadSymbol = defaultBroadSymbol
	}
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	if c.Environment.Mode != "paper" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be 'paper' or 'live'")
	}

	if c.Gateway.BaseURL == "" {
		return fmt.Errorf("gateway.base_url is required")
	}
	if c.Gateway.AccountID == "" {
		return fmt.Errorf("gateway.account_id is required")
	}

	if c.Services.ScannerURL == "" {
		return fmt.Errorf("services.scanner_url is required")
	}
	if c.Services.AnalysisURL == "" {
		return fmt.Errorf("services.analysis_url is required")
	}
	if c.Services.SuggestionsURL == "" {
		return fmt.Errorf("services.suggestions_url is required")
	}

	if c.MarketData.BaseURL == "" {
		return fmt.Errorf("market_data.base_url is required")
	}
	if c.MarketData.Token == "" {
		return fmt.Errorf("market_data.token is required")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	for name, expr := range map[string]string{
		"schedule.market_cycle_cron": c.Schedule.MarketCycleCron,
		"schedule.open_prep_cron":    c.Schedule.OpenPrepCron,
		"schedule.post_close_cron":   c.Schedule.PostCloseCron,
	} {
		if _, err := parser.Parse(expr); err != nil {
			return fmt.Errorf("%s invalid: %w", name, err)
		}
	}
	if c.Schedule.StartupDelay != "" {
		if _, err := time.ParseDuration(c.Schedule.StartupDelay); err != nil {
			return fmt.Errorf("schedule.startup_delay invalid: %w", err)
		}
	}
	return nil
}

// StartupDelayDuration returns the parsed startup delay, zero when unset.
func (c *Config) StartupDelayDuration() time.Duration {
	if c.Schedule.StartupDelay == "" {
		return 0
	}
	d, err := time.ParseDuration(c.Schedule.StartupDelay)
	if err != nil {
		return 0
	}
	return d
}

// IsLive reports whether the process targets a live account.
func (c *Config) IsLive() bool { return c.Environment.Mode == "live" }
