// internal/config/config.go
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(filename string) (*Config, error) {
	if filename == "" {
		return nil, fmt.Errorf("configuration filename cannot be empty")
	}

	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", filename)
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	return LoadFromBytes(data)
}

// LoadFromBytes loads configuration from YAML bytes. ${VAR} references are
// expanded from the environment before parsing; empty input yields defaults.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expanded), &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML configuration: %w", err)
	}

	applyDefaults(&config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// LoadFromReader loads configuration from an io.Reader
func LoadFromReader(reader io.Reader) (*Config, error) {
	if reader == nil {
		return nil, fmt.Errorf("reader cannot be nil")
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read from reader: %w", err)
	}

	return LoadFromBytes(data)
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var config Config
	applyDefaults(&config)
	return &config
}

// SaveToFile saves configuration to a YAML file
func SaveToFile(config *Config, filename string) error {
	if config == nil {
		return fmt.Errorf("configuration cannot be nil")
	}
	if filename == "" {
		return fmt.Errorf("filename cannot be empty")
	}

	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration to YAML: %w", err)
	}

	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}

	return nil
}

// applyDefaults applies default values to the configuration
func applyDefaults(config *Config) {
	if config.Server.Addr == "" {
		config.Server.Addr = ":8080"
	}
	if config.Server.ReadTimeout == 0 {
		config.Server.ReadTimeout = 15 * time.Second
	}
	// a full sweep can take three strategy timeouts plus delays
	if config.Server.WriteTimeout == 0 {
		config.Server.WriteTimeout = 5 * time.Minute
	}
	if config.Server.MetricsPath == "" {
		config.Server.MetricsPath = "/metrics"
	}

	if config.Target.BaseURL == "" {
		config.Target.BaseURL = "https://partsouq.com"
	}
	if config.Target.SearchPath == "" {
		config.Target.SearchPath = "/en/search/all"
	}
	if config.Target.PartsPath == "" {
		config.Target.PartsPath = "/en/catalog/genuine/unit"
	}

	if config.Direct.Timeout == 0 {
		config.Direct.Timeout = 30 * time.Second
	}
	if config.Direct.RequestsPerSecond == 0 {
		config.Direct.RequestsPerSecond = 1.0
	}
	if config.Direct.Burst == 0 {
		config.Direct.Burst = 2
	}
	if config.Direct.MaxBodyBytes == 0 {
		config.Direct.MaxBodyBytes = 10 << 20
	}
	if config.Direct.RetryAttempts == 0 {
		config.Direct.RetryAttempts = 1
	}
	if config.Direct.RetryDelay == 0 {
		config.Direct.RetryDelay = time.Second
	}

	if config.Browser.Timeout == 0 {
		config.Browser.Timeout = 45 * time.Second
	}
	if config.Browser.ViewportWidth == 0 {
		config.Browser.ViewportWidth = 1920
	}
	if config.Browser.ViewportHeight == 0 {
		config.Browser.ViewportHeight = 1080
	}
	if config.Browser.MaxTabs == 0 {
		config.Browser.MaxTabs = 2
	}

	if config.Proxy.Endpoint == "" {
		config.Proxy.Endpoint = "https://app.scrapingbee.com/api/v1/"
	}
	if config.Proxy.CountryCode == "" {
		config.Proxy.CountryCode = "gb"
	}
	if config.Proxy.Timeout == 0 {
		config.Proxy.Timeout = 90 * time.Second
	}

	if config.Challenge.Solver == "" {
		config.Challenge.Solver = "heuristic"
	}
	if config.Challenge.MinWait == 0 {
		config.Challenge.MinWait = 4 * time.Second
	}
	if config.Challenge.MaxWait == 0 {
		config.Challenge.MaxWait = 6 * time.Second
	}

	if config.Adaptive.BaseDelay == 0 {
		config.Adaptive.BaseDelay = 2 * time.Second
	}
	if config.Adaptive.MaxDelay == 0 {
		config.Adaptive.MaxDelay = 30 * time.Second
	}
	if config.Adaptive.MinDelay == 0 {
		config.Adaptive.MinDelay = time.Second
	}
	if config.Adaptive.SuccessThreshold == 0 {
		config.Adaptive.SuccessThreshold = 0.8
	}
	if config.Adaptive.FailureThreshold == 0 {
		config.Adaptive.FailureThreshold = 0.3
	}
	if config.Adaptive.BlockDuration == 0 {
		config.Adaptive.BlockDuration = 30 * time.Minute
	}
	if config.Adaptive.MinSamples == 0 {
		config.Adaptive.MinSamples = 5
	}
	if len(config.Adaptive.Methods) == 0 {
		config.Adaptive.Methods = []string{MethodDirect, MethodBrowser, MethodProxy}
	}

	if config.Storage.Driver == "" {
		config.Storage.Driver = "sqlite3"
	}
	if config.Storage.DSN == "" && config.Storage.Driver == "sqlite3" {
		config.Storage.DSN = "vinparts.db"
	}
	if config.Storage.Table == "" {
		config.Storage.Table = "scraping_usage_log"
	}
	if config.Storage.Database == "" {
		config.Storage.Database = "vinparts"
	}
	if config.Storage.WriteTimeout == 0 {
		config.Storage.WriteTimeout = 5 * time.Second
	}

	if config.Cache.Addr == "" {
		config.Cache.Addr = "localhost:6379"
	}
	if config.Cache.TTL == 0 {
		config.Cache.TTL = 6 * time.Hour
	}
	if config.Cache.KeyPrefix == "" {
		config.Cache.KeyPrefix = "vinparts:"
	}

	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Log.Format == "" {
		config.Log.Format = "text"
	}
}
