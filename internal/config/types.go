// internal/config/types.go

// Package config provides the configuration types for the vinparts service:
// target site layout, per-strategy fetch settings, adaptive scheduling,
// usage-log storage, result caching and logging.
package config

import (
	"time"

	"github.com/valpere/vinparts/internal/utils"
)

// Method names accepted in adaptive.methods.
const (
	MethodDirect  = "direct"
	MethodBrowser = "browser"
	MethodProxy   = "proxy"
)

// Config is the root configuration of the service.
type Config struct {
	Server    ServerConfig    `yaml:"server" json:"server"`
	Target    TargetConfig    `yaml:"target" json:"target"`
	Direct    DirectConfig    `yaml:"direct" json:"direct"`
	Browser   BrowserConfig   `yaml:"browser" json:"browser"`
	Proxy     ProxyConfig     `yaml:"proxy" json:"proxy"`
	Challenge ChallengeConfig `yaml:"challenge" json:"challenge"`
	Adaptive  AdaptiveConfig  `yaml:"adaptive" json:"adaptive"`
	Storage   StorageConfig   `yaml:"storage" json:"storage"`
	Cache     CacheConfig     `yaml:"cache" json:"cache"`
	Log       utils.LogConfig `yaml:"log" json:"log"`
}

// ServerConfig configures the HTTP API. APIKeys enables bearer
// authentication on /api/v1 when non-empty; RequestsPerSecond of zero
// disables request limiting.
type ServerConfig struct {
	Addr              string        `yaml:"addr" json:"addr"`
	ReadTimeout       time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout" json:"write_timeout"`
	MetricsPath       string        `yaml:"metrics_path" json:"metrics_path"`
	APIKeys           []string      `yaml:"api_keys,omitempty" json:"-"`
	RequestsPerSecond float64       `yaml:"requests_per_second,omitempty" json:"requests_per_second,omitempty"`
	Burst             int           `yaml:"burst,omitempty" json:"burst,omitempty"`
}

// TargetConfig describes the parts catalog being queried.
//
// SearchPath takes the VIN in the "q" parameter; PartsPath takes the
// vehicle context recovered from the search page (c, vid, ssd, cid).
type TargetConfig struct {
	BaseURL    string `yaml:"base_url" json:"base_url"`
	SearchPath string `yaml:"search_path" json:"search_path"`
	PartsPath  string `yaml:"parts_path" json:"parts_path"`
	CategoryID string `yaml:"category_id,omitempty" json:"category_id,omitempty"`
}

// DirectConfig configures the plain HTTP strategy.
type DirectConfig struct {
	Enabled           *bool             `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Timeout           time.Duration     `yaml:"timeout" json:"timeout"`
	RequestsPerSecond float64           `yaml:"requests_per_second" json:"requests_per_second"`
	Burst             int               `yaml:"burst" json:"burst"`
	MaxBodyBytes      int64             `yaml:"max_body_bytes" json:"max_body_bytes"`
	RetryAttempts     int               `yaml:"retry_attempts" json:"retry_attempts"`
	RetryDelay        time.Duration     `yaml:"retry_delay" json:"retry_delay"`
	SkipWarmUp        bool              `yaml:"skip_warm_up" json:"skip_warm_up"`
	UserAgents        []string          `yaml:"user_agents,omitempty" json:"user_agents,omitempty"`
	Headers           map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
}

// BrowserConfig configures the headless-browser strategy.
type BrowserConfig struct {
	Enabled          *bool          `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Headless         *bool          `yaml:"headless,omitempty" json:"headless,omitempty"`
	ExecPath         string         `yaml:"exec_path,omitempty" json:"exec_path,omitempty"`
	UserAgent        string         `yaml:"user_agent,omitempty" json:"user_agent,omitempty"`
	Timeout          time.Duration  `yaml:"timeout" json:"timeout"`
	ViewportWidth    int            `yaml:"viewport_width" json:"viewport_width"`
	ViewportHeight   int            `yaml:"viewport_height" json:"viewport_height"`
	DisableImages    bool           `yaml:"disable_images" json:"disable_images"`
	NoSandbox        bool           `yaml:"no_sandbox" json:"no_sandbox"`
	MaxTabs          int            `yaml:"max_tabs" json:"max_tabs"`
	ClearanceCookies []CookieConfig `yaml:"clearance_cookies,omitempty" json:"clearance_cookies,omitempty"`
}

// CookieConfig is a cookie injected into the browser when a challenge page
// is served.
type CookieConfig struct {
	Name   string `yaml:"name" json:"name"`
	Value  string `yaml:"value" json:"value"`
	Domain string `yaml:"domain,omitempty" json:"domain,omitempty"`
	Path   string `yaml:"path,omitempty" json:"path,omitempty"`
}

// ProxyConfig configures the scraping-API strategy (ScrapingBee-compatible).
type ProxyConfig struct {
	Enabled         *bool         `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Endpoint        string        `yaml:"endpoint" json:"endpoint"`
	APIKey          string        `yaml:"api_key" json:"-"`
	DisableRenderJS bool          `yaml:"disable_render_js" json:"disable_render_js"`
	PremiumProxy    bool          `yaml:"premium_proxy" json:"premium_proxy"`
	StealthProxy    bool          `yaml:"stealth_proxy" json:"stealth_proxy"`
	CountryCode     string        `yaml:"country_code,omitempty" json:"country_code,omitempty"`
	WaitMillis      int           `yaml:"wait_ms" json:"wait_ms"`
	Timeout         time.Duration `yaml:"timeout" json:"timeout"`
}

// ChallengeConfig selects and tunes the challenge handler.
type ChallengeConfig struct {
	Solver  string        `yaml:"solver" json:"solver"` // heuristic or noop
	MinWait time.Duration `yaml:"min_wait" json:"min_wait"`
	MaxWait time.Duration `yaml:"max_wait" json:"max_wait"`
}

// AdaptiveConfig tunes method selection and pacing.
type AdaptiveConfig struct {
	BaseDelay        time.Duration `yaml:"base_delay" json:"base_delay"`
	MaxDelay         time.Duration `yaml:"max_delay" json:"max_delay"`
	MinDelay         time.Duration `yaml:"min_delay" json:"min_delay"`
	SuccessThreshold float64       `yaml:"success_threshold" json:"success_threshold"`
	FailureThreshold float64       `yaml:"failure_threshold" json:"failure_threshold"`
	BlockDuration    time.Duration `yaml:"block_duration" json:"block_duration"`
	MinSamples       int           `yaml:"min_samples" json:"min_samples"`
	Methods          []string      `yaml:"methods,omitempty" json:"methods,omitempty"`
}

// StorageConfig selects the usage-log backend.
type StorageConfig struct {
	Driver       string        `yaml:"driver" json:"driver"` // sqlite3, postgres, mysql, mongodb, none
	DSN          string        `yaml:"dsn" json:"-"`
	Table        string        `yaml:"table" json:"table"`
	Database     string        `yaml:"database,omitempty" json:"database,omitempty"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
}

// CacheConfig configures the optional Redis result cache.
type CacheConfig struct {
	Enabled   bool          `yaml:"enabled" json:"enabled"`
	Addr      string        `yaml:"addr" json:"addr"`
	Password  string        `yaml:"password" json:"-"`
	DB        int           `yaml:"db" json:"db"`
	TTL       time.Duration `yaml:"ttl" json:"ttl"`
	KeyPrefix string        `yaml:"key_prefix" json:"key_prefix"`
}

// IsEnabled reports whether a strategy section is switched on; absent means on.
func IsEnabled(flag *bool) bool {
	return flag == nil || *flag
}

// IsHeadless reports whether the browser runs headless; absent means yes.
func (b BrowserConfig) IsHeadless() bool {
	return b.Headless == nil || *b.Headless
}
