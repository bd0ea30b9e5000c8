// Package config loads the unclip configuration from a YAML file, applies
// defaults and reads secrets from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/unclip/detect"
	"github.com/hazyhaar/unclip/expand"
)

// AppName names the XDG subdirectories.
const AppName = "unclip"

// Environment variables read by Load.
const (
	EnvStripeSecretKey = "STRIPE_SECRET_KEY"
	EnvStripePriceID   = "STRIPE_PRICE_ID"
	EnvLicenseSecret   = "UNCLIP_LICENSE_SECRET"
)

// Config is the top-level configuration.
type Config struct {
	Browser  BrowserConfig  `yaml:"browser"`
	Expander ExpanderConfig `yaml:"expander"`
	Storage  StorageConfig  `yaml:"storage"`
	License  LicenseConfig  `yaml:"license"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// BrowserConfig controls the Chrome tab.
type BrowserConfig struct {
	Remote           string   `yaml:"remote"`
	Headless         bool     `yaml:"headless"`
	Stealth          bool     `yaml:"stealth"`
	ResourceBlocking []string `yaml:"resource_blocking"`
	GmailURL         string   `yaml:"gmail_url"`
	UserDataDir      string   `yaml:"user_data_dir"`
}

// ExpanderConfig tunes detection and expansion.
type ExpanderConfig struct {
	Strategy   string        `yaml:"strategy"`
	RateLimit  int           `yaml:"rate_limit"`
	Window     time.Duration `yaml:"window"`
	MaxRetries *int          `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
	ClickPoll  time.Duration `yaml:"click_poll"`
	Debounce   time.Duration `yaml:"debounce"`
	// FreeDailyLimit caps daily expansions without a license. 0 disables.
	FreeDailyLimit int              `yaml:"free_daily_limit"`
	Sanitize       *bool            `yaml:"sanitize"`
	Selectors      detect.Selectors `yaml:"selectors"`
	// Fetcher loads full-view pages for the inline strategy: "tab" runs
	// fetch inside the Gmail tab with its cookies, "http" uses a plain
	// client (for a proxy that adds authentication).
	Fetcher   string `yaml:"fetcher"`
	UserAgent string `yaml:"user_agent"`
}

// Fetcher kinds.
const (
	FetcherTab  = "tab"
	FetcherHTTP = "http"
)

// StorageConfig locates the settings database.
type StorageConfig struct {
	Path          string        `yaml:"path"`
	WatchInterval time.Duration `yaml:"watch_interval"`
}

// LicenseConfig configures the payment backend and the client's view of it.
type LicenseConfig struct {
	Addr          string `yaml:"addr"`
	DBPath        string `yaml:"db_path"`
	StripePriceID string `yaml:"stripe_price_id"`
	BackendURL    string `yaml:"backend_url"`
	// RateLimit is requests per IP per minute.
	RateLimit int `yaml:"rate_limit"`

	StripeSecretKey string `yaml:"-"`
	KeySecret       string `yaml:"-"`
}

// MetricsConfig exposes Prometheus metrics. An empty Addr disables them.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// DefaultPath is the config file used when none is given.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, AppName, "config.yaml")
}

// DataDir is where the settings database and Chrome profile live.
func DataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// Default returns the configuration with no file.
func Default() *Config {
	var c Config
	c.applyDefaults()
	return &c
}

// Load reads path, or DefaultPath when path is empty. A missing default
// file yields the defaults; a missing explicit file is an error.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("config: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	c.License.StripeSecretKey = os.Getenv(EnvStripeSecretKey)
	c.License.KeySecret = os.Getenv(EnvLicenseSecret)
	if v := os.Getenv(EnvStripePriceID); v != "" {
		c.License.StripePriceID = v
	}
}

func (c *Config) applyDefaults() {
	if c.Browser.GmailURL == "" {
		c.Browser.GmailURL = "https://mail.google.com/mail/u/0/"
	}
	if c.Browser.UserDataDir == "" {
		c.Browser.UserDataDir = filepath.Join(DataDir(), "chrome")
	}

	e := &c.Expander
	if e.Strategy == "" {
		e.Strategy = string(expand.StrategyInline)
	}
	if e.RateLimit <= 0 {
		e.RateLimit = 5
	}
	if e.Window <= 0 {
		e.Window = time.Second
	}
	if e.MaxRetries == nil {
		n := expand.DefaultRetryPolicy().MaxRetries
		e.MaxRetries = &n
	}
	if e.RetryDelay <= 0 {
		e.RetryDelay = time.Second
	}
	if e.ClickPoll <= 0 {
		e.ClickPoll = 1500 * time.Millisecond
	}
	if e.Debounce <= 0 {
		e.Debounce = 500 * time.Millisecond
	}
	if e.Sanitize == nil {
		on := true
		e.Sanitize = &on
	}
	e.Selectors = e.Selectors.WithDefaults()
	if e.Fetcher == "" {
		e.Fetcher = FetcherTab
	}

	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(DataDir(), "unclip.db")
	}
	if c.Storage.WatchInterval <= 0 {
		c.Storage.WatchInterval = 500 * time.Millisecond
	}

	if c.License.Addr == "" {
		c.License.Addr = ":8787"
	}
	if c.License.DBPath == "" {
		c.License.DBPath = filepath.Join(DataDir(), "licenses.db")
	}
	if c.License.RateLimit <= 0 {
		c.License.RateLimit = 30
	}
}

// Validate checks values that defaults cannot repair.
func (c *Config) Validate() error {
	if _, err := expand.ParseStrategy(c.Expander.Strategy); err != nil {
		return fmt.Errorf("config: expander.strategy: %w", err)
	}
	if c.Expander.MaxRetries != nil && *c.Expander.MaxRetries < 0 {
		return fmt.Errorf("config: expander.max_retries must be >= 0")
	}
	if c.Expander.FreeDailyLimit < 0 {
		return fmt.Errorf("config: expander.free_daily_limit must be >= 0")
	}
	switch c.Expander.Fetcher {
	case FetcherTab, FetcherHTTP:
	default:
		return fmt.Errorf("config: expander.fetcher %q: want %q or %q", c.Expander.Fetcher, FetcherTab, FetcherHTTP)
	}
	return nil
}

// RetryPolicy returns the expander retry policy.
func (e ExpanderConfig) RetryPolicy() expand.RetryPolicy {
	p := expand.DefaultRetryPolicy()
	if e.MaxRetries != nil {
		p.MaxRetries = *e.MaxRetries
	}
	if e.RetryDelay > 0 {
		p.Delay = e.RetryDelay
	}
	return p
}

// SanitizeEnabled reports whether fetched markup is sanitized.
func (e ExpanderConfig) SanitizeEnabled() bool { return e.Sanitize == nil || *e.Sanitize }
