// Package config handles application configuration
package config

import (
	_ "embed"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"
)

//go:embed config.sample.yaml
var sampleConfig string

// GetSampleConfig returns the embedded sample configuration content
func GetSampleConfig() string {
	return sampleConfig
}

const (
	EnvAPIURL = "TASKDASH_API_URL"

	DefaultBaseURL              = "http://localhost:3000/api"
	DefaultTimeout              = 10 * time.Second
	DefaultMaxAttempts          = 3
	DefaultBaseDelay            = time.Second
	DefaultMaxDelay             = 30 * time.Second
	DefaultStaleTime            = 5 * time.Minute
	DefaultGCTime               = 10 * time.Minute
	DefaultPreferencesStaleTime = time.Hour
	DefaultPreferencesGCTime    = 2 * time.Hour
)

// APIConfig holds remote API settings
type APIConfig struct {
	BaseURL   string  `yaml:"base_url"`
	Timeout   string  `yaml:"timeout"`
	RateLimit float64 `yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`
}

// RetryConfig holds read retry settings
type RetryConfig struct {
	MaxAttempts int    `yaml:"max_attempts"`
	BaseDelay   string `yaml:"base_delay"`
	MaxDelay    string `yaml:"max_delay"`
	Jitter      bool   `yaml:"jitter"`
}

// CacheConfig holds query cache settings
type CacheConfig struct {
	StaleTime            string `yaml:"stale_time"`
	GCTime               string `yaml:"gc_time"`
	PreferencesStaleTime string `yaml:"preferences_stale_time"`
	PreferencesGCTime    string `yaml:"preferences_gc_time"`
	Persist              *bool  `yaml:"persist"` // default: true
	Path                 string `yaml:"path"`
}

// AuthConfig holds token storage settings
type AuthConfig struct {
	UseKeyring *bool  `yaml:"use_keyring"` // default: true
	Account    string `yaml:"account"`
}

// NotificationConfig holds toast settings
type NotificationConfig struct {
	Enabled     *bool  `yaml:"enabled"` // default: true
	Quiet       bool   `yaml:"quiet"`
	Desktop     bool   `yaml:"desktop"`
	History     bool   `yaml:"history"`
	HistoryPath string `yaml:"history_path"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Config represents the application configuration
type Config struct {
	API          APIConfig          `yaml:"api"`
	Retry        RetryConfig        `yaml:"retry"`
	Cache        CacheConfig        `yaml:"cache"`
	Auth         AuthConfig         `yaml:"auth"`
	Notification NotificationConfig `yaml:"notification"`
	Logging      LoggingConfig      `yaml:"logging"`
	OutputFormat string             `yaml:"output_format"`
}

// DefaultConfig returns the configuration used when no file exists
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.API.BaseURL == "" {
		c.API.BaseURL = DefaultBaseURL
	}
	if c.API.Burst <= 0 {
		c.API.Burst = 5
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = DefaultMaxAttempts
	}
	if c.Auth.Account == "" {
		c.Auth.Account = "default"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "warn"
	}
	if c.OutputFormat == "" {
		c.OutputFormat = "text"
	}
	if c.Cache.Path == "" {
		c.Cache.Path = filepath.Join(GetCacheDir(), "cache.db")
	}
	if c.Notification.HistoryPath == "" {
		c.Notification.HistoryPath = filepath.Join(GetDataDir(), "notifications.log")
	}
	c.Cache.Path = ExpandPath(c.Cache.Path)
	c.Notification.HistoryPath = ExpandPath(c.Notification.HistoryPath)
}

// Load loads configuration from the specified path, or the default XDG path if empty.
// If the config file doesn't exist, it creates one from the sample.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = filepath.Join(GetConfigDir(), "config.yaml")
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := writeSample(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific path without creating it.
// A missing file yields the defaults.
func LoadFromPath(configPath string) (*Config, error) {
	if configPath == "" {
		return nil, fmt.Errorf("config path is required")
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML and fills unset fields with defaults
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid YAML in config file: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// writeSample writes the embedded sample config, which includes documentation
func writeSample(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ApplyEnv applies environment overrides
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := strings.TrimSpace(getenv(EnvAPIURL)); v != "" {
		c.API.BaseURL = v
	}
}

// ApplyFlags applies CLI flag overrides to the configuration
func (c *Config) ApplyFlags(apiURL, outputFormat string) {
	if apiURL != "" {
		c.API.BaseURL = apiURL
	}
	if outputFormat != "" {
		c.OutputFormat = outputFormat
	}
}

// Upper bounds for read retries.
const (
	MaxRetryAttempts = 3
	MaxRetryDelay    = 30 * time.Second
)

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.OutputFormat != "text" && c.OutputFormat != "json" {
		return fmt.Errorf("invalid output_format: %q (must be 'text' or 'json')", c.OutputFormat)
	}

	u, err := url.Parse(c.API.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid api.base_url: %q (must be an http or https URL)", c.API.BaseURL)
	}
	if c.API.RateLimit < 0 {
		return fmt.Errorf("api.rate_limit must not be negative, got %v", c.API.RateLimit)
	}
	if c.Retry.MaxAttempts > MaxRetryAttempts {
		return fmt.Errorf("retry.max_attempts must be at most %d, got %d", MaxRetryAttempts, c.Retry.MaxAttempts)
	}

	durations := []struct {
		key, value string
	}{
		{"api.timeout", c.API.Timeout},
		{"retry.base_delay", c.Retry.BaseDelay},
		{"retry.max_delay", c.Retry.MaxDelay},
		{"cache.stale_time", c.Cache.StaleTime},
		{"cache.gc_time", c.Cache.GCTime},
		{"cache.preferences_stale_time", c.Cache.PreferencesStaleTime},
		{"cache.preferences_gc_time", c.Cache.PreferencesGCTime},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		parsed, err := str2duration.ParseDuration(d.value)
		if err != nil {
			return fmt.Errorf("invalid duration for %s: %q", d.key, d.value)
		}
		if parsed <= 0 {
			return fmt.Errorf("%s must be positive, got %q", d.key, d.value)
		}
	}

	if c.GetRetryMaxDelay() > MaxRetryDelay {
		return fmt.Errorf("retry.max_delay must be at most %s, got %q", MaxRetryDelay, c.Retry.MaxDelay)
	}
	if c.GetRetryBaseDelay() > c.GetRetryMaxDelay() {
		return fmt.Errorf("retry.base_delay (%s) exceeds retry.max_delay (%s)", c.GetRetryBaseDelay(), c.GetRetryMaxDelay())
	}
	if c.GetStaleTime() > c.GetGCTime() {
		return fmt.Errorf("cache.stale_time (%s) exceeds cache.gc_time (%s)", c.GetStaleTime(), c.GetGCTime())
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level: %q", c.Logging.Level)
	}
	return nil
}

// parseDuration returns fallback when value is empty or invalid
func parseDuration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := str2duration.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// GetAPITimeout returns the per-request timeout
func (c *Config) GetAPITimeout() time.Duration {
	return parseDuration(c.API.Timeout, DefaultTimeout)
}

// GetRetryBaseDelay returns the first backoff delay
func (c *Config) GetRetryBaseDelay() time.Duration {
	return parseDuration(c.Retry.BaseDelay, DefaultBaseDelay)
}

// GetRetryMaxDelay returns the backoff cap
func (c *Config) GetRetryMaxDelay() time.Duration {
	return parseDuration(c.Retry.MaxDelay, DefaultMaxDelay)
}

// GetStaleTime returns how long task data stays fresh
func (c *Config) GetStaleTime() time.Duration {
	return parseDuration(c.Cache.StaleTime, DefaultStaleTime)
}

// GetGCTime returns how long unused task data is retained
func (c *Config) GetGCTime() time.Duration {
	return parseDuration(c.Cache.GCTime, DefaultGCTime)
}

// GetPreferencesStaleTime returns how long preferences stay fresh
func (c *Config) GetPreferencesStaleTime() time.Duration {
	return parseDuration(c.Cache.PreferencesStaleTime, DefaultPreferencesStaleTime)
}

// GetPreferencesGCTime returns how long unused preferences are retained
func (c *Config) GetPreferencesGCTime() time.Duration {
	return parseDuration(c.Cache.PreferencesGCTime, DefaultPreferencesGCTime)
}

// IsCachePersistent reports whether the cache is saved between runs (default: true)
func (c *Config) IsCachePersistent() bool {
	return c.Cache.Persist == nil || *c.Cache.Persist
}

// UseKeyring reports whether tokens go to the OS keyring (default: true)
func (c *Config) UseKeyring() bool {
	return c.Auth.UseKeyring == nil || *c.Auth.UseKeyring
}

// NotificationsEnabled reports whether toasts are shown (default: true)
func (c *Config) NotificationsEnabled() bool {
	return c.Notification.Enabled == nil || *c.Notification.Enabled
}

// getXDGDir returns a directory path following XDG spec.
// envVar is the XDG environment variable (e.g., "XDG_CONFIG_HOME").
// fallbackPath is the relative path from home (e.g., ".config").
func getXDGDir(envVar, fallbackPath string) string {
	if xdgDir := os.Getenv(envVar); xdgDir != "" {
		return filepath.Join(xdgDir, "taskdash")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", fallbackPath, "taskdash")
	}
	return filepath.Join(home, fallbackPath, "taskdash")
}

// GetConfigDir returns the configuration directory following XDG spec
func GetConfigDir() string {
	return getXDGDir("XDG_CONFIG_HOME", ".config")
}

// GetDataDir returns the data directory following XDG spec
func GetDataDir() string {
	return getXDGDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

// GetCacheDir returns the cache directory following XDG spec
func GetCacheDir() string {
	return getXDGDir("XDG_CACHE_HOME", ".cache")
}

// ExpandPath expands ~ and environment variables in a path
func ExpandPath(path string) string {
	if path == "" {
		return path
	}

	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	}

	return os.ExpandEnv(path)
}
