// Package config loads and validates the hivesync YAML configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hivemark/hivesync/logging"
)

// Config holds the full engine configuration loaded from YAML.
type Config struct {
	// ServerURL is the base URL of the sync server
	// (e.g. "https://api.hivemark.app").
	ServerURL string `yaml:"server_url"`

	// AuthToken is the bearer token for the sync server. The
	// HIVESYNC_AUTH_TOKEN environment variable overrides it, so the
	// token can stay out of the config file.
	AuthToken string `yaml:"auth_token"`

	// DatabasePath is the path of the embedded SQLite database.
	// Defaults to ~/.local/share/hivesync/hivesync.db.
	DatabasePath string `yaml:"database_path"`

	// MetricsListen is the address the daemon serves Prometheus
	// metrics on (e.g. "127.0.0.1:9478"). Empty disables the endpoint.
	MetricsListen string `yaml:"metrics_listen"`

	// DebounceWindow is the quiet period after a local write before a
	// sync is scheduled. Defaults to 500ms.
	DebounceWindow time.Duration `yaml:"debounce_window"`

	// Retry configures the fixed-delay retry policy.
	Retry RetryConfig `yaml:"retry"`

	// HTTP configures the transport client.
	HTTP HTTPConfig `yaml:"http"`

	// Log configures structured logging.
	Log logging.Config `yaml:"log"`
}

// RetryConfig holds the retry policy settings.
type RetryConfig struct {
	// MaxRetries is the number of retries after the initial attempt.
	// Defaults to 3 when omitted; an explicit 0 disables retries. The
	// pointer keeps "unset" distinguishable from "zero".
	MaxRetries *int `yaml:"max_retries"`

	// Delay is the fixed sleep between attempts. Defaults to 5s.
	Delay time.Duration `yaml:"delay"`
}

// HTTPConfig holds transport client settings.
type HTTPConfig struct {
	// Timeout is the per-request timeout. Defaults to 30s.
	Timeout time.Duration `yaml:"timeout"`

	// MaxResponseBytes caps the size of pull responses. Defaults to 8 MiB.
	MaxResponseBytes int64 `yaml:"max_response_bytes"`

	// GzipMinBytes is the payload size above which push bodies are
	// gzip-compressed. Defaults to 1024.
	GzipMinBytes int `yaml:"gzip_min_bytes"`
}

// DefaultPath returns the default config file path:
// ~/.config/hivesync/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "hivesync", "config.yaml"), nil
}

// Load reads and validates the configuration file at the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true) // reject unknown keys to catch typos early
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	cfg.applyDefaults()
	if token := os.Getenv("HIVESYNC_AUTH_TOKEN"); token != "" {
		cfg.AuthToken = token
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DatabasePath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.DatabasePath = filepath.Join(home, ".local", "share", "hivesync", "hivesync.db")
		}
	}
	if c.DebounceWindow == 0 {
		c.DebounceWindow = 500 * time.Millisecond
	}
	if c.Retry.MaxRetries == nil {
		n := 3
		c.Retry.MaxRetries = &n
	}
	if c.Retry.Delay == 0 {
		c.Retry.Delay = 5 * time.Second
	}
	if c.HTTP.Timeout == 0 {
		c.HTTP.Timeout = 30 * time.Second
	}
	if c.HTTP.MaxResponseBytes == 0 {
		c.HTTP.MaxResponseBytes = 8 << 20
	}
	if c.HTTP.GzipMinBytes == 0 {
		c.HTTP.GzipMinBytes = 1024
	}
}

func (c *Config) validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server_url is required")
	}
	u, err := url.Parse(c.ServerURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("server_url %q is not an absolute URL", c.ServerURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server_url scheme must be http or https, got %q", u.Scheme)
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database_path is required")
	}
	if *c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must not be negative")
	}
	if c.Retry.Delay < 0 {
		return fmt.Errorf("retry.delay must not be negative")
	}
	if c.DebounceWindow < 0 {
		return fmt.Errorf("debounce_window must not be negative")
	}
	return nil
}
