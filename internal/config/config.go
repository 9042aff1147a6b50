package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for a ddp-go client/consumer.
type Config struct {
	// Connection
	Endpoint          string        `yaml:"endpoint"`
	AutoReconnect     bool          `yaml:"auto_reconnect"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	IsPrivate         bool          `yaml:"is_private"`
	IsVerbose         bool          `yaml:"is_verbose"`

	// Authentication
	Username string `yaml:"username"`
	Email    string `yaml:"email"`
	Password string `yaml:"password"` // Usually left empty, prompt is preferred

	// Storage
	DBPath       string `yaml:"db_path"`
	TokenCache   string `yaml:"token_cache"`
	DisableStore bool   `yaml:"disable_store"`

	// Polling (demo consumers that also poll REST-style resources
	// alongside the DDP subscription stream)
	PollInterval time.Duration `yaml:"poll_interval"`

	// Output
	Quiet   bool `yaml:"quiet"`
	Verbose bool `yaml:"verbose"`
}

// Load loads configuration from multiple sources in priority order:
// 1. Environment variables
// 2. Config file (~/.config/ddp-go/config.yaml)
// 3. Defaults
//
// Note: CLI flags are applied separately by the caller and take highest precedence
func Load() (*Config, error) {
	cfg := &Config{
		// Defaults
		AutoReconnect:     true,
		ReconnectInterval: 5 * time.Second,
		IsPrivate:         true,
		IsVerbose:         false,
		DBPath:            defaultDBPath(),
		TokenCache:        defaultTokenCachePath(),
		PollInterval:      30 * time.Second,
		Quiet:             false,
		Verbose:           false,
		DisableStore:      false,
	}

	// Load from config file if it exists
	if err := cfg.loadFromFile(); err != nil {
		// Non-fatal: config file is optional
		_ = err
	}

	// Override with environment variables
	cfg.loadFromEnv()

	return cfg, nil
}

// loadFromFile loads configuration from ~/.config/ddp-go/config.yaml
func (c *Config) loadFromFile() error {
	configPath := getConfigPath()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // Config file is optional
		}
		return fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	return nil
}

// loadFromEnv loads configuration from environment variables
func (c *Config) loadFromEnv() {
	if endpoint := os.Getenv("DDP_ENDPOINT"); endpoint != "" {
		c.Endpoint = endpoint
	}

	if username := os.Getenv("DDP_USERNAME"); username != "" {
		c.Username = username
	}

	if email := os.Getenv("DDP_EMAIL"); email != "" {
		c.Email = email
	}

	if password := os.Getenv("DDP_PASSWORD"); password != "" {
		c.Password = password
	}

	if dbPath := os.Getenv("DDP_DB_PATH"); dbPath != "" {
		c.DBPath = dbPath
	}

	if tokenCache := os.Getenv("DDP_TOKEN_CACHE"); tokenCache != "" {
		c.TokenCache = tokenCache
	}

	if os.Getenv("DDP_DISABLE_STORE") == "true" {
		c.DisableStore = true
	}

	if os.Getenv("DDP_AUTO_RECONNECT") == "false" {
		c.AutoReconnect = false
	}

	if os.Getenv("DDP_IS_PRIVATE") == "false" {
		c.IsPrivate = false
	}

	if os.Getenv("DDP_IS_VERBOSE") == "true" {
		c.IsVerbose = true
	}

	if os.Getenv("DDP_QUIET") == "true" {
		c.Quiet = true
	}

	if os.Getenv("DDP_VERBOSE") == "true" {
		c.Verbose = true
	}

	if interval := os.Getenv("DDP_RECONNECT_INTERVAL"); interval != "" {
		if duration, err := time.ParseDuration(interval); err == nil {
			c.ReconnectInterval = duration
		}
	}

	if interval := os.Getenv("DDP_POLL_INTERVAL"); interval != "" {
		if duration, err := time.ParseDuration(interval); err == nil {
			c.PollInterval = duration
		}
	}
}

// getConfigPath returns the path to the config file
func getConfigPath() string {
	// Try XDG_CONFIG_HOME first
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "ddp-go", "config.yaml")
	}

	// Fall back to ~/.config
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".config", "ddp-go", "config.yaml")
}

// defaultDBPath returns the default keystore database path
func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "ddp-watch.db"
	}

	return filepath.Join(home, ".local", "share", "ddp-go", "state.db")
}

// defaultTokenCachePath returns the default token cache path
func defaultTokenCachePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "credentials.json"
	}

	return filepath.Join(home, ".local", "share", "ddp-go", "credentials.json")
}
