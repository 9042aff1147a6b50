package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	// Test default configuration
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if !cfg.AutoReconnect {
		t.Error("Expected auto_reconnect to be true by default")
	}

	if cfg.ReconnectInterval != 5*time.Second {
		t.Errorf("Expected default reconnect interval 5s, got %v", cfg.ReconnectInterval)
	}

	if cfg.PollInterval != 30*time.Second {
		t.Errorf("Expected default poll interval 30s, got %v", cfg.PollInterval)
	}

	if cfg.Quiet {
		t.Error("Expected quiet to be false by default")
	}

	if cfg.Verbose {
		t.Error("Expected verbose to be false by default")
	}
}

func TestLoadFromEnv(t *testing.T) {
	// Set environment variables
	_ = os.Setenv("DDP_ENDPOINT", "wss://example.test/websocket")
	_ = os.Setenv("DDP_EMAIL", "test@example.com")
	_ = os.Setenv("DDP_PASSWORD", "testpassword")
	_ = os.Setenv("DDP_RECONNECT_INTERVAL", "1m")
	_ = os.Setenv("DDP_QUIET", "true")
	defer func() {
		_ = os.Unsetenv("DDP_ENDPOINT")
		_ = os.Unsetenv("DDP_EMAIL")
		_ = os.Unsetenv("DDP_PASSWORD")
		_ = os.Unsetenv("DDP_RECONNECT_INTERVAL")
		_ = os.Unsetenv("DDP_QUIET")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Endpoint != "wss://example.test/websocket" {
		t.Errorf("Expected endpoint from env, got %s", cfg.Endpoint)
	}

	if cfg.Email != "test@example.com" {
		t.Errorf("Expected email from env, got %s", cfg.Email)
	}

	if cfg.Password != "testpassword" {
		t.Errorf("Expected password from env, got %s", cfg.Password)
	}

	if cfg.ReconnectInterval != time.Minute {
		t.Errorf("Expected reconnect interval 1m, got %v", cfg.ReconnectInterval)
	}

	if !cfg.Quiet {
		t.Error("Expected quiet to be true")
	}
}

func TestLoadFromFile(t *testing.T) {
	// Create a temporary config file
	tmpDir := t.TempDir()
	configDir := filepath.Join(tmpDir, "ddp-go")
	if err := os.MkdirAll(configDir, 0750); err != nil {
		t.Fatalf("Failed to create config dir: %v", err)
	}

	configPath := filepath.Join(configDir, "config.yaml")
	configContent := `endpoint: wss://file.example.test/websocket
poll_interval: 45s
verbose: true
`

	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	// Override config path temporarily
	_ = os.Setenv("XDG_CONFIG_HOME", tmpDir)
	defer func() { _ = os.Unsetenv("XDG_CONFIG_HOME") }()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Endpoint != "wss://file.example.test/websocket" {
		t.Errorf("Expected endpoint from file, got %s", cfg.Endpoint)
	}

	if cfg.PollInterval != 45*time.Second {
		t.Errorf("Expected poll interval 45s, got %v", cfg.PollInterval)
	}

	if !cfg.Verbose {
		t.Error("Expected verbose to be true")
	}
}
