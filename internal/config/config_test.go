package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_DefaultsWithoutConfigFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.App.Environment != "development" {
		t.Errorf("expected default environment, got %s", cfg.App.Environment)
	}
	if cfg.Gateway.Retry.MaxAttempts != 5 {
		t.Errorf("expected default retry attempts 5, got %d", cfg.Gateway.Retry.MaxAttempts)
	}
	if cfg.TWAP.MaxSliceFailures != 3 {
		t.Errorf("expected default max slice failures 3, got %d", cfg.TWAP.MaxSliceFailures)
	}
	if cfg.OCO.PollInterval != 500*time.Millisecond {
		t.Errorf("expected default poll interval 500ms, got %s", cfg.OCO.PollInterval)
	}
	if len(cfg.Limits.Symbols) != 20 {
		t.Errorf("expected 20 default symbols, got %d", len(cfg.Limits.Symbols))
	}

	limits := cfg.OrderLimits()
	if _, ok := limits.Symbols["BTCUSDT"]; !ok {
		t.Error("expected BTCUSDT in default symbols")
	}
	if limits.MinQuantity != 0.001 {
		t.Errorf("expected min quantity 0.001, got %v", limits.MinQuantity)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
app:
  environment: production
twap:
  max_slice_failures: 5
grid:
  poll_interval: 2s
limits:
  symbols:
    - BTCUSDT
    - ETHUSDT
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.App.Environment != "production" {
		t.Errorf("expected production, got %s", cfg.App.Environment)
	}
	if cfg.TWAP.MaxSliceFailures != 5 {
		t.Errorf("expected max slice failures 5, got %d", cfg.TWAP.MaxSliceFailures)
	}
	if cfg.Grid.PollInterval != 2*time.Second {
		t.Errorf("expected 2s poll interval, got %s", cfg.Grid.PollInterval)
	}
	if len(cfg.Limits.Symbols) != 2 {
		t.Errorf("expected 2 symbols, got %d", len(cfg.Limits.Symbols))
	}
}

func TestLoad_EnvCredentialsInjected(t *testing.T) {
	t.Setenv("BINANCE_API_KEY", "test-key")
	t.Setenv("BINANCE_API_SECRET", "test-secret")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Gateway.APIKey != "test-key" {
		t.Errorf("expected api key from env, got %q", cfg.Gateway.APIKey)
	}
	if cfg.Gateway.APISecret != "test-secret" {
		t.Errorf("expected api secret from env, got %q", cfg.Gateway.APISecret)
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := &Config{}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected empty config to fail validation")
	}
}
