package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.Server.Address != ":8000" {
		t.Fatalf("server address = %q", cfg.Server.Address)
	}
	if cfg.Detection.AnomalyThreshold != 0.85 {
		t.Fatalf("anomaly threshold = %v", cfg.Detection.AnomalyThreshold)
	}
	if cfg.Detection.LogWindow != 5*time.Minute {
		t.Fatalf("log window = %v", cfg.Detection.LogWindow)
	}
	if got := cfg.Detection.Contamination(); got < 0.1499 || got > 0.1501 {
		t.Fatalf("contamination = %v, want 0.15", got)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
server:
  address: ":9100"
  apiKey: "secret"
detection:
  anomalyThreshold: 0.9
  logWindow: 2m
cache:
  enabled: true
  addr: "localhost:6379"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":9100" || cfg.Server.APIKey != "secret" {
		t.Fatalf("server = %+v", cfg.Server)
	}
	if cfg.Detection.LogWindow != 2*time.Minute {
		t.Fatalf("log window = %v", cfg.Detection.LogWindow)
	}
	if !cfg.Cache.Enabled || cfg.Cache.Addr != "localhost:6379" {
		t.Fatalf("cache = %+v", cfg.Cache)
	}
	// Unset fields keep their defaults.
	if cfg.Server.MetricsAddress != ":2112" {
		t.Fatalf("metrics address = %q", cfg.Server.MetricsAddress)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AEGIS_DETECT_SERVER_ADDRESS", ":7777")
	t.Setenv("AEGIS_DETECT_ANOMALY_THRESHOLD", "0.95")
	t.Setenv("AEGIS_DETECT_LOG_FORMAT", "json")
	t.Setenv("AEGIS_DETECT_CACHE_ENABLED", "TRUE")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":7777" {
		t.Fatalf("server address = %q", cfg.Server.Address)
	}
	if cfg.Detection.AnomalyThreshold != 0.95 {
		t.Fatalf("anomaly threshold = %v", cfg.Detection.AnomalyThreshold)
	}
	if !cfg.Logging.JSON {
		t.Fatalf("logging json not enabled")
	}
	if !cfg.Cache.Enabled {
		t.Fatalf("cache not enabled")
	}
}

func TestValidateRejectsBadThreshold(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("detection:\n  anomalyThreshold: 1.5\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error for threshold 1.5")
	}
}

func TestContaminationFallback(t *testing.T) {
	d := DetectionConfig{AnomalyThreshold: 0}
	if got := d.Contamination(); got != 0.1 {
		t.Fatalf("contamination fallback = %v, want 0.1", got)
	}
}
