package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		LeaseDuration:         5 * time.Minute,
		ReservationDefaultTTL: 30 * time.Minute,
		SweepInterval:         30 * time.Second,
		MetricsBatchSize:      1000,
		MetricsNRTBatchSize:   200,
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("expected the default configuration to validate, got %v", err)
	}
}

func TestValidateRejectsNonPositiveLeaseDuration(t *testing.T) {
	c := validConfig()
	c.LeaseDuration = 0
	if err := c.Validate(); err == nil {
		t.Fatalf("expected a zero lease duration to be rejected")
	}
}

func TestValidateEnforcesReservationTTLBounds(t *testing.T) {
	c := validConfig()
	c.ReservationDefaultTTL = 59 * time.Second
	if err := c.Validate(); err == nil {
		t.Fatalf("expected a below-minimum reservation TTL to be rejected")
	}

	c = validConfig()
	c.ReservationDefaultTTL = 25 * time.Hour
	if err := c.Validate(); err == nil {
		t.Fatalf("expected an above-maximum reservation TTL to be rejected")
	}
}

func TestValidateRejectsExcessiveSweepInterval(t *testing.T) {
	c := validConfig()
	c.SweepInterval = 31 * time.Second
	if err := c.Validate(); err == nil {
		t.Fatalf("expected a sweep interval above 30s to be rejected")
	}
}

func TestValidateRejectsNonPositiveBatchSizes(t *testing.T) {
	c := validConfig()
	c.MetricsBatchSize = 0
	if err := c.Validate(); err == nil {
		t.Fatalf("expected a zero batch metrics size to be rejected")
	}

	c = validConfig()
	c.MetricsNRTBatchSize = -1
	if err := c.Validate(); err == nil {
		t.Fatalf("expected a negative NRT batch size to be rejected")
	}
}

func TestLoadAppliesDefaultsWithoutAnEnvFile(t *testing.T) {
	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("expected Load with no config or env file to succeed off process-environment defaults: %v", err)
	}
	if cfg.LeaseDuration != 5*time.Minute {
		t.Fatalf("expected default lease duration of 5m, got %v", cfg.LeaseDuration)
	}
	if cfg.ListenAddr != ":8080" {
		t.Fatalf("expected default listen address :8080, got %s", cfg.ListenAddr)
	}
}

func TestLoadAppliesYAMLConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := "listen_addr: \":9090\"\nlease_duration: \"10m\"\nmetrics_batch_size: 500\nauth_disabled: true\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := Load(path, "")
	if err != nil {
		t.Fatalf("load with config file: %v", err)
	}
	if cfg.ListenAddr != ":9090" {
		t.Fatalf("expected listen addr from YAML, got %s", cfg.ListenAddr)
	}
	if cfg.LeaseDuration != 10*time.Minute {
		t.Fatalf("expected lease duration from YAML, got %v", cfg.LeaseDuration)
	}
	if cfg.MetricsBatchSize != 500 {
		t.Fatalf("expected metrics batch size from YAML, got %d", cfg.MetricsBatchSize)
	}
	if !cfg.AuthDisabled {
		t.Fatalf("expected auth_disabled from YAML to be honored")
	}
}

func TestLoadEnvironmentOverridesYAMLConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("listen_addr: \":9090\"\n"), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv("LISTEN_ADDR", ":7070")

	cfg, err := Load(path, "")
	if err != nil {
		t.Fatalf("load with config file and env override: %v", err)
	}
	if cfg.ListenAddr != ":7070" {
		t.Fatalf("expected environment variable to win over YAML, got %s", cfg.ListenAddr)
	}
}

func TestLoadIgnoresMissingConfigFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"), "")
	if err != nil {
		t.Fatalf("expected a missing config file to be treated as absent, got %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Fatalf("expected default listen address, got %s", cfg.ListenAddr)
	}
}
