// Package config loads orchestratord's runtime configuration from an
// optional YAML file, an optional .env file, and the process
// environment, applied in that order so environment variables always
// win.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds every orchestratord runtime option named in the
// configuration surface.
type Config struct {
	// Storage
	DatabaseURL  string
	MigrationDir string

	// Auth
	AuthDisabled bool

	// Lease / reservation defaults
	LeaseDuration         time.Duration
	ReservationDefaultTTL time.Duration

	// Metrics materializer cadence and batch sizing
	MetricsBatchCadence time.Duration
	MetricsNRTCadence   time.Duration
	MetricsBatchSize    int
	MetricsNRTBatchSize int

	// Lease/reservation expiration sweep
	SweepInterval time.Duration

	// Connection pool
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	// Logging
	LogLevel  string
	LogFormat string

	// HTTP listener
	ListenAddr string
}

// fileConfig mirrors the subset of Config an operator may pin in YAML;
// durations are strings here so they round-trip through
// time.ParseDuration the same way their environment-variable
// equivalents do. Any field left zero/empty defers to the built-in
// default, and every field here is still overridable by its
// environment variable.
type fileConfig struct {
	DatabaseURL  string `yaml:"database_url"`
	MigrationDir string `yaml:"migration_dir"`
	AuthDisabled *bool  `yaml:"auth_disabled"`

	LeaseDuration         string `yaml:"lease_duration"`
	ReservationDefaultTTL string `yaml:"reservation_default_ttl"`

	MetricsBatchCadence string `yaml:"metrics_batch_cadence"`
	MetricsNRTCadence   string `yaml:"metrics_nrt_cadence"`
	MetricsBatchSize    int    `yaml:"metrics_batch_size"`
	MetricsNRTBatchSize int    `yaml:"metrics_nrt_batch_size"`

	SweepInterval string `yaml:"sweep_interval"`

	DBMaxOpenConns    int    `yaml:"db_max_open_conns"`
	DBMaxIdleConns    int    `yaml:"db_max_idle_conns"`
	DBConnMaxLifetime string `yaml:"db_conn_max_lifetime"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	ListenAddr string `yaml:"listen_addr"`
}

func loadFileConfig(configFile string) (fileConfig, error) {
	var fc fileConfig
	if configFile == "" {
		return fc, nil
	}
	raw, err := os.ReadFile(configFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fc, nil
		}
		return fc, fmt.Errorf("read config file %s: %w", configFile, err)
	}
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fc, fmt.Errorf("parse config file %s: %w", configFile, err)
	}
	return fc, nil
}

// Load reads an optional YAML configFile, then an optional envFile (if
// non-empty and present), then the process environment, applying
// defaults for anything still unset. Later sources win: environment
// variables override the .env file, which overrides configFile, which
// overrides the built-in defaults.
func Load(configFile, envFile string) (*Config, error) {
	fc, err := loadFileConfig(configFile)
	if err != nil {
		return nil, err
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	authDisabled := false
	if fc.AuthDisabled != nil {
		authDisabled = *fc.AuthDisabled
	}

	cfg := &Config{
		DatabaseURL:  getEnv("DATABASE_URL", fc.DatabaseURL),
		MigrationDir: getEnv("MIGRATION_DIR", fc.MigrationDir),
		AuthDisabled: getBoolEnv("AUTH_DISABLED", authDisabled),
		ListenAddr:   getEnv("LISTEN_ADDR", orDefault(fc.ListenAddr, ":8080")),
		LogLevel:     getEnv("LOG_LEVEL", orDefault(fc.LogLevel, "info")),
		LogFormat:    getEnv("LOG_FORMAT", orDefault(fc.LogFormat, "text")),
	}

	if cfg.LeaseDuration, err = getDurationEnv("LEASE_DURATION", fc.LeaseDuration, 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.ReservationDefaultTTL, err = getDurationEnv("RESERVATION_DEFAULT_TTL", fc.ReservationDefaultTTL, 30*time.Minute); err != nil {
		return nil, err
	}
	if cfg.MetricsBatchCadence, err = getDurationEnv("METRICS_BATCH_CADENCE", fc.MetricsBatchCadence, 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.MetricsNRTCadence, err = getDurationEnv("METRICS_NRT_CADENCE", fc.MetricsNRTCadence, 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = getDurationEnv("SWEEP_INTERVAL", fc.SweepInterval, 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.DBConnMaxLifetime, err = getDurationEnv("DB_CONN_MAX_LIFETIME", fc.DBConnMaxLifetime, 5*time.Minute); err != nil {
		return nil, err
	}

	cfg.MetricsBatchSize = getIntEnv("METRICS_BATCH_SIZE", orDefaultInt(fc.MetricsBatchSize, 1000))
	cfg.MetricsNRTBatchSize = getIntEnv("METRICS_NRT_BATCH_SIZE", orDefaultInt(fc.MetricsNRTBatchSize, 200))
	cfg.DBMaxOpenConns = getIntEnv("DB_MAX_OPEN_CONNS", orDefaultInt(fc.DBMaxOpenConns, 20))
	cfg.DBMaxIdleConns = getIntEnv("DB_MAX_IDLE_CONNS", orDefaultInt(fc.DBMaxIdleConns, 5))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func orDefault(value, defaultValue string) string {
	if value == "" {
		return defaultValue
	}
	return value
}

func orDefaultInt(value, defaultValue int) int {
	if value == 0 {
		return defaultValue
	}
	return value
}

// Validate bounds-checks the durations and sizes the rest of the system
// assumes are sane, per the reservation TTL bounds and the claim that a
// sweep cadence above 30s violates the expiry-visibility window.
func (c *Config) Validate() error {
	if c.LeaseDuration < 30*time.Second || c.LeaseDuration > 60*time.Minute {
		return fmt.Errorf("LEASE_DURATION must be between 30s and 60m")
	}
	if c.ReservationDefaultTTL < 60*time.Second || c.ReservationDefaultTTL > 24*time.Hour {
		return fmt.Errorf("RESERVATION_DEFAULT_TTL must be between 60s and 24h")
	}
	if c.SweepInterval <= 0 || c.SweepInterval > 30*time.Second {
		return fmt.Errorf("SWEEP_INTERVAL must be positive and at most 30s")
	}
	if c.MetricsBatchSize <= 0 || c.MetricsNRTBatchSize <= 0 {
		return fmt.Errorf("metrics batch sizes must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getDurationEnv resolves key from the environment, falling back to
// fileValue (parsed the same way) and finally to defaultValue.
func getDurationEnv(key, fileValue string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		value = fileValue
	}
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}
