// Package config loads application configuration from environment variables.
// All variables use the LEARN_ prefix. A .env file, when present, is read
// first; variables already set in the environment win.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Cache       CacheConfig
	LocalStore  LocalStoreConfig
	Curriculum  CurriculumConfig
	Entitlement EntitlementConfig
	Progress    ProgressConfig
	Log         LogConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int
	Host            string
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL connection settings. An empty URL selects
// the local SQLite store.
type DatabaseConfig struct {
	URL      string
	MaxConns int
	MinConns int
	Migrate  bool
}

// CacheConfig holds Dragonfly/Redis connection settings. An empty URL
// disables the progress cache.
type CacheConfig struct {
	URL string
}

// LocalStoreConfig holds the SQLite fallback settings.
type LocalStoreConfig struct {
	Path string
}

// CurriculumConfig points at the level YAML directory.
type CurriculumConfig struct {
	Path string
}

// EntitlementConfig holds trial and subscription settings.
type EntitlementConfig struct {
	TrialDays     int
	SweepInterval time.Duration
}

// ProgressConfig holds progress persistence settings.
type ProgressConfig struct {
	CacheTTL    time.Duration
	LoadTimeout time.Duration
	SaveTimeout time.Duration

	// SessionIdleTTL is how long an untouched learner session stays in memory.
	SessionIdleTTL time.Duration
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string
	Format string
}

// Load reads configuration from environment variables with LEARN_ prefix.
func Load() (*Config, error) {
	if err := loadDotEnv(envStr("LEARN_ENV_FILE", ".env")); err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            envInt("LEARN_SERVER_PORT", 8080),
			Host:            envStr("LEARN_SERVER_HOST", "0.0.0.0"),
			ShutdownTimeout: envDuration("LEARN_SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			URL:      envStr("LEARN_DATABASE_URL", ""),
			MaxConns: envInt("LEARN_DATABASE_MAX_CONNS", 25),
			MinConns: envInt("LEARN_DATABASE_MIN_CONNS", 5),
			Migrate:  envBool("LEARN_DATABASE_MIGRATE", true),
		},
		Cache: CacheConfig{
			URL: envStr("LEARN_CACHE_URL", ""),
		},
		LocalStore: LocalStoreConfig{
			Path: envStr("LEARN_LOCAL_STORE_PATH", "./data/learn.db"),
		},
		Curriculum: CurriculumConfig{
			Path: envStr("LEARN_CURRICULUM_PATH", "./curriculum"),
		},
		Entitlement: EntitlementConfig{
			TrialDays:     envInt("LEARN_TRIAL_DAYS", 7),
			SweepInterval: envDuration("LEARN_SUBSCRIPTION_SWEEP_INTERVAL", time.Hour),
		},
		Progress: ProgressConfig{
			CacheTTL:       envDuration("LEARN_PROGRESS_CACHE_TTL", 30*time.Minute),
			LoadTimeout:    envDuration("LEARN_PROGRESS_LOAD_TIMEOUT", 5*time.Second),
			SaveTimeout:    envDuration("LEARN_PROGRESS_SAVE_TIMEOUT", 5*time.Second),
			SessionIdleTTL: envDuration("LEARN_PROGRESS_SESSION_IDLE_TTL", 30*time.Minute),
		},
		Log: LogConfig{
			Level:  envStr("LEARN_LOG_LEVEL", "info"),
			Format: envStr("LEARN_LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

// Validate checks that configuration values are usable.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("LEARN_SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Database.URL == "" && c.LocalStore.Path == "" {
		return fmt.Errorf("either LEARN_DATABASE_URL or LEARN_LOCAL_STORE_PATH is required")
	}
	if c.Curriculum.Path == "" {
		return fmt.Errorf("LEARN_CURRICULUM_PATH is required")
	}
	if c.Entitlement.TrialDays <= 0 {
		return fmt.Errorf("LEARN_TRIAL_DAYS must be positive, got %d", c.Entitlement.TrialDays)
	}

	durations := []struct {
		key string
		val time.Duration
	}{
		{"LEARN_SERVER_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout},
		{"LEARN_SUBSCRIPTION_SWEEP_INTERVAL", c.Entitlement.SweepInterval},
		{"LEARN_PROGRESS_CACHE_TTL", c.Progress.CacheTTL},
		{"LEARN_PROGRESS_LOAD_TIMEOUT", c.Progress.LoadTimeout},
		{"LEARN_PROGRESS_SAVE_TIMEOUT", c.Progress.SaveTimeout},
		{"LEARN_PROGRESS_SESSION_IDLE_TTL", c.Progress.SessionIdleTTL},
	}
	for _, d := range durations {
		if d.val <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.key, d.val)
		}
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LEARN_LOG_LEVEL must be debug, info, warn or error, got %q", c.Log.Level)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("LEARN_LOG_FORMAT must be 'json' or 'text', got %q", c.Log.Format)
	}

	return nil
}

// UsesDatabase reports whether PostgreSQL backs the repositories.
func (c *Config) UsesDatabase() bool {
	return c.Database.URL != ""
}

// UsesCache reports whether a Redis cache fronts progress loads.
func (c *Config) UsesCache() bool {
	return c.Cache.URL != ""
}

func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		return strings.EqualFold(v, "true") || v == "1"
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
