// Package config loads process configuration from the environment, optionally
// seeded from a .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	URL      string
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// DSN returns the lib/pq connection string. DATABASE_URL wins when set.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// RedisConfig holds the durable dispatcher's Redis settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string
	Group    string
}

// Enabled reports whether a Redis address is configured.
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// PlatformConfig holds the external financial platform settings.
type PlatformConfig struct {
	BaseURL       string
	APIKey        string
	StaffID       string
	ContactDomain string
	Timeout       time.Duration
	SyncEnabled   bool
}

// SweepConfig controls the periodic batch sweep.
type SweepConfig struct {
	Interval    time.Duration
	Limit       int
	Concurrency int
	StaleAfter  time.Duration
}

// DispatchConfig controls the enqueue guard in front of the durable dispatcher.
type DispatchConfig struct {
	Attempts int
	Backoff  time.Duration
}

// Config is the full process configuration.
type Config struct {
	HTTPAddr    string
	InternalKey string
	Database    DatabaseConfig
	Redis       RedisConfig
	Platform    PlatformConfig
	Sweep       SweepConfig
	Dispatch    DispatchConfig
	GCSBucket   string
	BQProject   string
	BQDataset   string
	LogLevel    string
	LogFormat   string
}

// Load reads the configuration. A missing .env file is not an error.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function.
func FromEnv(getenv func(string) string) (*Config, error) {
	r := reader{getenv: getenv}

	cfg := &Config{
		HTTPAddr:    r.str("HTTP_ADDR", ":8080"),
		InternalKey: r.str("INTERNAL_API_KEY", ""),
		Database: DatabaseConfig{
			URL:      r.str("DATABASE_URL", ""),
			Host:     r.str("DB_HOST", "localhost"),
			Port:     r.int("DB_PORT", 5432),
			User:     r.str("DB_USER", "postgres"),
			Password: r.str("DB_PASSWORD", ""),
			Name:     r.str("DB_NAME", "clinic_ledger"),
			SSLMode:  r.str("DB_SSLMODE", "disable"),
			MaxConns: r.int("DB_MAX_CONNS", 20),
			MaxIdle:  r.int("DB_MAX_IDLE", 5),
		},
		Redis: RedisConfig{
			Addr:     r.str("REDIS_ADDR", ""),
			Password: r.str("REDIS_PASSWORD", ""),
			DB:       r.int("REDIS_DB", 0),
			Stream:   r.str("SYNC_STREAM", "clinic-ledger:sync"),
			Group:    r.str("SYNC_GROUP", "clinic-ledger-workers"),
		},
		Platform: PlatformConfig{
			BaseURL:       r.str("PLATFORM_BASE_URL", ""),
			APIKey:        r.str("PLATFORM_API_KEY", ""),
			StaffID:       r.str("PLATFORM_STAFF_ID", ""),
			ContactDomain: r.str("PLATFORM_CONTACT_DOMAIN", "patients.invalid"),
			Timeout:       r.duration("PLATFORM_TIMEOUT", 30*time.Second),
			SyncEnabled:   r.bool("SYNC_ENABLED", true),
		},
		Sweep: SweepConfig{
			Interval:    r.duration("SWEEP_INTERVAL", 10*time.Minute),
			Limit:       r.int("SWEEP_LIMIT", 100),
			Concurrency: r.int("SWEEP_CONCURRENCY", 10),
			StaleAfter:  r.duration("SWEEP_STALE_AFTER", 15*time.Minute),
		},
		Dispatch: DispatchConfig{
			Attempts: r.int("DISPATCH_ATTEMPTS", 2),
			Backoff:  r.duration("DISPATCH_BACKOFF", 500*time.Millisecond),
		},
		GCSBucket: r.str("GCS_BUCKET", ""),
		BQProject: r.str("BQ_PROJECT", ""),
		BQDataset: r.str("BQ_DATASET", "clinic_ledger"),
		LogLevel:  r.str("LOG_LEVEL", "info"),
		LogFormat: r.str("LOG_FORMAT", "console"),
	}
	if len(r.errs) > 0 {
		return nil, fmt.Errorf("config: %s", strings.Join(r.errs, "; "))
	}
	if cfg.Sweep.Concurrency < 1 {
		cfg.Sweep.Concurrency = 1
	}
	if cfg.Dispatch.Attempts < 1 {
		cfg.Dispatch.Attempts = 1
	}
	return cfg, nil
}

type reader struct {
	getenv func(string) string
	errs   []string
}

func (r *reader) str(key, def string) string {
	if v := strings.TrimSpace(r.getenv(key)); v != "" {
		return v
	}
	return def
}

func (r *reader) int(key string, def int) int {
	v := strings.TrimSpace(r.getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Sprintf("%s: %v", key, err))
		return def
	}
	return n
}

func (r *reader) bool(key string, def bool) bool {
	v := strings.TrimSpace(r.getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Sprintf("%s: %v", key, err))
		return def
	}
	return b
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(r.getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Sprintf("%s: %v", key, err))
		return def
	}
	return d
}
