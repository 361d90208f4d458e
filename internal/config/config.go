// Package config loads the ingester configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every setting of the catalog ingester.
type Config struct {
	Port      string
	LogLevel  string
	LogPretty bool

	RedisURL      string
	RedisPassword string
	RedisDB       int

	// DatabaseURL is the Postgres DSN for the games table.
	DatabaseURL string

	CatalogBaseURL     string
	CatalogClientID    string
	CatalogAccessToken string
	CatalogEndpoint    string

	BatchSize         int
	ConcurrencyLevel  int
	RateLimitWindow   time.Duration
	MaxCallsPerWindow int
}

// LoadEnvFiles reads .env and .env.local. Variables already set in the
// process environment are never overridden.
func LoadEnvFiles() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")
}

// Load builds a Config from environment variables and applies defaults.
func Load() (Config, error) {
	cfg := Config{
		Port:               getEnv("PORT", "8080"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		RedisURL:           getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		CatalogBaseURL:     getEnv("CATALOG_BASE_URL", "https://api.igdb.com/v4"),
		CatalogClientID:    os.Getenv("CATALOG_CLIENT_ID"),
		CatalogAccessToken: os.Getenv("CATALOG_ACCESS_TOKEN"),
		CatalogEndpoint:    getEnv("CATALOG_ENDPOINT", "games"),
	}

	var errs []error
	cfg.LogPretty = getBool("LOG_PRETTY", false, &errs)
	cfg.RedisDB = getInt("REDIS_DB", 0, &errs)
	cfg.BatchSize = getInt("INGEST_BATCH_SIZE", 500, &errs)
	cfg.ConcurrencyLevel = getInt("INGEST_CONCURRENCY_LEVEL", 4, &errs)
	cfg.RateLimitWindow = time.Duration(getInt("INGEST_RATE_LIMIT_WINDOW_MS", 1000, &errs)) * time.Millisecond
	cfg.MaxCallsPerWindow = getInt("INGEST_MAX_CALLS_PER_WINDOW", 4, &errs)

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.CatalogClientID == "" {
		errs = append(errs, errors.New("CATALOG_CLIENT_ID is required"))
	}
	if c.CatalogAccessToken == "" {
		errs = append(errs, errors.New("CATALOG_ACCESS_TOKEN is required"))
	}
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("INGEST_BATCH_SIZE must be > 0 (got %d)", c.BatchSize))
	}
	if c.ConcurrencyLevel <= 0 {
		errs = append(errs, fmt.Errorf("INGEST_CONCURRENCY_LEVEL must be > 0 (got %d)", c.ConcurrencyLevel))
	}
	if c.RateLimitWindow <= 0 {
		errs = append(errs, fmt.Errorf("INGEST_RATE_LIMIT_WINDOW_MS must be > 0 (got %s)", c.RateLimitWindow))
	}
	if c.MaxCallsPerWindow <= 0 {
		errs = append(errs, fmt.Errorf("INGEST_MAX_CALLS_PER_WINDOW must be > 0 (got %d)", c.MaxCallsPerWindow))
	}
	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int, errs *[]error) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: invalid integer %q", key, v))
		return fallback
	}
	return n
}

func getBool(key string, fallback bool, errs *[]error) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: invalid boolean %q", key, v))
		return fallback
	}
	return b
}
