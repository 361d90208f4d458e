// Package logging configures zerolog for the catalog ingester.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// Component names attached to every log line of a subsystem.
const (
	ComponentServer        = "server"
	ComponentCatalogClient = "catalog-client"
	ComponentRateLimiter   = "rate-limiter"
	ComponentIngest        = "ingest"
	ComponentOrchestrator  = "orchestrator"
	ComponentStorage       = "storage"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// FromEnv returns a Config for the LOG_LEVEL and LOG_PRETTY settings.
func FromEnv(level string, pretty bool) Config {
	cfg := DefaultConfig()
	if level != "" {
		cfg.Level = LogLevel(level)
	}
	cfg.Pretty = pretty
	return cfg
}

// Setup configures the global zerolog logger and returns it.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// parseLevel converts LogLevel to zerolog.Level. Unknown levels map to Info.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger derives a logger from the global one with the given component.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: per-batch internals
//   - Query bodies sent to the catalog
//   - Rate limiter waits
//   - Empty batches ending a worker
//
// Info: run lifecycle
//   - Run started / finished
//   - Batch progress (id range, percent)
//   - Games persisted
//   - Server startup/shutdown
//
// Warn: degraded but running
//   - Retry attempts
//   - Cancellation observed
//   - Start rejected because a run is in progress
//
// Error: needs attention
//   - Failed fetches after retries
//   - Failed runs and persist failures
//   - Configuration errors
//
// Context Fields:
//   - run_id: ingestion run identifier
//   - worker_id: worker index within a run
//   - offset: first record of a batch
//   - min_id / max_id: id range of a fetched batch
//   - progress_pct: fetched / target * 100
//   - endpoint: catalog endpoint
//   - error_class: client, server, rate_limit, network
