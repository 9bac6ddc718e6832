// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Component names attached to every log line as the "component" field.
const (
	ComponentAPIClient = "api-client"
	ComponentBatch     = "batch"
	ComponentRateLimit = "ratelimit"
	ComponentCache     = "cache"
	ComponentCLI       = "isbn-fetch"
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

// Setup configures the global zerolog logger. Loggers created with
// NewLogger afterwards inherit it.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.TimeOnly}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// ParseLevel validates a level name. "warning" is accepted as an alias for warn.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return "", fmt.Errorf("unknown log level %q (want debug, info, warn or error)", s)
	}
}

// parseLevel converts LogLevel to zerolog.Level, defaulting to info.
func parseLevel(level LogLevel) zerolog.Level {
	parsed, err := ParseLevel(string(level))
	if err != nil {
		return zerolog.InfoLevel
	}
	switch parsed {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: Per-key and per-attempt detail
//   - Each HTTP attempt (status, latency, classification)
//   - Cache hits and stores (key, TTL)
//   - Skipped invalid keys
//   - Long admission waits in the rate limiter
//
// Info: Batch lifecycle
//   - Batch start (unique keys, invalid, duplicates)
//   - Cooldown pauses
//   - Batch summary (succeeded, failed, skipped, duration)
//   - Metrics listener startup/shutdown
//
// Warn: Conditions that don't stop the batch
//   - Retry attempts after transient failures
//   - Cache errors (lookup continues uncached)
//   - Result sink failures
//   - Cancellation with partial results
//
// Error: Conditions requiring attention
//   - Retry attempts exhausted for a key
//   - Configuration errors
//
// Context Fields:
//   - key: Normalized ISBN
//   - attempt: 1-based attempt number
//   - status_code: HTTP status code (0 for transport errors)
//   - kind: Result classification
//   - duration: Request or batch duration
//   - backoff: Delay before the next attempt
//   - cache_hit: Boolean indicating cache hit
//   - ttl: Cache entry TTL
