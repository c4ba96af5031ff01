// Package logging provides structured logging configuration using zerolog.
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
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
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

// DefaultConfig returns a JSON-to-stderr configuration at info level, the
// shape a scheduled ingestion run wants when its output lands in a log
// aggregator.
func DefaultConfig() Config {
	return Config{Level: LevelInfo, Output: os.Stderr}
}

// Setup applies the configuration to the global zerolog logger and returns
// it. Pipeline components derive their loggers from the global one via
// NewLogger, so Setup must run before any component is constructed.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out}
	}

	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	return log.Logger
}

// parseLevel maps a configured level string onto zerolog's levels. Unknown
// or empty values fall back to info rather than failing the run over a
// misspelled environment variable.
func parseLevel(level LogLevel) zerolog.Level {
	name := strings.ToLower(string(level))
	if name == "warning" {
		name = "warn"
	}
	parsed, err := zerolog.ParseLevel(name)
	if err != nil || parsed == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return parsed
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Per-request flow (page number, attempt, backoff chosen)
//   - Schema merges and header emission
//   - Credential cache hits
//
// Info: Normal operation events
//   - Pages ingested (record counts, running total)
//   - Login and credential refresh
//   - Upload completion, report written
//   - Pipeline start/finish
//
// Warn: Warning conditions that don't prevent operation
//   - Retry attempts and backoff waits
//   - Pages abandoned after retry exhaustion
//   - Page safety ceiling reached
//   - Upload failure (artifact is still produced locally)
//
// Error: Error conditions requiring attention
//   - Authentication failures (fatal to the run)
//   - Output stream write/flush failures (fatal to the run)
//   - Configuration errors
//
// Context Fields:
//   - page: page number being fetched or written
//   - attempt: retry attempt within a page
//   - backoff: chosen backoff duration
//   - error_kind: error classification (auth, transient, ceiling, sink)
//   - records: record count for a page or run
//   - fields: current schema width
