// Package logging provides structured logging for the sync engine using
// zerolog. It wraps the library to give every component (scanner,
// checker, worker, scheduler) a child logger carrying consistent
// structured fields, configured once from the YAML config's logs:
// block.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide base logger. Init must be called before
// any component logger is derived from it; until then it defaults to a
// console writer at info level so early startup errors are still
// visible.
var Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

// Level mirrors the four levels the YAML config's logs.level field
// accepts.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config configures the global Logger.
type Config struct {
	Level  Level
	JSON   bool
	Output io.Writer
}

// Init (re)configures the global Logger from cfg. Called once at
// process startup from the effective config's logs: block.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	if cfg.JSON {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	}
}

// WithComponent returns a child logger tagged with a component name,
// e.g. "scanner", "checker", "worker", "scheduler".
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithGroup returns a child logger tagged with the owning sync group.
func WithGroup(base zerolog.Logger, group string) zerolog.Logger {
	return base.With().Str("group", group).Logger()
}

// WithWorker returns a child logger tagged with a worker/intent id.
func WithWorker(base zerolog.Logger, workerID string) zerolog.Logger {
	return base.With().Str("worker_id", workerID).Logger()
}

// WithServer returns a child logger tagged with an upstream server key.
func WithServer(base zerolog.Logger, server string) zerolog.Logger {
	return base.With().Str("server", server).Logger()
}
