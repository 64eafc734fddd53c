// Package logger configures the process-wide zerolog logger used by every
// component of the orchestrator.
package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Log is the global logger. Components derive their own child logger from it
// via Component.
var Log zerolog.Logger

// Initialize sets up the global logger with the given level and format.
func Initialize(level string, pretty bool) {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	} else {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	}

	Log = log.With().
		Str("service", "orchestrator").
		Logger()

	Log.Info().
		Str("level", logLevel.String()).
		Bool("pretty", pretty).
		Msg("logger initialized")
}

// Component returns a child logger tagged with the given component name, the
// convention every package in this module uses to scope its log lines
// (e.g. "supervisor", "registry", "task").
func Component(name string) zerolog.Logger {
	return Log.With().Str("component", name).Logger()
}

// GetLogger returns the global logger instance.
func GetLogger() *zerolog.Logger {
	return &Log
}
