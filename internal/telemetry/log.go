// Package telemetry wires up process-wide structured logging (zerolog);
// it sets up no metrics or error-capture sinks. Grounded on the teacher's
// cmd/main.go zerolog bootstrap.
package telemetry

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the global zerolog logger. debug enables verbose output.
func Init(debug bool) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// For returns a component-scoped sub-logger so every log line carries a
// "component" field, following the teacher's per-package log.With() style.
func For(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// ForUser returns a sub-logger scoped to both a component and a user id,
// used throughout the per-user engine scope.
func ForUser(component, userID string) zerolog.Logger {
	return log.With().Str("component", component).Str("user_id", userID).Logger()
}
