// Package logging holds the process-wide zerolog logger for chunkagg.
package logging

import (
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

var (
	logger atomic.Pointer[zerolog.Logger]

	// pretty adds human-readable companion fields (size_h, rows_h, ...) to
	// completion events.
	pretty atomic.Bool
)

func init() {
	l := zerolog.New(os.Stderr).With().Timestamp().Logger()
	logger.Store(&l)
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// Init configures the global logger.
// debug lowers the level to Debug; human switches to a console writer and
// turns on pretty mode.
func Init(debug bool, human bool) {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	var out io.Writer = os.Stderr
	if human {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	SetPrettyMode(human)

	l := zerolog.New(out).With().Timestamp().Logger()
	logger.Store(&l)
}

// L returns the base logger.
func L() *zerolog.Logger {
	return logger.Load()
}

// WithPhase returns a logger with the phase field set.
func WithPhase(phase string) zerolog.Logger {
	return L().With().Str("phase", phase).Logger()
}

// WithDataset returns a logger tagged with phase and dataset_id.
func WithDataset(phase, datasetID string) zerolog.Logger {
	return L().With().Str("phase", phase).Str("dataset_id", datasetID).Logger()
}

// SetLogger replaces the global logger. Intended for tests.
func SetLogger(l zerolog.Logger) {
	logger.Store(&l)
}

// SetPrettyMode toggles human-readable companion fields.
func SetPrettyMode(on bool) {
	pretty.Store(on)
}

// IsPrettyMode reports whether human-readable companion fields are emitted.
func IsPrettyMode() bool {
	return pretty.Load()
}
