// Package monitoring holds the process-wide structured logger.
package monitoring

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the package-level structured logger. Components log through it
// with stage and subject fields. Tests or production code can replace it with
// SetOutput or mute it with Mute.
var Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

// Logf is the printf-style diagnostic hook used by code that has no fields to
// attach. It defaults to an info-level message on Logger and may be replaced
// by SetLogger.
var Logf func(format string, v ...interface{}) = defaultLogf

func defaultLogf(format string, v ...interface{}) {
	Logger.Info().Msgf(format, v...)
}

// SetLogger replaces the printf hook. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetOutput rebuilds Logger to write to w. When jsonOut is false the output
// is the human-readable console format used in dev mode.
func SetOutput(w io.Writer, jsonOut bool, level zerolog.Level) {
	if !jsonOut {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	}
	Logger = zerolog.New(w).Level(level).With().Timestamp().Logger()
	Logf = defaultLogf
}

// Mute discards all output. Tests call it to keep go test output readable.
func Mute() {
	Logger = zerolog.Nop()
	Logf = func(string, ...interface{}) {}
}

// Stage returns a child logger tagged with the pipeline stage name.
func Stage(name string) zerolog.Logger {
	return Logger.With().Str("stage", name).Logger()
}
