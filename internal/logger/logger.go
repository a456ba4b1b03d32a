package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var Log zerolog.Logger

func init() {
	// Configure ZeroLog in text mode with colors
	Log = zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		NoColor:    false,
		TimeFormat: time.RFC3339,
	}).With().Timestamp().Logger()

	// Set default log level to Info
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// SetLevel sets the global log level
func SetLevel(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
}

// SetOutput replaces the writer of the global logger. Tests use io.Discard.
func SetOutput(w io.Writer) {
	Log = Log.Output(w)
}

// ForNetwork returns a sub-logger tagged with the network identity
func ForNetwork(id int64, name string) zerolog.Logger {
	return Log.With().Int64("network_id", id).Str("network", name).Logger()
}

// ForComponent returns a sub-logger tagged with a component name
func ForComponent(parent zerolog.Logger, component string) zerolog.Logger {
	return parent.With().Str("component", component).Logger()
}
