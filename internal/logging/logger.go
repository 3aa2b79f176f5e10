package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"crudkit/internal/config"
)

// Options controls logger construction.
type Options struct {
	Level  string
	Pretty bool
	Output io.Writer
}

// FromConfig converts the log section of the application config.
func FromConfig(cfg config.LogConfig) Options {
	return Options{Level: cfg.Level, Pretty: cfg.Pretty}
}

// New creates a zerolog logger. Unknown levels fall back to info.
func New(opts Options) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	level, err := zerolog.ParseLevel(opts.Level)
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}

	output := opts.Output
	if output == nil {
		output = os.Stderr
	}
	if opts.Pretty {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: "15:04:05"}
	}

	return zerolog.New(output).Level(level).With().Timestamp().Logger()
}

// WithComponent tags every event of l with a component field.
func WithComponent(l zerolog.Logger, component string) zerolog.Logger {
	return l.With().Str("component", component).Logger()
}
