package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New returns a JSON logger on stderr. env "development" switches to the
// console writer; an unknown level falls back to info.
func New(level, env string) zerolog.Logger {
	return NewWithWriter(os.Stderr, level, env)
}

// NewWithWriter is New writing to w
func NewWithWriter(w io.Writer, level, env string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	if env == "development" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	return zerolog.New(w).With().Timestamp().Logger().Level(lvl)
}
