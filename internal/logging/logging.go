// Package logging builds the process logger from configuration.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/reelrate/reelrate/internal/config"
)

// New creates a zerolog.Logger according to cfg.
func New(cfg config.LoggingConfig) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var out io.Writer
	switch cfg.Output {
	case "", "stdout":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	default:
		return zerolog.Nop(), fmt.Errorf("unsupported log output %q", cfg.Output)
	}

	return NewWithWriter(out, cfg.Format, cfg.TimeFormat, level), nil
}

// NewWithWriter creates a logger writing to out. format is "json" or "console".
func NewWithWriter(out io.Writer, format, timeFormat string, level zerolog.Level) zerolog.Logger {
	if timeFormat != "" {
		zerolog.TimeFieldFormat = timeFormat
	}
	if format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: timeFormat}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}
