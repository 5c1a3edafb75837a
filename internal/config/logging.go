package config

import (
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
)

func (l LogConfig) validate() error {
	if _, err := zerolog.ParseLevel(l.Level); err != nil || l.Level == "" {
		return fmt.Errorf("log level %q is not one of debug, info, warn, error", l.Level)
	}
	switch l.Format {
	case "json", "console":
		return nil
	default:
		return fmt.Errorf("log format %q must be json or console", l.Format)
	}
}

// NewLogger builds the root logger. Components derive from it with a "component" field.
func (l LogConfig) NewLogger(w io.Writer) (zerolog.Logger, error) {
	if err := l.validate(); err != nil {
		return zerolog.Nop(), err
	}
	level, _ := zerolog.ParseLevel(l.Level)

	if l.Format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}
