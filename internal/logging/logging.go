package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// New builds a logger writing to out. format is "console" or "json".
func New(level, format string, out io.Writer) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("log level %q: %w", level, err)
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	switch strings.ToLower(format) {
	case "", "console":
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	case "json":
	default:
		return zerolog.Nop(), fmt.Errorf("unknown log format %q", format)
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger(), nil
}

// Setup configures the global logger for a command and returns it.
func Setup(service, level, format string) (zerolog.Logger, error) {
	zerolog.TimeFieldFormat = time.RFC3339
	l, err := New(level, format, os.Stdout)
	if err != nil {
		return l, err
	}
	l = l.With().Str("service", service).Logger()
	zlog.Logger = l
	return l, nil
}
