// Package logging builds the process logger on rs/zerolog.
//
// Pipeline code only needs Printf, so it depends on a one-method interface and
// never on zerolog directly; Printer bridges the two.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config selects level, format and destination.
type Config struct {
	// Level is trace|debug|info|warn|error|disabled. Empty means info.
	Level string
	// Format is json or console. Empty means json.
	Format string
	// Timestamp adds a "time" field to every line.
	Timestamp bool
	// Output defaults to os.Stderr.
	Output io.Writer
}

// New returns a logger for cfg. Unknown levels and formats are errors so a
// typo in config does not silently change verbosity.
func New(cfg Config) (zerolog.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), err
	}

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	switch strings.ToLower(cfg.Format) {
	case "", "json":
	case "console":
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly, NoColor: true}
	default:
		return zerolog.Nop(), fmt.Errorf("logging: unknown format %q (want json|console)", cfg.Format)
	}

	l := zerolog.New(out).Level(level)
	if cfg.Timestamp {
		l = l.With().Timestamp().Logger()
	}
	return l, nil
}

// ParseLevel maps a config string to a zerolog level.
func ParseLevel(s string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return zerolog.InfoLevel, nil
	case "trace":
		return zerolog.TraceLevel, nil
	case "debug":
		return zerolog.DebugLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	case "disabled", "off":
		return zerolog.Disabled, nil
	}
	return zerolog.NoLevel, fmt.Errorf("logging: unknown level %q", s)
}

// PrintfLogger is satisfied by *log.Logger and by Printer.
type PrintfLogger interface {
	Printf(format string, v ...any)
}

// Printer adapts l to PrintfLogger, emitting every line at level.
// zerolog's own Printf always logs at debug, which hides progress lines at
// the default info level.
func Printer(l zerolog.Logger, level zerolog.Level) PrintfLogger {
	return printer{l: l, level: level}
}

type printer struct {
	l     zerolog.Logger
	level zerolog.Level
}

func (p printer) Printf(format string, v ...any) {
	p.l.WithLevel(p.level).Msgf(format, v...)
}
