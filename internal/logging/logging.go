// Package logging builds the zerolog logger used for diagnostics.
//
// Diagnostics go to stderr so they never mix with command output. The logger
// is carried in a context.Context; code below the CLI reads it with
// zerolog.Ctx and gets a disabled logger when none was attached.
package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Options configures New.
type Options struct {
	// Level is a level name such as "debug" or "warn"; empty means warn
	Level string

	// Format is "console" (default) or "json"
	Format string

	// Verbose forces debug level
	Verbose bool

	// Out defaults to os.Stderr
	Out io.Writer

	// NoColor disables colors in console output
	NoColor bool
}

// New creates a logger from opts.
func New(opts Options) zerolog.Logger {
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	if !strings.EqualFold(opts.Format, "json") {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
			NoColor:    opts.NoColor,
		}
	}

	level, ok := ParseLevel(opts.Level)
	if !ok {
		level = zerolog.WarnLevel
	}
	if opts.Verbose && level > zerolog.DebugLevel {
		level = zerolog.DebugLevel
	}
	return zerolog.New(out).Level(level).With().Timestamp().Str("app", "conserve").Logger()
}

// ParseLevel maps a level name to a zerolog level.
func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.WarnLevel, false
	}
}

// WithLogger returns a copy of ctx carrying logger.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return logger.WithContext(ctx)
}

// From returns the logger carried by ctx.
func From(ctx context.Context) *zerolog.Logger {
	return zerolog.Ctx(ctx)
}
