// Package logging builds the zerolog logger shared by the CLIs and the server.
package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Output formats.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// Options configures the structured logger.
type Options struct {
	Service string
	Level   zerolog.Level
	Format  string // json | console
	Output  io.Writer
}

// New returns a logger tagged with the service name.
func New(opts Options) zerolog.Logger {
	if opts.Level == zerolog.NoLevel {
		opts.Level = zerolog.InfoLevel
	}

	output := opts.Output
	if output == nil {
		output = os.Stderr
	}
	if opts.Format == FormatConsole {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: "15:04:05",
		}
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano

	return zerolog.
		New(output).
		With().
		Timestamp().
		Str("service", opts.Service).
		Logger().
		Level(opts.Level)
}

// ParseLevel maps a level name to a zerolog level, falling back to info.
func ParseLevel(value string) zerolog.Level {
	s := strings.ToLower(strings.TrimSpace(value))
	if s == "" {
		return zerolog.InfoLevel
	}
	if lvl, err := zerolog.ParseLevel(s); err == nil && lvl != zerolog.NoLevel {
		return lvl
	}
	return zerolog.InfoLevel
}

// WithField attaches a field to the logger carried by ctx.
func WithField(ctx context.Context, base zerolog.Logger, key string, value any) context.Context {
	l := FromContext(ctx, base).With().Interface(key, value).Logger()
	return l.WithContext(ctx)
}

// FromContext returns the logger attached to ctx, or base.
func FromContext(ctx context.Context, base zerolog.Logger) *zerolog.Logger {
	if ctx != nil {
		if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
			return l
		}
	}
	return &base
}

// Nop returns a disabled logger.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
