package logger

import (
	"context"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"io"
	"os"
	"time"
)

func init() {
	// setup global logger
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	zerolog.TimeFieldFormat = time.RFC3339Nano
}

type Logger struct {
	zerolog.Logger
}

type Component interface {
	// LoggerComponent returns component name used in component loggers
	LoggerComponent() string
}

// New configures the global logger. Context loggers fall back to it when the
// context carries none.
func New(verbose, pretty bool) Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	var w io.Writer = os.Stdout
	if pretty {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	log.Logger = zerolog.New(w).With().Timestamp().Str("service", "metalink").Logger()
	zerolog.DefaultContextLogger = &log.Logger

	return Logger{log.Logger}
}

// Nop logger for tests
func Nop() Logger {
	return Logger{zerolog.Nop()}
}

// To writes to w, used by tests asserting on log output
func To(w io.Writer) Logger {
	return Logger{zerolog.New(w).With().Timestamp().Logger()}
}

// Global returns current global logger
func Global() *Logger {
	return &Logger{log.Logger}
}

// Get returns context logger for component
func Get(ctx context.Context, c interface{}) Logger {
	return Ctx(ctx).Component(c)
}

// Ctx creates context logger
func Ctx(ctx context.Context) Logger {
	logger := zerolog.Ctx(ctx)
	return Logger{Logger: *logger}
}

// Component creates logger for specified component or returns current logger
func (l Logger) Component(c interface{}) Logger {
	switch v := c.(type) {
	case Component:
		return l.WithComponent(v.LoggerComponent())
	case string:
		return l.WithComponent(v)
	}
	return l
}

// WithComponent creates child logger for named component
func (l Logger) WithComponent(name string) Logger {
	return Logger{Logger: l.With().Str("component", name).Logger()}
}
