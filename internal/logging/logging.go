// Package logging provides the structured logger used across the gateway.
package logging

import (
	"context"
	"io"
	"os"

	charmlog "github.com/charmbracelet/log"
)

// Logger is the structured logging surface every package depends on.
type Logger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Warn(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)
	With(keyvals ...any) Logger
}

type logger struct {
	charm *charmlog.Logger
}

func (l *logger) Debug(msg string, keyvals ...any) { l.charm.Debug(msg, keyvals...) }
func (l *logger) Info(msg string, keyvals ...any)  { l.charm.Info(msg, keyvals...) }
func (l *logger) Warn(msg string, keyvals ...any)  { l.charm.Warn(msg, keyvals...) }
func (l *logger) Error(msg string, keyvals ...any) { l.charm.Error(msg, keyvals...) }
func (l *logger) With(keyvals ...any) Logger       { return &logger{charm: l.charm.With(keyvals...)} }

// Level mirrors the configured verbosity; it maps 1:1 onto charmbracelet/log levels.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

func (l Level) toCharm() charmlog.Level {
	switch l {
	case DebugLevel:
		return charmlog.DebugLevel
	case WarnLevel:
		return charmlog.WarnLevel
	case ErrorLevel:
		return charmlog.ErrorLevel
	default:
		return charmlog.InfoLevel
	}
}

// Config controls the process-wide logger.
type Config struct {
	Level      Level
	Output     io.Writer
	JSON       bool
	AddSource  bool
	TimeFormat string
}

func DefaultConfig() *Config {
	return &Config{
		Level:      InfoLevel,
		Output:     os.Stdout,
		JSON:       false,
		TimeFormat: "15:04:05",
	}
}

var defaultLogger *logger

// New builds a standalone Logger from cfg without touching the process default.
func New(cfg *Config) Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cl := charmlog.NewWithOptions(cfg.Output, charmlog.Options{
		ReportCaller:    cfg.AddSource,
		ReportTimestamp: true,
		TimeFormat:      cfg.TimeFormat,
		Level:           cfg.Level.toCharm(),
	})
	if cfg.JSON {
		cl.SetFormatter(charmlog.JSONFormatter)
	} else {
		cl.SetFormatter(charmlog.TextFormatter)
	}
	return &logger{charm: cl}
}

// Init installs the process-wide default logger. Call once from main/serve.
func Init(cfg *Config) {
	defaultLogger = New(cfg).(*logger)
}

type ctxKey struct{}

// ContextWithLogger attaches l to ctx for retrieval via FromContext.
func ContextWithLogger(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the request-scoped logger, falling back to the process default.
func FromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(ctxKey{}).(Logger); ok && l != nil {
		return l
	}
	if defaultLogger == nil {
		Init(DefaultConfig())
	}
	return defaultLogger
}

// GetDefault returns the process-wide default logger, initializing it if needed.
func GetDefault() Logger {
	if defaultLogger == nil {
		Init(DefaultConfig())
	}
	return defaultLogger
}
