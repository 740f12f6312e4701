// Package logging provides structured logging for the sync engine on
// top of log/slog.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/hivemark/hivesync/errors"
)

// Logger wraps slog.Logger with engine-specific helpers.
type Logger struct {
	*slog.Logger
}

// Config holds logger configuration.
type Config struct {
	Level     string `json:"level" yaml:"level"`           // debug, info, warn, error
	Format    string `json:"format" yaml:"format"`         // text, json
	AddSource bool   `json:"add_source" yaml:"add_source"` // include source positions
}

// DefaultConfig is used when no configuration is supplied.
var DefaultConfig = Config{
	Level:  "info",
	Format: "text",
}

var defaultLogger *Logger

// Operation and Component give log attributes a consistent
// representation across the engine.
type Operation string

func (o Operation) LogValue() slog.Value { return slog.StringValue(string(o)) }

type Component string

func (c Component) LogValue() slog.Value { return slog.StringValue(string(c)) }

// syncErrorValuer renders a SyncError as a structured group.
type syncErrorValuer struct {
	*errors.SyncError
}

func (e syncErrorValuer) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("operation", string(e.Op)),
		slog.String("component", e.Component),
		slog.String("kind", string(e.Kind)),
		slog.Bool("retryable", e.Retryable),
		slog.String("error", e.Err.Error()),
	}
	if e.Metadata != nil {
		meta := make([]slog.Attr, 0, len(e.Metadata))
		for k, v := range e.Metadata {
			meta = append(meta, slog.Any(k, v))
		}
		attrs = append(attrs, slog.Any("metadata", slog.GroupValue(meta...)))
	}
	return slog.GroupValue(attrs...)
}

// New creates a logger writing to w with the provided configuration.
func New(w io.Writer, config Config) *Logger {
	var level slog.Level
	switch config.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level, AddSource: config.AddSource}

	var handler slog.Handler
	if config.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return &Logger{Logger: slog.New(handler)}
}

// Init installs a global default logger.
func Init(config Config) {
	defaultLogger = New(os.Stdout, config)
	slog.SetDefault(defaultLogger.Logger)
}

// Default returns the process-wide logger, initializing it lazily.
func Default() *Logger {
	if defaultLogger == nil {
		Init(DefaultConfig)
	}
	return defaultLogger
}

// Discard returns a logger that drops everything. Useful in tests.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// WithOperation returns a child logger with operation context.
func (l *Logger) WithOperation(op Operation) *Logger {
	return &Logger{Logger: l.With(slog.Any("operation", op))}
}

// WithComponent returns a child logger with component context.
func (l *Logger) WithComponent(component Component) *Logger {
	return &Logger{Logger: l.With(slog.Any("component", component))}
}

// LogError logs err with structure: SyncErrors are expanded into their
// operation/component/kind fields, other errors logged verbatim.
func (l *Logger) LogError(ctx context.Context, err error, msg string, attrs ...slog.Attr) {
	all := make([]any, 0, len(attrs)+1)
	if syncErr, ok := err.(*errors.SyncError); ok {
		all = append(all, slog.Any("sync_error", syncErrorValuer{SyncError: syncErr}))
	} else {
		all = append(all, slog.String("error", err.Error()))
	}
	for _, attr := range attrs {
		all = append(all, attr)
	}
	l.ErrorContext(ctx, msg, all...)
}
