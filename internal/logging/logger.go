package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/telhawk-systems/logworker/internal/middleware"
)

// Logger is the worker's structured logger. The *Context methods pick up the
// request ID that middleware.RequestID stores on HTTP request contexts.
type Logger struct {
	*slog.Logger
}

// New returns a Logger on stdout. format is "json" (the default) or "text".
func New(level slog.Level, format string) *Logger {
	return NewWithWriter(os.Stdout, level, format)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(w io.Writer, level slog.Level, format string) *Logger {
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level <= slog.LevelDebug,
	}

	var h slog.Handler = slog.NewJSONHandler(w, opts)
	if format == "text" {
		h = slog.NewTextHandler(w, opts)
	}
	return &Logger{Logger: slog.New(h)}
}

// Default wraps slog.Default.
func Default() *Logger {
	return &Logger{Logger: slog.Default()}
}

// Discard drops everything.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// WithContext returns the underlying logger, tagged with the request ID
// carried by ctx when there is one.
func (l *Logger) WithContext(ctx context.Context) *slog.Logger {
	if id := middleware.GetRequestID(ctx); id != "" {
		return l.Logger.With(slog.String(FieldRequestID, id))
	}
	return l.Logger
}

func (l *Logger) logContext(ctx context.Context, level slog.Level, msg string, args []any) {
	lg := l.WithContext(ctx)
	if !lg.Enabled(ctx, level) {
		return
	}
	lg.Log(ctx, level, msg, args...)
}

func (l *Logger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.logContext(ctx, slog.LevelInfo, msg, args)
}

func (l *Logger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.logContext(ctx, slog.LevelWarn, msg, args)
}

func (l *Logger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.logContext(ctx, slog.LevelError, msg, args)
}

func (l *Logger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.logContext(ctx, slog.LevelDebug, msg, args)
}

// With returns a child Logger carrying args on every line.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// WithComponent tags every line with the pipeline component name.
func (l *Logger) WithComponent(name string) *Logger {
	return l.With(Component(name))
}

// ParseLevel maps debug, info, warn and error (any case) to a slog level.
// Anything else is treated as info.
func ParseLevel(level string) slog.Level {
	var lvl slog.Level
	switch s := strings.ToLower(strings.TrimSpace(level)); s {
	case "debug", "info", "warn", "error":
		_ = lvl.UnmarshalText([]byte(s))
		return lvl
	case "warning":
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// SetDefault installs l as the process-wide slog default, which also routes
// the standard log package through it.
func SetDefault(l *Logger) {
	slog.SetDefault(l.Logger)
}
