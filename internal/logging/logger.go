// Package logging wraps log/slog with the JSON layout and field names the worker uses.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"
)

type Config struct {
	Level       string // debug|info|warn|error
	ServiceName string
	Environment string
	Version     string
	Output      io.Writer
	AddSource   bool
}

func DefaultConfig(serviceName string) *Config {
	return &Config{
		Level:       getEnv("LOG_LEVEL", "info"),
		ServiceName: serviceName,
		Environment: getEnv("ENVIRONMENT", "development"),
		Version:     "unknown",
		Output:      os.Stdout,
	}
}

// Logger is a slog.Logger with a few domain helpers.
type Logger struct {
	*slog.Logger
}

func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func New(cfg *Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	opts := &slog.HandlerOptions{
		Level:     ParseLevel(cfg.Level),
		AddSource: cfg.AddSource,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.UTC().Format(time.RFC3339Nano))
				}
			}
			return a
		},
	}
	base := slog.New(slog.NewJSONHandler(out, opts)).With(
		"service", cfg.ServiceName,
		"environment", cfg.Environment,
		"version", cfg.Version,
	)
	return &Logger{Logger: base}
}

// Nop discards everything. Used where a logger is optional.
func Nop() *Logger {
	return &Logger{Logger: slog.New(slog.NewJSONHandler(io.Discard, nil))}
}

func (l *Logger) with(args ...any) *Logger { return &Logger{Logger: l.Logger.With(args...)} }

func (l *Logger) WithCorrelationID(id string) *Logger { return l.with("correlationId", id) }

func (l *Logger) WithComponent(name string) *Logger { return l.with("component", name) }

func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.with("error", err.Error())
}

// Performance logs a timed operation at info, or error when it failed.
func (l *Logger) Performance(ctx context.Context, operation string, d time.Duration, success bool, attrs ...any) {
	level := slog.LevelInfo
	if !success {
		level = slog.LevelError
	}
	args := append([]any{"operation", operation, "durationMs", d.Milliseconds(), "success", success}, attrs...)
	l.Log(ctx, level, "Performance metric", args...)
}

// Panic logs a recovered panic with the current goroutine's stack.
func (l *Logger) Panic(ctx context.Context, recovered any) {
	stack := make([]byte, 4096)
	n := runtime.Stack(stack, false)
	l.ErrorContext(ctx, "Panic recovered", "panic", recovered, "stack", string(stack[:n]))
}

func (l *Logger) SetDefault() { slog.SetDefault(l.Logger) }

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
