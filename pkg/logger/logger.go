// Package logger wraps log/slog with redaction of sensitive attributes and
// optional sampling.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Logger wraps slog.Logger with additional functionality.
type Logger struct {
	*slog.Logger
}

// Config holds logger configuration.
type Config struct {
	Level  string
	Format string
	Output io.Writer

	// Sampling thins out repeated messages, e.g. per-item batch failures.
	Sampling SamplingConfig
}

// DefaultConfig returns the default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: "json",
		Output: os.Stdout,
	}
}

// New creates a new Logger instance.
func New(cfg Config) *Logger {
	level := parseLevel(cfg.Level)

	opts := &slog.HandlerOptions{
		Level:       level,
		AddSource:   level == slog.LevelDebug,
		ReplaceAttr: redactAttr,
	}

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(output, opts)
	default:
		handler = slog.NewJSONHandler(output, opts)
	}
	handler = NewSamplingHandler(handler, cfg.Sampling)

	return &Logger{
		Logger: slog.New(handler),
	}
}

// redactedKeys are attribute keys masked wherever they appear.
var redactedKeys = map[string]bool{
	"password":      true,
	"secret":        true,
	"token":         true,
	"key":           true,
	"org_key":       true,
	"authorization": true,
	"cookie":        true,
	"dsn":           true,
	"database_url":  true,
	"redis_url":     true,
	"email":         true,
	"emails":        true,
	"recipient":     true,
	"accept_url":    true,
}

// redactedFragments mask keys such as "smtp_password" or "invite_token".
var redactedFragments = []string{"password", "secret", "_token", "_key", "email"}

func redactAttr(_ []string, a slog.Attr) slog.Attr {
	key := strings.ToLower(a.Key)
	if redactedKeys[key] {
		return slog.String(a.Key, "[REDACTED]")
	}
	for _, fragment := range redactedFragments {
		if strings.Contains(key, fragment) {
			return slog.String(a.Key, "[REDACTED]")
		}
	}
	return a
}

// NewDefault creates a new Logger with default configuration.
func NewDefault() *Logger {
	return New(DefaultConfig())
}

// NewDevelopment creates a logger configured for development.
func NewDevelopment() *Logger {
	return New(Config{
		Level:  "debug",
		Format: "text",
		Output: os.Stdout,
	})
}

// NewProduction creates a JSON logger that samples repeated info logs.
func NewProduction() *Logger {
	return New(Config{
		Level:  "info",
		Format: "json",
		Output: os.Stdout,
		Sampling: SamplingConfig{
			Enabled:   true,
			Tick:      time.Second,
			Threshold: 100,
			Rate:      0.1,
			ErrorRate: 1.0,
		},
	})
}

// NewNop creates a logger that discards all output.
func NewNop() *Logger {
	return New(Config{
		Level:  "error",
		Format: "json",
		Output: io.Discard,
	})
}

// With returns a new Logger with the given attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
	}
}

// ContextKey is the type of context values picked up by WithContext.
type ContextKey string

const (
	ContextKeyOrganizationID ContextKey = "organization_id"
	ContextKeyTaskID         ContextKey = "task_id"
)

// WithContext returns a new Logger carrying the organization and task ids
// found in ctx.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	logger := l.Logger
	if orgID, ok := ctx.Value(ContextKeyOrganizationID).(string); ok && orgID != "" {
		logger = logger.With(slog.String("organization_id", orgID))
	}
	if taskID, ok := ctx.Value(ContextKeyTaskID).(string); ok && taskID != "" {
		logger = logger.With(slog.String("task_id", taskID))
	}
	return &Logger{Logger: logger}
}

// WithError returns a new Logger with the error attribute.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{
		Logger: l.Logger.With(slog.Any("error", err)),
	}
}

// Stdlib returns the underlying *slog.Logger.
func (l *Logger) Stdlib() *slog.Logger {
	return l.Logger
}

// SetDefault sets this logger as the default slog logger.
func (l *Logger) SetDefault() {
	slog.SetDefault(l.Logger)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsValidLevel reports whether level is one parseLevel understands.
func IsValidLevel(level string) bool {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "warning", "error":
		return true
	}
	return false
}

type contextKey string

const loggerKey contextKey = "logger"

// ToContext adds the logger to the context.
func ToContext(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext retrieves the logger from the context.
func FromContext(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(loggerKey).(*Logger); ok {
		return logger
	}
	return NewDefault()
}
