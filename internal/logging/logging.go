// Package logging wraps log/slog with the process-wide logger used by every
// agente component. Loggers are scoped by component and, for inbound updates,
// by correlation ID, user and chat.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
)

type ctxKey int

const (
	correlationIDKey ctxKey = iota
	userIDKey
	chatIDKey
)

var (
	mu     sync.RWMutex
	logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	closer io.Closer
)

// Config holds logging configuration.
type Config struct {
	Level    string          `yaml:"level"`  // debug, info, warn, error
	Format   string          `yaml:"format"` // text, json
	Output   string          `yaml:"output"` // stdout, stderr, or a file path
	Rotation *RotationConfig `yaml:"rotation"`
}

// RotationConfig bounds a file output by size and age.
type RotationConfig struct {
	MaxSize    string `yaml:"max_size"` // e.g. "50MB"
	MaxAge     string `yaml:"max_age"`  // e.g. "7d"
	MaxBackups int    `yaml:"max_backups"`
}

// DefaultConfig returns the logging defaults.
func DefaultConfig() *Config {
	return &Config{
		Level:  "info",
		Format: "text",
		Output: "stdout",
	}
}

// Init replaces the global logger according to cfg. A nil cfg means defaults.
func Init(cfg *Config) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	w, c, err := openOutput(cfg)
	if err != nil {
		return err
	}

	level := parseLevel(cfg.Level)
	opts := &slog.HandlerOptions{Level: level, AddSource: level == slog.LevelDebug}

	var h slog.Handler
	if cfg.Format == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}

	mu.Lock()
	prev := closer
	logger = slog.New(h)
	closer = c
	mu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}
	return nil
}

// Discard silences all output. Used by CLI commands that print their own
// results and by tests.
func Discard() {
	mu.Lock()
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	mu.Unlock()
}

// Close releases a file output opened by Init.
func Close() error {
	mu.Lock()
	c := closer
	closer = nil
	mu.Unlock()
	if c == nil {
		return nil
	}
	return c.Close()
}

func parseLevel(s string) slog.Level {
	switch s {
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

func openOutput(cfg *Config) (io.Writer, io.Closer, error) {
	switch cfg.Output {
	case "", "stdout":
		return os.Stdout, nil, nil
	case "stderr":
		return os.Stderr, nil, nil
	}
	rw, err := newRotatingFile(cfg.Output, cfg.Rotation)
	if err != nil {
		return nil, nil, err
	}
	return rw, rw, nil
}

// Logger returns the global logger.
func Logger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// WithComponent returns a logger tagged with a component name.
func WithComponent(component string) *slog.Logger {
	return Logger().With(slog.String("component", component))
}

// WithContext returns a logger carrying the request attributes stored in ctx.
func WithContext(ctx context.Context) *slog.Logger {
	l := Logger()
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		l = l.With(slog.String("correlation_id", id))
	}
	if id, ok := ctx.Value(userIDKey).(int64); ok {
		l = l.With(slog.Int64("user_id", id))
	}
	if id, ok := ctx.Value(chatIDKey).(int64); ok {
		l = l.With(slog.Int64("chat_id", id))
	}
	return l
}

// ContextWithCorrelationID tags ctx with a request correlation ID.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationID returns the correlation ID stored in ctx, if any.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey).(string)
	return id
}

// ContextWithUser tags ctx with the user and chat an update came from.
func ContextWithUser(ctx context.Context, userID, chatID int64) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	return context.WithValue(ctx, chatIDKey, chatID)
}

// Debug logs at debug level.
func Debug(msg string, args ...any) { Logger().Debug(msg, args...) }

// Info logs at info level.
func Info(msg string, args ...any) { Logger().Info(msg, args...) }

// Warn logs at warn level.
func Warn(msg string, args ...any) { Logger().Warn(msg, args...) }

// Error logs at error level.
func Error(msg string, args ...any) { Logger().Error(msg, args...) }
