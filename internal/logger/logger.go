package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	mu     sync.RWMutex
	logger *slog.Logger
)

// Config holds logger configuration
type Config struct {
	Level     string // debug, info, warn, error
	Format    string // json, text
	AddSource bool
	Output    io.Writer // defaults to os.Stderr
}

// ParseLevel maps a level name to a slog.Level; unknown names are info.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds a logger without installing it.
func New(cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     ParseLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return slog.New(handler)
}

// Init installs the global logger and makes it the slog default.
func Init(cfg Config) *slog.Logger {
	l := New(cfg)
	mu.Lock()
	logger = l
	mu.Unlock()
	slog.SetDefault(l)
	return l
}

// Get returns the global logger
func Get() *slog.Logger {
	mu.RLock()
	l := logger
	mu.RUnlock()
	if l == nil {
		return Init(Config{Level: "info", Format: "text"})
	}
	return l
}

type ctxKey struct{}

// WithRequestID stores a request id for FromContext.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// RequestID returns the id stored by WithRequestID.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// FromContext returns the global logger annotated with the context's request id.
func FromContext(ctx context.Context) *slog.Logger {
	l := Get()
	if id := RequestID(ctx); id != "" {
		return l.With("request_id", id)
	}
	return l
}

// Helper functions for quick logging
func Info(msg string, args ...any) {
	Get().Info(msg, args...)
}

func Error(msg string, args ...any) {
	Get().Error(msg, args...)
}

func Debug(msg string, args ...any) {
	Get().Debug(msg, args...)
}

func Warn(msg string, args ...any) {
	Get().Warn(msg, args...)
}
