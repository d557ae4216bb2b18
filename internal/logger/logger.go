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
	once   sync.Once
	logger *slog.Logger
)

// Config holds logger configuration
type Config struct {
	Level     string `mapstructure:"level"`  // DEBUG, INFO, WARN, ERROR
	Format    string `mapstructure:"format"` // json, text
	AddSource bool   `mapstructure:"add_source"`
}

// New builds a logger writing to out.
func New(cfg Config, out io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     ParseLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return slog.New(handler)
}

// ParseLevel maps a level name to a slog level. Unknown names are INFO.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Init initializes the global logger
func Init(cfg Config) {
	once.Do(func() {
		logger = New(cfg, os.Stderr)
		slog.SetDefault(logger)
	})
}

// Get returns the global logger
func Get() *slog.Logger {
	if logger == nil {
		// Default fallback if not initialized
		Init(Config{Level: "INFO", Format: "text"})
	}
	return logger
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

type queryIDKey struct{}

// WithQueryID stores a query id in ctx.
func WithQueryID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, queryIDKey{}, id)
}

// QueryID returns the query id stored in ctx, if any.
func QueryID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(queryIDKey{}).(string)
	return id, ok && id != ""
}

// WithQuery adds query_id to the logger if ctx carries one
func WithQuery(ctx context.Context, l *slog.Logger) *slog.Logger {
	id, ok := QueryID(ctx)
	if !ok {
		return l
	}
	return l.With("query_id", id)
}
