package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
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

	// File, when set, also writes every record to a size-rotated log file.
	File FileConfig
}

// FileConfig configures rotated file output.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
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
		ReplaceAttr: sanitizeAttr, // Mask sensitive data
	}

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}
	if cfg.File.Path != "" {
		output = io.MultiWriter(output, newRotatingWriter(cfg.File))
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(output, opts)
	default:
		handler = slog.NewJSONHandler(output, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
	}
}

func newRotatingWriter(cfg FileConfig) io.Writer {
	maxSize := cfg.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 100
	}
	return &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    maxSize, // megabytes
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays, // days
		Compress:   cfg.Compress,
	}
}

// sensitiveKeys contains keys that should be masked in logs.
var sensitiveKeys = map[string]bool{
	"password":       true,
	"passwd":         true,
	"secret":         true,
	"token":          true,
	"authorization":  true,
	"bearer":         true,
	"api_key":        true,
	"apikey":         true,
	"api-key":        true,
	"access_token":   true,
	"cookie":         true,
	"credential":     true,
	"credentials":    true,
	"encryption_key": true,
	"redis_password": true,
	"webhook_url":    true,
}

// sanitizeAttr masks sensitive values in log attributes.
func sanitizeAttr(_ []string, a slog.Attr) slog.Attr {
	key := strings.ToLower(a.Key)

	if sensitiveKeys[key] {
		return slog.String(a.Key, "[REDACTED]")
	}

	// Partial matches, e.g. "jira_password" or "dt_token"
	for sensitive := range sensitiveKeys {
		if strings.Contains(key, sensitive) {
			return slog.String(a.Key, "[REDACTED]")
		}
	}

	return a
}

// NewDefault creates a new Logger with default configuration.
func NewDefault() *Logger {
	return New(DefaultConfig())
}

// NewNop creates a no-op logger that discards all output.
// Useful for testing or when logging is not needed.
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

// ContextKey is the type of context keys read by WithContext.
type ContextKey string

const (
	ContextKeyRunID     ContextKey = "run_id"
	ContextKeyRequestID ContextKey = "request_id"
)

// WithContext returns a new Logger with context values.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	logger := l.Logger

	if runID, ok := ctx.Value(ContextKeyRunID).(string); ok && runID != "" {
		logger = logger.With(slog.String("run_id", runID))
	}

	if requestID, ok := ctx.Value(ContextKeyRequestID).(string); ok && requestID != "" {
		logger = logger.With(slog.String("request_id", requestID))
	}

	return &Logger{Logger: logger}
}

// WithError returns a new Logger with the error attribute.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{
		Logger: l.Logger.With(slog.Any("error", err)),
	}
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

// ValidLevel reports whether level is one of the supported level names.
func ValidLevel(level string) bool {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "warning", "error":
		return true
	}
	return false
}

type contextKey string

const (
	loggerKey contextKey = "logger"
)

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
