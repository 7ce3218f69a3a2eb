package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"
	"time"
)

// LogLevel is a thin enum for user friendly level configuration decoupled from slog.
type LogLevel int

const (
	// LogLevelDebug is the debug logging level.
	LogLevelDebug LogLevel = iota
	// LogLevelInfo is the informational logging level.
	LogLevelInfo
	// LogLevelWarn is the warning logging level.
	LogLevelWarn
	// LogLevelError is the error logging level.
	LogLevelError
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a case-insensitive level name into a LogLevel.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LogLevelDebug, nil
	case "", "info":
		return LogLevelInfo, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "error":
		return LogLevelError, nil
	default:
		return LogLevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Logger defines the minimal logging interface used across Lumen.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// SlogAdapter wraps *slog.Logger to implement the Logger interface.
type SlogAdapter struct {
	*slog.Logger
}

// Debug logs a debug message.
func (s *SlogAdapter) Debug(msg string, args ...any) { s.Logger.Debug(msg, args...) }

// Info logs an informational message.
func (s *SlogAdapter) Info(msg string, args ...any) { s.Logger.Info(msg, args...) }

// Warn logs a warning message.
func (s *SlogAdapter) Warn(msg string, args ...any) { s.Logger.Warn(msg, args...) }

// Error logs an error message.
func (s *SlogAdapter) Error(msg string, args ...any) { s.Logger.Error(msg, args...) }

// NewSlogAdapter creates a Logger from *slog.Logger.
func NewSlogAdapter(logger *slog.Logger) Logger {
	return &SlogAdapter{Logger: logger}
}

// StructuredLogger wraps slog.Logger with the component and request
// context of Lumen's services. With* methods return copies; the receiver is
// never mutated.
type StructuredLogger struct {
	logger    *slog.Logger
	level     LogLevel
	component string
}

// LoggerConfig configures construction of a StructuredLogger.
type LoggerConfig struct {
	Level       LogLevel
	Format      string // json or text
	Output      io.Writer
	AddSource   bool
	Component   string
	CustomAttrs map[string]any
}

// DefaultLoggerConfig returns a baseline JSON info level configuration.
func DefaultLoggerConfig() *LoggerConfig {
	return &LoggerConfig{Level: LogLevelInfo, Format: "json", Output: os.Stderr, CustomAttrs: map[string]any{}}
}

// NewLogger builds a StructuredLogger from a config (or defaults if nil).
func NewLogger(cfg *LoggerConfig) *StructuredLogger {
	if cfg == nil {
		cfg = DefaultLoggerConfig()
	}
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: slogLevel(cfg.Level), AddSource: cfg.AddSource}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}

	logger := slog.New(handler)
	for _, k := range slices.Sorted(maps.Keys(cfg.CustomAttrs)) {
		logger = logger.With(k, cfg.CustomAttrs[k])
	}
	return &StructuredLogger{logger: logger, level: cfg.Level, component: cfg.Component}
}

func slogLevel(l LogLevel) slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (l *StructuredLogger) with(args ...any) *StructuredLogger {
	nl := *l
	nl.logger = l.logger.With(args...)
	return &nl
}

// WithContext adds a key/value attribute that will be attached to every log entry.
func (l *StructuredLogger) WithContext(key string, value any) *StructuredLogger {
	return l.with(key, value)
}

// WithComponent sets the logical component (engine, gateway, relay, tool,
// memory). A later call replaces the component.
func (l *StructuredLogger) WithComponent(c string) *StructuredLogger {
	nl := *l
	nl.component = c
	return &nl
}

// WithRequest attaches the conversation and stream identifiers of one
// request. Empty values are omitted.
func (l *StructuredLogger) WithRequest(conversationID, requestID string) *StructuredLogger {
	var args []any
	if conversationID != "" {
		args = append(args, "conversation_id", conversationID)
	}
	if requestID != "" {
		args = append(args, "request_id", requestID)
	}
	if len(args) == 0 {
		return l
	}
	return l.with(args...)
}

func (l *StructuredLogger) log(level LogLevel, msg string, args ...any) {
	if level < l.level {
		return
	}
	if l.component != "" {
		args = append([]any{"component", l.component}, args...)
	}
	l.logger.Log(context.Background(), slogLevel(level), msg, args...)
}

// Debug logs at debug level.
func (l *StructuredLogger) Debug(msg string, args ...any) { l.log(LogLevelDebug, msg, args...) }

// Info logs at info level.
func (l *StructuredLogger) Info(msg string, args ...any) { l.log(LogLevelInfo, msg, args...) }

// Warn logs at warn level.
func (l *StructuredLogger) Warn(msg string, args ...any) { l.log(LogLevelWarn, msg, args...) }

// Error logs at error level.
func (l *StructuredLogger) Error(msg string, args ...any) { l.log(LogLevelError, msg, args...) }

// LogToolCall records execution details for a tool invocation.
func (l *StructuredLogger) LogToolCall(tool string, dur time.Duration, success bool, err error) {
	l.logCall("tool.execution", success, err, "tool_name", tool, "duration", dur, "success", success)
}

// LogModelCall records model call latency, the number of streamed deltas and success.
func (l *StructuredLogger) LogModelCall(model string, deltas int, dur time.Duration, success bool, err error) {
	l.logCall("model.call", success, err, "model", model, "delta_count", deltas, "duration", dur, "success", success)
}

func (l *StructuredLogger) logCall(event string, success bool, err error, args ...any) {
	if err != nil {
		args = append(args, "error", err.Error())
	}
	if !success {
		l.log(LogLevelError, event+".failed", args...)
		return
	}
	l.log(LogLevelInfo, event+".completed", args...)
}

// NoOpLogger discards all log messages. Useful for testing or when logging is disabled.
type NoOpLogger struct{}

// Debug logs a debug message.
func (NoOpLogger) Debug(string, ...any) {}

// Info logs an informational message.
func (NoOpLogger) Info(string, ...any) {}

// Warn logs a warning message.
func (NoOpLogger) Warn(string, ...any) {}

// Error logs an error message.
func (NoOpLogger) Error(string, ...any) {}

// NewSlogLogger creates a new StructuredLogger with the specified configuration.
func NewSlogLogger(level LogLevel, format string, addSource bool) *StructuredLogger {
	cfg := DefaultLoggerConfig()
	cfg.Level = level
	if format != "" {
		cfg.Format = format
	}
	cfg.AddSource = addSource
	return NewLogger(cfg)
}
