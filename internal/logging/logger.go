// Package logging provides structured logging with a context-propagated
// correlation identifier, shared across every subsystem of the core.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ContextKey is the type for context keys carried through the logger.
type ContextKey string

const (
	// TraceIDKey is the context key for the correlation/trace identifier.
	TraceIDKey ContextKey = "trace_id"
	// PlayerIDKey is the context key for the acting player's external identifier.
	PlayerIDKey ContextKey = "player_id"
	// ServiceKey is the context key for the originating component name.
	ServiceKey ContextKey = "service"
)

// Logger wraps logrus.Logger with the correlation/service fields every
// subsystem (resilience, kvstore, cache, dynamicconfig, resource, audit,
// database) attaches to its entries.
type Logger struct {
	*logrus.Logger
	component string
}

// New creates a new Logger instance for the given component name.
func New(component, level, format string) *Logger {
	logger := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if strings.EqualFold(format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	}

	logger.SetOutput(os.Stdout)

	return &Logger{Logger: logger, component: component}
}

// NewFromEnv constructs a logger using LUMEN_LOG_LEVEL / LUMEN_LOG_FORMAT.
// Defaults to "info" and "json" when unset.
func NewFromEnv(component string) *Logger {
	level := strings.TrimSpace(os.Getenv("LUMEN_LOG_LEVEL"))
	if level == "" {
		level = "info"
	}
	format := strings.TrimSpace(os.Getenv("LUMEN_LOG_FORMAT"))
	if format == "" {
		format = "json"
	}
	return New(component, level, format)
}

// SetOutput redirects the logger's output (primarily for tests).
func (l *Logger) SetOutput(output io.Writer) {
	l.Logger.SetOutput(output)
}

// WithContext builds an entry carrying the correlation ID and player ID
// found on ctx, if any.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("component", l.component)

	if traceID := GetTraceID(ctx); traceID != "" {
		entry = entry.WithField("trace_id", traceID)
	}
	if playerID := GetPlayerID(ctx); playerID != "" {
		entry = entry.WithField("player_id", playerID)
	}
	return entry
}

// WithFields builds an entry with the component field plus the given fields.
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["component"] = l.component
	return l.Logger.WithFields(fields)
}

// WithError builds an entry carrying the component field and an error.
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{
		"component": l.component,
		"error":     err.Error(),
	})
}

// --- Context propagation helpers ---

// NewTraceID generates a new correlation identifier.
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID attaches a correlation identifier to ctx.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// GetTraceID retrieves the correlation identifier from ctx, or "".
func GetTraceID(ctx context.Context) string {
	if v, ok := ctx.Value(TraceIDKey).(string); ok {
		return v
	}
	return ""
}

// WithPlayerID attaches the acting player's external identifier to ctx.
func WithPlayerID(ctx context.Context, playerID string) context.Context {
	return context.WithValue(ctx, PlayerIDKey, playerID)
}

// GetPlayerID retrieves the player identifier from ctx, or "".
func GetPlayerID(ctx context.Context) string {
	if v, ok := ctx.Value(PlayerIDKey).(string); ok {
		return v
	}
	return ""
}

// --- Domain-shaped structured helpers ---

// LogLockEvent logs a distributed-lock acquisition/release/timeout event.
func (l *Logger) LogLockEvent(ctx context.Context, event, lockKey string, waitMS float64, err error) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"lock_key": lockKey,
		"wait_ms":  waitMS,
		"event":    event,
	})
	if err != nil {
		entry.WithError(err).Warn("distributed lock event")
		return
	}
	entry.Debug("distributed lock event")
}

// LogCacheEvent logs a cache hit/miss/set/invalidation event.
func (l *Logger) LogCacheEvent(ctx context.Context, event, key string, fields map[string]interface{}) {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fields["cache_event"] = event
	fields["key"] = key
	l.WithContext(ctx).WithFields(fields).Debug("cache event")
}

// LogAuditEvent logs successful or failed publication of an audit event.
func (l *Logger) LogAuditEvent(ctx context.Context, transactionType, playerID string, err error) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"transaction_type": transactionType,
		"player_id":        playerID,
		"audit":            true,
	})
	if err != nil {
		entry.WithError(err).Error("audit event rejected")
		return
	}
	entry.Info("audit event published")
}

// LogCircuitStateChange logs a circuit breaker state transition.
func (l *Logger) LogCircuitStateChange(ctx context.Context, name string, from, to fmt.Stringer) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"breaker":    name,
		"from_state": from.String(),
		"to_state":   to.String(),
	}).Warn("circuit breaker state changed")
}

// FormatDuration renders a duration as a fixed-precision millisecond string.
func FormatDuration(d time.Duration) string {
	return fmt.Sprintf("%.2fms", float64(d.Nanoseconds())/1e6)
}

// --- Global default logger ---

var defaultLogger *Logger

// InitDefault initializes the package-level default logger.
func InitDefault(component, level, format string) {
	defaultLogger = New(component, level, format)
}

// Default returns the package-level default logger, initializing a
// conservative fallback if InitDefault was never called.
func Default() *Logger {
	if defaultLogger == nil {
		defaultLogger = New("lumen-core", "info", "json")
	}
	return defaultLogger
}
