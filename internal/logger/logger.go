// Package logger provides module-scoped structured logging built on log/slog.
//
// Components never log through slog directly. They receive a Logger and
// derive a module logger from it:
//
//	log := centralLogger.Module("pipeline")
//	log.Info("state changed",
//	    logger.String("from", "idle"),
//	    logger.String("to", "music"))
//
// Console output is human-readable text, file output is JSON. Per-module
// levels are configured through LoggingConfig.ModuleLevels, so the event
// loop can run at debug while the rest of the firmware core stays at info.
//
// # Testing
//
// Use a buffer or discard logger:
//
//	buf := &bytes.Buffer{}
//	testLogger := logger.NewSlogLogger(buf, logger.LogLevelDebug, time.UTC)
//	silent := logger.NewDiscardLogger()
//
// All Logger implementations are safe for concurrent use.
package logger

import (
	"context"
	"time"
	"unique"
)

// LogLevel represents log severity levels
type LogLevel string

const (
	LogLevelTrace LogLevel = "trace"
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Field represents a structured log field.
// Keys are interned with unique.Make so hot keys like "state" or "event"
// share one allocation.
type Field struct {
	Key   string
	Value any
}

func internKey(key string) string {
	return unique.Make(key).Value()
}

var errorKey = internKey("error")

// Logger is the centralized logging interface for dependency injection
type Logger interface {
	// Module returns a logger scoped to a specific module
	Module(name string) Logger

	Trace(msg string, fields ...Field)
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	With(fields ...Field) Logger
	WithContext(ctx context.Context) Logger

	// Log with explicit level
	Log(level LogLevel, msg string, fields ...Field)

	// Flush ensures all buffered logs are written
	Flush() error
}

// String creates a string field
func String(key, value string) Field {
	return Field{Key: internKey(key), Value: value}
}

// Int creates an integer field
func Int(key string, value int) Field {
	return Field{Key: internKey(key), Value: value}
}

// Int64 creates a 64-bit integer field
func Int64(key string, value int64) Field {
	return Field{Key: internKey(key), Value: value}
}

// Uint64 creates an unsigned 64-bit integer field, used for generations and timer IDs
func Uint64(key string, value uint64) Field {
	return Field{Key: internKey(key), Value: value}
}

// Float64 creates a float field
func Float64(key string, value float64) Field {
	return Field{Key: internKey(key), Value: value}
}

// Bool creates a boolean field
func Bool(key string, value bool) Field {
	return Field{Key: internKey(key), Value: value}
}

// Error creates an error field. The key is always "error"; a nil error logs a nil value.
func Error(err error) Field {
	if err == nil {
		return Field{Key: errorKey, Value: nil}
	}
	return Field{Key: errorKey, Value: err.Error()}
}

// Duration creates a duration field rendered as a human-readable string ("1.5s", "200ms")
func Duration(key string, value time.Duration) Field {
	return Field{Key: internKey(key), Value: value}
}

// Time creates a time field
func Time(key string, value time.Time) Field {
	return Field{Key: internKey(key), Value: value}
}

// Any creates a field with any value. Prefer the typed constructors.
func Any(key string, value any) Field {
	return Field{Key: internKey(key), Value: value}
}
