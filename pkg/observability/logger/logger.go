package logger

import (
	"context"
)

// Logger defines the interface for structured logging across the storage layer.
// All log methods accept a message string followed by key-value pairs for structured fields.
type Logger interface {
	// Debug logs a debug-level message with optional key-value pairs
	Debug(msg string, args ...any)

	// Info logs an info-level message with optional key-value pairs
	Info(msg string, args ...any)

	// Warn logs a warning-level message with optional key-value pairs
	Warn(msg string, args ...any)

	// Error logs an error-level message with optional key-value pairs
	Error(msg string, args ...any)

	// With creates a child logger with additional key-value pairs that will be
	// included in all subsequent log entries
	With(args ...any) Logger

	// WithContext creates a child logger carrying the operation ID found in ctx
	WithContext(ctx context.Context) Logger
}

// Entered logs the debug marker emitted when a public storage operation starts.
func Entered(log Logger, operation string, args ...any) {
	if log == nil {
		return
	}
	log.Debug("entered "+operation, args...)
}

type operationIDKey struct{}

// ContextWithOperationID attaches an operation ID picked up by WithContext.
func ContextWithOperationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, operationIDKey{}, id)
}

// OperationIDFromContext returns the operation ID attached to ctx, if any.
func OperationIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(operationIDKey{}).(string); ok {
		return id
	}
	return ""
}

// Nop returns a Logger that discards every entry.
func Nop() Logger { return nopLogger{} }

type nopLogger struct{}

func (nopLogger) Debug(string, ...any)                 {}
func (nopLogger) Info(string, ...any)                  {}
func (nopLogger) Warn(string, ...any)                  {}
func (nopLogger) Error(string, ...any)                 {}
func (n nopLogger) With(...any) Logger                 { return n }
func (n nopLogger) WithContext(context.Context) Logger { return n }
