package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/nimburion/backupstore/pkg/observability/logger"
)

// MockLogger captures log entries for assertions. It is safe for concurrent use since
// lease renewal logs from its own goroutine.
type MockLogger struct {
	mu     sync.Mutex
	fields []any
	root   *MockLogger
	logs   []LogEntry
}

// LogEntry represents a single log entry captured by MockLogger.
type LogEntry struct {
	Level  string
	Msg    string
	Fields map[string]any
}

// NewMockLogger returns an empty MockLogger.
func NewMockLogger() *MockLogger {
	return &MockLogger{}
}

func (m *MockLogger) record(level, msg string, args []any) {
	root := m
	if m.root != nil {
		root = m.root
	}
	all := append(append([]any{}, m.fields...), args...)
	root.mu.Lock()
	defer root.mu.Unlock()
	root.logs = append(root.logs, LogEntry{Level: level, Msg: msg, Fields: argsToMap(all)})
}

// Debug records a debug-level log entry.
func (m *MockLogger) Debug(msg string, args ...any) { m.record("debug", msg, args) }

// Info records an info-level log entry.
func (m *MockLogger) Info(msg string, args ...any) { m.record("info", msg, args) }

// Warn records a warn-level log entry.
func (m *MockLogger) Warn(msg string, args ...any) { m.record("warn", msg, args) }

// Error records an error-level log entry.
func (m *MockLogger) Error(msg string, args ...any) { m.record("error", msg, args) }

// With returns a child sharing the captured entries.
func (m *MockLogger) With(args ...any) logger.Logger {
	root := m
	if m.root != nil {
		root = m.root
	}
	return &MockLogger{root: root, fields: append(append([]any{}, m.fields...), args...)}
}

// WithContext returns the same logger.
func (m *MockLogger) WithContext(context.Context) logger.Logger {
	return m
}

// Entries returns a snapshot of the captured entries.
func (m *MockLogger) Entries() []LogEntry {
	root := m
	if m.root != nil {
		root = m.root
	}
	root.mu.Lock()
	defer root.mu.Unlock()
	out := make([]LogEntry, len(root.logs))
	copy(out, root.logs)
	return out
}

// Count returns how many entries match level and contain msg.
func (m *MockLogger) Count(level, msg string) int {
	n := 0
	for _, e := range m.Entries() {
		if e.Level == level && strings.Contains(e.Msg, msg) {
			n++
		}
	}
	return n
}

// HasEntry reports whether an entry matches level and contains msg.
func (m *MockLogger) HasEntry(level, msg string) bool {
	return m.Count(level, msg) > 0
}

// String renders the captured entries for test failure messages.
func (m *MockLogger) String() string {
	var b strings.Builder
	for _, e := range m.Entries() {
		fmt.Fprintf(&b, "[%s] %s %v\n", e.Level, e.Msg, e.Fields)
	}
	return b.String()
}

func argsToMap(args []any) map[string]any {
	fields := make(map[string]any)
	for i := 0; i < len(args)-1; i += 2 {
		if key, ok := args[i].(string); ok {
			fields[key] = args[i+1]
		}
	}
	return fields
}
