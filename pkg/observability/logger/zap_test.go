package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("invalid json log line %q: %v", line, err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestZapLogger_JSONOutputAndLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewZapLogger(Config{Level: InfoLevel, Format: JSONFormat, Output: &buf})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	log.Debug("hidden")
	log.Info("lease acquired", "resource", "locks/marker")
	log.With("component", "lease").Warn("renewal failed")
	_ = log.Sync()

	entries := decodeLines(t, &buf)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d: %s", len(entries), buf.String())
	}
	if entries[0]["message"] != "lease acquired" || entries[0]["resource"] != "locks/marker" {
		t.Fatalf("unexpected first entry: %v", entries[0])
	}
	if entries[1]["level"] != "warn" || entries[1]["component"] != "lease" {
		t.Fatalf("unexpected second entry: %v", entries[1])
	}
}

func TestZapLogger_WithContextAddsOperationID(t *testing.T) {
	var buf bytes.Buffer
	log, _ := NewZapLogger(Config{Level: DebugLevel, Format: JSONFormat, Output: &buf})

	ctx := ContextWithOperationID(context.Background(), "op-42")
	log.WithContext(ctx).Info("sync started")
	log.WithContext(context.Background()).Info("no id")
	_ = log.Sync()

	entries := decodeLines(t, &buf)
	if entries[0]["operation_id"] != "op-42" {
		t.Fatalf("expected operation_id, got %v", entries[0])
	}
	if _, ok := entries[1]["operation_id"]; ok {
		t.Fatalf("expected no operation_id, got %v", entries[1])
	}
}

func TestEntered_LogsDebugMarker(t *testing.T) {
	var buf bytes.Buffer
	log, _ := NewZapLogger(Config{Level: DebugLevel, Format: JSONFormat, Output: &buf})

	Entered(log, "TryAcquire", "duration_seconds", 30)
	Entered(nil, "ignored")
	_ = log.Sync()

	entries := decodeLines(t, &buf)
	if len(entries) != 1 || entries[0]["message"] != "entered TryAcquire" || entries[0]["level"] != "debug" {
		t.Fatalf("unexpected entries: %v", entries)
	}
}

func TestParseLogLevelAndFormat(t *testing.T) {
	cases := map[string]LogLevel{"debug": DebugLevel, "INFO": InfoLevel, "warning": WarnLevel, "error": ErrorLevel, "": InfoLevel}
	for in, want := range cases {
		got, err := ParseLogLevel(in)
		if err != nil || got != want {
			t.Fatalf("ParseLogLevel(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseLogLevel("verbose"); err == nil {
		t.Fatal("expected error for unknown level")
	}

	if f, err := ParseLogFormat("console"); err != nil || f != TextFormat {
		t.Fatalf("ParseLogFormat(console) = %q, %v", f, err)
	}
	if _, err := ParseLogFormat("xml"); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestNop_DiscardsEverything(t *testing.T) {
	log := Nop()
	log.Info("x")
	if log.With("a", 1).WithContext(context.Background()) == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestZapLogger_ComponentField(t *testing.T) {
	var buf bytes.Buffer
	log, _ := NewZapLogger(Config{Level: InfoLevel, Component: "backup", Output: &buf})

	log.Info("run finished")
	_ = log.Sync()

	entries := decodeLines(t, &buf)
	if len(entries) != 1 || entries[0]["component"] != "backup" {
		t.Fatalf("expected component field, got %v", entries)
	}
}
