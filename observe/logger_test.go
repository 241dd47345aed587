package observe

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func parseEntries(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("invalid JSON log line %q: %v", line, err)
		}
		entries = append(entries, m)
	}
	return entries
}

func TestLoggerJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("info", &buf)

	logger.Info(context.Background(), "hello", Field{Key: "count", Value: 3})

	entries := parseEntries(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e["msg"] != "hello" {
		t.Errorf("msg = %v, want hello", e["msg"])
	}
	if e["level"] != "info" {
		t.Errorf("level = %v, want info", e["level"])
	}
	if e["count"] != float64(3) {
		t.Errorf("count = %v, want 3", e["count"])
	}
	if _, ok := e["timestamp"]; !ok {
		t.Error("timestamp missing")
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("warn", &buf)

	ctx := context.Background()
	logger.Debug(ctx, "dropped")
	logger.Info(ctx, "dropped")
	logger.Warn(ctx, "kept")
	logger.Error(ctx, "kept")

	entries := parseEntries(t, &buf)
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	for _, e := range entries {
		if e["msg"] != "kept" {
			t.Errorf("msg = %v, want kept", e["msg"])
		}
	}
}

func TestLoggerRedaction(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("info", &buf)

	logger.Info(context.Background(), "run",
		Field{Key: "args", Value: []any{"user", "hunter2"}},
		Field{Key: "token", Value: "abc"},
		Field{Key: "key", Value: "op:getUser:deadbeef"},
	)

	entries := parseEntries(t, &buf)
	e := entries[0]
	if e["args"] != "[REDACTED]" {
		t.Errorf("args = %v, want [REDACTED]", e["args"])
	}
	if e["token"] != "[REDACTED]" {
		t.Errorf("token = %v, want [REDACTED]", e["token"])
	}
	if e["key"] != "op:getUser:deadbeef" {
		t.Errorf("key = %v, want passthrough", e["key"])
	}
}

func TestLoggerWithOp(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("info", &buf)

	opLogger := logger.WithOp(OpMeta{Name: "getUser", Kind: "cache", Key: "op:getUser:abc"})
	opLogger.Info(context.Background(), "hit")

	entries := parseEntries(t, &buf)
	e := entries[0]
	if e["op.name"] != "getUser" {
		t.Errorf("op.name = %v, want getUser", e["op.name"])
	}
	if e["op.kind"] != "cache" {
		t.Errorf("op.kind = %v, want cache", e["op.kind"])
	}
	if e["op.key"] != "op:getUser:abc" {
		t.Errorf("op.key = %v, want op:getUser:abc", e["op.key"])
	}

	// Parent logger unaffected.
	buf.Reset()
	logger.Info(context.Background(), "plain")
	entries = parseEntries(t, &buf)
	if _, ok := entries[0]["op.name"]; ok {
		t.Error("parent logger carries op attributes")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"error", LevelError},
		{"unknown", LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLogLevel(tt.in); got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
