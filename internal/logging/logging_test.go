package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "info", Format: "json", Output: &buf})

	logger.Debug("hidden")
	logger.Info("task reset", "task_id", "7", "reason", "stale")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("debug must be filtered at info level, got %d lines:\n%s", len(lines), buf.String())
	}

	var record map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &record); err != nil {
		t.Fatalf("invalid JSON log line: %v", err)
	}
	if record["msg"] != "task reset" || record["task_id"] != "7" {
		t.Errorf("unexpected record: %v", record)
	}
}

func TestNewText(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "debug", Output: &buf})

	logger.Debug("claim", "task_id", "3")
	out := buf.String()
	if !strings.Contains(out, "msg=claim") || !strings.Contains(out, "task_id=3") {
		t.Errorf("unexpected text output: %q", out)
	}
}

func TestOrDiscard(t *testing.T) {
	if OrDiscard(nil) == nil {
		t.Error("OrDiscard(nil) must return a usable logger")
	}
	l := Discard()
	if OrDiscard(l) != l {
		t.Error("OrDiscard must return a non-nil logger unchanged")
	}
}
