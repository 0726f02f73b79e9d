package logging

import (
	"bufio"
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"info", slog.LevelInfo},
		{"debug", slog.LevelDebug},
		{"trace", LevelTrace},
		{"DEBUG", slog.LevelDebug},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger("info", &buf)

	log.Debug("hidden")
	log.Info("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("debug message logged at info level")
	}
	if !strings.Contains(out, "shown") {
		t.Error("info message missing")
	}
}

func TestNewLoggerTraceLabel(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger("trace", &buf)

	log.Log(nil, LevelTrace, "cursor moved")

	if !strings.Contains(buf.String(), "TRACE") {
		t.Errorf("trace output = %q, want TRACE label", buf.String())
	}
}

func TestLoadTracerInfoLevelDisabled(t *testing.T) {
	dir := t.TempDir()
	lt := NewLoadTracer(dir, "info")
	if lt != nil {
		t.Fatal("NewLoadTracer() at info level should return nil")
	}

	// Nil tracer methods are no-ops.
	lt.Log(map[string]any{"event": "load"})
	lt.Close()

	if _, err := os.Stat(filepath.Join(dir, "loads.jsonl")); !os.IsNotExist(err) {
		t.Error("loads.jsonl created at info level")
	}
}

func TestLoadTracerWritesJSONL(t *testing.T) {
	dir := t.TempDir()
	lt := NewLoadTracer(dir, "debug")
	if lt == nil {
		t.Fatal("NewLoadTracer() returned nil at debug level")
	}

	lt.Log(map[string]any{"event": "load", "run_id": 7})
	lt.Log(map[string]any{"event": "load", "run_id": 7, "new_rows": 12})
	lt.Close()

	f, err := os.Open(filepath.Join(dir, "loads.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var lines int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", lines+1, err)
		}
		if _, ok := entry["time"]; !ok {
			t.Errorf("line %d missing time field", lines+1)
		}
		lines++
	}
	if lines != 2 {
		t.Errorf("loads.jsonl has %d lines, want 2", lines)
	}
}
