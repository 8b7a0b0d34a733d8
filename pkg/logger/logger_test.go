package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func newBufferLogger(t *testing.T, level Level) (Logger, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	log, err := NewLogger(&Config{
		Level:            level,
		Format:           JSONFormat,
		Output:           StderrOutput,
		DisableTimestamp: true,
		Writer:           buf,
	})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	return log, buf
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectError bool
	}{
		{"default", *DefaultConfig(), false},
		{"bad level", Config{Level: "loud", Format: TextFormat, Output: StderrOutput}, true},
		{"bad format", Config{Level: InfoLevel, Format: "xml", Output: StderrOutput}, true},
		{"file without path", Config{Level: InfoLevel, Format: TextFormat, Output: FileOutput}, true},
		{"file with path", Config{Level: InfoLevel, Format: TextFormat, Output: FileOutput, File: "/tmp/x.log"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.expectError && err == nil {
				t.Error("expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestWithFieldsArePreserved(t *testing.T) {
	log, buf := newBufferLogger(t, InfoLevel)

	log.WithComponent("matcher").WithField("run_id", "abc").Info("hello")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to decode log line %q: %v", buf.String(), err)
	}
	if entry["component"] != "matcher" {
		t.Errorf("expected component 'matcher', got %v", entry["component"])
	}
	if entry["run_id"] != "abc" {
		t.Errorf("expected run_id 'abc', got %v", entry["run_id"])
	}
	if entry["msg"] != "hello" {
		t.Errorf("expected msg 'hello', got %v", entry["msg"])
	}
}

func TestLevelFiltering(t *testing.T) {
	log, buf := newBufferLogger(t, WarnLevel)

	log.Info("hidden")
	log.Warn("shown")

	if strings.Contains(buf.String(), "hidden") {
		t.Error("expected info message to be filtered")
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Error("expected warn message to be written")
	}
}

func TestProgressTrackerReport(t *testing.T) {
	log, buf := newBufferLogger(t, InfoLevel)
	tracker := NewProgressTracker(ProgressConfig{Operation: "match", LogInterval: time.Hour, Logger: log})

	tracker.Report(1, 4)
	if strings.Contains(buf.String(), "Progress update") {
		t.Error("expected no progress line before the interval elapses")
	}

	tracker.Report(4, 4)
	if !strings.Contains(buf.String(), "Progress update") {
		t.Error("expected a progress line when the pass finishes")
	}

	stats := tracker.Stats()
	if stats.Current != 4 || stats.Total != 4 {
		t.Errorf("expected 4/4, got %d/%d", stats.Current, stats.Total)
	}
	if stats.Percentage != 100 {
		t.Errorf("expected 100%%, got %.1f", stats.Percentage)
	}
}

func TestOperationLogger(t *testing.T) {
	log, buf := newBufferLogger(t, InfoLevel)

	op := NewOperationLogger("link_reversals", log, Fields{"run_id": "r1"})
	op.Success(Fields{"linked": 2})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d", len(lines))
	}

	var last map[string]interface{}
	if err := json.Unmarshal([]byte(lines[1]), &last); err != nil {
		t.Fatalf("failed to decode log line: %v", err)
	}
	if last["status"] != "success" {
		t.Errorf("expected status success, got %v", last["status"])
	}
	if last["linked"] != float64(2) {
		t.Errorf("expected linked 2, got %v", last["linked"])
	}
	if last["run_id"] != "r1" {
		t.Errorf("expected run_id r1, got %v", last["run_id"])
	}
}
