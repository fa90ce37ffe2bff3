package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

type stringer string

func (s stringer) String() string { return string(s) }

func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New("warn", false, &buf)

	log.Info("hidden")
	log.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info message logged at warn level: %s", out)
	}
	if !strings.Contains(out, "shown") {
		t.Errorf("warn message missing: %s", out)
	}
}

func TestNew_JSONAttributes(t *testing.T) {
	var buf bytes.Buffer
	log := New("debug", true, &buf)

	log.WithComponent("onionflixer").
		WithContent(stringer("movie:tt1")).
		WithStage(4).
		WithError(errors.New("no redirect found")).
		WithDuration(1500*time.Millisecond).
		Debug("stage failed")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%s)", err, buf.String())
	}

	if entry["component"] != "onionflixer" {
		t.Errorf("component = %v", entry["component"])
	}
	if entry["content"] != "movie:tt1" {
		t.Errorf("content = %v", entry["content"])
	}
	if entry["stage"] != float64(4) {
		t.Errorf("stage = %v", entry["stage"])
	}
	if entry["error"] != "no redirect found" {
		t.Errorf("error = %v", entry["error"])
	}
	if entry["duration_ms"] != float64(1500) {
		t.Errorf("duration_ms = %v", entry["duration_ms"])
	}
	if _, err := time.Parse(time.RFC3339, entry["time"].(string)); err != nil {
		t.Errorf("time not RFC3339: %v", entry["time"])
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{" WARN ", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"", slog.LevelInfo, false},
		{"verbose", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if got != tt.want || (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func TestNew_UnknownLevelWarns(t *testing.T) {
	var buf bytes.Buffer
	log := New("verbose", false, &buf)
	log.Debug("hidden")

	out := buf.String()
	if !strings.Contains(out, "falling back to info logging") {
		t.Errorf("missing fallback warning: %s", out)
	}
	if strings.Contains(out, "hidden") {
		t.Errorf("debug logged after fallback to info: %s", out)
	}
}
