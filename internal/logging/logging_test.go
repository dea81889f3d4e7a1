package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"unknown", LevelInfo},
		{"", LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ParseLevel(tt.input)
			if got != tt.expected {
				t.Errorf("ParseLevel(%q) = %d, want %d", tt.input, got, tt.expected)
			}
		})
	}
}

func TestLogger_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelWarn, "queue")

	l.Debugf("debug message")
	l.Infof("info message")
	l.Warnf("warn message key=%d", 1)
	l.Errorf("error message")

	output := buf.String()
	if strings.Contains(output, "debug message") || strings.Contains(output, "info message") {
		t.Errorf("messages below warn should be filtered: %s", output)
	}
	if !strings.Contains(output, "WARN queue: warn message key=1") {
		t.Errorf("expected warn line, got: %s", output)
	}
	if !strings.Contains(output, "ERROR queue: error message") {
		t.Errorf("expected error line, got: %s", output)
	}
}

func TestLogger_With(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelDebug, "daemon").With("stream")
	l.Infof("hello")
	if !strings.Contains(buf.String(), "INFO stream: hello") {
		t.Errorf("unexpected output: %s", buf.String())
	}
}

func TestLogger_NilAndDiscard(t *testing.T) {
	var l *Logger
	l.Errorf("must not panic")
	Discard().Errorf("dropped")
}
