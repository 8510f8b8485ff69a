package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level    Level
		expected string
	}{
		{DebugLevel, "DEBUG"},
		{InfoLevel, "INFO"},
		{WarnLevel, "WARN"},
		{ErrorLevel, "ERROR"},
		{Level(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			result := tt.level.String()
			if result != tt.expected {
				t.Errorf("Expected %s, got: %s", tt.expected, result)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"debug", DebugLevel},
		{"DEBUG", DebugLevel},
		{"info", InfoLevel},
		{"warn", WarnLevel},
		{"WARNING", WarnLevel},
		{"error", ErrorLevel},
		{"Error", ErrorLevel},
		{"invalid", InfoLevel},
		{"", InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := ParseLevel(tt.input)
			if result != tt.expected {
				t.Errorf("Expected %v, got: %v", tt.expected, result)
			}
		})
	}
}

func TestSetLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewWithOutput(InfoLevel, buf)
	logger.SetLevel(ErrorLevel)

	if logger.Level() != ErrorLevel {
		t.Errorf("Expected level ErrorLevel, got: %v", logger.Level())
	}

	logger.Warn("dropped")
	if buf.Len() != 0 {
		t.Errorf("Expected warn to be filtered after SetLevel, got: %s", buf.String())
	}
}

func TestLogger_Levels(t *testing.T) {
	tests := []struct {
		name  string
		level Level
		log   func(l *Logger, msg string)
		tag   string
	}{
		{"debug", DebugLevel, func(l *Logger, msg string) { l.Debug(msg) }, "DEBUG"},
		{"info", InfoLevel, func(l *Logger, msg string) { l.Info(msg) }, "INFO"},
		{"warn", WarnLevel, func(l *Logger, msg string) { l.Warn(msg) }, "WARN"},
		{"error", ErrorLevel, func(l *Logger, msg string) { l.Error(msg) }, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			logger := NewWithOutput(tt.level, buf)

			tt.log(logger, "test "+tt.name+" message")

			output := buf.String()
			if !strings.Contains(output, tt.tag) {
				t.Errorf("Expected output to contain %s, got: %s", tt.tag, output)
			}
			if !strings.Contains(output, "test "+tt.name+" message") {
				t.Errorf("Expected output to contain message, got: %s", output)
			}
		})
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewWithOutput(WarnLevel, buf)

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	output := buf.String()

	if strings.Contains(output, "debug message") {
		t.Error("Debug message should not appear at WARN level")
	}
	if strings.Contains(output, "info message") {
		t.Error("Info message should not appear at WARN level")
	}
	if !strings.Contains(output, "warn message") {
		t.Error("Warn message should appear at WARN level")
	}
	if !strings.Contains(output, "error message") {
		t.Error("Error message should appear at WARN level")
	}
}

func TestLogger_WithFields(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewWithOutput(InfoLevel, buf)

	logger.Info("test message",
		String("key1", "value1"),
		Int("key2", 42),
		Bool("key3", true),
	)

	output := buf.String()

	if !strings.Contains(output, "test message") {
		t.Errorf("Expected output to contain message, got: %s", output)
	}
	for _, want := range []string{`"key1": "value1"`, `"key2": 42`, `"key3": true`} {
		if !strings.Contains(output, want) {
			t.Errorf("Expected output to contain %s, got: %s", want, output)
		}
	}
}

func TestLogger_With(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewWithOutput(InfoLevel, buf).With(String("pair", "pair-1234"))

	logger.Info("Pair closed")

	if !strings.Contains(buf.String(), `"pair": "pair-1234"`) {
		t.Errorf("Expected child logger fields in output, got: %s", buf.String())
	}
}

func TestLogger_JSONFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewWithFormatAndOutput(DebugLevel, FormatJSON, buf)

	logger.Info("json message", String("listen", "127.0.0.1:2020"), Duration("took", 2*time.Second))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Expected valid JSON, got error: %v (%s)", err, buf.String())
	}

	if entry["message"] != "json message" {
		t.Errorf("Expected message 'json message', got: %v", entry["message"])
	}
	if entry["level"] != "INFO" {
		t.Errorf("Expected level INFO, got: %v", entry["level"])
	}
	if entry["listen"] != "127.0.0.1:2020" {
		t.Errorf("Expected listen field, got: %v", entry["listen"])
	}
	if entry["took"] != "2s" {
		t.Errorf("Expected took field '2s', got: %v", entry["took"])
	}
	if _, ok := entry["timestamp"]; !ok {
		t.Error("Expected timestamp field")
	}
}

func TestLogger_OutputFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewWithOutput(InfoLevel, buf)

	logger.Info("test message", String("key", "value"))

	parts := strings.Fields(buf.String())
	if len(parts) < 4 {
		t.Fatalf("Expected at least 4 parts in output, got: %d", len(parts))
	}

	if _, err := time.Parse(time.RFC3339, parts[0]); err != nil {
		t.Errorf("Expected RFC3339 timestamp in first part, got: %s", parts[0])
	}
	if parts[1] != "INFO" {
		t.Errorf("Expected level INFO, got: %s", parts[1])
	}
	if parts[2] != "test" {
		t.Errorf("Expected message part 'test', got: %s", parts[2])
	}
}

func TestField_Helpers(t *testing.T) {
	if f := String("key", "value"); f.Key != "key" || f.String != "value" {
		t.Errorf("Expected key/value field, got: %+v", f)
	}
	if f := Int("count", 123); f.Key != "count" || f.Integer != 123 {
		t.Errorf("Expected count=123, got: %+v", f)
	}
	if f := Int64("bytes", 1<<40); f.Integer != 1<<40 {
		t.Errorf("Expected bytes=%d, got: %+v", int64(1<<40), f)
	}
	if f := Error(errors.New("test error")); f.Key != "error" || f.String != "test error" {
		t.Errorf("Expected error field, got: %+v", f)
	}
}

func TestNilLogger(t *testing.T) {
	var logger *Logger

	// None of these may panic
	logger.Debug("debug")
	logger.Info("info")
	logger.Warn("warn")
	logger.Error("error", Error(errors.New("boom")))
	logger.SetLevel(DebugLevel)

	if logger.With(String("k", "v")) != nil {
		t.Error("Expected With on nil logger to return nil")
	}
	if err := logger.Sync(); err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
}

func TestContext(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewWithOutput(InfoLevel, buf)

	ctx := WithContext(context.Background(), logger)
	if FromContext(ctx) != logger {
		t.Error("Expected logger from context to be the stored logger")
	}

	fallback := FromContext(context.Background())
	if fallback == nil {
		t.Fatal("Expected a no-op logger when none is stored")
	}
	fallback.Info("discarded")
}
