package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func captureLogger(t *testing.T) *bytes.Buffer {
	t.Helper()
	originalLogger := Logger
	t.Cleanup(func() {
		Logger = originalLogger
		SetLogLevel(INFO)
	})

	var buf bytes.Buffer
	Logger = slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return &buf
}

func TestLogLevelFiltering(t *testing.T) {
	buf := captureLogger(t)

	SetLogLevel(INFO)
	Debug("debug message should be filtered")
	Info("info message should appear")

	output := buf.String()
	if strings.Contains(output, "debug message should be filtered") {
		t.Fatalf("debug message was logged at INFO level:\n%s", output)
	}
	if !strings.Contains(output, "info message should appear") {
		t.Fatalf("info message was not logged:\n%s", output)
	}
}

func TestWarnSitsBetweenInfoAndError(t *testing.T) {
	buf := captureLogger(t)

	SetLogLevel(WARN)
	Info("info hidden")
	Warn("warn shown")
	Error("error shown")

	output := buf.String()
	if strings.Contains(output, "info hidden") {
		t.Fatalf("info logged at WARN level:\n%s", output)
	}
	if !strings.Contains(output, "warn shown") || !strings.Contains(output, "error shown") {
		t.Fatalf("expected warn and error lines:\n%s", output)
	}
}

func TestParseLogLevel(t *testing.T) {
	cases := []struct {
		in      string
		want    LogLevel
		wantErr bool
	}{
		{"debug", DEBUG, false},
		{" INFO ", INFO, false},
		{"warning", WARN, false},
		{"error", ERROR, false},
		{"loud", INFO, true},
	}
	for _, tc := range cases {
		got, err := ParseLogLevel(tc.in)
		if (err != nil) != tc.wantErr {
			t.Fatalf("ParseLogLevel(%q) err = %v, wantErr %v", tc.in, err, tc.wantErr)
		}
		if got != tc.want {
			t.Fatalf("ParseLogLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestConfigureWritesToFile(t *testing.T) {
	originalLogger := Logger
	t.Cleanup(func() {
		Logger = originalLogger
		SetLogLevel(INFO)
	})

	path := filepath.Join(t.TempDir(), "logs", "app.log")
	if err := Configure(Options{Level: "debug", File: path}); err != nil {
		t.Fatalf("Configure returned error: %v", err)
	}
	Debug("written to file")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "written to file") {
		t.Fatalf("expected log line in file, got %q", string(data))
	}
}

func TestConfigureInvalidLevelKeepsLogger(t *testing.T) {
	originalLogger := Logger
	t.Cleanup(func() {
		Logger = originalLogger
		SetLogLevel(INFO)
	})

	if err := Configure(Options{Level: "nope"}); err == nil {
		t.Fatal("expected error for invalid level")
	}
	if Logger == nil {
		t.Fatal("expected logger to be replaced even on error")
	}
}
