package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{in: "debug", want: LevelDebug},
		{in: "DEBUG", want: LevelDebug},
		{in: "info", want: LevelInfo},
		{in: "INFO", want: LevelInfo},
		{in: "warn", want: LevelWarn},
		{in: "warning", want: LevelWarn},
		{in: "error", want: LevelError},
		{in: "ERROR", want: LevelError},
		{in: "invalid", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseLevel(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ParseLevel(%q) accepted an invalid level", tc.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseLevel(%q): %v", tc.in, err)
			}
			if got != tc.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestLevelString(t *testing.T) {
	names := map[Level]string{
		LevelDebug: "debug",
		LevelInfo:  "info",
		LevelWarn:  "warn",
		LevelError: "error",
	}
	for level, want := range names {
		if got := LevelString(level); got != want {
			t.Errorf("LevelString(%v) = %q, want %q", level, got, want)
		}
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != LevelInfo || cfg.Format != FormatText || cfg.Output != "stderr" {
		t.Errorf("unexpected defaults: level=%v format=%v output=%q", cfg.Level, cfg.Format, cfg.Output)
	}
	if cfg.MaxSize <= 0 || cfg.MaxBackups <= 0 {
		t.Errorf("rotation defaults must be positive: max_size=%d max_backups=%d", cfg.MaxSize, cfg.MaxBackups)
	}
}

func newStderrLogger(t *testing.T) *Logger {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Output = "stderr"
	logger, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { logger.Close() })
	return logger
}

func TestNew(t *testing.T) {
	logger := newStderrLogger(t)
	if logger.Logger == nil {
		t.Error("New returned a logger without a slog backend")
	}
}

func TestWithComponent(t *testing.T) {
	logger := newStderrLogger(t)

	child := logger.WithComponent("engine")
	if child == nil {
		t.Fatal("WithComponent returned nil")
	}
	if child == logger {
		t.Error("WithComponent must return a new logger, not the receiver")
	}
}

func TestWithFile(t *testing.T) {
	logger := newStderrLogger(t)
	if logger.WithFile("a1b2c3d4e5f60718") == nil {
		t.Error("WithFile returned nil")
	}
}

func TestShouldRedact(t *testing.T) {
	cases := []struct {
		key      string
		redacted bool
	}{
		{"password", true},
		{"user_password", true},
		{"token", true},
		{"remote_token", true},
		{"api_key", true},
		{"secret", true},
		{"bearer", true},
		{"message", false},
		{"commit_id", false},
		{"path", false},
		{"size", false},
	}

	for _, tc := range cases {
		t.Run(tc.key, func(t *testing.T) {
			if got := shouldRedact(tc.key); got != tc.redacted {
				t.Errorf("shouldRedact(%q) = %v, want %v", tc.key, got, tc.redacted)
			}
		})
	}
}

func TestJSONFormat(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "json.log")

	cfg := DefaultConfig()
	cfg.Output = "file"
	cfg.FilePath = logPath
	cfg.Format = FormatJSON

	logger, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("test message", "commit_id", "0123abcd-ffff0000")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var entry map[string]any
	if err := json.NewDecoder(bytes.NewReader(data)).Decode(&entry); err != nil {
		t.Fatalf("first log line is not JSON: %v", err)
	}
	if entry["msg"] != "test message" {
		t.Errorf(`msg = %v, want "test message"`, entry["msg"])
	}
	if entry["commit_id"] != "0123abcd-ffff0000" {
		t.Errorf("commit_id = %v, want the raw value", entry["commit_id"])
	}
}

func TestRedactionInOutput(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "redact.log")

	cfg := DefaultConfig()
	cfg.Output = "file"
	cfg.FilePath = logPath
	cfg.Format = FormatJSON

	logger, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	logger.Info("remote configured", "base_url", "https://vault.example.com", "token", "s3cret")
	logger.Sync()
	logger.Close()

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if strings.Contains(string(data), "s3cret") {
		t.Error("token value leaked into log output")
	}
	if !strings.Contains(string(data), "[REDACTED]") {
		t.Error("expected redaction marker in log output")
	}
}

func newRotator(t *testing.T, logPath string, maxBackups int) *FileRotator {
	t.Helper()
	cfg := DefaultConfig()
	cfg.FilePath = logPath
	cfg.MaxSize = 1
	cfg.MaxBackups = maxBackups

	rotator, err := NewFileRotator(cfg)
	if err != nil {
		t.Fatalf("NewFileRotator: %v", err)
	}
	t.Cleanup(func() { rotator.Close() })
	return rotator
}

func TestRotatorWrite(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "rotate.log")
	rotator := newRotator(t, logPath, 2)

	if _, err := rotator.Write([]byte("hello log\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := rotator.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if _, err := os.Stat(logPath); err != nil {
		t.Errorf("log file missing after write: %v", err)
	}
}

func TestRotatorRotatesAtLimit(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "rotate.log")
	rotator := newRotator(t, logPath, 2)

	// Force size past the limit so the next write rotates.
	rotator.size = 2 * 1024 * 1024

	if _, err := rotator.Write([]byte("after rotation\n")); err != nil {
		t.Fatalf("write after rotation: %v", err)
	}

	matches, err := filepath.Glob(filepath.Join(tmpDir, "rotate-*.log"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(matches) != 1 {
		t.Errorf("rotated file count = %d, want 1", len(matches))
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read new log file: %v", err)
	}
	if string(data) != "after rotation\n" {
		t.Errorf("new log file content = %q, want the post-rotation write", string(data))
	}
}

func TestRotatorPrunesOldBackups(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "rotate.log")
	rotator := newRotator(t, logPath, 1)

	stale := filepath.Join(tmpDir, "rotate-20200101-000000.log")
	if err := os.WriteFile(stale, []byte("old\n"), 0640); err != nil {
		t.Fatalf("write stale backup: %v", err)
	}
	old := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatalf("age stale backup: %v", err)
	}

	rotator.size = 2 * 1024 * 1024
	if _, err := rotator.Write([]byte("trigger\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	// Retention runs in the background after rotation.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(stale); os.IsNotExist(err) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("stale backup still present after rotation")
		}
		time.Sleep(10 * time.Millisecond)
	}

	matches, err := filepath.Glob(filepath.Join(tmpDir, "rotate-*.log"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(matches) != 1 {
		t.Errorf("surviving backups = %d, want 1", len(matches))
	}
}
