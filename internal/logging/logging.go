// Package logging wraps log/slog for modelvault: leveled text or JSON
// output to stderr, stdout, or a rotated file, with component- and
// file-scoped child loggers. Values under credential-looking keys are
// redacted before they reach any sink, so a remote token can be logged
// by accident without leaking.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
)

// Level aliases slog.Level so callers configure levels without importing
// slog themselves.
type Level = slog.Level

const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// Format selects the handler encoding.
type Format int

const (
	// FormatText renders human-readable key=value lines.
	FormatText Format = iota
	// FormatJSON renders one JSON object per entry.
	FormatJSON
)

// Config describes one logger's sinks and behavior.
type Config struct {
	// Level is the minimum level that gets written.
	Level Level

	// Format picks text or JSON encoding.
	Format Format

	// Output names the sink: "stdout", "stderr", "file", or "both"
	// (stderr plus the rotated file).
	Output string

	// FilePath locates the log file for file output.
	FilePath string

	// MaxSize is the rotation threshold in megabytes.
	MaxSize int64

	// MaxBackups bounds how many rotated files are kept.
	MaxBackups int

	// AddSource appends the source file:line to each entry.
	AddSource bool

	// Component tags every entry from this logger.
	Component string
}

// DefaultConfig returns the stderr text logger the CLI starts with.
func DefaultConfig() *Config {
	return &Config{
		Level:      LevelInfo,
		Format:     FormatText,
		Output:     "stderr",
		FilePath:   defaultLogPath(),
		MaxSize:    50,
		MaxBackups: 3,
		Component:  "modelvault",
	}
}

// defaultLogPath resolves the per-platform log location: Library/Logs on
// macOS, LOCALAPPDATA on Windows, XDG state dir elsewhere.
func defaultLogPath() string {
	var dir string
	switch runtime.GOOS {
	case "darwin":
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, "Library", "Logs", "modelvault")
	case "windows":
		root := os.Getenv("LOCALAPPDATA")
		if root == "" {
			root = os.Getenv("APPDATA")
		}
		dir = filepath.Join(root, "modelvault", "logs")
	default:
		root := os.Getenv("XDG_STATE_HOME")
		if root == "" {
			home, _ := os.UserHomeDir()
			root = filepath.Join(home, ".local", "state")
		}
		dir = filepath.Join(root, "modelvault")
	}
	return filepath.Join(dir, "modelvault.log")
}

// Logger is a slog.Logger plus ownership of the file rotator backing it,
// so Close and Sync reach the right file handle. Child loggers share the
// parent's rotator.
type Logger struct {
	*slog.Logger
	cfg     *Config
	rotator *FileRotator
	mu      sync.Mutex
}

var (
	defaultLog  *Logger
	defaultOnce sync.Once
)

// Default returns the process-wide logger, creating a stderr text logger
// on first use. Construction cannot realistically fail for stderr output,
// but a plain text fallback is kept anyway.
func Default() *Logger {
	defaultOnce.Do(func() {
		l, err := New(DefaultConfig())
		if err != nil {
			l = &Logger{
				Logger: slog.New(slog.NewTextHandler(os.Stderr, nil)),
				cfg:    DefaultConfig(),
			}
		}
		defaultLog = l
	})
	return defaultLog
}

// SetDefault replaces the process-wide logger, typically after the CLI
// has loaded its configuration.
func SetDefault(l *Logger) {
	defaultLog = l
	slog.SetDefault(l.Logger)
}

// New builds a logger from the config. File-backed outputs open (and may
// create) the log file immediately so misconfiguration surfaces here, not
// on the first write.
func New(cfg *Config) (*Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	sink, rotator, err := resolveSink(cfg)
	if err != nil {
		return nil, fmt.Errorf("open log sink: %w", err)
	}

	opts := &slog.HandlerOptions{
		Level:     cfg.Level,
		AddSource: cfg.AddSource,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if shouldRedact(a.Key) {
				a.Value = slog.StringValue("[REDACTED]")
			}
			return a
		},
	}

	var handler slog.Handler
	if cfg.Format == FormatJSON {
		handler = slog.NewJSONHandler(sink, opts)
	} else {
		handler = slog.NewTextHandler(sink, opts)
	}
	if cfg.Component != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("component", cfg.Component)})
	}

	return &Logger{
		Logger:  slog.New(handler),
		cfg:     cfg,
		rotator: rotator,
	}, nil
}

// resolveSink maps the configured output name to a writer. Unknown names
// fall back to stderr rather than failing; only the rotated file can
// error, on open.
func resolveSink(cfg *Config) (io.Writer, *FileRotator, error) {
	switch strings.ToLower(cfg.Output) {
	case "stdout":
		return os.Stdout, nil, nil
	case "file":
		r, err := NewFileRotator(cfg)
		if err != nil {
			return nil, nil, err
		}
		return r, r, nil
	case "both":
		r, err := NewFileRotator(cfg)
		if err != nil {
			return nil, nil, err
		}
		return io.MultiWriter(os.Stderr, r), r, nil
	default:
		return os.Stderr, nil, nil
	}
}

// Attribute keys that must never reach a sink with their value intact.
// Matched as case-insensitive substrings, so remote_token and
// AuthorizationHeader are both caught.
var redactedKeys = []string{
	"password", "secret", "token", "credential",
	"auth", "api_key", "apikey", "bearer",
}

func shouldRedact(key string) bool {
	k := strings.ToLower(key)
	for _, bad := range redactedKeys {
		if strings.Contains(k, bad) {
			return true
		}
	}
	return false
}

// derive produces a child logger carrying one extra attribute. The child
// shares the parent's sink and rotator; closing either closes the file.
func (l *Logger) derive(attr slog.Attr) *Logger {
	return &Logger{
		Logger:  l.Logger.With(attr),
		cfg:     l.cfg,
		rotator: l.rotator,
	}
}

// WithComponent returns a child logger tagged with a component name.
func (l *Logger) WithComponent(name string) *Logger {
	return l.derive(slog.String("component", name))
}

// WithFile returns a child logger tagged with a tracked-file key.
func (l *Logger) WithFile(key string) *Logger {
	return l.derive(slog.String("file", key))
}

// Close releases the log file, if any.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.rotator != nil {
		return l.rotator.Close()
	}
	return nil
}

// Sync flushes buffered entries to the log file, if any.
func (l *Logger) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.rotator != nil {
		return l.rotator.Sync()
	}
	return nil
}

// Package-level shorthands against the default logger.

func Debug(msg string, args ...any) { Default().Debug(msg, args...) }
func Info(msg string, args ...any)  { Default().Info(msg, args...) }
func Warn(msg string, args ...any)  { Default().Warn(msg, args...) }
func Error(msg string, args ...any) { Default().Error(msg, args...) }

// ParseLevel maps a config string to a level. "warning" is accepted as an
// alias for "warn".
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("log level %q is not recognized", s)
}

// LevelString is the inverse of ParseLevel; unknown levels render as
// "info".
func LevelString(level Level) string {
	switch level {
	case LevelDebug:
		return "debug"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	}
	return "info"
}

// ParseFormat maps a config string to an output format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	}
	return FormatText, fmt.Errorf("log format %q is not recognized", s)
}
