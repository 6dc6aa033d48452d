package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError describes a single rejected configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors collects every rejected field so a bad config is
// reported in one pass.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	parts := make([]string, len(e))
	for i := range e {
		parts[i] = e[i].Error()
	}
	return strings.Join(parts, "; ")
}

func (e *ValidationErrors) add(field, format string, args ...any) {
	*e = append(*e, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs.add("version", "unsupported version %d (current: %d)", c.Version, Version)
	}
	c.Workspace.validate(&errs)
	c.Engine.validate(&errs)
	c.Blob.validate(&errs)
	c.Remote.validate(&errs)
	c.Logging.validate(&errs)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func (w *WorkspaceConfig) validate(errs *ValidationErrors) {
	if w.HistoryDB == "" {
		errs.add("workspace.history_db", "history database filename cannot be empty")
	}
	if w.BlobDB == "" {
		errs.add("workspace.blob_db", "blob database filename cannot be empty")
	}
	if w.BlobDir == "" {
		errs.add("workspace.blob_dir", "blob directory cannot be empty")
	}
}

func (e *EngineConfig) validate(errs *ValidationErrors) {
	if e.SettleMs < 0 || e.SettleMs > 10000 {
		errs.add("engine.settle_ms", "settle interval must be between 0 and 10000ms, got %d", e.SettleMs)
	}
	if e.DebounceMs < 100 || e.DebounceMs > 60000 {
		errs.add("engine.debounce_ms", "debounce must be between 100ms and 60000ms, got %d", e.DebounceMs)
	}
	if e.GalleryLimit < 1 || e.GalleryLimit > 16 {
		errs.add("engine.gallery_limit", "gallery limit must be between 1 and 16, got %d", e.GalleryLimit)
	}
	if e.MaxFileSize < 0 {
		errs.add("engine.max_file_size", "max file size cannot be negative")
	}
}

func (b *BlobConfig) validate(errs *ValidationErrors) {
	if !b.FSTierEnabled && !b.KVTierEnabled {
		errs.add("blob", "at least one durable tier (fs or kv) must be enabled")
	}
	if b.MemoryCacheEntries < 1 {
		errs.add("blob.memory_cache_entries", "memory cache must hold at least 1 entry")
	}
	if b.CompressionLevel < 1 || b.CompressionLevel > 4 {
		errs.add("blob.compression_level", "invalid compression level %d (valid: 1-4)", b.CompressionLevel)
	}
}

func (r *RemoteConfig) validate(errs *ValidationErrors) {
	if r.Enabled && !usableBaseURL(r.BaseURL) {
		errs.add("remote.base_url", "invalid base URL: %s", r.BaseURL)
	}
	if r.TimeoutSec < 1 || r.TimeoutSec > 300 {
		errs.add("remote.timeout_sec", "timeout must be between 1 and 300 seconds, got %d", r.TimeoutSec)
	}
	if r.MaxAttempts < 1 || r.MaxAttempts > 10 {
		errs.add("remote.max_attempts", "max attempts must be between 1 and 10, got %d", r.MaxAttempts)
	}
}

func (l *LoggingConfig) validate(errs *ValidationErrors) {
	if !oneOf(l.Level, "debug", "info", "warn", "error") {
		errs.add("logging.level", "invalid log level: %s (valid: debug, info, warn, error)", l.Level)
	}
	if !oneOf(l.Format, "text", "json") {
		errs.add("logging.format", "invalid log format: %s (valid: text, json)", l.Format)
	}
	switch l.Output {
	case "stdout", "stderr":
	case "file", "both":
		if l.FilePath == "" {
			errs.add("logging.file_path", "file path is required when output includes 'file'")
		}
	default:
		errs.add("logging.output", "invalid output: %s (valid: stdout, stderr, file, both)", l.Output)
	}
	if l.MaxSizeMB < 1 {
		errs.add("logging.max_size_mb", "max size must be at least 1 MB")
	}
	if l.MaxBackups < 0 {
		errs.add("logging.max_backups", "max backups cannot be negative")
	}
}

// usableBaseURL applies the same scheme and host check the remote client
// performs at construction, so a validated config also dials.
func usableBaseURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
