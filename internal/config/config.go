// Package config handles configuration loading, validation, and management for modelvault.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Version is the schema version this build reads and writes.
const Version = 1

// Config holds the complete modelvault configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Workspace configuration for on-disk layout.
	Workspace WorkspaceConfig `toml:"workspace" json:"workspace" yaml:"workspace"`

	// Engine configuration for commit/restore/pull behavior.
	Engine EngineConfig `toml:"engine" json:"engine" yaml:"engine"`

	// Blob configuration for the tiered payload store.
	Blob BlobConfig `toml:"blob" json:"blob" yaml:"blob"`

	// Remote configuration for cloud sync.
	Remote RemoteConfig `toml:"remote" json:"remote" yaml:"remote"`

	// Logging configuration for output and rotation.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// mu serializes env overrides against cloning.
	mu sync.RWMutex `toml:"-" json:"-" yaml:"-"`
}

// WorkspaceConfig holds the on-disk layout of a modelvault workspace.
type WorkspaceConfig struct {
	// DataDir is the workspace root. Empty means the platform default
	// (overridable with MODELVAULT_DATA_DIR).
	DataDir string `toml:"data_dir" json:"data_dir" yaml:"data_dir"`

	// HistoryDB is the commit log database filename, relative to DataDir.
	HistoryDB string `toml:"history_db" json:"history_db" yaml:"history_db"`

	// BlobDB is the blob cache database filename, relative to DataDir.
	BlobDB string `toml:"blob_db" json:"blob_db" yaml:"blob_db"`

	// BlobDir is the filesystem commit store directory, relative to DataDir.
	BlobDir string `toml:"blob_dir" json:"blob_dir" yaml:"blob_dir"`
}

// EngineConfig holds commit/restore/pull tuning.
type EngineConfig struct {
	// SettleMs is the pause after a pull write before the read-back check,
	// in milliseconds.
	SettleMs int `toml:"settle_ms" json:"settle_ms" yaml:"settle_ms"`

	// DebounceMs is the watcher debounce interval in milliseconds. The
	// tracked file must be stable for this duration before an event fires.
	DebounceMs int `toml:"debounce_ms" json:"debounce_ms" yaml:"debounce_ms"`

	// GalleryLimit is the maximum number of commits selectable for the
	// comparison gallery.
	GalleryLimit int `toml:"gallery_limit" json:"gallery_limit" yaml:"gallery_limit"`

	// MaxFileSize is the largest tracked file the engine will commit, in
	// bytes. Zero means unlimited.
	MaxFileSize int64 `toml:"max_file_size" json:"max_file_size" yaml:"max_file_size"`
}

// BlobConfig holds tiered blob store configuration.
type BlobConfig struct {
	// FSTierEnabled controls the filesystem commit store (tier 1).
	FSTierEnabled bool `toml:"fs_tier_enabled" json:"fs_tier_enabled" yaml:"fs_tier_enabled"`

	// KVTierEnabled controls the embedded key-value cache (tier 3).
	KVTierEnabled bool `toml:"kv_tier_enabled" json:"kv_tier_enabled" yaml:"kv_tier_enabled"`

	// MemoryCacheEntries is the capacity of the in-memory payload cache
	// (tier 2).
	MemoryCacheEntries int `toml:"memory_cache_entries" json:"memory_cache_entries" yaml:"memory_cache_entries"`

	// CompressionLevel is the zstd level for KV tier rows: 1 (fastest)
	// to 4 (best).
	CompressionLevel int `toml:"compression_level" json:"compression_level" yaml:"compression_level"`
}

// RemoteConfig holds cloud sync configuration.
type RemoteConfig struct {
	// Enabled determines whether remote sync is permitted at all.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// BaseURL is the remote vault service endpoint.
	BaseURL string `toml:"base_url" json:"base_url" yaml:"base_url"`

	// Token is the bearer token for the remote service
	// (prefer the MODELVAULT_REMOTE_TOKEN environment variable).
	Token string `toml:"token" json:"token" yaml:"token"`

	// TimeoutSec is the per-call timeout for remote operations.
	TimeoutSec int `toml:"timeout_sec" json:"timeout_sec" yaml:"timeout_sec"`

	// MaxAttempts is the number of attempts per remote call, including
	// the first.
	MaxAttempts int `toml:"max_attempts" json:"max_attempts" yaml:"max_attempts"`
}

// LoggingConfig holds log output and rotation settings.
type LoggingConfig struct {
	// Level is the minimum level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format selects "text" or "json" entries.
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is the log output: "stdout", "stderr", "file", or "both".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the path to the log file (when Output includes "file").
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	// MaxSizeMB rotates the log once the file exceeds this many megabytes.
	MaxSizeMB int `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`

	// MaxBackups is the number of rotated log files to keep.
	MaxBackups int `toml:"max_backups" json:"max_backups" yaml:"max_backups"`
}

// DefaultConfig returns the built-in defaults for this platform.
func DefaultConfig() *Config {
	dir := DataDir()

	return &Config{
		Version: Version,
		Workspace: WorkspaceConfig{
			DataDir:   dir,
			HistoryDB: "history.db",
			BlobDB:    "blobcache.db",
			BlobDir:   "blobs",
		},
		Engine: EngineConfig{
			SettleMs:     150,
			DebounceMs:   500,
			GalleryLimit: 4,
			MaxFileSize:  2 * 1024 * 1024 * 1024, // 2GB
		},
		Blob: BlobConfig{
			FSTierEnabled:      true,
			KVTierEnabled:      true,
			MemoryCacheEntries: 8,
			CompressionLevel:   2,
		},
		Remote: RemoteConfig{
			Enabled:     false,
			BaseURL:     "",
			Token:       "",
			TimeoutSec:  10,
			MaxAttempts: 3,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "file",
			FilePath:   filepath.Join(dir, "modelvault.log"),
			MaxSizeMB:  50,
			MaxBackups: 3,
		},
	}
}

// ConfigPath returns where the config file lives by default.
func ConfigPath() string {
	return filepath.Join(DataDir(), "config.toml")
}

// DataDir returns the base modelvault directory.
// Uses platform-specific paths or the MODELVAULT_DATA_DIR environment override.
func DataDir() string {
	if envDir := os.Getenv("MODELVAULT_DATA_DIR"); envDir != "" {
		return envDir
	}
	return PlatformDataDir()
}

// HistoryDBPath returns the resolved commit log database path.
func (c *Config) HistoryDBPath() string {
	return c.resolve(c.Workspace.HistoryDB)
}

// BlobDBPath returns the resolved blob cache database path.
func (c *Config) BlobDBPath() string {
	return c.resolve(c.Workspace.BlobDB)
}

// BlobDirPath returns the resolved filesystem commit store directory.
func (c *Config) BlobDirPath() string {
	return c.resolve(c.Workspace.BlobDir)
}

func (c *Config) resolve(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	dir := c.Workspace.DataDir
	if dir == "" {
		dir = DataDir()
	}
	return filepath.Join(dir, name)
}

// SettleInterval returns the pull settle interval as a duration.
func (c *Config) SettleInterval() time.Duration {
	return time.Duration(c.Engine.SettleMs) * time.Millisecond
}

// DebounceInterval returns the watcher debounce interval as a duration.
func (c *Config) DebounceInterval() time.Duration {
	return time.Duration(c.Engine.DebounceMs) * time.Millisecond
}

// RemoteTimeout returns the per-call remote timeout as a duration.
func (c *Config) RemoteTimeout() time.Duration {
	return time.Duration(c.Remote.TimeoutSec) * time.Second
}

// RemotePermitted reports whether cloud sync is allowed: the capability is a
// simple boolean derived from configuration and credentials.
func (c *Config) RemotePermitted() bool {
	return c.Remote.Enabled && c.Remote.BaseURL != ""
}

// ApplyEnvOverrides folds MODELVAULT_* environment variables into the config.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v := os.Getenv("MODELVAULT_DATA_DIR"); v != "" {
		c.Workspace.DataDir = v
	}
	if v := os.Getenv("MODELVAULT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("MODELVAULT_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}
	if v := os.Getenv("MODELVAULT_REMOTE_URL"); v != "" {
		c.Remote.BaseURL = v
	}
	// Token from env so it never has to live in the config file.
	if v := os.Getenv("MODELVAULT_REMOTE_TOKEN"); v != "" {
		c.Remote.Token = v
	}
	if v := os.Getenv("MODELVAULT_REMOTE_ENABLED"); v != "" {
		c.Remote.Enabled = v == "1" || v == "true"
	}
}

// EnsureDirectories creates all directories the workspace needs.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Workspace.DataDir,
		filepath.Dir(c.HistoryDBPath()),
		filepath.Dir(c.BlobDBPath()),
		c.BlobDirPath(),
		filepath.Dir(c.Logging.FilePath),
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}

// Clone returns a detached copy of the configuration.
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	clone := Config{
		Version:   c.Version,
		Workspace: c.Workspace,
		Engine:    c.Engine,
		Blob:      c.Blob,
		Remote:    c.Remote,
		Logging:   c.Logging,
	}
	return &clone
}
