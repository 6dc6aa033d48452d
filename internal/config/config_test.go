package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config fixture: %v", err)
	}
	return path
}

func mustLoad(t *testing.T, path string) *Config {
	t.Helper()
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load(%s): %v", filepath.Base(path), err)
	}
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Version != Version {
		t.Errorf("Version = %d, want %d", cfg.Version, Version)
	}
	if cfg.Engine.GalleryLimit != 4 {
		t.Errorf("GalleryLimit = %d, want 4", cfg.Engine.GalleryLimit)
	}
	if cfg.Remote.Enabled {
		t.Error("remote sync should be disabled by default")
	}
	if !cfg.Blob.FSTierEnabled || !cfg.Blob.KVTierEnabled {
		t.Error("both durable blob tiers should be enabled by default")
	}
	if !strings.Contains(cfg.HistoryDBPath(), "modelvault") {
		t.Errorf("history db path should live under a modelvault dir: %s", cfg.HistoryDBPath())
	}
}

func TestConfigPath(t *testing.T) {
	if got := ConfigPath(); !strings.HasSuffix(got, "config.toml") {
		t.Errorf("ConfigPath() = %q, want a config.toml path", got)
	}
}

func TestDataDirOverride(t *testing.T) {
	t.Setenv("MODELVAULT_DATA_DIR", "/custom/vault")
	if dir := DataDir(); dir != "/custom/vault" {
		t.Errorf("DataDir() = %q, want /custom/vault", dir)
	}
}

func TestResolvedPaths(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workspace.DataDir = "/data/mv"

	if got := cfg.HistoryDBPath(); got != filepath.Join("/data/mv", "history.db") {
		t.Errorf("unexpected history db path: %s", got)
	}
	if got := cfg.BlobDirPath(); got != filepath.Join("/data/mv", "blobs") {
		t.Errorf("unexpected blob dir path: %s", got)
	}

	// Absolute names bypass DataDir.
	cfg.Workspace.BlobDB = "/elsewhere/cache.db"
	if got := cfg.BlobDBPath(); got != "/elsewhere/cache.db" {
		t.Errorf("absolute blob db path not preserved: %s", got)
	}
}

func TestLoadNonexistent(t *testing.T) {
	cfg := mustLoad(t, "/nonexistent/path/config.toml")
	if cfg.Engine.SettleMs != 150 {
		t.Errorf("missing file should yield defaults; SettleMs = %d, want 150", cfg.Engine.SettleMs)
	}
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, "config.toml", `
version = 1

[workspace]
data_dir = "/tmp/vault"

[engine]
settle_ms = 300
gallery_limit = 2

[remote]
enabled = true
base_url = "https://vault.example.com"
timeout_sec = 5
`)
	cfg := mustLoad(t, path)

	if cfg.Workspace.DataDir != "/tmp/vault" {
		t.Errorf("DataDir = %q, want /tmp/vault", cfg.Workspace.DataDir)
	}
	if cfg.Engine.SettleMs != 300 || cfg.Engine.GalleryLimit != 2 {
		t.Errorf("engine overrides not applied: settle=%d gallery=%d", cfg.Engine.SettleMs, cfg.Engine.GalleryLimit)
	}
	if !cfg.Remote.Enabled || cfg.Remote.TimeoutSec != 5 {
		t.Errorf("remote overrides not applied: enabled=%v timeout=%d", cfg.Remote.Enabled, cfg.Remote.TimeoutSec)
	}
	// Unset fields keep defaults.
	if cfg.Engine.DebounceMs != 500 {
		t.Errorf("DebounceMs = %d, want default 500", cfg.Engine.DebounceMs)
	}
}

func TestLoadJSONConfig(t *testing.T) {
	path := writeConfig(t, "config.json", `{"engine": {"settle_ms": 250}}`)
	if cfg := mustLoad(t, path); cfg.Engine.SettleMs != 250 {
		t.Errorf("SettleMs = %d, want 250", cfg.Engine.SettleMs)
	}
}

func TestLoadYAMLConfig(t *testing.T) {
	path := writeConfig(t, "config.yaml", "engine:\n  debounce_ms: 900\n")
	if cfg := mustLoad(t, path); cfg.Engine.DebounceMs != 900 {
		t.Errorf("DebounceMs = %d, want 900", cfg.Engine.DebounceMs)
	}
}

func TestLoadInvalidTOML(t *testing.T) {
	path := writeConfig(t, "config.toml", "settle_ms = [unclosed\n")
	if _, err := Load(path); err == nil {
		t.Error("Load accepted a config that does not parse")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MODELVAULT_REMOTE_TOKEN", "env-token")
	t.Setenv("MODELVAULT_REMOTE_URL", "https://env.example.com")
	t.Setenv("MODELVAULT_LOG_LEVEL", "debug")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()

	if cfg.Remote.Token != "env-token" {
		t.Errorf("Token = %q, want the env value", cfg.Remote.Token)
	}
	if cfg.Remote.BaseURL != "https://env.example.com" {
		t.Errorf("BaseURL = %q, want the env value", cfg.Remote.BaseURL)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestValidateInvalidDebounce(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Engine.DebounceMs = 10
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for debounce below minimum")
	}
}

func TestValidateNoDurableTier(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Blob.FSTierEnabled = false
	cfg.Blob.KVTierEnabled = false
	if err := cfg.Validate(); err == nil {
		t.Error("expected error when both durable tiers are disabled")
	}
}

func TestValidateRemoteURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Remote.Enabled = true
	cfg.Remote.BaseURL = "not a url"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for invalid remote URL")
	}

	cfg.Remote.BaseURL = "https://vault.example.com"
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid remote URL rejected: %v", err)
	}
}

func TestValidateErrorsJoined(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Engine.GalleryLimit = 0
	cfg.Logging.Level = "loud"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	msg := err.Error()
	if !strings.Contains(msg, "engine.gallery_limit") {
		t.Errorf("expected gallery_limit in error, got %s", msg)
	}
	if !strings.Contains(msg, "logging.level") {
		t.Errorf("expected logging.level in error, got %s", msg)
	}
}

func TestEnsureDirectories(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Workspace.DataDir = filepath.Join(tmpDir, "vault")
	cfg.Logging.FilePath = filepath.Join(tmpDir, "vault", "logs", "mv.log")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}

	for _, dir := range []string{
		filepath.Join(tmpDir, "vault"),
		filepath.Join(tmpDir, "vault", "blobs"),
		filepath.Join(tmpDir, "vault", "logs"),
	} {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			t.Errorf("%s was not created", dir)
		}
	}
}

func TestSaveAndReload(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.toml")

	cfg := DefaultConfig()
	cfg.Engine.SettleMs = 275
	cfg.Workspace.DataDir = "/tmp/roundtrip"

	if err := Save(cfg, configPath); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded := mustLoad(t, configPath)
	if loaded.Engine.SettleMs != 275 {
		t.Errorf("settle not preserved: got %d", loaded.Engine.SettleMs)
	}
	if loaded.Workspace.DataDir != "/tmp/roundtrip" {
		t.Errorf("data dir not preserved: got %s", loaded.Workspace.DataDir)
	}

	info, err := os.Stat(configPath)
	if err != nil {
		t.Fatalf("stat config: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("config mode = %o, want 0600", info.Mode().Perm())
	}
}

func TestLoadOrCreate(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.toml")

	cfg, created, err := LoadOrCreate(configPath)
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	if !created {
		t.Error("expected config file to be created")
	}
	if cfg == nil {
		t.Fatal("LoadOrCreate returned nil config")
	}

	_, created, err = LoadOrCreate(configPath)
	if err != nil {
		t.Fatalf("second LoadOrCreate: %v", err)
	}
	if created {
		t.Error("existing config should not be recreated")
	}
}

func TestClone(t *testing.T) {
	cfg := DefaultConfig()
	clone := cfg.Clone()

	clone.Engine.SettleMs = 999
	if cfg.Engine.SettleMs == 999 {
		t.Error("mutating clone affected original")
	}
}
