package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// A decoder parses one config encoding over the defaults already present
// in cfg, so unset fields keep their default values.
type decoder func(data []byte, cfg *Config) error

func decodeTOML(data []byte, cfg *Config) error {
	_, err := toml.Decode(string(data), cfg)
	return err
}

func decodeJSON(data []byte, cfg *Config) error {
	return json.Unmarshal(data, cfg)
}

func decodeYAML(data []byte, cfg *Config) error {
	return yaml.Unmarshal(data, cfg)
}

// decodersFor picks the decoder from the file extension. An unrecognized
// extension gets every decoder, tried in order.
func decodersFor(path string) []decoder {
	switch filepath.Ext(path) {
	case ".toml":
		return []decoder{decodeTOML}
	case ".json":
		return []decoder{decodeJSON}
	case ".yaml", ".yml":
		return []decoder{decodeYAML}
	}
	return []decoder{decodeTOML, decodeJSON, decodeYAML}
}

// Load reads the config at path, layering it over defaults. A missing
// file is not an error; it just yields the defaults. Environment
// overrides are applied last, so they win over the file.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// No config file is the common case on first run.
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := parse(path, data, cfg); err != nil {
			return nil, err
		}
	}

	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// parse runs the candidate decoders for path until one accepts the data.
func parse(path string, data []byte, cfg *Config) error {
	candidates := decodersFor(path)

	var lastErr error
	for _, dec := range candidates {
		if lastErr = dec(data, cfg); lastErr == nil {
			return nil
		}
	}
	if len(candidates) > 1 {
		return fmt.Errorf("config %s matches none of TOML, JSON, or YAML", filepath.Base(path))
	}
	return fmt.Errorf("parse config %s: %w", filepath.Base(path), lastErr)
}

// LoadOrCreate is Load, except a missing file is written out with the
// defaults first. The bool reports whether the file was created.
func LoadOrCreate(path string) (*Config, bool, error) {
	if path == "" {
		path = ConfigPath()
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := Save(cfg, path); err != nil {
			return nil, false, fmt.Errorf("create default config: %w", err)
		}
		cfg.ApplyEnvOverrides()
		return cfg, true, nil
	}

	cfg, err := Load(path)
	if err != nil {
		return nil, false, err
	}
	return cfg, false, nil
}

// LoadFromEnv builds a config from defaults plus environment overrides
// alone, for setups that run without a config file.
func LoadFromEnv() *Config {
	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()
	return cfg
}

// Save writes the config to path in the format its extension names,
// TOML when the extension is unrecognized.
func Save(cfg *Config, path string) error {
	var data []byte
	var err error

	switch filepath.Ext(path) {
	case ".json":
		data, err = json.MarshalIndent(cfg, "", "  ")
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		data, err = encodeTOML(cfg)
	}
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	// Config may hold a remote token; keep it private.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// encodeTOML renders the config with a short header naming the schema
// version, so a hand-edited file still identifies itself.
func encodeTOML(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# modelvault configuration (schema version %d)\n\n", cfg.Version)
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
