// Package config holds runtime parameters for mdlive and the optional
// config file loader.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the server. Zero values mean
// "unspecified" and are replaced by defaults or flags in main.
type Config struct {
	Addr       string   `json:"addr" yaml:"addr" toml:"addr"`
	Base       string   `json:"base" yaml:"base" toml:"base"`
	Index      string   `json:"index" yaml:"index" toml:"index"`
	Patterns   []string `json:"patterns" yaml:"patterns" toml:"patterns"`
	DebounceMs int      `json:"debounce_ms" yaml:"debounce_ms" toml:"debounce_ms"`
	Open       bool     `json:"open" yaml:"open" toml:"open"`
	LogLevel   string   `json:"log_level" yaml:"log_level" toml:"log_level"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Addr:       "0.0.0.0:6464",
		Base:       "./",
		Index:      "index.md",
		Patterns:   []string{"*.md"},
		DebounceMs: 300,
		LogLevel:   "info",
	}
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// Merge overlays non-zero fields of other onto c and returns the result.
func (c Config) Merge(other Config) Config {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.Base != "" {
		c.Base = other.Base
	}
	if other.Index != "" {
		c.Index = other.Index
	}
	if len(other.Patterns) > 0 {
		c.Patterns = other.Patterns
	}
	if other.DebounceMs > 0 {
		c.DebounceMs = other.DebounceMs
	}
	if other.Open {
		c.Open = true
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	return c
}
