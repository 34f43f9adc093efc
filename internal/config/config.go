// Package config provides configuration loading and structs for the vecbridge server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug       bool              `yaml:"debug"`
	Server      ServerConfig      `yaml:"server"`
	Storage     StorageConfig     `yaml:"storage"`
	Persistence PersistenceConfig `yaml:"persistence"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds the data directory for persisted artifacts and the
// engine cache.
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// PersistenceConfig holds save behavior settings.
type PersistenceConfig struct {
	AutoSave         *bool `yaml:"auto_save"`
	DefaultDimension int   `yaml:"default_dimension"`
}

// AutoSaveOrDefault returns whether to persist after every mutation;
// defaults to true when unset.
func (p *PersistenceConfig) AutoSaveOrDefault() bool {
	if p.AutoSave != nil {
		return *p.AutoSave
	}
	return true
}

// Default returns a config with all defaults applied and no file read.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// Load reads and parses the config file at path, expands paths, and applies
// defaults. Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DataDir = expandPath(cfg.Storage.DataDir, configDir)

	return &cfg, nil
}

// ApplyEnv overrides cfg from the process environment:
// VECBRIDGE_PORT, VECBRIDGE_DATA_DIR and VECBRIDGE_AUTO_SAVE.
func ApplyEnv(cfg *Config) error {
	if v := os.Getenv("VECBRIDGE_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid VECBRIDGE_PORT %q: %w", v, err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("VECBRIDGE_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("VECBRIDGE_AUTO_SAVE"); v != "" {
		enabled := !isFalsy(v)
		cfg.Persistence.AutoSave = &enabled
	}
	return nil
}

func isFalsy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "0", "false", "no", "off":
		return true
	}
	return false
}

// expandPath converts a path to absolute. Paths starting with "./" are
// relative to configDir; other relative paths are left as-is so the data
// directory default stays relative to the working directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	return path
}
