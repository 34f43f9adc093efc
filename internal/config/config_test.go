package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Server.Host != "localhost" {
		t.Errorf("host: got %q", cfg.Server.Host)
	}
	if cfg.Server.Port != DefaultPort {
		t.Errorf("port: got %d, want %d", cfg.Server.Port, DefaultPort)
	}
	if cfg.Storage.DataDir != "data/vecbridge" {
		t.Errorf("data dir: got %q", cfg.Storage.DataDir)
	}
	if cfg.Persistence.DefaultDimension != DefaultDimension {
		t.Errorf("default dimension: got %d", cfg.Persistence.DefaultDimension)
	}
	if !cfg.Persistence.AutoSaveOrDefault() {
		t.Error("auto save should default to on")
	}
}

func TestLoadAppliesDefaultsAndExpandsPaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9999
storage:
  data_dir: ./state
persistence:
  auto_save: false
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("port: got %d", cfg.Server.Port)
	}
	if cfg.Server.Host != "localhost" {
		t.Errorf("default host not applied: %q", cfg.Server.Host)
	}
	if want := filepath.Join(dir, "state"); cfg.Storage.DataDir != want {
		t.Errorf("data dir: got %q, want %q", cfg.Storage.DataDir, want)
	}
	if cfg.Persistence.AutoSaveOrDefault() {
		t.Error("auto_save: false in file should disable auto save")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server: [not a map"), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("VECBRIDGE_PORT", "4000")
	t.Setenv("VECBRIDGE_DATA_DIR", "/var/lib/vecbridge")
	t.Setenv("VECBRIDGE_AUTO_SAVE", "false")

	cfg := Default()
	if err := ApplyEnv(cfg); err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if cfg.Server.Port != 4000 {
		t.Errorf("port: got %d", cfg.Server.Port)
	}
	if cfg.Storage.DataDir != "/var/lib/vecbridge" {
		t.Errorf("data dir: got %q", cfg.Storage.DataDir)
	}
	if cfg.Persistence.AutoSaveOrDefault() {
		t.Error("auto save should be disabled")
	}
}

func TestApplyEnvInvalidPort(t *testing.T) {
	t.Setenv("VECBRIDGE_PORT", "not-a-port")
	cfg := Default()
	if err := ApplyEnv(cfg); err == nil {
		t.Error("expected error for invalid port")
	}
}

func TestIsFalsy(t *testing.T) {
	for _, v := range []string{"0", "false", "no", "off", "FALSE", " Off "} {
		if !isFalsy(v) {
			t.Errorf("isFalsy(%q) = false, want true", v)
		}
	}
	for _, v := range []string{"1", "true", "yes", "on", ""} {
		if isFalsy(v) {
			t.Errorf("isFalsy(%q) = true, want false", v)
		}
	}
}
