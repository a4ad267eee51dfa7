package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfig_PassesValidationInTestingMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Testing.Enabled = true
	cfg.Server.Debug = true
	if err := validate(cfg); err != nil {
		t.Fatalf("default config with testing enabled should validate, got: %v", err)
	}
}

func TestLoad_WithExplicitFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "test.toml")

	content := `
log_level = "debug"

[server]
port = 9090
data_dir = "` + dir + `"
debug = true

[testing]
enabled = true

[providers.alpha]
name = "alpha"
base_url = "https://alpha.example.com"
key_ref = "env:ALPHA_KEY"
enabled = true
priority = 1
connect_timeout = "5s"
read_timeout = "60s"
write_timeout = "10s"
pool_timeout = "5s"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if got := Get(); got != cfg {
		t.Error("Get() did not return the just-loaded config")
	}
}

func TestLoad_InvalidConfigReturnsConcatenatedError(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "bad.toml")
	content := `
log_level = "not-a-level"

[server]
port = 0

[testing]
enabled = false
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected a validation error, got nil")
	}
	for _, want := range []string{"server.port", "log_level"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Load() error does not list the %s violation: %v", want, err)
		}
	}
}

func TestExportConfig_ProducesOutput(t *testing.T) {
	cfg := DefaultConfig()
	data, err := ExportConfig(cfg)
	if err != nil {
		t.Fatalf("ExportConfig() error = %v", err)
	}
	if len(data) == 0 {
		t.Fatal("ExportConfig() returned empty output")
	}
}
