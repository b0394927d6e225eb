package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "cxdbd.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
data_dir: /var/lib/cxdb
bind_binary: 127.0.0.1:9001
bind_http: 127.0.0.1:9002
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != LogInfo {
		t.Fatalf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.CompressionThresholdBytes != 512 {
		t.Fatalf("CompressionThresholdBytes = %d, want 512", cfg.CompressionThresholdBytes)
	}
	if cfg.ZstdLevel != 3 {
		t.Fatalf("ZstdLevel = %d, want 3", cfg.ZstdLevel)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
data_dir: /var/lib/cxdb
bind_binary: 127.0.0.1:9001
bind_http: 127.0.0.1:9002
nonexistent_field: true
`)
	_, err := Load(path)
	if err == nil {
		t.Fatalf("Load: expected error for unknown field, got nil")
	}
}

func TestLoadRequiresDataDir(t *testing.T) {
	path := writeConfig(t, `
bind_binary: 127.0.0.1:9001
bind_http: 127.0.0.1:9002
`)
	_, err := Load(path)
	if err == nil {
		t.Fatalf("Load: expected error for missing data_dir, got nil")
	}
}

func TestTypeIDAllowedNoGlobsMeansUnrestricted(t *testing.T) {
	cfg := Default()
	if !cfg.TypeIDAllowed("anything.at.all") {
		t.Fatalf("TypeIDAllowed with no globs configured = false, want true")
	}
}

func TestTypeIDAllowedGlobMatch(t *testing.T) {
	cfg := Default()
	cfg.AllowedTypeIDGlobs = []string{"com.example.**"}
	if !cfg.TypeIDAllowed("com.example.Message") {
		t.Fatalf("TypeIDAllowed(com.example.Message) = false, want true")
	}
	if cfg.TypeIDAllowed("com.other.Thing") {
		t.Fatalf("TypeIDAllowed(com.other.Thing) = true, want false")
	}
}

func TestLoadRejectsInvalidLogLevel(t *testing.T) {
	path := writeConfig(t, `
data_dir: /var/lib/cxdb
bind_binary: 127.0.0.1:9001
bind_http: 127.0.0.1:9002
log_level: verbose
`)
	_, err := Load(path)
	if err == nil {
		t.Fatalf("Load: expected error for invalid log_level, got nil")
	}
}
