package fixconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Venv != "" || cfg.Excludes != nil || cfg.LogLevel != "" {
		t.Errorf("Load on missing file = %+v, want zero value", cfg)
	}
}

func TestLoadParsesFields(t *testing.T) {
	dir := t.TempDir()
	content := `
venv = ".venv"
excludes = ["build/**", "*.generated.py"]
log_level = "debug"
`
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Venv != ".venv" {
		t.Errorf("Venv = %q, want .venv", cfg.Venv)
	}
	if len(cfg.Excludes) != 2 || cfg.Excludes[0] != "build/**" {
		t.Errorf("Excludes = %v", cfg.Excludes)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func TestLoadRejectsMalformedToml(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte("not = [valid"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir); err == nil {
		t.Error("Load with malformed toml: expected error, got nil")
	}
}
