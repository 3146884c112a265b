package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if cfg.Port == 0 || cfg.DataDir == "" || cfg.ReferenceBase == "" || cfg.QueueCapacity < 1 || cfg.KSize < 1 {
		t.Fatalf("default config invalid: %+v", cfg)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load("not_exists.yml")
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}
	if cfg != Default() {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadReadsAndValidates(t *testing.T) {
	tempDir := t.TempDir()
	path := filepath.Join(tempDir, "cfg.yml")
	content := []byte("port: 9090\ndata_dir: testdata\nreference_base: refs\nqueue_capacity: 8\nksize: 31\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 9090 || cfg.DataDir != "testdata" || cfg.ReferenceBase != "refs" || cfg.QueueCapacity != 8 || cfg.KSize != 31 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	tempDir := t.TempDir()
	path := filepath.Join(tempDir, "cfg.yml")
	if err := os.WriteFile(path, []byte("port: 9090\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("SNIPEQC_PORT", "7070")
	t.Setenv("SNIPEQC_REFERENCE_BASE", "https://refs.example.org/data")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 7070 {
		t.Fatalf("expected env port override, got %d", cfg.Port)
	}
	if cfg.ReferenceBase != "https://refs.example.org/data" {
		t.Fatalf("expected env reference base override, got %s", cfg.ReferenceBase)
	}
}

func TestLoadRejectsInvalidQueueCapacity(t *testing.T) {
	tempDir := t.TempDir()
	path := filepath.Join(tempDir, "cfg.yml")
	if err := os.WriteFile(path, []byte("queue_capacity: 0\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for invalid queue capacity")
	}
}
