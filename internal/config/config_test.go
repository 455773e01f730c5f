package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConf(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "progdn-rvi.conf")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeTempConf(t, "listen = 0.0.0.0:8080\nmark = 100\ntable = 100\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen.String() != "0.0.0.0:8080" {
		t.Fatalf("Listen = %s, want 0.0.0.0:8080", cfg.Listen.String())
	}
	if cfg.Mark != 100 || cfg.Table != 100 {
		t.Fatalf("Mark/Table = %d/%d, want 100/100", cfg.Mark, cfg.Table)
	}
}

func TestLoadToleratesUnknownKeys(t *testing.T) {
	path := writeTempConf(t, "listen = 0.0.0.0:8080\nmark = 1\ntable = 1\nsome_future_key = whatever\n")

	if _, err := Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func TestLoadMissingKeyFails(t *testing.T) {
	path := writeTempConf(t, "listen = 0.0.0.0:8080\nmark = 1\n")

	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for a missing required key, got nil")
	}
}

func TestLoadRejectsBadListen(t *testing.T) {
	path := writeTempConf(t, "listen = not-an-endpoint\nmark = 1\ntable = 1\n")

	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for a malformed listen value, got nil")
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.conf")); err == nil {
		t.Fatal("expected an error for a missing file, got nil")
	}
}
