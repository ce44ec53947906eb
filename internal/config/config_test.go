package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
debug: true
server:
  host: 0.0.0.0
  port: 9090
storage:
  dir: /tmp/crmcache-test
embedding:
  dimensions: 128
cache:
  max_records: 5000
  snapshot_interval: 30s
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Debug || cfg.Server.Host != "0.0.0.0" || cfg.Server.Port != 9090 {
		t.Errorf("server config mismatch: %+v", cfg.Server)
	}
	if cfg.Storage.Dir != "/tmp/crmcache-test" {
		t.Errorf("storage dir mismatch: %s", cfg.Storage.Dir)
	}
	if cfg.Embedding.Dimensions != 128 {
		t.Errorf("dimensions mismatch: %d", cfg.Embedding.Dimensions)
	}
	if cfg.Cache.MaxRecords != 5000 || cfg.Cache.SnapshotInterval != 30*time.Second {
		t.Errorf("cache config mismatch: %+v", cfg.Cache)
	}
	// unset fields pick up defaults
	if cfg.Embedding.MaxTokens != 256 || cfg.Cache.CandidateMultiplier != 3 {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("missing file should error")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "server: [not a map")
	if _, err := Load(path); err == nil {
		t.Error("invalid yaml should error")
	}
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
`)
	t.Setenv("CRMCACHE_SERVER_PORT", "7070")
	t.Setenv("CRMCACHE_STORAGE_DIR", "/tmp/env-override")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("env should override yaml, port %d", cfg.Server.Port)
	}
	if cfg.Storage.Dir != "/tmp/env-override" {
		t.Errorf("env storage dir not applied: %s", cfg.Storage.Dir)
	}
}

func TestDefault(t *testing.T) {
	cfg, err := Default()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "localhost" || cfg.Server.Port != 8080 {
		t.Errorf("unexpected defaults: %+v", cfg.Server)
	}
	if cfg.Embedding.Dimensions != 384 {
		t.Errorf("default dimensions: %d", cfg.Embedding.Dimensions)
	}
	if cfg.Cache.SnapshotInterval != 5*time.Minute {
		t.Errorf("default snapshot interval: %v", cfg.Cache.SnapshotInterval)
	}
}

func TestRelativePathExpansion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("storage:\n  dir: ./data\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.Dir != filepath.Join(dir, "data") {
		t.Errorf("./ path should resolve against the config dir, got %s", cfg.Storage.Dir)
	}
}

func TestStoragePaths(t *testing.T) {
	s := &StorageConfig{Dir: "/var/lib/crmcache"}
	if s.DatabasePath() != "/var/lib/crmcache/records.db" {
		t.Errorf("database path: %s", s.DatabasePath())
	}
	if s.IndexPath() != "/var/lib/crmcache/index.bin" {
		t.Errorf("index path: %s", s.IndexPath())
	}
	if s.EmbedCacheDir() != "/var/lib/crmcache/embedcache" {
		t.Errorf("embed cache dir: %s", s.EmbedCacheDir())
	}
	if s.MetaPath() != "/var/lib/crmcache/meta.json" {
		t.Errorf("meta path: %s", s.MetaPath())
	}
}
