// Package config provides configuration loading for the crmcache server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application. YAML provides the base;
// CRMCACHE_* environment variables override individual fields.
type Config struct {
	Debug     bool            `yaml:"debug" envconfig:"DEBUG"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Cache     CacheConfig     `yaml:"cache"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host" envconfig:"SERVER_HOST"`
	Port int    `yaml:"port" envconfig:"SERVER_PORT"`
}

// StorageConfig names the storage directory. Everything the cache persists
// lives under it: the record database, the vector index snapshot, the
// embedding cache, and the version tag.
type StorageConfig struct {
	Dir string `yaml:"dir" envconfig:"STORAGE_DIR"`
}

// DatabasePath returns the SQLite record store path.
func (s *StorageConfig) DatabasePath() string { return filepath.Join(s.Dir, "records.db") }

// IndexPath returns the vector index snapshot path.
func (s *StorageConfig) IndexPath() string { return filepath.Join(s.Dir, "index.bin") }

// EmbedCacheDir returns the on-disk embedding cache directory.
func (s *StorageConfig) EmbedCacheDir() string { return filepath.Join(s.Dir, "embedcache") }

// MetaPath returns the version tag path.
func (s *StorageConfig) MetaPath() string { return filepath.Join(s.Dir, "meta.json") }

// EmbeddingConfig holds ONNX embedder settings. When ModelPath is empty or
// the model cannot be loaded, the deterministic mock embedder is used.
type EmbeddingConfig struct {
	ModelPath  string `yaml:"model_path" envconfig:"EMBEDDING_MODEL_PATH"`
	Dimensions int    `yaml:"dimensions" envconfig:"EMBEDDING_DIMENSIONS"`
	MaxTokens  int    `yaml:"max_tokens" envconfig:"EMBEDDING_MAX_TOKENS"`
	HotEntries int64  `yaml:"hot_entries" envconfig:"EMBEDDING_HOT_ENTRIES"`
}

// CacheConfig holds coordinator settings.
type CacheConfig struct {
	// MaxRecords bounds the working set; 0 means unbounded.
	MaxRecords int64 `yaml:"max_records" envconfig:"CACHE_MAX_RECORDS"`
	// CandidateMultiplier widens the vector search pool before
	// post-filtering.
	CandidateMultiplier int `yaml:"candidate_multiplier" envconfig:"CACHE_CANDIDATE_MULTIPLIER"`
	// SnapshotInterval controls periodic index persistence.
	SnapshotInterval time.Duration `yaml:"snapshot_interval" envconfig:"CACHE_SNAPSHOT_INTERVAL"`
}

// Load reads and parses the config file at path, applies defaults and
// CRMCACHE_* environment overrides, and expands relative paths.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := envconfig.Process("crmcache", &cfg); err != nil {
		return nil, fmt.Errorf("failed to apply env overrides: %w", err)
	}
	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.Dir = expandPath(cfg.Storage.Dir, configDir)
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}
	return &cfg, nil
}

// Default returns a config built purely from defaults and environment
// overrides, for running without a config file.
func Default() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("crmcache", &cfg); err != nil {
		return nil, fmt.Errorf("failed to apply env overrides: %w", err)
	}
	ApplyDefaults(&cfg)
	return &cfg, nil
}

// expandPath converts a path to absolute. Paths starting with "./" are
// relative to configDir; other relative paths are relative to the home
// directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
