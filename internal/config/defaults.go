package config

import "time"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.Dir == "" {
		cfg.Storage.Dir = "/usr/local/var/crmcache/data"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.HotEntries == 0 {
		cfg.Embedding.HotEntries = 10000
	}
	if cfg.Cache.CandidateMultiplier == 0 {
		cfg.Cache.CandidateMultiplier = 3
	}
	if cfg.Cache.SnapshotInterval == 0 {
		cfg.Cache.SnapshotInterval = 5 * time.Minute
	}
}
