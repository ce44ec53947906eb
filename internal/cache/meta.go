package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrVersionMismatch indicates the persisted cache was built with a different
// embedding model or dimension than the one currently loaded. The stale cache
// must not be served; the coordinator rebuilds instead.
var ErrVersionMismatch = errors.New("persisted cache built with a different embedding model")

// Meta is the version tag persisted alongside the index. Vectors are only
// comparable within one embedding space, so the tag records which space the
// persisted state belongs to.
type Meta struct {
	ModelID    string `json:"model_id"`
	Dimensions int    `json:"dimensions"`
}

// LoadMeta reads the version tag at path. A missing file returns (nil, nil):
// a fresh storage directory has no tag yet.
func LoadMeta(path string) (*Meta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read meta: %w", err)
	}
	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse meta: %w", err)
	}
	return &m, nil
}

// Write persists the version tag atomically.
func (m *Meta) Write(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create meta dir: %w", err)
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write meta: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit meta: %w", err)
	}
	return nil
}

// Check returns ErrVersionMismatch when the tag does not match the live model.
func (m *Meta) Check(modelID string, dimensions int) error {
	if m.ModelID != modelID || m.Dimensions != dimensions {
		return fmt.Errorf("%w: persisted %s/%d, live %s/%d",
			ErrVersionMismatch, m.ModelID, m.Dimensions, modelID, dimensions)
	}
	return nil
}
