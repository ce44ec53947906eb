package embedding

import (
	"encoding/binary"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"
)

// DiskCache is a content-addressed on-disk store of embeddings keyed by
// content hash. A hash always maps to the same vector for the lifetime of a
// model version; the whole directory is discarded on a model change.
//
// Layout: <dir>/<hash[:2]>/<hash>.vec, each file holding the dimension (4
// bytes, little endian) followed by the raw float32 data. Writes go through a
// temp file and rename so a crash never leaves a torn entry.
type DiskCache struct {
	dir string
}

// NewDiskCache opens (creating if needed) the cache directory.
func NewDiskCache(dir string) (*DiskCache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &DiskCache{dir: dir}, nil
}

func (c *DiskCache) entryPath(hash string) string {
	shard := "00"
	if len(hash) >= 2 {
		shard = hash[:2]
	}
	return filepath.Join(c.dir, shard, hash+".vec")
}

// Get returns the cached vector for hash, or ok=false if absent.
// A torn or unreadable entry is treated as absent.
func (c *DiskCache) Get(hash string) ([]float32, bool, error) {
	data, err := os.ReadFile(c.entryPath(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read cache entry: %w", err)
	}
	if len(data) < 4 {
		return nil, false, nil
	}
	dim := int(binary.LittleEndian.Uint32(data[:4]))
	if dim <= 0 || len(data) != 4+dim*4 {
		return nil, false, nil
	}
	vec := make([]float32, dim)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4+i*4 : 8+i*4]))
	}
	return vec, true, nil
}

// Put stores the vector under hash. Existing entries are overwritten, which is
// harmless since a hash always maps to the same vector.
func (c *DiskCache) Put(hash string, vec []float32) error {
	path := c.entryPath(hash)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create cache shard: %w", err)
	}
	buf := make([]byte, 4+len(vec)*4)
	binary.LittleEndian.PutUint32(buf[:4], uint32(len(vec)))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4+i*4:8+i*4], math.Float32bits(v))
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0644); err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit cache entry: %w", err)
	}
	return nil
}

// Count returns the number of entries on disk.
func (c *DiskCache) Count() (int, error) {
	n := 0
	err := filepath.WalkDir(c.dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !d.IsDir() && strings.HasSuffix(path, ".vec") {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("walk cache dir: %w", err)
	}
	return n, nil
}

// Clear removes every entry. Used when the embedding model changes and the
// cached vectors no longer belong to the live embedding space.
func (c *DiskCache) Clear() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("read cache dir: %w", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(c.dir, e.Name())); err != nil {
			return fmt.Errorf("remove cache shard: %w", err)
		}
	}
	return nil
}
