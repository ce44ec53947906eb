package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync/atomic"

	"github.com/dgraph-io/ristretto"
)

// CachingEmbedder wraps an Embedder with a two-level content-hash cache: a
// ristretto in-memory hot layer over the authoritative on-disk store. Model
// inference dominates latency, so a cache hit must never invoke the model;
// the disk layer guarantees that (ristretto admission is probabilistic, so the
// hot layer alone would not).
type CachingEmbedder struct {
	inner Embedder
	disk  *DiskCache
	hot   *ristretto.Cache
	calls atomic.Int64
}

// NewCachingEmbedder wraps inner with the cache rooted at dir. hotEntries
// bounds the in-memory layer.
func NewCachingEmbedder(inner Embedder, dir string, hotEntries int64) (*CachingEmbedder, error) {
	disk, err := NewDiskCache(dir)
	if err != nil {
		return nil, err
	}
	if hotEntries <= 0 {
		hotEntries = 10000
	}
	hot, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: hotEntries * 10,
		MaxCost:     hotEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create hot cache: %w", err)
	}
	return &CachingEmbedder{inner: inner, disk: disk, hot: hot}, nil
}

// HashText returns the cache key for text. It matches the content hash used
// for record de-duplication (sha256 hex), so an unchanged record's vector is
// always served from cache.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Embed returns the embedding for text, consulting the hot layer, then disk,
// then the model. Safe for concurrent use.
func (e *CachingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	hash := HashText(text)

	if v, ok := e.hot.Get(hash); ok {
		if vec, ok := v.([]float32); ok {
			return vec, nil
		}
	}
	vec, ok, err := e.disk.Get(hash)
	if err != nil {
		return nil, err
	}
	if ok {
		e.hot.Set(hash, vec, 1)
		return vec, nil
	}

	e.calls.Add(1)
	vec, err = e.inner.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed %q: %w", hash[:12], err)
	}
	if err := e.disk.Put(hash, vec); err != nil {
		return nil, err
	}
	e.hot.Set(hash, vec, 1)
	return vec, nil
}

// EmbedBatch calls Embed for each text.
func (e *CachingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vecs[i] = vec
	}
	return vecs, nil
}

// Dimensions returns the wrapped embedder's dimension.
func (e *CachingEmbedder) Dimensions() int { return e.inner.Dimensions() }

// ModelID returns the wrapped embedder's model identity.
func (e *CachingEmbedder) ModelID() string { return e.inner.ModelID() }

// ModelInvocations returns how many times the underlying model has been
// invoked. Cache hits do not count; tests use this to verify the hit path.
func (e *CachingEmbedder) ModelInvocations() int64 { return e.calls.Load() }

// CacheCount returns the number of vectors in the on-disk cache.
func (e *CachingEmbedder) CacheCount() (int, error) { return e.disk.Count() }

// Invalidate empties both cache layers. Called when the persisted state was
// built with a different model.
func (e *CachingEmbedder) Invalidate() error {
	e.hot.Clear()
	return e.disk.Clear()
}

// Close releases the hot cache and the wrapped embedder.
func (e *CachingEmbedder) Close() error {
	e.hot.Close()
	return e.inner.Close()
}
