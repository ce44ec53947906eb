// Package vector provides the vector index and similarity search.
package vector

import (
	"context"
	"errors"
)

// ErrCorrupt is returned by Restore when the persisted index cannot be read.
// Callers are expected to fall back to an empty index and re-ingest rather
// than crash.
var ErrCorrupt = errors.New("vector index corrupt")

// Hit is a single vector search result.
type Hit struct {
	ID    string
	Score float64 // Cosine similarity for L2-normalized vectors.
}

// VectorIndex defines vector storage and k-nearest-neighbor search over
// fixed-dimension vectors. Implementations must rank by descending score with
// ties broken by ascending ID, and Persist/Restore must round-trip to
// identical search results. The flat exact-scan implementation is the
// default; an approximate index can be substituted behind this contract
// without touching any other component.
type VectorIndex interface {
	// Insert adds or replaces the vector for id. Idempotent.
	Insert(ctx context.Context, id string, vec []float32) error
	// Delete removes id. Deleting an absent id is a no-op.
	Delete(ctx context.Context, id string) error
	// Search returns up to k nearest entries. An empty index yields an
	// empty result, not an error.
	Search(ctx context.Context, query []float32, k int) ([]Hit, error)
	// Contains reports whether id is present.
	Contains(id string) bool
	// IDs returns all indexed ids, in no particular order.
	IDs() []string
	Persist(path string) error
	Restore(path string) error
	Size() int
	Dimensions() int
	Close() error
}
