package vector

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// flatMagic identifies the on-disk format; bumping the trailing byte
// invalidates older snapshots.
var flatMagic = [8]byte{'c', 'r', 'm', 'v', 'i', 'd', 'x', 1}

// FlatIndex is an exact brute-force cosine index: a dense array of vectors
// with a parallel id list and an id-to-slot map for O(1) upsert and delete.
// At the target scale (low tens of thousands of vectors) the O(n) scan per
// query is cheaper than maintaining a graph structure.
//
// A single RWMutex guards the structure: searches run concurrently with each
// other and exclude writers, and Persist snapshots under the read lock.
type FlatIndex struct {
	dimensions int
	ids        []string
	vectors    [][]float32
	slot       map[string]int
	mu         sync.RWMutex
}

// NewFlatIndex creates an empty flat index with the given dimension.
func NewFlatIndex(dimensions int) (*FlatIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &FlatIndex{
		dimensions: dimensions,
		slot:       make(map[string]int),
	}, nil
}

// Insert adds or replaces the vector for id.
func (f *FlatIndex) Insert(ctx context.Context, id string, vec []float32) error {
	if len(vec) != f.dimensions {
		return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(vec), f.dimensions)
	}
	cp := make([]float32, f.dimensions)
	copy(cp, vec)
	f.mu.Lock()
	defer f.mu.Unlock()
	if i, ok := f.slot[id]; ok {
		f.vectors[i] = cp
		return nil
	}
	f.slot[id] = len(f.ids)
	f.ids = append(f.ids, id)
	f.vectors = append(f.vectors, cp)
	return nil
}

// Delete removes the vector for id. A deleted id is never returned by Search.
func (f *FlatIndex) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i, ok := f.slot[id]
	if !ok {
		return nil
	}
	last := len(f.ids) - 1
	if i != last {
		f.ids[i] = f.ids[last]
		f.vectors[i] = f.vectors[last]
		f.slot[f.ids[i]] = i
	}
	f.ids = f.ids[:last]
	f.vectors = f.vectors[:last]
	delete(f.slot, id)
	return nil
}

// Search returns the top-k entries by inner product (cosine similarity for
// normalized vectors), ties broken by ascending id for determinism.
func (f *FlatIndex) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	if len(query) != f.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), f.dimensions)
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if k <= 0 || len(f.ids) == 0 {
		return nil, nil
	}
	hits := make([]Hit, len(f.ids))
	for i, vec := range f.vectors {
		var dot float64
		for j := 0; j < f.dimensions; j++ {
			dot += float64(query[j] * vec[j])
		}
		hits[i] = Hit{ID: f.ids[i], Score: dot}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if k > len(hits) {
		k = len(hits)
	}
	return hits[:k:k], nil
}

// Contains reports whether id is present in the index.
func (f *FlatIndex) Contains(id string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.slot[id]
	return ok
}

// IDs returns a copy of all indexed ids.
func (f *FlatIndex) IDs() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	ids := make([]string, len(f.ids))
	copy(ids, f.ids)
	return ids
}

// snapshot copies ids and vectors under the read lock so serialization can
// run without blocking searches.
func (f *FlatIndex) snapshot() ([]string, [][]float32) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	ids := make([]string, len(f.ids))
	copy(ids, f.ids)
	vectors := make([][]float32, len(f.vectors))
	for i, v := range f.vectors {
		cp := make([]float32, len(v))
		copy(cp, v)
		vectors[i] = cp
	}
	return ids, vectors
}

// Persist writes the index to path. Format: magic (8), dimension (4),
// count (4), then per entry: idLen (4), id bytes, vector (dimension*4 bytes).
// The write goes through a temp file and rename so a crash mid-persist leaves
// the previous snapshot intact.
func (f *FlatIndex) Persist(path string) error {
	if path == "" {
		return nil
	}
	ids, vectors := f.snapshot()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	err = writeIndex(file, f.dimensions, ids, vectors)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write index: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit index: %w", err)
	}
	return nil
}

func writeIndex(w io.Writer, dimensions int, ids []string, vectors [][]float32) error {
	if _, err := w.Write(flatMagic[:]); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(dimensions)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(ids))); err != nil {
		return err
	}
	for i, id := range ids {
		if err := binary.Write(w, binary.LittleEndian, uint32(len(id))); err != nil {
			return err
		}
		if _, err := w.Write([]byte(id)); err != nil {
			return err
		}
		if _, err := w.Write(float32SliceToBytes(vectors[i])); err != nil {
			return err
		}
	}
	return nil
}

// Restore reads the index from path and replaces the in-memory contents.
// A missing file leaves the index empty without error. Any malformed content
// (bad magic, dimension mismatch, truncation) returns ErrCorrupt.
func (f *FlatIndex) Restore(path string) error {
	if path == "" {
		return nil
	}
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open index file: %w", err)
	}
	defer file.Close()

	var magic [8]byte
	if _, err := io.ReadFull(file, magic[:]); err != nil {
		return fmt.Errorf("%w: short header", ErrCorrupt)
	}
	if magic != flatMagic {
		return fmt.Errorf("%w: bad magic", ErrCorrupt)
	}
	var dim, n uint32
	if err := binary.Read(file, binary.LittleEndian, &dim); err != nil {
		return fmt.Errorf("%w: read dimensions", ErrCorrupt)
	}
	if int(dim) != f.dimensions {
		return fmt.Errorf("%w: dimension mismatch: file has %d, index expects %d", ErrCorrupt, dim, f.dimensions)
	}
	if err := binary.Read(file, binary.LittleEndian, &n); err != nil {
		return fmt.Errorf("%w: read count", ErrCorrupt)
	}

	ids := make([]string, 0, n)
	vectors := make([][]float32, 0, n)
	slot := make(map[string]int, n)
	buf := make([]byte, f.dimensions*4)
	for i := uint32(0); i < n; i++ {
		var idLen uint32
		if err := binary.Read(file, binary.LittleEndian, &idLen); err != nil {
			return fmt.Errorf("%w: read id len", ErrCorrupt)
		}
		if idLen == 0 || idLen > 1<<16 {
			return fmt.Errorf("%w: implausible id length %d", ErrCorrupt, idLen)
		}
		idBytes := make([]byte, idLen)
		if _, err := io.ReadFull(file, idBytes); err != nil {
			return fmt.Errorf("%w: read id", ErrCorrupt)
		}
		if _, err := io.ReadFull(file, buf); err != nil {
			return fmt.Errorf("%w: read vector", ErrCorrupt)
		}
		id := string(idBytes)
		if _, dup := slot[id]; dup {
			return fmt.Errorf("%w: duplicate id %q", ErrCorrupt, id)
		}
		slot[id] = len(ids)
		ids = append(ids, id)
		vectors = append(vectors, bytesToFloat32Slice(buf))
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = ids
	f.vectors = vectors
	f.slot = slot
	return nil
}

// Size returns the number of vectors in the index.
func (f *FlatIndex) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.ids)
}

// Dimensions returns the vector dimension the index was built for.
func (f *FlatIndex) Dimensions() int {
	return f.dimensions
}

// Close is a no-op for FlatIndex.
func (f *FlatIndex) Close() error {
	return nil
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}

// CosineSimilarity returns cosine similarity between two normalized vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i] * b[i])
	}
	return math.Max(-1, math.Min(1, dot))
}
