package embedding

import (
	"context"
	"fmt"
	"math"
)

// MockEmbedder is a deterministic embedder for tests and for running without
// an ONNX model. It returns a fixed-dimension vector derived from the text
// hash so that the same text always gets the same embedding, and texts sharing
// words get correlated embeddings (word-level hashing), which makes similarity
// ranking meaningful enough for tests.
type MockEmbedder struct {
	dimensions int
}

// NewMockEmbedder returns an embedder producing deterministic embeddings of the given dimensions.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &MockEmbedder{dimensions: dimensions}
}

// Embed returns a deterministic embedding: a normalized sum of per-word hash vectors.
func (e *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec := make([]float32, e.dimensions)
	for _, word := range SplitWords(text) {
		h := HashString(word)
		for i := 0; i < e.dimensions; i++ {
			vec[i] += float32(math.Sin(float64(h*(i+1))) * 0.1)
		}
	}
	if isZero(vec) {
		h := HashString(text)
		for i := 0; i < e.dimensions; i++ {
			vec[i] = float32(math.Sin(float64(h*(i+1)))*0.1 + 0.01)
		}
	}
	NormalizeL2(vec)
	return vec, nil
}

func isZero(vec []float32) bool {
	for _, v := range vec {
		if v != 0 {
			return false
		}
	}
	return true
}

// EmbedBatch calls Embed for each text.
func (e *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
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

// Dimensions returns the embedding dimension.
func (e *MockEmbedder) Dimensions() int {
	return e.dimensions
}

// ModelID returns the mock model identity, parameterized by dimension.
func (e *MockEmbedder) ModelID() string {
	return fmt.Sprintf("mock/%d", e.dimensions)
}

// Close is a no-op for MockEmbedder.
func (e *MockEmbedder) Close() error {
	return nil
}
