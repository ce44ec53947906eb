// Package embedding provides text embedding via ONNX and a two-level
// content-addressed cache.
package embedding

import "context"

// Embedder produces fixed-dimension vector embeddings for text. The model
// identity and dimension are fixed for the lifetime of the process.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	// ModelID identifies the model (and therefore the embedding space).
	// Vectors from different model IDs must never be mixed.
	ModelID() string
	Close() error
}
