// Package embeddings
package embeddings

import "context"

// Embedder provides text embedding capabilities. Callers must use one
// embedding model consistently per deployment: vectors from different models
// are not distance-comparable and would corrupt similarity rankings.
type Embedder interface {
	// Embed converts text into a vector embedding.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch converts multiple texts into vector embeddings, preserving
	// input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Close releases any resources held by the embedder.
	Close() error
}
