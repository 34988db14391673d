// Package embedding provides the embedding provider capability and clients.
package embedding

import "context"

// Embedder produces vector embeddings for text. Implementations must apply
// identical preprocessing and normalization for every call so that ingestion
// and query vectors are comparable.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}
