// Package vector provides the chunk vector index and similarity search.
//
// The similarity metric is fixed: inner product over unit-normalized vectors,
// which equals cosine similarity. The embedding client normalizes every vector
// it returns, and the on-disk format records the dimension so an index built
// for a different embedding configuration is rejected at load time.
package vector

import "context"

// Entry is one indexed chunk vector. ChunkKey is globally unique
// (paper ID + chunk ID); PaperID enables paper-scoped filtering.
type Entry struct {
	ChunkKey string
	PaperID  string
	Vector   []float32
}

// Match is a single similarity search hit.
type Match struct {
	ChunkKey string
	PaperID  string
	Score    float64
}

// Index defines vector storage and similarity search over chunk embeddings.
// Add is idempotent per chunk key: re-adding replaces the stored vector.
// Query restricts candidates with the filter predicate before ranking and
// clamps k to the candidate count; fewer than k results is not an error.
type Index interface {
	Add(ctx context.Context, entry Entry) error
	AddBatch(ctx context.Context, entries []Entry) error
	Query(ctx context.Context, query []float32, k int, filter func(paperID string) bool) ([]*Match, error)
	RemovePaper(ctx context.Context, paperID string) error
	Save(path string) error
	Load(path string) error
	Size() int
	Close() error
}
