// Package storage defines the persistence interface for the paper registry and chunks.
package storage

import (
	"context"

	"github.com/evidenceworks/paperchat/internal/models"
)

// Storage defines paper registry and chunk persistence operations.
//
// The registry is the single source of truth for whether a paper's chunks are
// safe to retrieve from: callers must treat only papers with status "indexed"
// as query-visible, whatever the vector index happens to contain.
type Storage interface {
	// Paper registry
	CreatePaper(ctx context.Context, paper *models.Paper) error
	GetPaper(ctx context.Context, id string) (*models.Paper, error)
	SetPaperStatus(ctx context.Context, id string, status models.PaperStatus) error
	ListPapers(ctx context.Context) ([]*models.Paper, error)
	DeletePaper(ctx context.Context, id string) error

	// Chunk operations
	BatchCreateChunks(ctx context.Context, chunks []*models.Chunk) error
	GetChunk(ctx context.Context, paperID, chunkID string) (*models.Chunk, error)
	GetChunksByPaperID(ctx context.Context, paperID string) ([]*models.Chunk, error)
	DeleteChunksByPaperID(ctx context.Context, paperID string) error

	// Stats
	CountPapers(ctx context.Context) (int64, error)
	CountChunks(ctx context.Context) (int64, error)

	Close() error
}
