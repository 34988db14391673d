// Package retriever embeds queries and returns top-k ranked chunks.
package retriever

import (
	"context"
	"fmt"
	"strings"

	"github.com/evidenceworks/paperchat/internal/embedding"
	"github.com/evidenceworks/paperchat/internal/models"
	"github.com/evidenceworks/paperchat/internal/storage"
	"github.com/evidenceworks/paperchat/internal/vector"
)

// Retriever runs query-time retrieval: embed the question with the same
// embedder used at ingestion, restrict candidates to indexed papers, and
// query the vector index.
type Retriever struct {
	storage  storage.Storage
	embedder embedding.Embedder
	index    vector.Index
}

// NewRetriever creates a retriever with the given dependencies.
func NewRetriever(
	store storage.Storage,
	embedder embedding.Embedder,
	index vector.Index,
) *Retriever {
	return &Retriever{
		storage:  store,
		embedder: embedder,
		index:    index,
	}
}

// Retrieve returns up to k chunks ranked by similarity to query, restricted by
// paperFilter (a paper ID, or models.PaperFilterAll for every indexed paper).
// Only chunks of papers whose registry status is "indexed" are candidates,
// whatever the vector index contains. An empty result is not an error:
// a filter matching no indexed paper, an empty index, or k <= 0 all yield nil.
func (r *Retriever) Retrieve(ctx context.Context, query, paperFilter string, k int) ([]*models.RetrievedChunk, error) {
	if k <= 0 {
		return nil, nil
	}
	titles, err := r.indexedPapers(ctx, paperFilter)
	if err != nil {
		return nil, err
	}
	if len(titles) == 0 {
		return nil, nil
	}

	queryVec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, models.E(models.KindEmbeddingProvider, fmt.Errorf("embed query: %w", err))
	}

	matches, err := r.index.Query(ctx, queryVec, k, func(paperID string) bool {
		_, ok := titles[paperID]
		return ok
	})
	if err != nil {
		if models.KindOf(err) != "" {
			return nil, err
		}
		return nil, models.E(models.KindRetrieval, fmt.Errorf("vector query: %w", err))
	}

	results := make([]*models.RetrievedChunk, 0, len(matches))
	for _, match := range matches {
		chunkID := strings.TrimPrefix(match.ChunkKey, match.PaperID+"/")
		chunk, err := r.storage.GetChunk(ctx, match.PaperID, chunkID)
		if err != nil {
			return nil, models.E(models.KindRetrieval,
				fmt.Errorf("indexed chunk %s has no stored content: %w", match.ChunkKey, err))
		}
		results = append(results, &models.RetrievedChunk{
			Chunk:      chunk,
			PaperTitle: titles[match.PaperID],
			Score:      match.Score,
		})
	}
	return results, nil
}

// indexedPapers resolves paperFilter to the set of query-visible papers,
// mapping paper ID to title. A specific filter naming a paper that is not
// indexed (or not registered) yields an empty set, not an error.
func (r *Retriever) indexedPapers(ctx context.Context, paperFilter string) (map[string]string, error) {
	titles := make(map[string]string)
	if paperFilter != "" && paperFilter != models.PaperFilterAll {
		paper, err := r.storage.GetPaper(ctx, paperFilter)
		if err != nil {
			if models.IsKind(err, models.KindNotFound) {
				return titles, nil
			}
			return nil, models.E(models.KindRetrieval, fmt.Errorf("resolve paper filter: %w", err))
		}
		if paper.Status == models.StatusIndexed {
			titles[paper.ID] = paper.Title
		}
		return titles, nil
	}
	papers, err := r.storage.ListPapers(ctx)
	if err != nil {
		return nil, models.E(models.KindRetrieval, fmt.Errorf("list papers: %w", err))
	}
	for _, paper := range papers {
		if paper.Status == models.StatusIndexed {
			titles[paper.ID] = paper.Title
		}
	}
	return titles, nil
}
