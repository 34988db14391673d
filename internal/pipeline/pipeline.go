// Package pipeline orchestrates paper ingestion: extract, chunk, embed, index.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/evidenceworks/paperchat/internal/chunker"
	"github.com/evidenceworks/paperchat/internal/embedding"
	"github.com/evidenceworks/paperchat/internal/extract"
	"github.com/evidenceworks/paperchat/internal/models"
	"github.com/evidenceworks/paperchat/internal/storage"
	"github.com/evidenceworks/paperchat/internal/vector"
)

// PageExtractor extracts per-page text from an uploaded file.
// *extract.Extractor is the production implementation.
type PageExtractor interface {
	ExtractFile(path string) ([]extract.Page, error)
}

// Pipeline ingests uploaded PDFs. Each ingestion is a strictly sequential
// extract -> chunk -> embed -> store -> index run with a terminal status update
// performed by the pipeline itself; the paper only becomes query-visible when
// that final update sets "indexed". Distinct uploads may ingest concurrently;
// re-ingestion of the same upload key is serialized.
type Pipeline struct {
	storage   storage.Storage
	embedder  embedding.Embedder
	index     vector.Index
	chunker   *chunker.Chunker
	extractor PageExtractor
	uploadDir string
	indexPath string
	logger    *zap.Logger // optional; when set, logs pipeline events

	mu      sync.Mutex
	keyLock map[string]*sync.Mutex
	wg      sync.WaitGroup
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets a logger for pipeline events.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithIndexPath makes the pipeline persist the vector index after each
// successful ingestion.
func WithIndexPath(path string) Option {
	return func(p *Pipeline) { p.indexPath = path }
}

// NewPipeline creates an ingestion pipeline with the given dependencies.
func NewPipeline(
	store storage.Storage,
	embedder embedding.Embedder,
	index vector.Index,
	ch *chunker.Chunker,
	extractor PageExtractor,
	uploadDir string,
	opts ...Option,
) *Pipeline {
	p := &Pipeline{
		storage:   store,
		embedder:  embedder,
		index:     index,
		chunker:   ch,
		extractor: extractor,
		uploadDir: uploadDir,
		keyLock:   make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ingest runs a full ingestion for the uploaded PDF identified by uploadKey
// and blocks until its terminal status is written. Returns the paper, whose
// status is "indexed" on success. On failure the paper is marked "failed",
// any partially written chunks and index entries for this attempt are
// discarded, and the error is returned.
func (p *Pipeline) Ingest(ctx context.Context, uploadKey string) (*models.Paper, error) {
	paper, err := p.register(ctx, uploadKey)
	if err != nil {
		return nil, err
	}
	if err := p.run(ctx, paper, uploadKey); err != nil {
		return paper, err
	}
	return paper, nil
}

// IngestAsync registers the paper synchronously (so the caller has its ID
// immediately, with status "processing") and runs the remaining stages in the
// background. The returned task completes after the terminal status update.
func (p *Pipeline) IngestAsync(ctx context.Context, uploadKey string) (*Task, error) {
	paper, err := p.register(ctx, uploadKey)
	if err != nil {
		return nil, err
	}
	task := newTask(paper.ID)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		task.finish(p.run(context.Background(), paper, uploadKey))
	}()
	return task, nil
}

// Wait blocks until all background ingestions have finished.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// register creates the paper in "processing" state. Every ingestion attempt is
// a fresh paper; a failed earlier attempt for the same upload stays failed.
func (p *Pipeline) register(ctx context.Context, uploadKey string) (*models.Paper, error) {
	paper := &models.Paper{
		ID:        "p_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:10],
		Title:     TitleFromUploadKey(uploadKey),
		Status:    models.StatusProcessing,
		UploadKey: uploadKey,
	}
	if err := p.storage.CreatePaper(ctx, paper); err != nil {
		return nil, models.E(models.KindIngestion, fmt.Errorf("register paper: %w", err))
	}
	return paper, nil
}

// run executes the sequential stages for a registered paper and writes the
// terminal status itself. The upload key lock serializes concurrent
// re-ingestion of the same file; the index lock is never held while the
// embedding provider call is in flight.
func (p *Pipeline) run(ctx context.Context, paper *models.Paper, uploadKey string) error {
	lock := p.lockFor(uploadKey)
	lock.Lock()
	defer lock.Unlock()

	if err := p.stages(ctx, paper, uploadKey); err != nil {
		p.fail(ctx, paper, err)
		return err
	}
	if err := p.storage.SetPaperStatus(ctx, paper.ID, models.StatusIndexed); err != nil {
		p.fail(ctx, paper, err)
		return models.E(models.KindIngestion, fmt.Errorf("mark indexed: %w", err))
	}
	paper.Status = models.StatusIndexed
	if p.indexPath != "" {
		if err := p.index.Save(p.indexPath); err != nil && p.logger != nil {
			p.logger.Warn("vector index save failed", zap.String("path", p.indexPath), zap.Error(err))
		}
	}
	if p.logger != nil {
		p.logger.Info("paper indexed",
			zap.String("paper_id", paper.ID),
			zap.String("title", paper.Title),
		)
	}
	return nil
}

func (p *Pipeline) stages(ctx context.Context, paper *models.Paper, uploadKey string) error {
	path := filepath.Join(p.uploadDir, uploadKey)
	pages, err := p.extractor.ExtractFile(path)
	if err != nil {
		return models.E(models.KindIngestion, fmt.Errorf("extract %s: %w", uploadKey, err))
	}
	if !extract.HasText(pages) {
		return models.Ef(models.KindIngestion, "no extractable text in %s (scanned image-only pages?)", uploadKey)
	}

	chunks := p.chunker.Chunk(paper.ID, pages)
	if len(chunks) == 0 {
		return models.Ef(models.KindIngestion, "chunking produced no chunks for %s", uploadKey)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	embeddings, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		if models.KindOf(err) != "" {
			return err
		}
		return models.E(models.KindEmbeddingProvider, fmt.Errorf("embed chunks: %w", err))
	}
	if len(embeddings) != len(chunks) {
		return models.Ef(models.KindEmbeddingProvider,
			"embedding count mismatch: got %d, want %d", len(embeddings), len(chunks))
	}
	for i := range chunks {
		chunks[i].Embedding = embeddings[i]
	}

	if err := p.storage.BatchCreateChunks(ctx, chunks); err != nil {
		return models.E(models.KindIngestion, fmt.Errorf("store chunks: %w", err))
	}

	entries := make([]vector.Entry, len(chunks))
	for i, c := range chunks {
		entries[i] = vector.Entry{ChunkKey: c.Key(), PaperID: c.PaperID, Vector: c.Embedding}
	}
	if err := p.index.AddBatch(ctx, entries); err != nil {
		return models.E(models.KindIngestion, fmt.Errorf("index vectors: %w", err))
	}
	return nil
}

// fail marks the paper failed and discards any partial state written by this
// attempt so the index never retains half an ingestion.
func (p *Pipeline) fail(ctx context.Context, paper *models.Paper, cause error) {
	if p.logger != nil {
		p.logger.Error("ingestion failed",
			zap.String("paper_id", paper.ID),
			zap.String("upload_key", paper.UploadKey),
			zap.Error(cause),
		)
	}
	if err := p.index.RemovePaper(ctx, paper.ID); err != nil && p.logger != nil {
		p.logger.Warn("discard partial index entries failed", zap.String("paper_id", paper.ID), zap.Error(err))
	}
	if err := p.storage.DeleteChunksByPaperID(ctx, paper.ID); err != nil && p.logger != nil {
		p.logger.Warn("discard partial chunks failed", zap.String("paper_id", paper.ID), zap.Error(err))
	}
	if err := p.storage.SetPaperStatus(ctx, paper.ID, models.StatusFailed); err != nil && p.logger != nil {
		p.logger.Warn("mark failed failed", zap.String("paper_id", paper.ID), zap.Error(err))
	}
	paper.Status = models.StatusFailed
}

func (p *Pipeline) lockFor(uploadKey string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	lock, ok := p.keyLock[uploadKey]
	if !ok {
		lock = &sync.Mutex{}
		p.keyLock[uploadKey] = lock
	}
	return lock
}

// TitleFromUploadKey derives a display title from an upload key like
// "1712000000_ab12cd34_attention-is-all-you-need.pdf".
func TitleFromUploadKey(uploadKey string) string {
	name := uploadKey
	if i := strings.LastIndex(name, "_"); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimSuffix(name, filepath.Ext(name))
	name = strings.ReplaceAll(name, "-", " ")
	name = strings.TrimSpace(name)
	if name == "" {
		return uploadKey
	}
	return name
}
