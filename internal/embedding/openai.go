package embedding

import (
	"context"
	"fmt"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/evidenceworks/paperchat/internal/config"
	"github.com/evidenceworks/paperchat/internal/models"
	"github.com/evidenceworks/paperchat/internal/vector"
)

// OpenAIEmbedder calls an OpenAI-compatible embeddings endpoint. Vectors are
// unit-normalized on return so that inner product equals cosine similarity.
type OpenAIEmbedder struct {
	client     *openai.Client
	model      string
	dimensions int
}

// NewOpenAIEmbedder creates an embedder from cfg. The API key is read from the
// environment variable named by cfg.APIKeyEnv.
func NewOpenAIEmbedder(cfg *config.EmbeddingConfig) (*OpenAIEmbedder, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, models.Ef(models.KindConfig, "missing API key in env %s", cfg.APIKeyEnv)
	}
	clientCfg := openai.DefaultConfig(key)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIEmbedder{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}, nil
}

// Embed returns the normalized embedding of text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in a single request, preserving order.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	inputs := make([]string, len(texts))
	for i, t := range texts {
		inputs[i] = Preprocess(t)
	}
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input:      inputs,
		Model:      openai.EmbeddingModel(e.model),
		Dimensions: e.dimensions,
	})
	if err != nil {
		return nil, models.E(models.KindEmbeddingProvider, fmt.Errorf("create embeddings: %w", err))
	}
	if len(resp.Data) != len(texts) {
		return nil, models.Ef(models.KindEmbeddingProvider,
			"embedding count mismatch: got %d, want %d", len(resp.Data), len(texts))
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, models.Ef(models.KindEmbeddingProvider, "embedding index %d out of range", d.Index)
		}
		if len(d.Embedding) != e.dimensions {
			return nil, models.Ef(models.KindEmbeddingProvider,
				"embedding dimension mismatch: got %d, want %d", len(d.Embedding), e.dimensions)
		}
		out[d.Index] = Normalize(d.Embedding)
	}
	return out, nil
}

// Dimensions returns the configured embedding dimension.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op for OpenAIEmbedder.
func (e *OpenAIEmbedder) Close() error {
	return nil
}

// Preprocess applies the shared text normalization used for every embedding
// call: trimmed, inner whitespace collapsed. Ingestion and query paths must
// go through this same function.
func Preprocess(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// Normalize scales v to unit length, the form the vector index's inner-product
// metric expects. Zero vectors are returned unchanged.
func Normalize(v []float32) []float32 {
	norm := vector.L2Norm(v)
	if norm == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
