// Package synthesis constructs grounded answers from retrieved evidence.
//
// The synthesizer is a two-state machine. With no evidence at or above the
// relevance threshold it emits a fixed abstention response and never invokes
// generation. With evidence it builds a bounded context window, instructs the
// generation capability to answer only from that window, and attaches
// citations for exactly the chunks the window contains, in rank order.
package synthesis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/evidenceworks/paperchat/internal/config"
	"github.com/evidenceworks/paperchat/internal/generation"
	"github.com/evidenceworks/paperchat/internal/models"
)

// AbstentionAnswer is returned, with no citations, when retrieval produced no
// sufficiently relevant evidence. It is an answer, never an error.
const AbstentionAnswer = "Not found in the provided papers."

// RefusalAnswer is the exact sentence the generation instruction mandates when
// the supplied context cannot answer the question. When the model returns it,
// the citations for the considered evidence are still attached so the caller
// can show what was examined.
const RefusalAnswer = "Please ask a question related to the content of the uploaded papers."

// Synthesizer turns retrieved chunks into an answer with citations.
type Synthesizer struct {
	generator generation.Generator
	minScore  float64
	snippet   int
	maxChunk  int
	maxTotal  int
	timeout   time.Duration
}

// NewSynthesizer creates a synthesizer. The generation timeout bounds each
// Generate call; retrieval config supplies the relevance threshold and
// snippet length, synthesis config the context window caps.
func NewSynthesizer(
	gen generation.Generator,
	retrievalCfg *config.RetrievalConfig,
	synthCfg *config.SynthesisConfig,
	timeout time.Duration,
) *Synthesizer {
	return &Synthesizer{
		generator: gen,
		minScore:  retrievalCfg.MinScore,
		snippet:   retrievalCfg.SnippetLength,
		maxChunk:  synthCfg.MaxChunkChars,
		maxTotal:  synthCfg.MaxContextChars,
		timeout:   timeout,
	}
}

// Answer produces a grounded answer for question from hits. Hits below the
// relevance threshold are discarded; if none survive, the fixed abstention
// response is returned without calling generation. Generation failures are
// returned as errors (generation or generation_timeout kind), never disguised
// as an answer.
func (s *Synthesizer) Answer(ctx context.Context, question string, hits []*models.RetrievedChunk) (*models.ChatResponse, error) {
	relevant := make([]*models.RetrievedChunk, 0, len(hits))
	for _, h := range hits {
		if h.Score >= s.minScore {
			relevant = append(relevant, h)
		}
	}
	if len(relevant) == 0 {
		return &models.ChatResponse{
			Answer:    AbstentionAnswer,
			Citations: []models.Citation{},
		}, nil
	}

	included, evidence := s.buildContext(relevant)

	genCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	raw, err := s.generator.Generate(genCtx, groundingInstruction, buildPrompt(question, evidence))
	if err != nil {
		if models.KindOf(err) != "" {
			return nil, err
		}
		return nil, models.E(models.KindGeneration, err)
	}
	answer := strings.TrimSpace(raw)
	if answer == "" {
		return nil, models.Ef(models.KindGeneration, "empty completion")
	}

	return &models.ChatResponse{
		Answer:    answer,
		Citations: s.buildCitations(included),
	}, nil
}

// buildContext selects chunks for the context window in rank order and renders
// the numbered evidence blocks. Deduplication is deterministic: a chunk whose
// text duplicates, contains, or is contained by an already included chunk of
// the same paper is skipped (overlapping chunks restate each other). Each
// chunk's text is capped at maxChunk characters and the whole window at
// maxTotal; a chunk that no longer fits is skipped, later smaller ones may
// still fit.
func (s *Synthesizer) buildContext(relevant []*models.RetrievedChunk) ([]*models.RetrievedChunk, string) {
	var (
		included []*models.RetrievedChunk
		blocks   []string
		total    int
	)
	for _, h := range relevant {
		text := truncateRunes(strings.TrimSpace(h.Chunk.Content), s.maxChunk)
		if text == "" || s.redundant(included, h) {
			continue
		}
		block := fmt.Sprintf("[%d] %s\n%s", len(included)+1, evidenceMeta(h), text)
		if total+len(block) > s.maxTotal && len(included) > 0 {
			continue
		}
		included = append(included, h)
		blocks = append(blocks, block)
		total += len(block)
	}
	return included, strings.Join(blocks, "\n\n")
}

func (s *Synthesizer) redundant(included []*models.RetrievedChunk, h *models.RetrievedChunk) bool {
	text := strings.TrimSpace(h.Chunk.Content)
	for _, in := range included {
		if in.Chunk.PaperID != h.Chunk.PaperID {
			continue
		}
		other := strings.TrimSpace(in.Chunk.Content)
		if strings.Contains(other, text) || strings.Contains(text, other) {
			return true
		}
	}
	return false
}

// evidenceMeta renders the provenance line of an evidence block:
// paper title, section, and page range.
func evidenceMeta(h *models.RetrievedChunk) string {
	parts := make([]string, 0, 3)
	if h.PaperTitle != "" {
		parts = append(parts, h.PaperTitle)
	}
	if h.Chunk.Section != "" {
		parts = append(parts, "§ "+h.Chunk.Section)
	}
	if h.Chunk.PageStart > 0 {
		if h.Chunk.PageEnd > h.Chunk.PageStart {
			parts = append(parts, fmt.Sprintf("p. %d-%d", h.Chunk.PageStart, h.Chunk.PageEnd))
		} else {
			parts = append(parts, fmt.Sprintf("p. %d", h.Chunk.PageStart))
		}
	}
	if len(parts) == 0 {
		return "source"
	}
	return strings.Join(parts, " · ")
}

// buildCitations derives one citation per included chunk, 1-indexed in the
// same order as the evidence blocks, so inline [n] references resolve.
func (s *Synthesizer) buildCitations(included []*models.RetrievedChunk) []models.Citation {
	citations := make([]models.Citation, len(included))
	for i, h := range included {
		citations[i] = models.Citation{
			Rank:       i + 1,
			PaperID:    h.Chunk.PaperID,
			PaperTitle: h.PaperTitle,
			Section:    h.Chunk.Section,
			PageStart:  h.Chunk.PageStart,
			PageEnd:    h.Chunk.PageEnd,
			ChunkID:    h.Chunk.ID,
			Snippet:    Snippet(h.Chunk.Content, s.snippet),
			Text:       h.Chunk.Content,
		}
	}
	return citations
}

// Snippet returns a bounded excerpt of text: at most max bytes, cut back to the
// last sentence terminator past half the limit, else the last space, with "…"
// appended. Deterministic for identical input.
func Snippet(text string, max int) string {
	text = strings.TrimSpace(text)
	if max <= 0 || len(text) <= max {
		return text
	}
	cut := max
	floor := max / 2
	if i := strings.LastIndexAny(text[:max], ".!?"); i > floor {
		return strings.TrimSpace(text[:i+1]) + "…"
	}
	if i := strings.LastIndexByte(text[:max], ' '); i > floor {
		cut = i
	}
	return strings.TrimSpace(truncateRunes(text, cut)) + "…"
}

// truncateRunes cuts s to at most max bytes without splitting a rune.
func truncateRunes(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut]
}
