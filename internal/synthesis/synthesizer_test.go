package synthesis

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/evidenceworks/paperchat/internal/config"
	"github.com/evidenceworks/paperchat/internal/generation"
	"github.com/evidenceworks/paperchat/internal/models"
)

func newTestSynthesizer(gen generation.Generator) *Synthesizer {
	return NewSynthesizer(gen,
		&config.RetrievalConfig{TopK: 6, MinScore: 0.25, SnippetLength: 160},
		&config.SynthesisConfig{MaxChunkChars: 1200, MaxContextChars: 12000},
		5*time.Second,
	)
}

func hit(paperID, chunkID, content string, score float64) *models.RetrievedChunk {
	return &models.RetrievedChunk{
		Chunk: &models.Chunk{
			ID: chunkID, PaperID: paperID, Content: content,
			PageStart: 1, PageEnd: 1,
		},
		PaperTitle: "test paper",
		Score:      score,
	}
}

func TestSynthesizer_Abstains(t *testing.T) {
	gen := generation.NewMockGenerator("should never be used")
	s := newTestSynthesizer(gen)

	resp, err := s.Answer(context.Background(), "unrelated question", []*models.RetrievedChunk{
		hit("p_1", "c00000", "some content", 0.10),
		hit("p_1", "c00001", "more content", 0.05),
	})
	if err != nil {
		t.Fatalf("abstention is an answer, not an error: %v", err)
	}
	if resp.Answer != AbstentionAnswer {
		t.Errorf("answer = %q, want abstention", resp.Answer)
	}
	if resp.Citations == nil || len(resp.Citations) != 0 {
		t.Errorf("abstention must carry an empty citation list, got %v", resp.Citations)
	}
	if gen.Calls() != 0 {
		t.Errorf("generation invoked %d times on the abstention path", gen.Calls())
	}
}

func TestSynthesizer_AbstainsOnNoHits(t *testing.T) {
	gen := generation.NewMockGenerator("unused")
	s := newTestSynthesizer(gen)
	resp, err := s.Answer(context.Background(), "anything", nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Answer != AbstentionAnswer || gen.Calls() != 0 {
		t.Errorf("no hits should abstain without generating: %q, %d calls", resp.Answer, gen.Calls())
	}
}

func TestSynthesizer_Answer(t *testing.T) {
	gen := generation.NewMockGenerator("The model reaches 95% accuracy [1].")
	s := newTestSynthesizer(gen)

	hits := []*models.RetrievedChunk{
		hit("p_1", "c00004", "the model reaches 95% accuracy on the benchmark", 0.91),
		hit("p_2", "c00000", "related work reports lower numbers", 0.40),
		hit("p_1", "c00001", "training took four days on eight gpus", 0.12), // below threshold
	}
	resp, err := s.Answer(context.Background(), "what accuracy does the model reach?", hits)
	if err != nil {
		t.Fatalf("Answer failed: %v", err)
	}
	if resp.Answer != "The model reaches 95% accuracy [1]." {
		t.Errorf("answer = %q", resp.Answer)
	}
	if len(resp.Citations) != 2 {
		t.Fatalf("expected 2 citations, got %d", len(resp.Citations))
	}
	for i, c := range resp.Citations {
		if c.Rank != i+1 {
			t.Errorf("citation %d has rank %d", i, c.Rank)
		}
	}
	if resp.Citations[0].ChunkID != "c00004" || resp.Citations[1].ChunkID != "c00000" {
		t.Errorf("citations out of rank order: %+v", resp.Citations)
	}
	if gen.Calls() != 1 {
		t.Errorf("expected one generation call, got %d", gen.Calls())
	}
	if !strings.Contains(gen.LastPrompt, "[1]") || !strings.Contains(gen.LastPrompt, "accuracy") {
		t.Errorf("prompt missing numbered evidence: %q", gen.LastPrompt)
	}
	if strings.Contains(gen.LastPrompt, "four days") {
		t.Error("below-threshold chunk leaked into the prompt")
	}
}

func TestSynthesizer_RefusalKeepsCitations(t *testing.T) {
	gen := generation.NewMockGenerator(RefusalAnswer)
	s := newTestSynthesizer(gen)
	resp, err := s.Answer(context.Background(), "what is the capital of france?", []*models.RetrievedChunk{
		hit("p_1", "c00000", "the model reaches 95% accuracy", 0.30),
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Answer != RefusalAnswer {
		t.Errorf("answer = %q", resp.Answer)
	}
	if len(resp.Citations) != 1 {
		t.Errorf("refusal should keep the considered citations, got %d", len(resp.Citations))
	}
}

func TestSynthesizer_GenerationError(t *testing.T) {
	gen := generation.NewMockGenerator("")
	gen.Fail(errors.New("upstream exploded"))
	s := newTestSynthesizer(gen)
	_, err := s.Answer(context.Background(), "q", []*models.RetrievedChunk{
		hit("p_1", "c00000", "content", 0.9),
	})
	if !models.IsKind(err, models.KindGeneration) {
		t.Errorf("expected generation error kind, got %v", err)
	}
}

func TestSynthesizer_TimeoutKindPreserved(t *testing.T) {
	gen := generation.NewMockGenerator("")
	gen.Fail(models.Ef(models.KindGenerationTimeout, "deadline exceeded"))
	s := newTestSynthesizer(gen)
	_, err := s.Answer(context.Background(), "q", []*models.RetrievedChunk{
		hit("p_1", "c00000", "content", 0.9),
	})
	if !models.IsKind(err, models.KindGenerationTimeout) {
		t.Errorf("expected generation_timeout kind, got %v", err)
	}
}

func TestSynthesizer_EmptyCompletion(t *testing.T) {
	gen := generation.NewMockGenerator("   \n ")
	s := newTestSynthesizer(gen)
	_, err := s.Answer(context.Background(), "q", []*models.RetrievedChunk{
		hit("p_1", "c00000", "content", 0.9),
	})
	if !models.IsKind(err, models.KindGeneration) {
		t.Errorf("blank completion should be a generation error, got %v", err)
	}
}

func TestSynthesizer_DeduplicatesContainedChunks(t *testing.T) {
	gen := generation.NewMockGenerator("answer [1]")
	s := newTestSynthesizer(gen)
	hits := []*models.RetrievedChunk{
		hit("p_1", "c00000", "the quick brown fox jumps over the lazy dog", 0.9),
		hit("p_1", "c00001", "quick brown fox", 0.8), // contained in the chunk above
		hit("p_2", "c00000", "quick brown fox", 0.7), // different paper, kept
	}
	resp, err := s.Answer(context.Background(), "q", hits)
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Citations) != 2 {
		t.Fatalf("expected contained duplicate to be dropped, got %d citations", len(resp.Citations))
	}
	if resp.Citations[1].PaperID != "p_2" {
		t.Errorf("cross-paper duplicate should survive: %+v", resp.Citations[1])
	}
}

func TestSynthesizer_ChunkCap(t *testing.T) {
	gen := generation.NewMockGenerator("answer")
	s := NewSynthesizer(gen,
		&config.RetrievalConfig{MinScore: 0.25, SnippetLength: 160},
		&config.SynthesisConfig{MaxChunkChars: 50, MaxContextChars: 12000},
		time.Second,
	)
	long := strings.Repeat("abcde ", 100)
	resp, err := s.Answer(context.Background(), "q", []*models.RetrievedChunk{
		hit("p_1", "c00000", long, 0.9),
	})
	if err != nil {
		t.Fatal(err)
	}
	// The prompt carries the capped text; the citation keeps the full chunk.
	if strings.Contains(gen.LastPrompt, long) {
		t.Error("prompt should not contain the uncapped chunk")
	}
	if resp.Citations[0].Text != long {
		t.Error("citation text should be the full chunk content")
	}
}

func TestSynthesizer_TotalCapSkipsOversized(t *testing.T) {
	gen := generation.NewMockGenerator("answer")
	s := NewSynthesizer(gen,
		&config.RetrievalConfig{MinScore: 0.25, SnippetLength: 160},
		&config.SynthesisConfig{MaxChunkChars: 1200, MaxContextChars: 300},
		time.Second,
	)
	hits := []*models.RetrievedChunk{
		hit("p_1", "c00000", strings.Repeat("x", 200), 0.9),
		hit("p_2", "c00000", strings.Repeat("y", 200), 0.8), // would blow the window
		hit("p_3", "c00000", "short tail", 0.7),             // still fits
	}
	resp, err := s.Answer(context.Background(), "q", hits)
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Citations) != 2 {
		t.Fatalf("expected 2 citations after window packing, got %d", len(resp.Citations))
	}
	if resp.Citations[0].PaperID != "p_1" || resp.Citations[1].PaperID != "p_3" {
		t.Errorf("wrong chunks packed: %+v", resp.Citations)
	}
}

func TestSnippet(t *testing.T) {
	short := "short text"
	if got := Snippet(short, 160); got != short {
		t.Errorf("short text should pass through, got %q", got)
	}

	long := "First sentence here. Second sentence follows with more words. " +
		strings.Repeat("padding words continue onward ", 10)
	got := Snippet(long, 80)
	if len(got) > 80+len("…") {
		t.Errorf("snippet too long: %d bytes", len(got))
	}
	if !strings.HasSuffix(got, "…") {
		t.Errorf("truncated snippet should end with ellipsis: %q", got)
	}
	// Cuts back to a sentence boundary when one sits past half the limit.
	if !strings.HasSuffix(strings.TrimSuffix(got, "…"), ".") {
		t.Errorf("expected sentence-boundary cut: %q", got)
	}

	if a, b := Snippet(long, 80), Snippet(long, 80); a != b {
		t.Error("snippet must be deterministic")
	}
}

func TestSnippet_NoMidRuneCut(t *testing.T) {
	text := strings.Repeat("é", 100)
	got := Snippet(text, 63)
	trimmed := strings.TrimSuffix(got, "…")
	for _, r := range trimmed {
		if r != 'é' {
			t.Fatalf("rune split in snippet: %q", got)
		}
	}
}
