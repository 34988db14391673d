package chunker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/evidenceworks/paperchat/internal/extract"
)

func TestChunker_Chunk(t *testing.T) {
	c := NewChunker(50, 10)
	text := "The quick brown fox jumps over the lazy dog. Pack my box with five dozen liquor jugs. " +
		"How vexingly quick daft zebras jump. The five boxing wizards jump quickly."
	chunks := c.Chunk("p1", []extract.Page{{Number: 1, Text: text}})
	if len(chunks) < 2 {
		t.Fatalf("expected at least 2 chunks, got %d", len(chunks))
	}
	for i, ch := range chunks {
		if ch.PaperID != "p1" {
			t.Errorf("chunk %d PaperID=%s", i, ch.PaperID)
		}
		if ch.Index != i {
			t.Errorf("chunk %d Index=%d", i, ch.Index)
		}
		if ch.ID != fmt.Sprintf("c%05d", i) {
			t.Errorf("chunk %d ID=%s", i, ch.ID)
		}
		if len(ch.Content) > 50 {
			t.Errorf("chunk %d exceeds max length: %d chars", i, len(ch.Content))
		}
		if ch.PageStart != 1 || ch.PageEnd != 1 {
			t.Errorf("chunk %d page range %d-%d, want 1-1", i, ch.PageStart, ch.PageEnd)
		}
	}
}

func TestChunker_Coverage(t *testing.T) {
	c := NewChunker(60, 15)
	sentences := []string{
		"Alpha beta gamma delta epsilon.",
		"Zeta eta theta iota kappa lambda.",
		"Mu nu xi omicron pi rho sigma.",
		"Tau upsilon phi chi psi omega done.",
	}
	text := strings.Join(sentences, " ")
	chunks := c.Chunk("p1", []extract.Page{{Number: 1, Text: text}})
	joined := ""
	for _, ch := range chunks {
		joined += " " + ch.Content
	}
	// Every word of the input must appear in some chunk: no gaps.
	for _, word := range strings.Fields(text) {
		if !strings.Contains(joined, word) {
			t.Errorf("word %q missing from chunk coverage", word)
		}
	}
}

func TestChunker_StableIDs(t *testing.T) {
	c := NewChunker(40, 8)
	pages := []extract.Page{{Number: 1, Text: "Some repeatable text. More repeatable text here. And a final sentence to split."}}
	first := c.Chunk("p1", pages)
	second := c.Chunk("p1", pages)
	if len(first) != len(second) {
		t.Fatalf("chunk counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID || first[i].Content != second[i].Content {
			t.Errorf("chunk %d not stable across re-reads", i)
		}
	}
}

func TestChunker_PageSpan(t *testing.T) {
	// A sentence runs across the page break, so one chunk must span both pages.
	c := NewChunker(80, 10)
	pages := []extract.Page{
		{Number: 1, Text: "This sentence starts on the first page and keeps"},
		{Number: 2, Text: "going on the second page before it finally ends."},
	}
	chunks := c.Chunk("p1", pages)
	if len(chunks) == 0 {
		t.Fatal("expected chunks")
	}
	spanning := false
	for _, ch := range chunks {
		if ch.PageStart > ch.PageEnd {
			t.Errorf("chunk %s pageStart %d > pageEnd %d", ch.ID, ch.PageStart, ch.PageEnd)
		}
		if ch.PageStart < 1 || ch.PageEnd > 2 {
			t.Errorf("chunk %s page range %d-%d outside document", ch.ID, ch.PageStart, ch.PageEnd)
		}
		if ch.PageStart == 1 && ch.PageEnd == 2 {
			spanning = true
		}
	}
	if !spanning {
		t.Error("expected a chunk spanning pages 1-2")
	}
}

func TestChunker_EmptyPages(t *testing.T) {
	c := NewChunker(100, 20)
	chunks := c.Chunk("p1", []extract.Page{
		{Number: 1, Text: "   \n\t  "},
		{Number: 2, Text: ""},
	})
	if chunks != nil {
		t.Errorf("empty pages should yield nil, got %d chunks", len(chunks))
	}
}

func TestChunker_EmptyPageSkipped(t *testing.T) {
	c := NewChunker(200, 20)
	chunks := c.Chunk("p1", []extract.Page{
		{Number: 1, Text: ""},
		{Number: 2, Text: "Only the second page has any text on it."},
	})
	if len(chunks) == 0 {
		t.Fatal("expected chunks from the non-empty page")
	}
	for _, ch := range chunks {
		if ch.PageStart != 2 || ch.PageEnd != 2 {
			t.Errorf("chunk %s page range %d-%d, want 2-2", ch.ID, ch.PageStart, ch.PageEnd)
		}
	}
}

func TestChunker_Sections(t *testing.T) {
	c := NewChunker(60, 10)
	text := "Introduction\nWe introduce the problem and its history here.\n" +
		"Results\nThe model achieves strong performance on all benchmarks."
	chunks := c.Chunk("p1", []extract.Page{{Number: 1, Text: text}})
	if len(chunks) < 2 {
		t.Fatalf("expected at least 2 chunks, got %d", len(chunks))
	}
	if chunks[0].Section != "Introduction" {
		t.Errorf("first chunk section=%q, want Introduction", chunks[0].Section)
	}
	last := chunks[len(chunks)-1]
	if last.Section != "Results" {
		t.Errorf("last chunk section=%q, want Results", last.Section)
	}
}

func TestHeadingLabel(t *testing.T) {
	cases := []struct {
		line string
		want string
		ok   bool
	}{
		{"Results", "Results", true},
		{"abstract", "abstract", true},
		{"3.2 Evaluation Setup", "Evaluation Setup", true},
		{"A plain sentence that ends with a period.", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := headingLabel(tc.line)
		if ok != tc.ok || got != tc.want {
			t.Errorf("headingLabel(%q) = %q, %v; want %q, %v", tc.line, got, ok, tc.want, tc.ok)
		}
	}
}
