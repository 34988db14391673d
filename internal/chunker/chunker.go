// Package chunker splits extracted page text into overlapping, size-bounded chunks
// with page and section provenance.
package chunker

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/evidenceworks/paperchat/internal/extract"
	"github.com/evidenceworks/paperchat/internal/models"
)

// Chunker splits text into overlapping character-based chunks, preferring
// paragraph and sentence boundaries over hard cuts.
type Chunker struct {
	chunkSize    int
	chunkOverlap int
}

// NewChunker creates a chunker with the given size and overlap (in characters).
func NewChunker(chunkSize, chunkOverlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = 0
	}
	return &Chunker{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
	}
}

// pageSpan maps a byte range of the joined document text back to a page number.
type pageSpan struct {
	start  int
	end    int
	number int
}

// heading is a detected section label anchored at a byte offset.
type heading struct {
	offset int
	label  string
}

// Chunk splits the pages into ordered chunks for paperID. Chunk IDs are stable
// across re-reads of the same pages ("c00000", "c00001", ...). Pages with no
// text contribute no chunks. Returns nil when no page has any text.
func (c *Chunker) Chunk(paperID string, pages []extract.Page) []*models.Chunk {
	doc, spans := joinPages(pages)
	if strings.TrimSpace(doc) == "" {
		return nil
	}
	headings := detectHeadings(doc)

	var chunks []*models.Chunk
	step := c.chunkSize - c.chunkOverlap
	start := 0
	for start < len(doc) {
		end := start + c.chunkSize
		if end > len(doc) {
			end = len(doc)
		} else {
			end = breakpoint(doc, start, end, c.chunkSize)
		}

		trimStart, trimEnd := trimSpan(doc, start, end)
		if trimStart < trimEnd {
			pageStart, pageEnd := pageRange(spans, trimStart, trimEnd)
			chunk := &models.Chunk{
				ID:        fmt.Sprintf("c%05d", len(chunks)),
				PaperID:   paperID,
				Index:     len(chunks),
				Content:   doc[trimStart:trimEnd],
				PageStart: pageStart,
				PageEnd:   pageEnd,
				Section:   sectionAt(headings, trimStart),
			}
			chunks = append(chunks, chunk)
		}

		if end >= len(doc) {
			break
		}
		next := end - c.chunkOverlap
		if next <= start {
			next = start + step
		}
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return chunks
}

// joinPages concatenates page texts with newline separators and records the
// byte span each page occupies in the joined string.
func joinPages(pages []extract.Page) (string, []pageSpan) {
	var b strings.Builder
	spans := make([]pageSpan, 0, len(pages))
	for _, p := range pages {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		start := b.Len()
		b.WriteString(p.Text)
		spans = append(spans, pageSpan{start: start, end: b.Len(), number: p.Number})
	}
	return b.String(), spans
}

// breakpoint returns the best split position in (start, limit], preferring a
// paragraph break, then a sentence end, then a space, scanning no further back
// than half a chunk. Falls back to a rune-aligned hard cut at limit.
func breakpoint(doc string, start, limit, chunkSize int) int {
	floor := start + chunkSize/2
	if floor < start {
		floor = start
	}
	if i := strings.LastIndex(doc[floor:limit], "\n\n"); i >= 0 {
		return floor + i + 2
	}
	for i := limit - 1; i > floor; i-- {
		switch doc[i] {
		case '.', '!', '?', '\n':
			return i + 1
		}
	}
	for i := limit - 1; i > floor; i-- {
		if doc[i] == ' ' {
			return i + 1
		}
	}
	for limit > start && limit < len(doc) && !utf8.RuneStart(doc[limit]) {
		limit--
	}
	return limit
}

// trimSpan shrinks [start, end) past leading and trailing whitespace so the
// chunk content is trimmed while its page provenance stays exact.
func trimSpan(doc string, start, end int) (int, int) {
	for start < end && isSpace(doc[start]) {
		start++
	}
	for end > start && isSpace(doc[end-1]) {
		end--
	}
	return start, end
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\n' || b == '\t' || b == '\r' || b == '\f' || b == '\v'
}

// pageRange returns the inclusive 1-indexed page numbers spanned by [start, end).
// A chunk crossing a page break reports pageStart < pageEnd.
func pageRange(spans []pageSpan, start, end int) (int, int) {
	pageStart, pageEnd := 0, 0
	for _, s := range spans {
		if s.start >= s.end {
			continue
		}
		if start < s.end && end > s.start {
			if pageStart == 0 {
				pageStart = s.number
			}
			pageEnd = s.number
		}
	}
	return pageStart, pageEnd
}

var numberedHeadingRe = regexp.MustCompile(`^\d+(\.\d+)*\.?\s+[A-Z][A-Za-z]`)

var namedHeadings = map[string]bool{
	"abstract":        true,
	"introduction":    true,
	"background":      true,
	"related work":    true,
	"method":          true,
	"methods":         true,
	"methodology":     true,
	"approach":        true,
	"experiments":     true,
	"evaluation":      true,
	"results":         true,
	"discussion":      true,
	"conclusion":      true,
	"conclusions":     true,
	"references":      true,
	"acknowledgments": true,
	"appendix":        true,
}

// detectHeadings scans the document line by line for section headings:
// short lines that are either well-known section names or numbered titles
// ("3.2 Evaluation"). Best-effort; papers without detectable headings simply
// get chunks with empty section labels.
func detectHeadings(doc string) []heading {
	var headings []heading
	offset := 0
	for _, line := range strings.Split(doc, "\n") {
		trimmed := strings.TrimSpace(line)
		if label, ok := headingLabel(trimmed); ok {
			headings = append(headings, heading{offset: offset, label: label})
		}
		offset += len(line) + 1
	}
	return headings
}

func headingLabel(line string) (string, bool) {
	if line == "" || len(line) > 80 || strings.HasSuffix(line, ".") {
		return "", false
	}
	if namedHeadings[strings.ToLower(line)] {
		return line, true
	}
	if numberedHeadingRe.MatchString(line) {
		// Strip the numeric prefix, keep the title.
		if i := strings.IndexFunc(line, func(r rune) bool { return r >= 'A' && r <= 'Z' }); i > 0 {
			return line[i:], true
		}
		return line, true
	}
	return "", false
}

// sectionAt returns the label of the closest heading at or before offset.
func sectionAt(headings []heading, offset int) string {
	label := ""
	for _, h := range headings {
		if h.offset > offset {
			break
		}
		label = h.label
	}
	return label
}
