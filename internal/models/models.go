// Package models defines core data structures for papers, chunks, citations, and chat.
package models

import "time"

// PaperStatus is the ingestion state of a paper.
type PaperStatus string

const (
	StatusProcessing PaperStatus = "processing"
	StatusIndexed    PaperStatus = "indexed"
	StatusFailed     PaperStatus = "failed"
)

// Valid reports whether s is a known status value.
func (s PaperStatus) Valid() bool {
	switch s {
	case StatusProcessing, StatusIndexed, StatusFailed:
		return true
	}
	return false
}

// CanTransitionTo reports whether the status machine allows moving from s to next.
// The only legal transitions are processing -> indexed and processing -> failed.
// A failed paper is never resurrected; re-ingestion registers a fresh paper.
func (s PaperStatus) CanTransitionTo(next PaperStatus) bool {
	return s == StatusProcessing && (next == StatusIndexed || next == StatusFailed)
}

// Paper represents an uploaded document tracked by the registry.
type Paper struct {
	ID        string      `json:"paperId" db:"id"`
	Title     string      `json:"title" db:"title"`
	Status    PaperStatus `json:"status" db:"status"`
	UploadKey string      `json:"-" db:"upload_key"`
	CreatedAt time.Time   `json:"-" db:"created_at"`
	UpdatedAt time.Time   `json:"-" db:"updated_at"`
}

// Chunk is a bounded segment of a paper's text with provenance metadata.
// ID is stable within a paper across re-reads of the same version ("c00000",
// "c00001", ...). PageStart/PageEnd are 1-indexed and inclusive; zero means
// the page is unknown. Section is best-effort and may be empty.
type Chunk struct {
	ID        string    `json:"chunkId" db:"id"`
	PaperID   string    `json:"paperId" db:"paper_id"`
	Index     int       `json:"-" db:"chunk_index"`
	Content   string    `json:"text" db:"content"`
	PageStart int       `json:"pageStart,omitempty" db:"page_start"`
	PageEnd   int       `json:"pageEnd,omitempty" db:"page_end"`
	Section   string    `json:"section,omitempty" db:"section"`
	Embedding []float32 `json:"-" db:"-"`
	CreatedAt time.Time `json:"-" db:"created_at"`
}

// Key returns the chunk's globally unique index key (chunk IDs repeat across papers).
func (c *Chunk) Key() string {
	return c.PaperID + "/" + c.ID
}

// RetrievedChunk is a chunk paired with its similarity score and owning paper.
// Ephemeral: produced by the retriever, consumed by the synthesizer, never stored.
type RetrievedChunk struct {
	Chunk      *Chunk
	PaperTitle string
	Score      float64
}

// Citation points from an answer back to the chunk that supports it.
// Rank is 1-indexed and matches the bracket references in the answer text.
type Citation struct {
	Rank       int    `json:"rank"`
	PaperID    string `json:"paperId"`
	PaperTitle string `json:"paperTitle"`
	Section    string `json:"section,omitempty"`
	PageStart  int    `json:"pageStart,omitempty"`
	PageEnd    int    `json:"pageEnd,omitempty"`
	ChunkID    string `json:"chunkId"`
	Snippet    string `json:"snippet"`
	Text       string `json:"text"`
	PDFURL     string `json:"pdfUrl,omitempty"`
}

// PaperFilterAll is the sentinel value selecting every indexed paper.
const PaperFilterAll = "all"

// ChatRequest is a question scoped to one paper or to all indexed papers.
type ChatRequest struct {
	Question    string `json:"question"`
	PaperFilter string `json:"paperFilter"`
}

// ChatResponse is the answer plus the evidence it was constructed from.
type ChatResponse struct {
	Answer    string     `json:"answer"`
	Citations []Citation `json:"citations"`
}

// IngestRequest references a previously uploaded PDF by its upload key.
type IngestRequest struct {
	UploadKey string `json:"uploadKey"`
}

// IngestResponse acknowledges an accepted ingestion with the new paper's ID.
type IngestResponse struct {
	PaperID string `json:"paperId"`
}

// UploadURLRequest asks for an upload target for the named file.
type UploadURLRequest struct {
	Filename string `json:"filename"`
}

// UploadURLResponse carries a presigned-style PUT target and its key.
type UploadURLResponse struct {
	UploadURL string `json:"uploadUrl"`
	UploadKey string `json:"uploadKey"`
}
