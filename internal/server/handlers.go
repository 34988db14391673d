package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/evidenceworks/paperchat/internal/models"
)

// paperListItem is the listing shape exposed upward: id, title, status.
type paperListItem struct {
	PaperID string             `json:"paperId"`
	Title   string             `json:"title"`
	Status  models.PaperStatus `json:"status"`
}

func (s *Server) handleListPapers(w http.ResponseWriter, r *http.Request) {
	papers, err := s.storage.ListPapers(r.Context())
	if err != nil {
		s.logger.Error("list papers failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	items := make([]paperListItem, 0, len(papers))
	for _, p := range papers {
		items = append(items, paperListItem{PaperID: p.ID, Title: p.Title, Status: p.Status})
	}
	s.respondJSON(w, http.StatusOK, items)
}

func (s *Server) handleUploadURL(w http.ResponseWriter, r *http.Request) {
	var req models.UploadURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Filename == "" {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	key := fmt.Sprintf("%d_%s_%s",
		time.Now().Unix(),
		strings.ReplaceAll(uuid.New().String(), "-", "")[:8],
		sanitizeFilename(req.Filename),
	)
	s.respondJSON(w, http.StatusOK, models.UploadURLResponse{
		UploadURL: fmt.Sprintf("http://%s:%d/upload?key=%s", s.config.Server.Host, s.config.Server.Port, key),
		UploadKey: key,
	})
}

// handleUpload receives raw PDF bytes, like a presigned PUT target.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" || key != sanitizeFilename(key) {
		s.respondError(w, http.StatusBadRequest, "missing or invalid key")
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil || len(body) == 0 {
		s.respondError(w, http.StatusBadRequest, "empty body")
		return
	}
	if err := os.MkdirAll(s.config.Storage.UploadDir, 0755); err != nil {
		s.logger.Error("create upload dir failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	path := filepath.Join(s.config.Storage.UploadDir, key)
	if err := os.WriteFile(path, body, 0644); err != nil {
		s.logger.Error("write upload failed", zap.String("path", path), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"uploadKey": key})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req models.IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UploadKey == "" {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, err := os.Stat(filepath.Join(s.config.Storage.UploadDir, req.UploadKey)); err != nil {
		s.respondError(w, http.StatusNotFound, "upload not found: "+req.UploadKey)
		return
	}
	task, err := s.pipeline.IngestAsync(r.Context(), req.UploadKey)
	if err != nil {
		s.logger.Error("ingest registration failed", zap.String("upload_key", req.UploadKey), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("ingestion accepted",
		zap.String("paper_id", task.PaperID()),
		zap.String("upload_key", req.UploadKey),
	)
	s.respondJSON(w, http.StatusAccepted, models.IngestResponse{PaperID: task.PaperID()})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Question) == "" {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PaperFilter == "" {
		req.PaperFilter = models.PaperFilterAll
	}
	s.logger.Debug("chat request",
		zap.String("question", req.Question),
		zap.String("paper_filter", req.PaperFilter),
	)

	hits, err := s.retriever.Retrieve(r.Context(), req.Question, req.PaperFilter, s.config.Retrieval.TopK)
	if err != nil {
		s.logger.Error("retrieval failed", zap.Error(err))
		s.respondError(w, statusForKind(models.KindOf(err)), err.Error())
		return
	}
	resp, err := s.synthesizer.Answer(r.Context(), req.Question, hits)
	if err != nil {
		s.logger.Error("synthesis failed", zap.Error(err))
		s.respondError(w, statusForKind(models.KindOf(err)), err.Error())
		return
	}
	for i := range resp.Citations {
		resp.Citations[i].PDFURL = "/papers/" + resp.Citations[i].PaperID + "/pdf"
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePaperPDF(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	paper, err := s.storage.GetPaper(r.Context(), id)
	if err != nil {
		s.respondError(w, http.StatusNotFound, "paper not found")
		return
	}
	if paper.UploadKey == "" {
		s.respondError(w, http.StatusNotFound, "paper has no stored PDF")
		return
	}
	path := filepath.Join(s.config.Storage.UploadDir, paper.UploadKey)
	if _, err := os.Stat(path); err != nil {
		s.respondError(w, http.StatusNotFound, "PDF file missing on disk")
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", paper.Title+".pdf"))
	http.ServeFile(w, r, path)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	paperCount, err := s.storage.CountPapers(ctx)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	chunkCount, err := s.storage.CountChunks(ctx)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"papers":            paperCount,
		"chunks":            chunkCount,
		"vector_index_size": s.index.Size(),
		"config": map[string]interface{}{
			"embedding_model":      s.config.Embedding.Model,
			"embedding_dimensions": s.config.Embedding.Dimensions,
			"generation_model":     s.config.Generation.Model,
			"chunk_size":           s.config.Chunking.ChunkSize,
			"chunk_overlap":        s.config.Chunking.ChunkOverlap,
			"top_k":                s.config.Retrieval.TopK,
			"min_score":            s.config.Retrieval.MinScore,
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusForKind maps error kinds to HTTP status codes. Infrastructure failures
// are explicit errors; abstention never reaches this path.
func statusForKind(kind models.ErrorKind) int {
	switch kind {
	case models.KindNotFound:
		return http.StatusNotFound
	case models.KindGenerationTimeout:
		return http.StatusGatewayTimeout
	case models.KindGeneration, models.KindEmbeddingProvider:
		return http.StatusBadGateway
	case models.KindConfig:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// sanitizeFilename keeps the base name and replaces characters outside a safe
// set, so upload keys cannot traverse directories.
func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return b.String()
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("encode response failed", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
