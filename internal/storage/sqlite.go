// Package storage provides the SQLite implementation of the Storage interface.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/evidenceworks/paperchat/internal/models"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS papers (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		status TEXT NOT NULL,
		upload_key TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_papers_created_at ON papers(created_at);
	CREATE INDEX IF NOT EXISTS idx_papers_status ON papers(status);

	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT NOT NULL,
		paper_id TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		content TEXT NOT NULL,
		page_start INTEGER NOT NULL DEFAULT 0,
		page_end INTEGER NOT NULL DEFAULT 0,
		section TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (paper_id, id),
		FOREIGN KEY (paper_id) REFERENCES papers(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_paper_index ON chunks(paper_id, chunk_index);
	`
	_, err := db.Exec(schema)
	return err
}

// CreatePaper inserts a paper. The status must be a valid PaperStatus.
func (s *SQLiteStorage) CreatePaper(ctx context.Context, paper *models.Paper) error {
	if !paper.Status.Valid() {
		return fmt.Errorf("invalid paper status: %q", paper.Status)
	}
	now := time.Now()
	paper.CreatedAt = now
	paper.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO papers (id, title, status, upload_key, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		paper.ID, paper.Title, string(paper.Status), paper.UploadKey, paper.CreatedAt, paper.UpdatedAt,
	)
	return err
}

// GetPaper returns a paper by ID.
func (s *SQLiteStorage) GetPaper(ctx context.Context, id string) (*models.Paper, error) {
	var paper models.Paper
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, status, upload_key, created_at, updated_at
		 FROM papers WHERE id = ?`, id,
	).Scan(&paper.ID, &paper.Title, &status, &paper.UploadKey, &paper.CreatedAt, &paper.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, models.Ef(models.KindNotFound, "paper not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	paper.Status = models.PaperStatus(status)
	return &paper, nil
}

// SetPaperStatus updates a paper's status, enforcing the transition rules:
// only processing -> indexed and processing -> failed are allowed.
func (s *SQLiteStorage) SetPaperStatus(ctx context.Context, id string, status models.PaperStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid paper status: %q", status)
	}
	paper, err := s.GetPaper(ctx, id)
	if err != nil {
		return err
	}
	if !paper.Status.CanTransitionTo(status) {
		return fmt.Errorf("invalid status transition %s -> %s for paper %s", paper.Status, status, id)
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE papers SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(status), time.Now(), id, string(paper.Status),
	)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("status of paper %s changed concurrently", id)
	}
	return nil
}

// ListPapers returns all papers, newest first.
func (s *SQLiteStorage) ListPapers(ctx context.Context) ([]*models.Paper, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, status, upload_key, created_at, updated_at
		 FROM papers ORDER BY created_at DESC, id DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var papers []*models.Paper
	for rows.Next() {
		var paper models.Paper
		var status string
		if err := rows.Scan(&paper.ID, &paper.Title, &status, &paper.UploadKey, &paper.CreatedAt, &paper.UpdatedAt); err != nil {
			return nil, err
		}
		paper.Status = models.PaperStatus(status)
		papers = append(papers, &paper)
	}
	return papers, rows.Err()
}

// DeletePaper removes a paper; its chunks cascade.
func (s *SQLiteStorage) DeletePaper(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM papers WHERE id = ?`, id)
	return err
}

// BatchCreateChunks inserts chunks in a single transaction.
func (s *SQLiteStorage) BatchCreateChunks(ctx context.Context, chunks []*models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (id, paper_id, chunk_index, content, page_start, page_end, section, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for _, chunk := range chunks {
		chunk.CreatedAt = now
		if _, err := stmt.ExecContext(ctx,
			chunk.ID, chunk.PaperID, chunk.Index, chunk.Content,
			chunk.PageStart, chunk.PageEnd, chunk.Section, chunk.CreatedAt,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert chunk %s: %w", chunk.ID, err)
		}
	}
	return tx.Commit()
}

// GetChunk returns a chunk by its owning paper and chunk ID.
func (s *SQLiteStorage) GetChunk(ctx context.Context, paperID, chunkID string) (*models.Chunk, error) {
	var chunk models.Chunk
	err := s.db.QueryRowContext(ctx,
		`SELECT id, paper_id, chunk_index, content, page_start, page_end, section, created_at
		 FROM chunks WHERE paper_id = ? AND id = ?`, paperID, chunkID,
	).Scan(&chunk.ID, &chunk.PaperID, &chunk.Index, &chunk.Content,
		&chunk.PageStart, &chunk.PageEnd, &chunk.Section, &chunk.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, models.Ef(models.KindNotFound, "chunk not found: %s/%s", paperID, chunkID)
	}
	if err != nil {
		return nil, err
	}
	return &chunk, nil
}

// GetChunksByPaperID returns all chunks for a paper ordered by chunk index.
func (s *SQLiteStorage) GetChunksByPaperID(ctx context.Context, paperID string) ([]*models.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, paper_id, chunk_index, content, page_start, page_end, section, created_at
		 FROM chunks WHERE paper_id = ? ORDER BY chunk_index`, paperID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []*models.Chunk
	for rows.Next() {
		var chunk models.Chunk
		if err := rows.Scan(&chunk.ID, &chunk.PaperID, &chunk.Index, &chunk.Content,
			&chunk.PageStart, &chunk.PageEnd, &chunk.Section, &chunk.CreatedAt); err != nil {
			return nil, err
		}
		chunks = append(chunks, &chunk)
	}
	return chunks, rows.Err()
}

// DeleteChunksByPaperID removes all chunks for a paper.
func (s *SQLiteStorage) DeleteChunksByPaperID(ctx context.Context, paperID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE paper_id = ?`, paperID)
	return err
}

// CountPapers returns the number of registered papers.
func (s *SQLiteStorage) CountPapers(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM papers`).Scan(&n)
	return n, err
}

// CountChunks returns the number of stored chunks.
func (s *SQLiteStorage) CountChunks(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n)
	return n, err
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
