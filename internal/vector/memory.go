package vector

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/evidenceworks/paperchat/internal/models"
)

// File format identifiers for the persisted index. The version is bumped
// whenever the layout changes so stale files fail loudly instead of decoding
// into garbage distances.
const (
	fileMagic   = 0x50435658 // "PCVX"
	fileVersion = 1
)

// MemoryIndex is an in-memory brute-force vector index. Entries keep their
// insertion position even when re-added, which gives Query a deterministic,
// insertion-ordered tie-break for equal scores.
type MemoryIndex struct {
	dimensions int
	entries    []Entry
	byKey      map[string]int
	mu         sync.RWMutex
}

// NewMemoryIndex creates an in-memory vector index with the given dimension.
func NewMemoryIndex(dimensions int) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, models.Ef(models.KindConfig, "dimensions must be positive, got %d", dimensions)
	}
	return &MemoryIndex{
		dimensions: dimensions,
		byKey:      make(map[string]int),
	}, nil
}

// Add inserts or replaces the entry for its chunk key.
func (m *MemoryIndex) Add(ctx context.Context, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addLocked(entry)
}

// AddBatch inserts or replaces all entries under a single lock acquisition.
func (m *MemoryIndex) AddBatch(ctx context.Context, entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		if err := m.addLocked(e); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryIndex) addLocked(entry Entry) error {
	if len(entry.Vector) != m.dimensions {
		return models.Ef(models.KindConfig,
			"vector dimension mismatch: got %d, expected %d", len(entry.Vector), m.dimensions)
	}
	if entry.ChunkKey == "" {
		return fmt.Errorf("empty chunk key")
	}
	vec := make([]float32, m.dimensions)
	copy(vec, entry.Vector)
	stored := Entry{ChunkKey: entry.ChunkKey, PaperID: entry.PaperID, Vector: vec}
	if pos, ok := m.byKey[entry.ChunkKey]; ok {
		m.entries[pos] = stored
		return nil
	}
	m.byKey[entry.ChunkKey] = len(m.entries)
	m.entries = append(m.entries, stored)
	return nil
}

// Query returns the top-k entries by inner product, restricted to entries whose
// paper passes the filter (nil filter admits all). Equal scores rank by
// insertion order. k is clamped to the candidate count; k <= 0 returns nil.
func (m *MemoryIndex) Query(ctx context.Context, query []float32, k int, filter func(paperID string) bool) ([]*Match, error) {
	if len(query) != m.dimensions {
		return nil, models.Ef(models.KindConfig,
			"query dimension mismatch: got %d, expected %d", len(query), m.dimensions)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if k <= 0 || len(m.entries) == 0 {
		return nil, nil
	}
	matches := make([]*Match, 0, len(m.entries))
	for _, e := range m.entries {
		if filter != nil && !filter(e.PaperID) {
			continue
		}
		matches = append(matches, &Match{
			ChunkKey: e.ChunkKey,
			PaperID:  e.PaperID,
			Score:    InnerProduct(query, e.Vector),
		})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if k > len(matches) {
		k = len(matches)
	}
	return matches[:k], nil
}

// RemovePaper removes every entry belonging to paperID.
func (m *MemoryIndex) RemovePaper(ctx context.Context, paperID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		if e.PaperID != paperID {
			kept = append(kept, e)
		}
	}
	if len(kept) == len(m.entries) {
		return nil
	}
	m.entries = kept
	m.byKey = make(map[string]int, len(kept))
	for i, e := range kept {
		m.byKey[e.ChunkKey] = i
	}
	return nil
}

// Save persists the index to path. Directory is created if needed.
// Layout: magic (4), version (4), dimensions (4), count (4), then per entry:
// chunkKeyLen (4), chunkKey, paperIDLen (4), paperID, vector (dimensions*4).
func (m *MemoryIndex) Save(path string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	defer f.Close()
	header := []uint32{fileMagic, fileVersion, uint32(m.dimensions), uint32(len(m.entries))}
	for _, v := range header {
		if err := binary.Write(f, binary.LittleEndian, v); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	for _, e := range m.entries {
		if err := writeString(f, e.ChunkKey); err != nil {
			return fmt.Errorf("write chunk key: %w", err)
		}
		if err := writeString(f, e.PaperID); err != nil {
			return fmt.Errorf("write paper id: %w", err)
		}
		if _, err := f.Write(float32SliceToBytes(e.Vector)); err != nil {
			return fmt.Errorf("write vector: %w", err)
		}
	}
	return nil
}

// Load reads the index from path and replaces the in-memory contents.
// A missing file is not an error (fresh start). A magic, version, or dimension
// mismatch fails with a configuration error instead of decoding wrong distances.
func (m *MemoryIndex) Load(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()
	var magic, version, dim, n uint32
	for _, p := range []*uint32{&magic, &version, &dim, &n} {
		if err := binary.Read(f, binary.LittleEndian, p); err != nil {
			return fmt.Errorf("read header: %w", err)
		}
	}
	if magic != fileMagic {
		return models.Ef(models.KindConfig, "not a vector index file: %s", path)
	}
	if version != fileVersion {
		return models.Ef(models.KindConfig,
			"vector index version mismatch: file has %d, expected %d", version, fileVersion)
	}
	if int(dim) != m.dimensions {
		return models.Ef(models.KindConfig,
			"vector index dimension mismatch: file has %d, index expects %d (embedding config changed?)", dim, m.dimensions)
	}
	entries := make([]Entry, 0, n)
	byKey := make(map[string]int, n)
	buf := make([]byte, m.dimensions*4)
	for i := uint32(0); i < n; i++ {
		chunkKey, err := readString(f)
		if err != nil {
			return fmt.Errorf("read chunk key: %w", err)
		}
		paperID, err := readString(f)
		if err != nil {
			return fmt.Errorf("read paper id: %w", err)
		}
		if _, err := io.ReadFull(f, buf); err != nil {
			return fmt.Errorf("read vector: %w", err)
		}
		byKey[chunkKey] = len(entries)
		entries = append(entries, Entry{
			ChunkKey: chunkKey,
			PaperID:  paperID,
			Vector:   bytesToFloat32Slice(buf),
		})
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = entries
	m.byKey = byKey
	return nil
}

// Size returns the number of vectors in the index.
func (m *MemoryIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Close is a no-op for MemoryIndex.
func (m *MemoryIndex) Close() error {
	return nil
}

func writeString(f *os.File, s string) error {
	if err := binary.Write(f, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := f.Write([]byte(s))
	return err
}

func readString(f *os.File) (string, error) {
	var n uint32
	if err := binary.Read(f, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(f, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
