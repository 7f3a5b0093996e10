package vector

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/readmatrix/internal/models"
)

// MemoryStore is a brute-force cosine store held in memory and persisted to a single file.
// The dimension is fixed by the first upserted vector and reset by Clear.
type MemoryStore struct {
	path    string
	logger  *zap.Logger
	mu      sync.RWMutex
	dim     int
	records []Record
	byID    map[string]int
	dirty   bool
}

// Option configures a MemoryStore.
type Option func(*MemoryStore)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *MemoryStore) {
		m.logger = l
	}
}

// NewMemoryStore creates a store persisted at path and loads any existing contents.
// An empty path keeps the store in memory only.
func NewMemoryStore(path string, opts ...Option) (*MemoryStore, error) {
	m := &MemoryStore{path: path, byID: make(map[string]int)}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

// Upsert inserts or replaces records by ID.
func (m *MemoryStore) Upsert(ctx context.Context, records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		if len(r.Vector) == 0 {
			return fmt.Errorf("record %s has no vector", r.ID)
		}
		if m.dim == 0 {
			m.dim = len(r.Vector)
		}
		if len(r.Vector) != m.dim {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(r.Vector), m.dim)
		}
		rec := Record{
			ID:       r.ID,
			Vector:   append([]float32(nil), r.Vector...),
			Content:  r.Content,
			Metadata: copyMeta(r.Metadata),
		}
		if i, ok := m.byID[r.ID]; ok {
			m.records[i] = rec
		} else {
			m.byID[r.ID] = len(m.records)
			m.records = append(m.records, rec)
		}
	}
	if len(records) > 0 {
		m.dirty = true
	}
	return nil
}

// Query returns the k nearest records matching filter by cosine distance.
func (m *MemoryStore) Query(ctx context.Context, vec []float32, k int, filter Filter) ([]Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if k <= 0 || len(m.records) == 0 {
		return nil, nil
	}
	if len(vec) != m.dim {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(vec), m.dim)
	}
	hits := make([]Hit, 0, len(m.records))
	for _, r := range m.records {
		if !filter.Match(r.Metadata) {
			continue
		}
		hits = append(hits, Hit{Record: r, Distance: CosineDistance(vec, r.Vector)})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

// Get returns records matching filter in insertion order.
func (m *MemoryStore) Get(ctx context.Context, filter Filter, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Record
	for _, r := range m.records {
		if !filter.Match(r.Metadata) {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Delete removes matching records. An empty filter is rejected; use Clear instead.
func (m *MemoryStore) Delete(ctx context.Context, filter Filter) (int, error) {
	if filter.IsEmpty() {
		return 0, fmt.Errorf("delete requires a filter: %w", models.ErrInvalidInput)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := make([]Record, 0, len(m.records))
	removed := 0
	for _, r := range m.records {
		if filter.Match(r.Metadata) {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	if removed == 0 {
		return 0, nil
	}
	m.records = kept
	m.reindex()
	m.dirty = true
	return removed, nil
}

// Count returns the number of stored records.
func (m *MemoryStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Clear removes every record and resets the dimension.
func (m *MemoryStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = nil
	m.byID = make(map[string]int)
	m.dim = 0
	m.dirty = true
	return nil
}

// BookIDs returns the distinct book ids present in the store.
func (m *MemoryStore) BookIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, r := range m.records {
		if id := r.Metadata[models.MetaBookID]; id != "" {
			seen[id] = struct{}{}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close saves pending changes.
func (m *MemoryStore) Close() error {
	return m.Save()
}

func (m *MemoryStore) reindex() {
	m.byID = make(map[string]int, len(m.records))
	for i, r := range m.records {
		m.byID[r.ID] = i
	}
}

func copyMeta(meta map[string]string) map[string]string {
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}

// Save persists the store to its path when it has unsaved changes. The file is written to a
// temporary sibling and renamed into place.
//
// Format (little-endian): dimension (4), n (4), then per record: idLen (4), id,
// vector (dimension*4), contentLen (4), content, metaLen (4), metadata JSON.
func (m *MemoryStore) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.path == "" || !m.dirty {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return fmt.Errorf("create vector dir: %w", err)
	}
	tmp := m.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create vector file: %w", err)
	}
	if err := m.write(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close vector file: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return fmt.Errorf("replace vector file: %w", err)
	}
	m.dirty = false
	if m.logger != nil {
		m.logger.Debug("vector store saved", zap.String("path", m.path), zap.Int("records", len(m.records)))
	}
	return nil
}

func (m *MemoryStore) write(f io.Writer) error {
	w := bufio.NewWriter(f)
	if err := binary.Write(w, binary.LittleEndian, uint32(m.dim)); err != nil {
		return fmt.Errorf("write dimensions: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(m.records))); err != nil {
		return fmt.Errorf("write count: %w", err)
	}
	for _, r := range m.records {
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		if err := writeBytes(w, []byte(r.ID)); err != nil {
			return fmt.Errorf("write id: %w", err)
		}
		if _, err := w.Write(float32SliceToBytes(r.Vector)); err != nil {
			return fmt.Errorf("write vector: %w", err)
		}
		if err := writeBytes(w, []byte(r.Content)); err != nil {
			return fmt.Errorf("write content: %w", err)
		}
		if err := writeBytes(w, meta); err != nil {
			return fmt.Errorf("write metadata: %w", err)
		}
	}
	return w.Flush()
}

// load reads the store from its path. A missing file leaves the store empty.
func (m *MemoryStore) load() error {
	if m.path == "" {
		return nil
	}
	f, err := os.Open(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open vector file: %w", err)
	}
	defer f.Close()
	r := bufio.NewReader(f)

	var dim, n uint32
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return fmt.Errorf("read dimensions: %w: %w", models.ErrDataIntegrity, err)
	}
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return fmt.Errorf("read count: %w: %w", models.ErrDataIntegrity, err)
	}
	records := make([]Record, 0, n)
	buf := make([]byte, int(dim)*4)
	for i := uint32(0); i < n; i++ {
		id, err := readBytes(r)
		if err != nil {
			return fmt.Errorf("read id: %w: %w", models.ErrDataIntegrity, err)
		}
		if _, err := io.ReadFull(r, buf); err != nil {
			return fmt.Errorf("read vector: %w: %w", models.ErrDataIntegrity, err)
		}
		content, err := readBytes(r)
		if err != nil {
			return fmt.Errorf("read content: %w: %w", models.ErrDataIntegrity, err)
		}
		metaJSON, err := readBytes(r)
		if err != nil {
			return fmt.Errorf("read metadata: %w: %w", models.ErrDataIntegrity, err)
		}
		meta := make(map[string]string)
		if err := json.Unmarshal(metaJSON, &meta); err != nil {
			return fmt.Errorf("decode metadata: %w: %w", models.ErrDataIntegrity, err)
		}
		records = append(records, Record{
			ID:       string(id),
			Vector:   bytesToFloat32Slice(buf),
			Content:  string(content),
			Metadata: meta,
		})
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.dim = int(dim)
	m.records = records
	m.reindex()
	if m.logger != nil {
		m.logger.Debug("vector store loaded", zap.String("path", m.path), zap.Int("records", len(records)))
	}
	return nil
}

func writeBytes(w io.Writer, b []byte) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readBytes(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
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
