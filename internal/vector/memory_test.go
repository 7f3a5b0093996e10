package vector

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/hyperjump/readmatrix/internal/models"
)

func record(id, path, book string, vec ...float32) Record {
	return Record{
		ID:      id,
		Vector:  vec,
		Content: "content " + id,
		Metadata: map[string]string{
			models.MetaSourcePath: path,
			models.MetaBookID:     book,
			models.MetaBookTitle:  "书名 " + book,
			models.MetaBlockID:    id,
		},
	}
}

func seed(t *testing.T, m *MemoryStore) {
	t.Helper()
	err := m.Upsert(context.Background(), []Record{
		record("a", "/v/one.md", "b1", 1, 0, 0),
		record("b", "/v/one.md", "b1", 0.9, 0.1, 0),
		record("c", "/v/two.md", "b2", 0, 1, 0),
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestMemoryStore_UpsertQuery(t *testing.T) {
	m, err := NewMemoryStore("")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	seed(t, m)
	if m.Count() != 3 {
		t.Errorf("Count=%d", m.Count())
	}

	hits, err := m.Query(ctx, []float32{1, 0, 0}, 2, Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].ID != "a" || hits[1].ID != "b" {
		t.Errorf("unexpected order: %s, %s", hits[0].ID, hits[1].ID)
	}
	if math.Abs(hits[0].Distance) > 1e-6 {
		t.Errorf("identical vector should have distance 0, got %f", hits[0].Distance)
	}
	if hits[1].Distance <= hits[0].Distance {
		t.Error("distances should be ascending")
	}
}

func TestMemoryStore_UpsertReplaces(t *testing.T) {
	m, _ := NewMemoryStore("")
	ctx := context.Background()
	seed(t, m)
	r := record("a", "/v/one.md", "b1", 0, 0, 1)
	r.Content = "updated"
	if err := m.Upsert(ctx, []Record{r}); err != nil {
		t.Fatal(err)
	}
	if m.Count() != 3 {
		t.Errorf("upsert of existing id should not grow the store, Count=%d", m.Count())
	}
	got, _ := m.Get(ctx, Equal(models.MetaBlockID, "a"), 0)
	if len(got) != 1 || got[0].Content != "updated" {
		t.Errorf("record not replaced: %+v", got)
	}
}

func TestMemoryStore_DimensionMismatch(t *testing.T) {
	m, _ := NewMemoryStore("")
	seed(t, m)
	if err := m.Upsert(context.Background(), []Record{record("d", "/v/x.md", "b3", 1, 0)}); err == nil {
		t.Error("expected dimension mismatch on upsert")
	}
	if _, err := m.Query(context.Background(), []float32{1, 0}, 1, Filter{}); err == nil {
		t.Error("expected dimension mismatch on query")
	}
}

func TestMemoryStore_Filters(t *testing.T) {
	m, _ := NewMemoryStore("")
	ctx := context.Background()
	seed(t, m)

	hits, err := m.Query(ctx, []float32{1, 0, 0}, 10, Equal(models.MetaBookID, "b2"))
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].ID != "c" {
		t.Errorf("equality filter: %+v", hits)
	}

	hits, _ = m.Query(ctx, []float32{1, 0, 0}, 10, Filter{Contains: map[string]string{models.MetaBookTitle: "b1"}})
	if len(hits) != 2 {
		t.Errorf("substring filter should match 2, got %d", len(hits))
	}

	recs, _ := m.Get(ctx, Equal(models.MetaSourcePath, "/v/one.md"), 1)
	if len(recs) != 1 || recs[0].ID != "a" {
		t.Errorf("Get limit/order: %+v", recs)
	}
}

func TestMemoryStore_DeleteAndBookIDs(t *testing.T) {
	m, _ := NewMemoryStore("")
	ctx := context.Background()
	seed(t, m)

	if ids := m.BookIDs(); len(ids) != 2 || ids[0] != "b1" || ids[1] != "b2" {
		t.Errorf("BookIDs = %v", ids)
	}

	n, err := m.Delete(ctx, Equal(models.MetaSourcePath, "/v/one.md"))
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 || m.Count() != 1 {
		t.Errorf("deleted %d, left %d", n, m.Count())
	}
	if _, err := m.Delete(ctx, Filter{}); !errors.Is(err, models.ErrInvalidInput) {
		t.Errorf("empty filter delete should be rejected, got %v", err)
	}

	// Remaining record must still be addressable after reindexing.
	r := record("c", "/v/two.md", "b2", 0, 0, 1)
	if err := m.Upsert(ctx, []Record{r}); err != nil {
		t.Fatal(err)
	}
	if m.Count() != 1 {
		t.Errorf("Count=%d after re-upsert", m.Count())
	}

	if err := m.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if m.Count() != 0 {
		t.Errorf("Count=%d after clear", m.Count())
	}
	// Dimension resets on clear.
	if err := m.Upsert(ctx, []Record{record("z", "/v/z.md", "", 1, 1)}); err != nil {
		t.Errorf("upsert after clear: %v", err)
	}
}

func TestMemoryStore_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors", "store.bin")
	m, err := NewMemoryStore(path)
	if err != nil {
		t.Fatal(err)
	}
	seed(t, m)
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}

	loaded, err := NewMemoryStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Count() != 3 {
		t.Fatalf("Count=%d after load", loaded.Count())
	}
	recs, _ := loaded.Get(context.Background(), Equal(models.MetaBlockID, "b"), 0)
	if len(recs) != 1 || recs[0].Content != "content b" || recs[0].Metadata[models.MetaBookTitle] != "书名 b1" {
		t.Errorf("record not restored: %+v", recs)
	}
	if recs[0].Vector[0] != 0.9 {
		t.Errorf("vector not restored: %v", recs[0].Vector)
	}
}

func TestMemoryStore_LoadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.bin")
	if err := os.WriteFile(path, []byte{3, 0, 0, 0, 5, 0, 0, 0, 1}, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewMemoryStore(path); !errors.Is(err, models.ErrDataIntegrity) {
		t.Errorf("expected ErrDataIntegrity, got %v", err)
	}
}

func TestCosineDistance(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2}, []float32{2, 4}, 0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 1},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, 2},
		{"zero", []float32{0, 0}, []float32{1, 0}, 1},
		{"length mismatch", []float32{1, 0, 0}, []float32{1, 0}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CosineDistance(tt.a, tt.b); math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("CosineDistance() = %f, want %f", got, tt.want)
			}
		})
	}
}
