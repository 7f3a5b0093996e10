// Package vector provides the chunk vector store used for semantic recall.
package vector

import (
	"context"
	"strings"
)

// Record is one stored chunk: its embedding, text, and flat metadata.
type Record struct {
	ID       string
	Vector   []float32
	Content  string
	Metadata map[string]string
}

// Hit is a query result with its cosine distance (1 - cosine similarity, lower is closer).
type Hit struct {
	Record
	Distance float64
}

// Filter restricts records by metadata. Equals requires exact matches; Contains requires
// substring matches. An empty filter matches everything.
type Filter struct {
	Equals   map[string]string
	Contains map[string]string
}

// Match reports whether meta satisfies every condition of f.
func (f Filter) Match(meta map[string]string) bool {
	for k, v := range f.Equals {
		if meta[k] != v {
			return false
		}
	}
	for k, v := range f.Contains {
		if !strings.Contains(meta[k], v) {
			return false
		}
	}
	return true
}

// IsEmpty reports whether f has no conditions.
func (f Filter) IsEmpty() bool {
	return len(f.Equals) == 0 && len(f.Contains) == 0
}

// Equal returns a filter matching key == value.
func Equal(key, value string) Filter {
	return Filter{Equals: map[string]string{key: value}}
}

// Store defines chunk vector storage and similarity search.
type Store interface {
	// Upsert inserts records or replaces those with the same ID.
	Upsert(ctx context.Context, records []Record) error
	// Query returns up to k records matching filter, nearest first.
	Query(ctx context.Context, vec []float32, k int, filter Filter) ([]Hit, error)
	// Get returns up to limit records matching filter in insertion order; limit <= 0 means all.
	Get(ctx context.Context, filter Filter, limit int) ([]Record, error)
	// Delete removes records matching filter and returns how many were removed.
	Delete(ctx context.Context, filter Filter) (int, error)
	Count() int
	Clear(ctx context.Context) error
	// BookIDs returns the distinct non-empty book ids, sorted.
	BookIDs() []string
	Save() error
	Close() error
}
