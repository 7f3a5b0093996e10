// Package keyword provides keyword search over note chunks.
package keyword

import (
	"context"

	"github.com/hyperjump/readmatrix/internal/models"
)

// SearchOptions optional parameters for keyword search. Nil means use defaults.
type SearchOptions struct {
	// TitleBoost multiplies the score contribution from matches in the book title and chapter.
	// Values > 1 make title matches rank higher. Use 1.0 for no boost.
	TitleBoost float64
	// BookID restricts results to one book.
	BookID string
}

// Index defines keyword indexing and search over chunks.
type Index interface {
	IndexChunks(ctx context.Context, chunks []models.Chunk) error
	// DeleteBySource removes every chunk from sourcePath and returns how many were removed.
	DeleteBySource(ctx context.Context, sourcePath string) (int, error)
	Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*Result, error)
	Clear(ctx context.Context) error
	// DocCount returns the total number of chunks in the index.
	DocCount() (uint64, error)
	Close() error
}

// Result is a single keyword search hit with the chunk rebuilt from stored fields.
type Result struct {
	ID    string
	Score float64
	Chunk models.Chunk
}
