package e2e

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/readmatrix/internal/indexer"
	"github.com/hyperjump/readmatrix/internal/models"
	"github.com/hyperjump/readmatrix/internal/vault"
)

// TestRenderBook_roundTripsThroughChunker checks that every rendered highlight and note
// becomes exactly one chunk.
func TestRenderBook_roundTripsThroughChunker(t *testing.T) {
	for _, b := range BuildCorpus().Books {
		t.Run(b.Title, func(t *testing.T) {
			doc, err := vault.Parse(b.FileName(), []byte(RenderBook(b)), models.SourceTypeWeRead, time.Now())
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			chunks, err := indexer.ChunkDocument(doc)
			if err != nil {
				t.Fatalf("ChunkDocument: %v", err)
			}
			if len(chunks) != b.HighlightCount() {
				t.Errorf("chunks = %d, want %d", len(chunks), b.HighlightCount())
			}
			for _, c := range chunks {
				if c.BookID != b.ID || c.BookTitle != b.Title {
					t.Errorf("chunk %s has book %s/%s, want %s/%s", c.ChunkID, c.BookID, c.BookTitle, b.ID, b.Title)
				}
			}
		})
	}
}

func TestWriteVault(t *testing.T) {
	books := BuildCorpus().Books[:2]
	root, err := WriteVault(t.TempDir(), books)
	if err != nil {
		t.Fatal(err)
	}
	for _, b := range books {
		if _, err := os.Stat(filepath.Join(root, HighlightsFolder, b.FileName())); err != nil {
			t.Errorf("missing export for %s: %v", b.Title, err)
		}
	}
}
