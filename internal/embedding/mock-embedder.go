package embedding

import (
	"context"
	"hash/fnv"
	"strings"

	"github.com/hyperjump/readmatrix/pkg/utils"
)

// MockEmbedder is a deterministic embedder for tests and offline use. It hashes character
// unigrams and bigrams into buckets, so texts sharing characters land close together.
type MockEmbedder struct {
	dimensions int
}

// NewMockEmbedder returns an embedder that produces deterministic embeddings of the given dimensions.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 256
	}
	return &MockEmbedder{dimensions: dimensions}
}

// Embed returns one normalized vector per text.
func (e *MockEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = e.embed(text)
	}
	return out, nil
}

func (e *MockEmbedder) embed(text string) []float32 {
	emb := make([]float32, e.dimensions)
	runes := []rune(text)
	for i, r := range runes {
		if r == ' ' || r == '\n' || r == '\t' {
			continue
		}
		emb[HashString(string(r))%e.dimensions]++
		if i+1 < len(runes) {
			emb[HashString(string(runes[i:i+2]))%e.dimensions] += 0.5
		}
	}
	if strings.TrimSpace(text) == "" {
		emb[0] = 1
		return emb
	}
	utils.NormalizeL2(emb)
	return emb
}

// Dimensions returns the embedding dimension.
func (e *MockEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op for MockEmbedder.
func (e *MockEmbedder) Close() error {
	return nil
}

// HashString returns a deterministic non-negative hash of s.
func HashString(s string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum32() & 0x7fffffff)
}
