package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func TestChunkID(t *testing.T) {
	// Deterministic: same path and key give same ID
	id1 := ChunkID("/vault/微信读书/book.md", "12345-67")
	id2 := ChunkID("/vault/微信读书/book.md", "12345-67")
	if id1 != id2 {
		t.Errorf("same input should give same ID: %q vs %q", id1, id2)
	}
	if len(id1) != chunkIDLen {
		t.Errorf("ID length = %d, want %d", len(id1), chunkIDLen)
	}
	sum := sha256.Sum256([]byte("/vault/微信读书/book.md^12345-67"))
	if want := hex.EncodeToString(sum[:])[:16]; id1 != want {
		t.Errorf("ChunkID = %q, want %q", id1, want)
	}
}

func TestChunkID_differentInputs(t *testing.T) {
	base := ChunkID("/a.md", "x")
	if base == ChunkID("/b.md", "x") {
		t.Error("different paths should give different IDs")
	}
	if base == ChunkID("/a.md", "x-2") {
		t.Error("different keys should give different IDs")
	}
}

func TestContentHashAndBlockID(t *testing.T) {
	h := ContentHash([]byte("hello"))
	if len(h) != 16 {
		t.Errorf("hash length = %d", len(h))
	}
	if h != ContentHash([]byte("hello")) {
		t.Error("hash should be deterministic")
	}
	if h == ContentHash([]byte("hello!")) {
		t.Error("different content should hash differently")
	}
	b := BlockID("同一段文字")
	if len(b) != 12 {
		t.Errorf("block id length = %d", len(b))
	}
}

func TestDisambiguatedKey(t *testing.T) {
	counts := make(map[string]int)
	tests := []struct {
		key  string
		want string
	}{
		{"a", "a"},
		{"b", "b"},
		{"a", "a-2"},
		{"a", "a-3"},
		{"b", "b-2"},
	}
	for _, tt := range tests {
		if got := DisambiguatedKey(tt.key, counts); got != tt.want {
			t.Errorf("DisambiguatedKey(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}
