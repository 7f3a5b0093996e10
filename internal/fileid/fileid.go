// Package fileid provides deterministic identifiers for vault files, highlight blocks, and chunks.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

const (
	contentHashLen = 16
	blockIDLen     = 12
	chunkIDLen     = 16
)

// ContentHash returns the truncated sha256 hex digest of a file's full content.
func ContentHash(data []byte) string {
	return digest(data, contentHashLen)
}

// BlockID synthesizes an anchor for a highlight that has none, derived from its text.
func BlockID(text string) string {
	return digest([]byte(text), blockIDLen)
}

// ChunkID returns the stable chunk identifier for a block key within a source file.
// Same path and key always yield the same ID.
func ChunkID(sourcePath, blockKey string) string {
	return digest([]byte(sourcePath+"^"+blockKey), chunkIDLen)
}

// DisambiguatedKey returns blockKey for its first occurrence and blockKey-N for the N-th (N >= 2).
// counts is updated in place and must be scoped to a single parse pass over one file.
func DisambiguatedKey(blockKey string, counts map[string]int) string {
	counts[blockKey]++
	if n := counts[blockKey]; n > 1 {
		return fmt.Sprintf("%s-%d", blockKey, n)
	}
	return blockKey
}

func digest(data []byte, n int) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:n]
}
