package qa

import (
	"bufio"
	"bytes"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/hyperjump/readmatrix/internal/models"
	"github.com/hyperjump/readmatrix/pkg/utils"
)

const snippetRunes = 400

// Linker builds obsidian:// deep links into the vault.
type Linker struct {
	root string
	name string
}

// NewLinker creates a linker for the vault at root. An empty name uses the vault
// directory name.
func NewLinker(root, name string) *Linker {
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	if name == "" {
		name = filepath.Base(root)
	}
	return &Linker{root: root, name: name}
}

// URI returns the deep link for a chunk. The fragment is the block anchor when the file
// still contains it, else the first level-two heading, else the first level-one heading.
func (l *Linker) URI(sourcePath, blockID string) string {
	if sourcePath == "" {
		return ""
	}
	rel := filepath.Base(sourcePath)
	if abs, err := filepath.Abs(sourcePath); err == nil {
		if r, err := filepath.Rel(l.root, abs); err == nil && !strings.HasPrefix(r, "..") {
			rel = r
		}
	}
	uri := "obsidian://open?vault=" + url.PathEscape(l.name) + "&file=" + escapePath(filepath.ToSlash(rel))

	data, err := os.ReadFile(sourcePath)
	if err != nil {
		return uri
	}
	if blockID != "" && bytes.Contains(data, []byte("^"+blockID)) {
		return uri + "#^" + blockID
	}
	if heading := firstHeading(data); heading != "" {
		return uri + "#" + url.PathEscape(heading)
	}
	return uri
}

func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, s := range parts {
		parts[i] = url.PathEscape(s)
	}
	return strings.Join(parts, "/")
}

func firstHeading(data []byte) string {
	var h1 string
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, "## ") {
			return strings.TrimSpace(line[3:])
		}
		if h1 == "" && strings.HasPrefix(line, "# ") {
			h1 = strings.TrimSpace(line[2:])
		}
	}
	return h1
}

// BuildCitations numbers chunks from 1. A nil linker leaves ObsidianURI empty.
func BuildCitations(chunks []models.Chunk, linker *Linker) []models.Citation {
	citations := make([]models.Citation, 0, len(chunks))
	for i, c := range chunks {
		cit := models.Citation{
			ID:            i + 1,
			ChunkID:       c.ChunkID,
			BlockID:       c.BlockID,
			SourcePath:    c.SourcePath,
			TitlePath:     c.TitlePath,
			Snippet:       utils.Prefix(c.Content, snippetRunes),
			BookID:        c.BookID,
			BookTitle:     c.BookTitle,
			Author:        c.Author,
			HighlightTime: c.HighlightTime,
		}
		if linker != nil {
			cit.ObsidianURI = linker.URI(c.SourcePath, c.BlockID)
		}
		citations = append(citations, cit)
	}
	return citations
}
