// Package e2e provides end-to-end tests; this file renders WeRead highlight exports into a vault.
package e2e

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// HighlightsFolder is the vault folder the plugin exports WeRead books into.
const HighlightsFolder = "微信读书"

// Chapter is one "### " section of a WeRead export.
type Chapter struct {
	Title      string
	Highlights []string
}

// Note is a highlight with the reader's own comment, exported under the notes chapter.
type Note struct {
	Anchor   string
	Original string
	Comment  string
	Time     string
}

// Book is one exported WeRead book.
type Book struct {
	ID       string
	Title    string
	Author   string
	Chapters []Chapter
	Notes    []Note
}

// HighlightCount returns the number of chunks the book should index into. A note yields
// both a highlight chunk for its original text and a note chunk.
func (b Book) HighlightCount() int {
	n := 2 * len(b.Notes)
	for _, c := range b.Chapters {
		n += len(c.Highlights)
	}
	return n
}

// FileName is the export file name inside the highlights folder.
func (b Book) FileName() string {
	return b.Title + ".md"
}

// RenderBook renders b the way the Obsidian WeRead plugin exports it. Highlights carry no
// block anchor so that identical text exercises chunk id disambiguation.
func RenderBook(b Book) string {
	var sb strings.Builder
	sb.WriteString("---\n")
	sb.WriteString("doc_type: weread-highlights-reviews\n")
	fmt.Fprintf(&sb, "bookId: %q\n", b.ID)
	fmt.Fprintf(&sb, "author: %s\n", b.Author)
	fmt.Fprintf(&sb, "title: %s\n", b.Title)
	sb.WriteString("---\n")
	fmt.Fprintf(&sb, "# %s\n", b.Title)
	for _, c := range b.Chapters {
		fmt.Fprintf(&sb, "\n### %s\n", c.Title)
		for _, h := range c.Highlights {
			fmt.Fprintf(&sb, "> 📌 %s\n\n", h)
		}
	}
	if len(b.Notes) > 0 {
		sb.WriteString("\n### 读书笔记\n")
		for _, n := range b.Notes {
			fmt.Fprintf(&sb, "> 📌 %s ^%s\n", n.Original, n.Anchor)
			fmt.Fprintf(&sb, "- 💭 %s\n", n.Comment)
			fmt.Fprintf(&sb, "- ⏱ %s\n\n", n.Time)
		}
	}
	return sb.String()
}

// WriteVault writes books into <dir>/vault/微信读书 and returns the vault root.
func WriteVault(dir string, books []Book) (string, error) {
	root := filepath.Join(dir, "vault")
	folder := filepath.Join(root, HighlightsFolder)
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return "", err
	}
	for _, b := range books {
		if err := WriteBook(root, b); err != nil {
			return "", err
		}
	}
	return root, nil
}

// WriteBook writes or overwrites one book export in the vault at root.
func WriteBook(root string, b Book) error {
	path := filepath.Join(root, HighlightsFolder, b.FileName())
	return os.WriteFile(path, []byte(RenderBook(b)), 0o644)
}
