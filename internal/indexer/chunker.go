// Package indexer turns vault documents into embedded, searchable chunks.
package indexer

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hyperjump/readmatrix/internal/fileid"
	"github.com/hyperjump/readmatrix/internal/models"
	"github.com/hyperjump/readmatrix/pkg/utils"
)

const (
	sectionMarker     = "\n### "
	chapterPrefix     = "### "
	notesChapter      = "读书笔记"
	mainBlockID       = "main"
	maxDocumentRunes  = 2000
	notePrefix        = "note-"
	highlightMarker   = "📌"
	noteContentFormat = "原文：%s\n笔记：%s"
)

var (
	// > 📌 text, optionally followed by "> ⏱<time>" and a ^anchor.
	highlightPattern = regexp.MustCompile(
		`> 📌 (.+?)[ \t]*\n` +
			`(?:> ⏱[ \t]?(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}))?` +
			`(?:\s*\^([\w-]+))?`)

	// > 📌 original ^id, then "- 💭 note" and "- ⏱time" list items.
	notePattern = regexp.MustCompile(
		`> 📌 ([^\n]+?)\s+\^([\w-]+)[ \t]*\n` +
			`[ \t]*- 💭 ([^\n]+?)[ \t]*\n` +
			`[ \t]*- ⏱[ \t]?(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2})`)

	inlineAnchor  = regexp.MustCompile(`\s+\^([\w-]+)$`)
	trailingQuote = regexp.MustCompile(`\s*>\s*$`)
)

// ChunkDocument chunks doc according to its source type. WeRead exports yield one chunk per
// highlight and note; a WeRead export with none is reported as ErrDataIntegrity. Other
// Markdown files yield a single chunk of their normalized body.
func ChunkDocument(doc *models.Document) ([]models.Chunk, error) {
	if doc.SourceType == models.SourceTypeWeRead {
		chunks := ChunkWeRead(doc)
		if len(chunks) == 0 {
			return nil, fmt.Errorf("%w: no highlights found in %s", models.ErrDataIntegrity, doc.Path)
		}
		return chunks, nil
	}
	return chunkMarkdown(doc), nil
}

// ChunkWeRead extracts highlights (per chapter) followed by reading notes.
func ChunkWeRead(doc *models.Document) []models.Chunk {
	counts := map[string]int{}
	chunks := chunkHighlights(doc, counts)
	return append(chunks, chunkNotes(doc, counts)...)
}

func chunkHighlights(doc *models.Document, counts map[string]int) []models.Chunk {
	var chunks []models.Chunk
	for _, section := range splitSections(doc.Content) {
		if !strings.Contains(section, highlightMarker) {
			continue
		}
		var titlePath []string
		if chapter := chapterTitle(section); chapter != "" {
			titlePath = []string{chapter}
		}
		for _, m := range highlightPattern.FindAllStringSubmatch(section+"\n", -1) {
			text := strings.TrimSpace(m[1])
			blockID := m[3]
			if am := inlineAnchor.FindStringSubmatch(text); am != nil {
				if blockID == "" {
					blockID = am[1]
				}
				text = strings.TrimSpace(text[:len(text)-len(am[0])])
			}
			text = strings.TrimSpace(trailingQuote.ReplaceAllString(text, ""))
			if text == "" {
				continue
			}
			if blockID == "" {
				blockID = fileid.BlockID(text)
			}
			chunks = append(chunks, newChunk(doc, blockID, fileid.DisambiguatedKey(blockID, counts), text, titlePath, m[2]))
		}
	}
	return chunks
}

func chunkNotes(doc *models.Document, counts map[string]int) []models.Chunk {
	var chunks []models.Chunk
	for _, m := range notePattern.FindAllStringSubmatch(doc.Content+"\n", -1) {
		original := strings.TrimSpace(m[1])
		noteID := m[2]
		note := strings.TrimSpace(m[3])
		content := fmt.Sprintf(noteContentFormat, original, note)
		key := fileid.DisambiguatedKey(notePrefix+noteID, counts)
		chunks = append(chunks, newChunk(doc, noteID, key, content, []string{notesChapter}, m[4]))
	}
	return chunks
}

func newChunk(doc *models.Document, blockID, key, content string, titlePath []string, highlightTime string) models.Chunk {
	return models.Chunk{
		ChunkID:       fileid.ChunkID(doc.Path, key),
		BlockID:       blockID,
		Content:       content,
		SourcePath:    doc.Path,
		TitlePath:     titlePath,
		BookID:        doc.BookID(),
		BookTitle:     doc.BookTitle(),
		Author:        doc.Author(),
		HighlightTime: highlightTime,
	}
}

// splitSections splits content before every "### " heading line, keeping the heading
// with the block that follows it. The first section is the preamble.
func splitSections(content string) []string {
	var sections []string
	for {
		i := strings.Index(content, sectionMarker)
		if i < 0 {
			break
		}
		sections = append(sections, content[:i])
		content = content[i+1:]
	}
	return append(sections, content)
}

func chapterTitle(section string) string {
	if !strings.HasPrefix(section, chapterPrefix) {
		return ""
	}
	line := section[len(chapterPrefix):]
	if nl := strings.IndexByte(line, '\n'); nl >= 0 {
		line = line[:nl]
	}
	return strings.TrimSpace(line)
}

func chunkMarkdown(doc *models.Document) []models.Chunk {
	body := utils.Prefix(Preprocess(doc.Content), maxDocumentRunes)
	if body == "" {
		return nil
	}
	return []models.Chunk{{
		ChunkID:    fileid.ChunkID(doc.Path, mainBlockID),
		BlockID:    mainBlockID,
		Content:    body,
		SourcePath: doc.Path,
		TitlePath:  []string{doc.Title},
		BookTitle:  doc.Title,
	}}
}
