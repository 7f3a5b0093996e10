package vault

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/hyperjump/readmatrix/internal/fileid"
	"github.com/hyperjump/readmatrix/internal/models"
)

const (
	frontMatterDelim = "---"
	metadataHeading  = "元数据"
	abstractCallout  = "> [!abstract]"
)

// ParseFile reads and parses the Markdown file at path.
func ParseFile(path, sourceType string) (*models.Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return Parse(path, data, sourceType, info.ModTime())
}

// Parse builds a Document from raw file content. The hash is computed over data as given.
func Parse(path string, data []byte, sourceType string, mtime time.Time) (*models.Document, error) {
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: %s is not valid UTF-8", models.ErrDataIntegrity, path)
	}
	text := strings.TrimPrefix(string(data), "\ufeff")
	text = strings.ReplaceAll(text, "\r\n", "\n")

	meta, body, err := splitFrontMatter(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", models.ErrDataIntegrity, path, err)
	}
	if sourceType == "" {
		sourceType = DetectSourceType(data)
	}
	doc := &models.Document{
		Path:       path,
		Content:    body,
		Hash:       fileid.ContentHash(data),
		Mtime:      mtime,
		SourceType: sourceType,
		Metadata:   meta,
	}
	doc.Title = resolveTitle(doc)
	return doc, nil
}

// splitFrontMatter separates a leading YAML block from the body. Content without a
// front-matter block returns an empty map and the content unchanged.
func splitFrontMatter(text string) (map[string]interface{}, string, error) {
	meta := map[string]interface{}{}
	if !strings.HasPrefix(text, frontMatterDelim+"\n") {
		return meta, text, nil
	}
	rest := text[len(frontMatterDelim)+1:]
	var block, body string
	switch {
	case strings.HasPrefix(rest, frontMatterDelim+"\n"):
		body = rest[len(frontMatterDelim)+1:]
	case rest == frontMatterDelim:
	default:
		end := strings.Index(rest, "\n"+frontMatterDelim)
		if end < 0 {
			return nil, "", fmt.Errorf("unterminated front matter")
		}
		block = rest[:end]
		after := rest[end+1+len(frontMatterDelim):]
		// The closing delimiter must be a line of its own.
		nl := strings.IndexByte(after, '\n')
		line := after
		if nl >= 0 {
			line = after[:nl]
			body = after[nl+1:]
		}
		if strings.TrimSpace(line) != "" {
			return nil, "", fmt.Errorf("unterminated front matter")
		}
	}
	if strings.TrimSpace(block) != "" {
		if err := yaml.Unmarshal([]byte(block), &meta); err != nil {
			return nil, "", fmt.Errorf("malformed front matter: %w", err)
		}
		if meta == nil {
			meta = map[string]interface{}{}
		}
	}
	return meta, body, nil
}

// resolveTitle picks the document title: front-matter title, then the first top-level
// heading that is not the metadata heading, then an abstract callout (WeRead only),
// then the filename.
func resolveTitle(doc *models.Document) string {
	if t, ok := doc.Metadata["title"]; ok && t != nil {
		if s := strings.TrimSpace(fmt.Sprint(t)); s != "" {
			return s
		}
	}
	for _, line := range strings.Split(doc.Content, "\n") {
		if heading, ok := headingText(line); ok {
			if !strings.Contains(heading, metadataHeading) && heading != "" {
				return heading
			}
			continue
		}
		if doc.SourceType == models.SourceTypeWeRead && strings.Contains(line, abstractCallout) {
			idx := strings.LastIndex(line, "]")
			if part := strings.TrimSpace(line[idx+1:]); part != "" {
				return part
			}
		}
	}
	return strings.TrimSuffix(filepath.Base(doc.Path), filepath.Ext(doc.Path))
}

func headingText(line string) (string, bool) {
	for _, prefix := range []string{"# ", "## "} {
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(line[len(prefix):]), true
		}
	}
	return "", false
}
