// Package models defines core data structures for vault documents, chunks, conversations, and index state.
package models

import (
	"fmt"
	"strings"
	"time"
)

// Source types produced by the vault scanner.
const (
	SourceTypeWeRead   = "weread"
	SourceTypeMarkdown = "markdown"
)

// Document is a parsed Markdown file from the vault.
type Document struct {
	Path       string                 `json:"path"`
	Title      string                 `json:"title"`
	Content    string                 `json:"content"`
	Hash       string                 `json:"hash"`
	Mtime      time.Time              `json:"mtime"`
	SourceType string                 `json:"source_type"`
	Metadata   map[string]interface{} `json:"metadata"`
}

// BookID returns the bookId front-matter value, or "".
func (d *Document) BookID() string {
	return metadataString(d.Metadata, "bookId")
}

// Author returns the author front-matter value, or "".
func (d *Document) Author() string {
	return metadataString(d.Metadata, "author")
}

// BookTitle returns the front-matter title, falling back to the resolved document title.
func (d *Document) BookTitle() string {
	if t := metadataString(d.Metadata, "title"); t != "" {
		return t
	}
	return d.Title
}

func metadataString(m map[string]interface{}, key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	default:
		return strings.TrimSpace(fmt.Sprint(s))
	}
}

// Chunk is the smallest citable unit of note content (one highlight or one annotation).
type Chunk struct {
	ChunkID       string   `json:"chunk_id"`
	BlockID       string   `json:"block_id"`
	Content       string   `json:"content"`
	SourcePath    string   `json:"source_path"`
	TitlePath     []string `json:"title_path"`
	BookID        string   `json:"book_id"`
	BookTitle     string   `json:"book_title"`
	Author        string   `json:"author,omitempty"`
	HighlightTime string   `json:"highlight_time,omitempty"`
	// Distance is only set on retrieval results; nil means unknown.
	Distance *float64 `json:"distance,omitempty"`
}

// Metadata keys stored alongside each chunk in the vector store.
const (
	MetaBlockID       = "block_id"
	MetaSourcePath    = "source_path"
	MetaTitlePath     = "title_path"
	MetaBookID        = "book_id"
	MetaBookTitle     = "book_title"
	MetaAuthor        = "author"
	MetaHighlightTime = "highlight_time"
)

const titlePathSep = "|"

// ToMetadata flattens the chunk into string metadata for the vector store.
func (c *Chunk) ToMetadata() map[string]string {
	return map[string]string{
		MetaBlockID:       c.BlockID,
		MetaSourcePath:    c.SourcePath,
		MetaTitlePath:     strings.Join(c.TitlePath, titlePathSep),
		MetaBookID:        c.BookID,
		MetaBookTitle:     c.BookTitle,
		MetaAuthor:        c.Author,
		MetaHighlightTime: c.HighlightTime,
	}
}

// ChunkFromMetadata rebuilds a chunk from vector store fields.
func ChunkFromMetadata(id, content string, meta map[string]string, distance *float64) Chunk {
	var titlePath []string
	if tp := meta[MetaTitlePath]; tp != "" {
		titlePath = strings.Split(tp, titlePathSep)
	}
	return Chunk{
		ChunkID:       id,
		BlockID:       meta[MetaBlockID],
		Content:       content,
		SourcePath:    meta[MetaSourcePath],
		TitlePath:     titlePath,
		BookID:        meta[MetaBookID],
		BookTitle:     meta[MetaBookTitle],
		Author:        meta[MetaAuthor],
		HighlightTime: meta[MetaHighlightTime],
		Distance:      distance,
	}
}

// File record statuses.
const (
	FileStatusPending = "pending"
	FileStatusIndexed = "indexed"
	FileStatusError   = "error"
)

// FileRecord is the persisted indexing state of one vault file.
type FileRecord struct {
	Path       string    `json:"path"`
	Hash       string    `json:"hash"`
	Mtime      time.Time `json:"mtime"`
	Status     string    `json:"status"`
	SourceType string    `json:"source_type"`
	BookID     string    `json:"book_id,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Task types and statuses for indexing runs.
const (
	TaskTypeFullRebuild = "full_rebuild"
	TaskTypeIncremental = "incremental"

	TaskStatusRunning = "running"
	TaskStatusDone    = "done"
	TaskStatusError   = "error"
)

// Task records the progress of one indexing run.
type Task struct {
	ID        int64     `json:"id"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	Progress  int       `json:"progress"`
	Total     int       `json:"total"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
