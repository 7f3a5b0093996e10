// Package vault discovers and parses the Markdown files of an Obsidian vault.
package vault

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/readmatrix/internal/fileid"
	"github.com/hyperjump/readmatrix/internal/models"
)

const (
	markdownExt = ".md"
	sniffLen    = 500
)

// ScannedFile is one Markdown file discovered in the vault.
type ScannedFile struct {
	Path       string
	SourceType string
}

// Scanner walks a vault and classifies its Markdown files.
type Scanner struct {
	root         string
	wereadFolder string
	logger       *zap.Logger // optional; when set, logs debug events
}

// ScannerOption configures a Scanner.
type ScannerOption func(*Scanner)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) ScannerOption {
	return func(s *Scanner) { s.logger = l }
}

// NewScanner creates a scanner for the vault at vaultPath. Files directly inside
// <vaultPath>/<wereadFolder> are always treated as WeRead exports.
func NewScanner(vaultPath, wereadFolder string, opts ...ScannerOption) *Scanner {
	s := &Scanner{
		root:         filepath.Clean(vaultPath),
		wereadFolder: wereadFolder,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Root returns the vault directory.
func (s *Scanner) Root() string {
	return s.root
}

// HighlightsDir returns the WeRead export folder.
func (s *Scanner) HighlightsDir() string {
	return filepath.Join(s.root, s.wereadFolder)
}

// Scan lists every Markdown file in the vault. The highlights folder is listed first
// (non-recursive, all weread); the rest of the vault follows in walk order with hidden
// entries skipped. A missing vault root is an error; a missing highlights folder is not.
func (s *Scanner) Scan() ([]ScannedFile, error) {
	info, err := os.Stat(s.root)
	if err != nil {
		return nil, fmt.Errorf("vault path does not exist: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("vault path is not a directory: %s", s.root)
	}

	var files []ScannedFile
	highlights, err := s.scanHighlights()
	if err != nil {
		return nil, err
	}
	files = append(files, highlights...)

	highlightsDir := s.HighlightsDir()
	err = filepath.WalkDir(s.root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if path == s.root {
			return nil
		}
		if isHidden(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if s.wereadFolder != "" && path == highlightsDir {
				return filepath.SkipDir
			}
			return nil
		}
		if !isMarkdown(path) || !d.Type().IsRegular() {
			return nil
		}
		sourceType, err := detectFile(path)
		if err != nil {
			if s.logger != nil {
				s.logger.Debug("vault skipping unreadable file", zap.String("path", path), zap.Error(err))
			}
			return nil
		}
		files = append(files, ScannedFile{Path: path, SourceType: sourceType})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk vault: %w", err)
	}
	if s.logger != nil {
		s.logger.Debug("vault scanned", zap.String("root", s.root), zap.Int("files", len(files)))
	}
	return files, nil
}

func (s *Scanner) scanHighlights() ([]ScannedFile, error) {
	if s.wereadFolder == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(s.HighlightsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read highlights folder: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() && isMarkdown(e.Name()) && !isHidden(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	files := make([]ScannedFile, len(names))
	for i, name := range names {
		files[i] = ScannedFile{
			Path:       filepath.Join(s.HighlightsDir(), name),
			SourceType: models.SourceTypeWeRead,
		}
	}
	return files, nil
}

// Classify returns the source type Scan would assign to path, and false when Scan
// would not list it at all (outside the vault, hidden, or not Markdown).
func (s *Scanner) Classify(path string) (string, bool, error) {
	path = filepath.Clean(path)
	rel, err := filepath.Rel(s.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false, nil
	}
	if !isMarkdown(path) {
		return "", false, nil
	}
	parts := strings.Split(rel, string(filepath.Separator))
	for _, p := range parts {
		if isHidden(p) {
			return "", false, nil
		}
	}
	if s.wereadFolder != "" && len(parts) > 1 && parts[0] == s.wereadFolder {
		if len(parts) == 2 {
			return models.SourceTypeWeRead, true, nil
		}
		return "", false, nil
	}
	sourceType, err := detectFile(path)
	if err != nil {
		return "", false, err
	}
	return sourceType, true, nil
}

// DetectSourceType classifies content by its first 500 bytes.
func DetectSourceType(content []byte) string {
	head := content
	if len(head) > sniffLen {
		head = head[:sniffLen]
	}
	if bytes.Contains(head, []byte("doc_type: weread-highlights-reviews")) {
		return models.SourceTypeWeRead
	}
	if bytes.Contains(head, []byte("bookId:")) && bytes.Contains(head, []byte("📌")) {
		return models.SourceTypeWeRead
	}
	return models.SourceTypeMarkdown
}

func detectFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	buf := make([]byte, sniffLen)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", err
	}
	return DetectSourceType(buf[:n]), nil
}

// ComputeHash returns the content hash of the file at path.
func ComputeHash(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	return fileid.ContentHash(data), nil
}

// Stat returns the modification time of the file at path.
func Stat(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, fmt.Errorf("stat file: %w", err)
	}
	return info.ModTime(), nil
}

func isMarkdown(path string) bool {
	return strings.EqualFold(filepath.Ext(path), markdownExt)
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}
