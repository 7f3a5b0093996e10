package keyword

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/lang/cjk"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
	"go.uber.org/zap"

	"github.com/hyperjump/readmatrix/internal/models"
)

const (
	fieldContent    = "content"
	fieldTitle      = "title"
	fieldSourcePath = "source_path"
	fieldBookID     = "book_id"

	deleteBatchSize = 500
)

// chunkDoc is the Bleve document for one chunk. Title combines book title and chapter path
// so both are searchable with one field; the remaining metadata is stored for result rebuilding.
type chunkDoc struct {
	Content       string `json:"content"`
	Title         string `json:"title"`
	SourcePath    string `json:"source_path"`
	BookID        string `json:"book_id"`
	BookTitle     string `json:"book_title"`
	BlockID       string `json:"block_id"`
	TitlePath     string `json:"title_path"`
	Author        string `json:"author"`
	HighlightTime string `json:"highlight_time"`
}

// BleveIndex implements Index using Bleve with the CJK analyzer.
type BleveIndex struct {
	path   string
	logger *zap.Logger
	mu     sync.RWMutex
	index  bleve.Index
}

// Option configures a BleveIndex.
type Option func(*BleveIndex)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *BleveIndex) {
		b.logger = l
	}
}

// NewBleveIndex creates or opens a Bleve index at path.
// If the path already exists, the existing index is opened and reused so incremental updates
// keep working across restarts. If you change the mapping, remove the index directory.
func NewBleveIndex(path string, opts ...Option) (*BleveIndex, error) {
	b := &BleveIndex{path: path}
	for _, opt := range opts {
		opt(b)
	}

	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		b.index = index
		return b, nil
	}

	index, err := bleve.New(path, newMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	b.index = index
	return b, nil
}

func newMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	// Highlights are mostly Chinese; the CJK analyzer emits bigrams so substring-like
	// queries such as 复利 match inside longer runs of text.
	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Analyzer = cjk.AnalyzerName
	docMapping.AddFieldMappingsAt(fieldContent, textFieldMapping)
	docMapping.AddFieldMappingsAt(fieldTitle, textFieldMapping)

	keywordFieldMapping := bleve.NewKeywordFieldMapping()
	docMapping.AddFieldMappingsAt(fieldSourcePath, keywordFieldMapping)
	docMapping.AddFieldMappingsAt(fieldBookID, keywordFieldMapping)

	storedOnly := bleve.NewTextFieldMapping()
	storedOnly.Index = false
	for _, f := range []string{"book_title", "block_id", "title_path", "author", "highlight_time"} {
		docMapping.AddFieldMappingsAt(f, storedOnly)
	}

	im.AddDocumentMapping("chunk", docMapping)
	im.DefaultType = "chunk"
	im.DefaultMapping = docMapping
	return im
}

// IndexChunks indexes chunks in one batch, replacing existing entries with the same ChunkID.
func (b *BleveIndex) IndexChunks(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	batch := b.index.NewBatch()
	for i := range chunks {
		c := &chunks[i]
		doc := chunkDoc{
			Content:       c.Content,
			Title:         strings.TrimSpace(c.BookTitle + " " + strings.Join(c.TitlePath, " ")),
			SourcePath:    c.SourcePath,
			BookID:        c.BookID,
			BookTitle:     c.BookTitle,
			BlockID:       c.BlockID,
			TitlePath:     c.ToMetadata()[models.MetaTitlePath],
			Author:        c.Author,
			HighlightTime: c.HighlightTime,
		}
		if err := batch.Index(c.ChunkID, doc); err != nil {
			return fmt.Errorf("failed to add chunk to batch: %w", err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to index chunks: %w", err)
	}
	return nil
}

// DeleteBySource removes all chunks whose source_path equals sourcePath.
func (b *BleveIndex) DeleteBySource(ctx context.Context, sourcePath string) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	removed := 0
	for {
		q := bleve.NewTermQuery(sourcePath)
		q.SetField(fieldSourcePath)
		req := bleve.NewSearchRequest(q)
		req.Size = deleteBatchSize
		res, err := b.index.SearchInContext(ctx, req)
		if err != nil {
			return removed, fmt.Errorf("Bleve search failed: %w", err)
		}
		if len(res.Hits) == 0 {
			return removed, nil
		}
		batch := b.index.NewBatch()
		for _, hit := range res.Hits {
			batch.Delete(hit.ID)
		}
		if err := b.index.Batch(batch); err != nil {
			return removed, fmt.Errorf("failed to delete chunks: %w", err)
		}
		removed += len(res.Hits)
	}
}

// Search runs a match query and returns up to limit results.
// When opts is nil or TitleBoost <= 1, a single match over title+content is used.
// Otherwise title and content are queried separately and merged additively.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*Result, error) {
	titleBoost := 1.0
	bookID := ""
	if opts != nil {
		if opts.TitleBoost > 0 {
			titleBoost = opts.TitleBoost
		}
		bookID = opts.BookID
	}
	if strings.TrimSpace(query) == "" || limit <= 0 {
		return nil, nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if titleBoost <= 1.0 {
		return b.searchSingle(ctx, query, limit, bookID)
	}
	return b.searchWithBoost(ctx, query, limit, titleBoost, bookID)
}

func (b *BleveIndex) searchSingle(ctx context.Context, query string, limit int, bookID string) ([]*Result, error) {
	req := bleve.NewSearchRequest(restrict(bleve.NewMatchQuery(query), bookID))
	req.Size = limit
	req.Fields = []string{"*"}
	results, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make([]*Result, len(results.Hits))
	for i, hit := range results.Hits {
		out[i] = &Result{ID: hit.ID, Score: hit.Score, Chunk: chunkFromFields(hit.ID, hit.Fields)}
	}
	return out, nil
}

// searchWithBoost scores each hit as titleScore*titleBoost + contentScore.
func (b *BleveIndex) searchWithBoost(ctx context.Context, query string, limit int, titleBoost float64, bookID string) ([]*Result, error) {
	// Request enough from each so the merged top "limit" is correct (same chunk can appear in both).
	reqSize := limit * 2
	if reqSize < 50 {
		reqSize = 50
	}

	tq := bleve.NewMatchQuery(query)
	tq.SetField(fieldTitle)
	cq := bleve.NewMatchQuery(query)
	cq.SetField(fieldContent)

	titleReq := bleve.NewSearchRequest(restrict(tq, bookID))
	titleReq.Size = reqSize
	titleReq.Fields = []string{"*"}
	contentReq := bleve.NewSearchRequest(restrict(cq, bookID))
	contentReq.Size = reqSize
	contentReq.Fields = []string{"*"}

	titleResults, err := b.index.SearchInContext(ctx, titleReq)
	if err != nil {
		return nil, fmt.Errorf("Bleve title search failed: %w", err)
	}
	contentResults, err := b.index.SearchInContext(ctx, contentReq)
	if err != nil {
		return nil, fmt.Errorf("Bleve content search failed: %w", err)
	}

	merged := make(map[string]*Result)
	for _, hit := range titleResults.Hits {
		merged[hit.ID] = &Result{ID: hit.ID, Score: hit.Score * titleBoost, Chunk: chunkFromFields(hit.ID, hit.Fields)}
	}
	for _, hit := range contentResults.Hits {
		if r, ok := merged[hit.ID]; ok {
			r.Score += hit.Score
			continue
		}
		merged[hit.ID] = &Result{ID: hit.ID, Score: hit.Score, Chunk: chunkFromFields(hit.ID, hit.Fields)}
	}

	out := make([]*Result, 0, len(merged))
	for _, r := range merged {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// restrict wraps q in a conjunction with a book_id term when bookID is set.
func restrict(q blevequery.Query, bookID string) blevequery.Query {
	if bookID == "" {
		return q
	}
	tq := bleve.NewTermQuery(bookID)
	tq.SetField(fieldBookID)
	return bleve.NewConjunctionQuery(q, tq)
}

func chunkFromFields(id string, fields map[string]interface{}) models.Chunk {
	meta := make(map[string]string, len(fields))
	for k, v := range fields {
		if s, ok := v.(string); ok {
			meta[k] = s
		}
	}
	return models.ChunkFromMetadata(id, meta[fieldContent], meta, nil)
}

// Clear drops and recreates the index.
func (b *BleveIndex) Clear(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.index.Close(); err != nil {
		return fmt.Errorf("failed to close Bleve index: %w", err)
	}
	if err := os.RemoveAll(b.path); err != nil {
		return fmt.Errorf("failed to remove Bleve index: %w", err)
	}
	index, err := bleve.New(b.path, newMapping())
	if err != nil {
		return fmt.Errorf("failed to create Bleve index: %w", err)
	}
	b.index = index
	if b.logger != nil {
		b.logger.Debug("keyword index cleared", zap.String("path", b.path))
	}
	return nil
}

// DocCount returns the total number of chunks in the index.
func (b *BleveIndex) DocCount() (uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.index.DocCount()
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.index.Close()
}
