// Package retriever finds the note chunks most relevant to a question.
package retriever

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/readmatrix/internal/embedding"
	"github.com/hyperjump/readmatrix/internal/keyword"
	"github.com/hyperjump/readmatrix/internal/llm"
	"github.com/hyperjump/readmatrix/internal/models"
	"github.com/hyperjump/readmatrix/internal/rerank"
	"github.com/hyperjump/readmatrix/internal/vector"
)

const (
	defaultTopK       = 5
	neighborLimit     = 50
	dedupKeyRunes     = 100
	maxQueries        = 3
	rewriteTemp       = 0.3
	rewriteMaxTokens  = 200
	rewriteTrimPrefix = "0123456789.-、) "
)

const rewritePrompt = `将以下问题改写为 2-3 个更具体的搜索查询，用于在读书笔记中检索相关内容。

要求：
1. 提取问题中的核心概念和关键词
2. 考虑同义词和相关表达
3. 每行输出一个查询，不要编号

问题：%s

搜索查询：`

// SearchOptions narrows one search. BookID takes priority over BookTitle.
type SearchOptions struct {
	TopK      int
	BookID    string
	BookTitle string
}

// Retriever runs multi-query semantic recall, filtering, reranking, and neighbor expansion.
type Retriever struct {
	embedder      embedding.Embedder
	store         vector.Store
	reranker      rerank.Reranker
	rewriter      llm.Client    // optional; nil disables query rewriting
	keywordIndex  keyword.Index // optional; nil disables keyword recall
	topK          int
	maxDistance   float64
	contextWindow int
	logger        *zap.Logger
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(r *Retriever) { r.logger = l }
}

// WithReranker sets the reranker. Without one, candidates keep their recall order.
func WithReranker(rr rerank.Reranker) Option {
	return func(r *Retriever) {
		if rr != nil {
			r.reranker = rr
		}
	}
}

// WithQueryRewriter enables query rewriting through client.
func WithQueryRewriter(client llm.Client) Option {
	return func(r *Retriever) { r.rewriter = client }
}

// WithKeywordRecall appends keyword hits for the original question as an extra result set.
func WithKeywordRecall(idx keyword.Index) Option {
	return func(r *Retriever) { r.keywordIndex = idx }
}

// WithTopK sets the result count used when a search does not specify one.
func WithTopK(k int) Option {
	return func(r *Retriever) {
		if k > 0 {
			r.topK = k
		}
	}
}

// WithMaxDistance drops candidates farther than d. Zero disables the ceiling.
func WithMaxDistance(d float64) Option {
	return func(r *Retriever) { r.maxDistance = d }
}

// WithContextWindow includes n neighbors on each side of every seed chunk.
func WithContextWindow(n int) Option {
	return func(r *Retriever) { r.contextWindow = n }
}

// New creates a retriever over store.
func New(embedder embedding.Embedder, store vector.Store, opts ...Option) *Retriever {
	r := &Retriever{
		embedder: embedder,
		store:    store,
		reranker: rerank.Noop{},
		topK:     defaultTopK,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Search returns up to TopK chunks for query.
func (r *Retriever) Search(ctx context.Context, query string, opts SearchOptions) ([]models.Chunk, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query cannot be empty", models.ErrInvalidInput)
	}
	topK := opts.TopK
	if topK <= 0 {
		topK = r.topK
	}
	filter := buildFilter(opts)

	queries := []string{query}
	if r.rewriter != nil {
		queries = r.RewriteQuery(ctx, query)
	}
	fetchK := topK * 2
	if r.reranker.Enabled() {
		fetchK = topK * 3
	}

	vectors, err := r.embedder.Embed(ctx, queries)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	var sets [][]models.Chunk
	for i, vec := range vectors {
		hits, err := r.store.Query(ctx, vec, fetchK, filter)
		if err != nil {
			return nil, fmt.Errorf("failed to query vector store: %w", err)
		}
		set := make([]models.Chunk, len(hits))
		for j, h := range hits {
			d := h.Distance
			set[j] = models.ChunkFromMetadata(h.ID, h.Content, h.Metadata, &d)
		}
		if r.logger != nil {
			r.logger.Debug("retriever vector recall", zap.String("query", queries[i]), zap.Int("hits", len(set)))
		}
		sets = append(sets, set)
	}
	if r.keywordIndex != nil {
		set, err := r.keywordRecall(ctx, query, fetchK, opts)
		if err != nil {
			if r.logger != nil {
				r.logger.Warn("keyword recall failed", zap.Error(err))
			}
		} else {
			sets = append(sets, set)
		}
	}

	candidates := mergeByID(sets...)
	candidates = filterByDistance(candidates, r.maxDistance)
	candidates = dedupByContent(candidates)
	candidates = r.rerank(ctx, query, candidates, topK*2)

	seeds := candidates
	if len(seeds) > topK {
		seeds = seeds[:topK]
	}
	results := seeds
	if r.contextWindow > 0 && len(seeds) > 0 {
		results, err = r.expand(ctx, seeds)
		if err != nil {
			return nil, err
		}
	}
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// RewriteQuery asks the language model for alternative phrasings. The original query is
// always first; at most three queries are returned. Any failure yields the original only.
func (r *Retriever) RewriteQuery(ctx context.Context, query string) []string {
	if r.rewriter == nil {
		return []string{query}
	}
	reply, err := r.rewriter.Complete(ctx, llm.UserPrompt(fmt.Sprintf(rewritePrompt, query), rewriteTemp, rewriteMaxTokens))
	if err != nil {
		if r.logger != nil {
			r.logger.Warn("query rewrite failed", zap.Error(err))
		}
		return []string{query}
	}
	return parseRewrites(query, reply)
}

func parseRewrites(query, reply string) []string {
	queries := []string{query}
	for _, line := range strings.Split(strings.TrimSpace(reply), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		line = strings.TrimSpace(strings.TrimLeft(line, rewriteTrimPrefix))
		if line == "" || slices.Contains(queries, line) {
			continue
		}
		queries = append(queries, line)
	}
	if len(queries) > maxQueries {
		queries = queries[:maxQueries]
	}
	return queries
}

func (r *Retriever) keywordRecall(ctx context.Context, query string, limit int, opts SearchOptions) ([]models.Chunk, error) {
	hits, err := r.keywordIndex.Search(ctx, query, limit, &keyword.SearchOptions{TitleBoost: 1, BookID: opts.BookID})
	if err != nil {
		return nil, err
	}
	set := make([]models.Chunk, 0, len(hits))
	for _, h := range hits {
		if opts.BookID == "" && opts.BookTitle != "" && !strings.Contains(h.Chunk.BookTitle, opts.BookTitle) {
			continue
		}
		c := h.Chunk
		c.Distance = nil
		set = append(set, c)
	}
	return set, nil
}

func (r *Retriever) rerank(ctx context.Context, query string, candidates []models.Chunk, topN int) []models.Chunk {
	if !r.reranker.Enabled() || len(candidates) == 0 {
		return candidates
	}
	docs := make([]string, len(candidates))
	for i, c := range candidates {
		docs[i] = c.Content
	}
	order, err := r.reranker.Rerank(ctx, query, docs, topN)
	if err != nil {
		if r.logger != nil {
			r.logger.Warn("rerank failed, keeping recall order", zap.Error(err))
		}
		if len(candidates) > topN {
			return candidates[:topN]
		}
		return candidates
	}
	out := make([]models.Chunk, 0, len(order))
	for _, i := range order {
		if i >= 0 && i < len(candidates) {
			out = append(out, candidates[i])
		}
	}
	return out
}

// expand adds up to contextWindow neighbors around each seed, in seed order.
func (r *Retriever) expand(ctx context.Context, seeds []models.Chunk) ([]models.Chunk, error) {
	var out []models.Chunk
	seen := make(map[string]bool)
	add := func(c models.Chunk) {
		if !seen[c.ChunkID] {
			seen[c.ChunkID] = true
			out = append(out, c)
		}
	}
	for _, seed := range seeds {
		records, err := r.store.Get(ctx, vector.Equal(models.MetaSourcePath, seed.SourcePath), neighborLimit)
		if err != nil {
			return nil, fmt.Errorf("failed to load neighbors: %w", err)
		}
		sort.SliceStable(records, func(i, j int) bool {
			return records[i].Metadata[models.MetaBlockID] < records[j].Metadata[models.MetaBlockID]
		})
		pos := -1
		for i, rec := range records {
			if rec.ID == seed.ChunkID {
				pos = i
				break
			}
		}
		if pos < 0 {
			add(seed)
			continue
		}
		start := max(0, pos-r.contextWindow)
		end := min(len(records), pos+r.contextWindow+1)
		for i := start; i < end; i++ {
			if i == pos {
				add(seed)
				continue
			}
			rec := records[i]
			add(models.ChunkFromMetadata(rec.ID, rec.Content, rec.Metadata, nil))
		}
	}
	return out, nil
}

func buildFilter(opts SearchOptions) vector.Filter {
	if id := strings.TrimSpace(opts.BookID); id != "" {
		return vector.Equal(models.MetaBookID, id)
	}
	if title := strings.TrimSpace(opts.BookTitle); title != "" {
		return vector.Filter{Contains: map[string]string{models.MetaBookTitle: title}}
	}
	return vector.Filter{}
}

// mergeByID concatenates result sets, keeping the first occurrence of each chunk.
func mergeByID(sets ...[]models.Chunk) []models.Chunk {
	var out []models.Chunk
	seen := make(map[string]bool)
	for _, set := range sets {
		for _, c := range set {
			if seen[c.ChunkID] {
				continue
			}
			seen[c.ChunkID] = true
			out = append(out, c)
		}
	}
	return out
}

// filterByDistance drops chunks beyond ceiling. Chunks without a distance are kept.
func filterByDistance(chunks []models.Chunk, ceiling float64) []models.Chunk {
	if ceiling <= 0 {
		return chunks
	}
	out := chunks[:0:0]
	for _, c := range chunks {
		if c.Distance == nil || *c.Distance <= ceiling {
			out = append(out, c)
		}
	}
	return out
}

// dedupByContent keeps the first chunk for each distinct content prefix.
func dedupByContent(chunks []models.Chunk) []models.Chunk {
	out := chunks[:0:0]
	seen := make(map[string]bool)
	for _, c := range chunks {
		key := prefixRunes(c.Content, dedupKeyRunes)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}

func prefixRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
