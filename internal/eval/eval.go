// Package eval runs offline retrieval and generation evaluations from JSONL case files.
package eval

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/readmatrix/internal/models"
	"github.com/hyperjump/readmatrix/internal/retriever"
	"github.com/hyperjump/readmatrix/pkg/utils"
)

// Evaluation modes.
const (
	ModeRetrieval  = "retrieval"
	ModeGeneration = "generation"
)

const previewRunes = 50

// Expected describes what a relevant chunk looks like. Title and path entries match by
// case-insensitive substring; every MustInclude keyword must appear in the content.
type Expected struct {
	BookTitle   []string `json:"book_title"`
	SourcePath  []string `json:"source_path"`
	MustInclude []string `json:"must_include"`
}

// IsEmpty reports whether no expectation is set.
func (e Expected) IsEmpty() bool {
	return len(e.BookTitle) == 0 && len(e.SourcePath) == 0 && len(e.MustInclude) == 0
}

// Case is one evaluation question.
type Case struct {
	ID       string
	Query    string
	Expected Expected
}

type caseLine struct {
	ID       any      `json:"id"`
	Query    string   `json:"query"`
	Expected Expected `json:"expected"`
}

// LoadCases reads one JSON case per line. Blank lines are skipped.
func LoadCases(r io.Reader) ([]Case, error) {
	var cases []Case
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var cl caseLine
		if err := json.Unmarshal([]byte(text), &cl); err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", models.ErrInvalidInput, line, err)
		}
		id := ""
		if cl.ID != nil {
			id = fmt.Sprint(cl.ID)
		}
		cases = append(cases, Case{ID: id, Query: cl.Query, Expected: cl.Expected})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read cases: %w", err)
	}
	return cases, nil
}

// LoadCasesFile reads cases from path.
func LoadCasesFile(path string) ([]Case, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cases: %w", err)
	}
	defer f.Close()
	return LoadCases(f)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(strings.ReplaceAll(s, `\`, "/")))
}

func containsAnyNormalized(value string, wants []string) bool {
	v := normalize(value)
	for _, w := range wants {
		if strings.Contains(v, normalize(w)) {
			return true
		}
	}
	return false
}

// Matches reports whether chunk satisfies every expectation that is set.
func Matches(chunk models.Chunk, exp Expected) bool {
	if exp.IsEmpty() {
		return false
	}
	if len(exp.BookTitle) > 0 && !containsAnyNormalized(chunk.BookTitle, exp.BookTitle) {
		return false
	}
	if len(exp.SourcePath) > 0 && !containsAnyNormalized(chunk.SourcePath, exp.SourcePath) {
		return false
	}
	for _, kw := range exp.MustInclude {
		if !strings.Contains(chunk.Content, kw) {
			return false
		}
	}
	return true
}

// RetrievalResult is the outcome of one retrieval case. Rank is 1-based; 0 means no hit.
type RetrievalResult struct {
	ID           string   `json:"id"`
	Query        string   `json:"query"`
	Hit          bool     `json:"hit"`
	Rank         int      `json:"rank"`
	MRR          float64  `json:"mrr"`
	MatchedTitle string   `json:"matched_title"`
	AvgDistance  *float64 `json:"avg_distance"`
}

// GenerationResult is the outcome of one generation case.
type GenerationResult struct {
	ID            string   `json:"id"`
	Query         string   `json:"query"`
	CitationHit   bool     `json:"citation_hit"`
	CitationCount int      `json:"citation_count"`
	MatchedTitles []string `json:"matched_titles"`
	AnswerPreview string   `json:"answer_preview"`
}

// Summary aggregates a run. Only the metrics of the run's mode are set.
type Summary struct {
	Mode           string  `json:"mode"`
	Cases          int     `json:"cases"`
	HitRate        float64 `json:"hit_rate,omitempty"`
	MRR            float64 `json:"mrr,omitempty"`
	CitationRecall float64 `json:"citation_recall,omitempty"`
	AvgCitations   float64 `json:"avg_citations,omitempty"`
}

// Searcher retrieves chunks for a query.
type Searcher interface {
	Search(ctx context.Context, query string, opts retriever.SearchOptions) ([]models.Chunk, error)
}

// Asker answers a question.
type Asker interface {
	Ask(ctx context.Context, req *models.AskRequest) (*models.AskResult, error)
}

// Runner evaluates cases against a searcher or an asker.
type Runner struct {
	searcher Searcher
	asker    Asker
	topK     int
	logger   *zap.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithTopK sets the retrieval depth per case.
func WithTopK(k int) Option {
	return func(r *Runner) { r.topK = k }
}

// NewRunner creates a runner. Either dependency may be nil if its mode is not used.
func NewRunner(searcher Searcher, asker Asker, opts ...Option) *Runner {
	r := &Runner{searcher: searcher, asker: asker, topK: 5}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Retrieval evaluates every case by retrieval rank.
func (r *Runner) Retrieval(ctx context.Context, cases []Case) ([]RetrievalResult, Summary, error) {
	if r.searcher == nil {
		return nil, Summary{}, fmt.Errorf("%w: retrieval evaluation needs a searcher", models.ErrConfiguration)
	}
	results := make([]RetrievalResult, 0, len(cases))
	for _, c := range cases {
		chunks, err := r.searcher.Search(ctx, c.Query, retriever.SearchOptions{TopK: r.topK})
		if err != nil {
			return nil, Summary{}, fmt.Errorf("case %s: %w", c.ID, err)
		}
		res := RetrievalResult{ID: c.ID, Query: c.Query}
		for i, ch := range chunks {
			if Matches(ch, c.Expected) {
				res.Hit = true
				res.Rank = i + 1
				res.MRR = 1 / float64(i+1)
				res.MatchedTitle = ch.BookTitle
				break
			}
		}
		var sum float64
		var n int
		for _, ch := range chunks {
			if ch.Distance != nil {
				sum += *ch.Distance
				n++
			}
		}
		if n > 0 {
			avg := sum / float64(n)
			res.AvgDistance = &avg
		}
		if r.logger != nil {
			r.logger.Debug("eval retrieval case", zap.String("id", c.ID), zap.Bool("hit", res.Hit), zap.Int("rank", res.Rank))
		}
		results = append(results, res)
	}
	return results, SummarizeRetrieval(results), nil
}

// SummarizeRetrieval computes hit rate and mean reciprocal rank.
func SummarizeRetrieval(results []RetrievalResult) Summary {
	s := Summary{Mode: ModeRetrieval, Cases: len(results)}
	if len(results) == 0 {
		return s
	}
	for _, r := range results {
		if r.Hit {
			s.HitRate++
		}
		s.MRR += r.MRR
	}
	s.HitRate /= float64(len(results))
	s.MRR /= float64(len(results))
	return s
}

// Generation evaluates every case by whether the answer cites an expected book. Each case
// is asked in a fresh conversation without context.
func (r *Runner) Generation(ctx context.Context, cases []Case) ([]GenerationResult, Summary, error) {
	if r.asker == nil {
		return nil, Summary{}, fmt.Errorf("%w: generation evaluation needs an asker", models.ErrConfiguration)
	}
	noContext := false
	results := make([]GenerationResult, 0, len(cases))
	for _, c := range cases {
		res, err := r.asker.Ask(ctx, &models.AskRequest{Query: c.Query, UseContext: &noContext, TopK: r.topK})
		if err != nil {
			return nil, Summary{}, fmt.Errorf("case %s: %w", c.ID, err)
		}
		out := GenerationResult{
			ID:            c.ID,
			Query:         c.Query,
			CitationCount: len(res.Citations),
			MatchedTitles: []string{},
			AnswerPreview: preview(res.Answer),
		}
		if len(c.Expected.BookTitle) > 0 {
			for _, cit := range res.Citations {
				if containsAnyNormalized(cit.BookTitle, c.Expected.BookTitle) {
					out.CitationHit = true
					if !slices.Contains(out.MatchedTitles, cit.BookTitle) {
						out.MatchedTitles = append(out.MatchedTitles, cit.BookTitle)
					}
				}
			}
		}
		if r.logger != nil {
			r.logger.Debug("eval generation case", zap.String("id", c.ID), zap.Bool("citation_hit", out.CitationHit))
		}
		results = append(results, out)
	}
	return results, SummarizeGeneration(results), nil
}

// SummarizeGeneration computes citation recall and the average citation count.
func SummarizeGeneration(results []GenerationResult) Summary {
	s := Summary{Mode: ModeGeneration, Cases: len(results)}
	if len(results) == 0 {
		return s
	}
	for _, r := range results {
		if r.CitationHit {
			s.CitationRecall++
		}
		s.AvgCitations += float64(r.CitationCount)
	}
	s.CitationRecall /= float64(len(results))
	s.AvgCitations /= float64(len(results))
	return s
}

func preview(answer string) string {
	return utils.Truncate(strings.ReplaceAll(answer, "\n", " "), previewRunes)
}
