package embedding

import (
	"context"
	"fmt"
	"sync"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/hyperjump/readmatrix/internal/models"
	"github.com/hyperjump/readmatrix/internal/retry"
)

// OpenAIEmbedder calls an OpenAI-compatible /embeddings endpoint. SiliconFlow uses the same
// client with its own base URL.
type OpenAIEmbedder struct {
	client   *openai.Client
	provider string
	model    string
	opts     options

	mu         sync.RWMutex
	dimensions int
}

// NewOpenAIEmbedder creates an embedder for provider (used in errors and logs).
// An empty baseURL keeps the OpenAI default.
func NewOpenAIEmbedder(provider, apiKey, baseURL, model string, opts ...Option) *OpenAIEmbedder {
	o := newOptions(100, opts)
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.HTTPClient = o.httpClient
	return &OpenAIEmbedder{
		client:     openai.NewClientWithConfig(cfg),
		provider:   provider,
		model:      model,
		opts:       o,
		dimensions: o.dimensions,
	}
}

// Embed sends texts in batches and returns their vectors in input order.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.opts.batchSize {
		end := min(start+e.opts.batchSize, len(texts))
		batch, err := e.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}
	return out, nil
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var resp openai.EmbeddingResponse
	err := e.opts.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		resp, err = e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Model: openai.EmbeddingModel(e.model),
			Input: texts,
		})
		return retry.FromOpenAI(e.provider, err)
	})
	if err != nil {
		return nil, fmt.Errorf("create %s embeddings: %w", e.provider, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%s returned %d embeddings for %d inputs", e.provider, len(resp.Data), len(texts))
	}

	results := make([][]float32, len(texts))
	for _, datum := range resp.Data {
		if datum.Index < 0 || datum.Index >= len(texts) {
			return nil, fmt.Errorf("%s returned embedding index %d out of range", e.provider, datum.Index)
		}
		if err := e.checkDimensions(len(datum.Embedding)); err != nil {
			return nil, err
		}
		results[datum.Index] = datum.Embedding
	}
	if e.opts.logger != nil {
		e.opts.logger.Debug("embedded batch", zap.String("provider", e.provider), zap.Int("texts", len(texts)))
	}
	return results, nil
}

func (e *OpenAIEmbedder) checkDimensions(n int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dimensions == 0 {
		e.dimensions = n
		return nil
	}
	if n != e.dimensions {
		return fmt.Errorf("%s embedding dimension mismatch: expected %d, got %d: %w", e.provider, e.dimensions, n, models.ErrConfiguration)
	}
	return nil
}

// Dimensions returns the vector size.
func (e *OpenAIEmbedder) Dimensions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dimensions
}

// Close is a no-op.
func (e *OpenAIEmbedder) Close() error {
	return nil
}
