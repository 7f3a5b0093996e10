// Package embedding provides text embedding providers and caching.
package embedding

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/readmatrix/internal/retry"
)

// Embedder produces vector embeddings for text. Embed returns one vector per input, in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions returns the vector size, or 0 until the first successful call when unknown.
	Dimensions() int
	Close() error
}

type options struct {
	logger     *zap.Logger
	batchSize  int
	dimensions int
	policy     *retry.Policy
	httpClient *http.Client
}

// Option configures a provider embedder.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithBatchSize sets how many texts are sent per request.
func WithBatchSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithDimensions sets the expected vector size; responses of another size are rejected.
func WithDimensions(n int) Option {
	return func(o *options) {
		o.dimensions = n
	}
}

// WithRetryPolicy sets the retry policy for provider calls.
func WithRetryPolicy(p *retry.Policy) Option {
	return func(o *options) {
		if p != nil {
			o.policy = p
		}
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.httpClient = &http.Client{Timeout: d}
		}
	}
}

func newOptions(defaultBatch int, opts []Option) options {
	o := options{
		batchSize:  defaultBatch,
		policy:     retry.Default(),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
