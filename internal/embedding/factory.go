package embedding

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/readmatrix/internal/config"
	"github.com/hyperjump/readmatrix/internal/models"
	"github.com/hyperjump/readmatrix/internal/retry"
)

// New creates the embedder selected by cfg.Embedding.Provider.
func New(cfg *config.Config, policy *retry.Policy, logger *zap.Logger) (Embedder, error) {
	opts := []Option{
		WithLogger(logger),
		WithBatchSize(cfg.Embedding.BatchSize),
		WithDimensions(cfg.Embedding.Dimensions),
		WithRetryPolicy(policy),
		WithTimeout(cfg.Providers.Timeout),
	}
	switch cfg.Embedding.Provider {
	case config.ProviderOpenAI:
		if cfg.OpenAI.APIKey == "" {
			return nil, fmt.Errorf("openai embedding provider selected but OPENAI_API_KEY not set: %w", models.ErrConfiguration)
		}
		return NewOpenAIEmbedder(config.ProviderOpenAI, cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.Embedding.Model, opts...), nil
	case config.ProviderSiliconFlow:
		if cfg.SiliconFlow.APIKey == "" {
			return nil, fmt.Errorf("siliconflow embedding provider selected but SILICONFLOW_API_KEY not set: %w", models.ErrConfiguration)
		}
		return NewOpenAIEmbedder(config.ProviderSiliconFlow, cfg.SiliconFlow.APIKey, cfg.SiliconFlow.BaseURL, cfg.Embedding.Model, opts...), nil
	case config.ProviderOllama:
		return NewOllamaEmbedder(cfg.Ollama.Host, cfg.Embedding.Model, opts...), nil
	case config.ProviderMock:
		return NewMockEmbedder(cfg.Embedding.Dimensions), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q: %w", cfg.Embedding.Provider, models.ErrConfiguration)
	}
}
