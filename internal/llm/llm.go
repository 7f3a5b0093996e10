// Package llm provides chat completion clients for OpenAI-compatible APIs and Ollama.
package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/readmatrix/internal/config"
	"github.com/hyperjump/readmatrix/internal/models"
	"github.com/hyperjump/readmatrix/internal/retry"
)

const (
	RoleSystem    = models.RoleSystem
	RoleUser      = models.RoleUser
	RoleAssistant = models.RoleAssistant
)

// Message is one chat message.
type Message struct {
	Role    string
	Content string
}

// Request is a chat completion request. An empty Model uses the client default;
// MaxTokens <= 0 leaves the limit to the provider.
type Request struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// UserPrompt builds a request with a single user message.
func UserPrompt(prompt string, temperature float64, maxTokens int) Request {
	return Request{
		Messages:    []Message{{Role: RoleUser, Content: prompt}},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}
}

// Client generates chat completions.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
	// Stream calls fn with each content delta in order. An error from fn stops the stream and is returned.
	Stream(ctx context.Context, req Request, fn func(delta string) error) error
}

// New creates the client selected by cfg.LLM.Provider.
func New(cfg *config.Config, policy *retry.Policy, logger *zap.Logger) (Client, error) {
	if policy == nil {
		policy = retry.Default()
	}
	switch cfg.LLM.Provider {
	case config.ProviderOpenAI:
		if cfg.OpenAI.APIKey == "" {
			return nil, fmt.Errorf("openai provider selected but OPENAI_API_KEY not set: %w", models.ErrConfiguration)
		}
		return NewOpenAIClient(config.ProviderOpenAI, cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.LLM.Model,
			policy, cfg.Providers.Timeout, logger), nil
	case config.ProviderSiliconFlow:
		if cfg.SiliconFlow.APIKey == "" {
			return nil, fmt.Errorf("siliconflow provider selected but SILICONFLOW_API_KEY not set: %w", models.ErrConfiguration)
		}
		return NewOpenAIClient(config.ProviderSiliconFlow, cfg.SiliconFlow.APIKey, cfg.SiliconFlow.BaseURL, cfg.LLM.Model,
			policy, cfg.Providers.Timeout, logger), nil
	case config.ProviderOllama:
		return NewOllamaClient(cfg.Ollama.Host, cfg.LLM.Model, policy, cfg.Providers.Timeout, logger), nil
	case config.ProviderMock:
		return NewMockClient(nil), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q: %w", cfg.LLM.Provider, models.ErrConfiguration)
	}
}
