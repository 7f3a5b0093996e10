package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/hyperjump/readmatrix/internal/retry"
)

// OpenAIClient talks to any OpenAI-compatible chat completions endpoint.
type OpenAIClient struct {
	client   *openai.Client
	provider string
	model    string
	policy   *retry.Policy
	logger   *zap.Logger
}

// NewOpenAIClient creates a client. An empty baseURL keeps the OpenAI default.
func NewOpenAIClient(provider, apiKey, baseURL, model string, policy *retry.Policy, timeout time.Duration, logger *zap.Logger) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if timeout > 0 {
		cfg.HTTPClient = &http.Client{Timeout: timeout}
	}
	if policy == nil {
		policy = retry.Default()
	}
	return &OpenAIClient{
		client:   openai.NewClientWithConfig(cfg),
		provider: provider,
		model:    model,
		policy:   policy,
		logger:   logger,
	}
}

func (c *OpenAIClient) request(req Request, stream bool) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = c.model
	}
	out := openai.ChatCompletionRequest{
		Model:       model,
		Temperature: temperature(req.Temperature),
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	}
	out.Messages = make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, msg := range req.Messages {
		out.Messages[i] = openai.ChatCompletionMessage{Role: msg.Role, Content: msg.Content}
	}
	return out
}

// temperature maps 0 to the smallest positive float32 because the zero value is dropped
// from the request body and the server would fall back to its default of 1.
func temperature(t float64) float32 {
	if t <= 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(t)
}

// Complete returns the first choice's content.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (string, error) {
	var content string
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		resp, err := c.client.CreateChatCompletion(ctx, c.request(req, false))
		if err != nil {
			return retry.FromOpenAI(c.provider, err)
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("%s chat completion returned no choices", c.provider)
		}
		content = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("create %s chat completion: %w", c.provider, err)
	}
	return content, nil
}

// Stream sends deltas to fn. Only failures before the first delta are retried.
func (c *OpenAIClient) Stream(ctx context.Context, req Request, fn func(string) error) error {
	emitted := false
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		stream, err := c.client.CreateChatCompletionStream(ctx, c.request(req, true))
		if err != nil {
			return retry.FromOpenAI(c.provider, err)
		}
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				err = retry.FromOpenAI(c.provider, err)
				if emitted {
					return &retry.Error{Kind: retry.Fatal, Provider: c.provider, Err: err}
				}
				return err
			}
			if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
				continue
			}
			emitted = true
			if err := fn(resp.Choices[0].Delta.Content); err != nil {
				return err
			}
		}
	})
	if err != nil {
		if c.logger != nil {
			c.logger.Debug("chat stream ended with error", zap.String("provider", c.provider), zap.Error(err))
		}
		return fmt.Errorf("stream %s chat completion: %w", c.provider, err)
	}
	return nil
}
