package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/readmatrix/internal/retry"
)

const providerOllama = "ollama"

// OllamaClient talks to Ollama's /api/chat endpoint.
type OllamaClient struct {
	host   string
	model  string
	client *http.Client
	policy *retry.Policy
	logger *zap.Logger
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Options  ollamaOptions       `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatResponse struct {
	Message ollamaChatMessage `json:"message"`
	Done    bool              `json:"done"`
	Error   string            `json:"error"`
}

// NewOllamaClient creates a client for the Ollama server at host.
func NewOllamaClient(host, model string, policy *retry.Policy, timeout time.Duration, logger *zap.Logger) *OllamaClient {
	host = strings.TrimRight(host, "/")
	if host == "" {
		host = "http://localhost:11434"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if policy == nil {
		policy = retry.Default()
	}
	return &OllamaClient{
		host:   host,
		model:  model,
		client: &http.Client{Timeout: timeout},
		policy: policy,
		logger: logger,
	}
}

func (c *OllamaClient) post(ctx context.Context, req Request, stream bool) (*http.Response, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	payload := ollamaChatRequest{
		Model:    model,
		Stream:   stream,
		Options:  ollamaOptions{Temperature: req.Temperature, NumPredict: req.MaxTokens},
		Messages: make([]ollamaChatMessage, len(req.Messages)),
	}
	for i, m := range req.Messages {
		payload.Messages[i] = ollamaChatMessage(m)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal ollama request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create ollama request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, retry.Classify(providerOllama, err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		return nil, retry.FromStatus(providerOllama, resp.StatusCode, string(data))
	}
	return resp, nil
}

// Complete returns the full reply.
func (c *OllamaClient) Complete(ctx context.Context, req Request) (string, error) {
	var content string
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		resp, err := c.post(ctx, req, false)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		var parsed ollamaChatResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return fmt.Errorf("decode ollama response: %w", err)
		}
		if parsed.Error != "" {
			return fmt.Errorf("ollama chat error: %s", parsed.Error)
		}
		content = parsed.Message.Content
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama chat: %w", err)
	}
	return content, nil
}

// Stream decodes the NDJSON response and sends each content delta to fn.
// Only failures before the response starts are retried.
func (c *OllamaClient) Stream(ctx context.Context, req Request, fn func(string) error) error {
	var resp *http.Response
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		resp, err = c.post(ctx, req, true)
		return err
	})
	if err != nil {
		return fmt.Errorf("ollama chat stream: %w", err)
	}
	defer resp.Body.Close()

	dec := json.NewDecoder(resp.Body)
	for {
		var chunk ollamaChatResponse
		if err := dec.Decode(&chunk); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("decode ollama stream response: %w", retry.Classify(providerOllama, err))
		}
		if chunk.Error != "" {
			return fmt.Errorf("ollama chat error: %s", chunk.Error)
		}
		if chunk.Message.Content != "" {
			if err := fn(chunk.Message.Content); err != nil {
				return err
			}
		}
		if chunk.Done {
			return nil
		}
	}
}
