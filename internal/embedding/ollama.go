package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/hyperjump/readmatrix/internal/models"
	"github.com/hyperjump/readmatrix/internal/retry"
)

const providerOllama = "ollama"

// OllamaEmbedder calls Ollama's /api/embeddings endpoint, one text per request.
type OllamaEmbedder struct {
	host  string
	model string
	opts  options

	mu         sync.RWMutex
	dimensions int
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaResponse struct {
	Embedding []float64 `json:"embedding"`
	Error     string    `json:"error"`
}

// NewOllamaEmbedder creates an embedder for the Ollama server at host.
func NewOllamaEmbedder(host, model string, opts ...Option) *OllamaEmbedder {
	host = strings.TrimRight(host, "/")
	if host == "" {
		host = "http://localhost:11434"
	}
	o := newOptions(1, opts)
	return &OllamaEmbedder{host: host, model: model, opts: o, dimensions: o.dimensions}
}

// Embed returns one vector per text.
func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, 0, len(texts))
	for _, text := range texts {
		var vec []float32
		err := e.opts.policy.Do(ctx, func(ctx context.Context) error {
			var err error
			vec, err = e.embedOne(ctx, text)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("ollama embeddings: %w", err)
		}
		if err := e.checkDimensions(len(vec)); err != nil {
			return nil, err
		}
		results = append(results, vec)
	}
	return results, nil
}

func (e *OllamaEmbedder) embedOne(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaRequest{Model: e.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("marshal ollama request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.host+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.opts.httpClient.Do(req)
	if err != nil {
		return nil, retry.Classify(providerOllama, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		return nil, retry.FromStatus(providerOllama, resp.StatusCode, string(data))
	}

	var payload ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode ollama response: %w", err)
	}
	if payload.Error != "" {
		return nil, fmt.Errorf("ollama embeddings error: %s", payload.Error)
	}
	if len(payload.Embedding) == 0 {
		return nil, fmt.Errorf("ollama returned an empty embedding")
	}
	vec := make([]float32, len(payload.Embedding))
	for i, v := range payload.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

func (e *OllamaEmbedder) checkDimensions(n int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dimensions == 0 {
		e.dimensions = n
		return nil
	}
	if n != e.dimensions {
		return fmt.Errorf("ollama embedding dimension mismatch: expected %d, got %d: %w", e.dimensions, n, models.ErrConfiguration)
	}
	return nil
}

// Dimensions returns the vector size.
func (e *OllamaEmbedder) Dimensions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dimensions
}

// Close is a no-op.
func (e *OllamaEmbedder) Close() error {
	return nil
}
