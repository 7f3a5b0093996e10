// Package rerank reorders retrieved passages with a cross-encoder service.
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/readmatrix/internal/retry"
)

const providerSiliconFlow = "siliconflow"

// Reranker returns indices into docs, most relevant first, at most topN of them.
type Reranker interface {
	Rerank(ctx context.Context, query string, docs []string, topN int) ([]int, error)
	Enabled() bool
}

// Noop keeps the input order.
type Noop struct{}

// Rerank returns the first topN indices in order.
func (Noop) Rerank(ctx context.Context, query string, docs []string, topN int) ([]int, error) {
	n := len(docs)
	if topN > 0 && topN < n {
		n = topN
	}
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out, nil
}

// Enabled reports false so callers can skip the call entirely.
func (Noop) Enabled() bool { return false }

// SiliconFlow calls the SiliconFlow /rerank endpoint.
type SiliconFlow struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	policy  *retry.Policy
	logger  *zap.Logger
}

type rerankRequest struct {
	Model           string   `json:"model"`
	Query           string   `json:"query"`
	Documents       []string `json:"documents"`
	TopN            int      `json:"top_n"`
	ReturnDocuments bool     `json:"return_documents"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// NewSiliconFlow creates a reranker for the API at baseURL (e.g. https://api.siliconflow.cn/v1).
func NewSiliconFlow(baseURL, apiKey, model string, policy *retry.Policy, timeout time.Duration, logger *zap.Logger) *SiliconFlow {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if policy == nil {
		policy = retry.Default()
	}
	return &SiliconFlow{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: timeout},
		policy:  policy,
		logger:  logger,
	}
}

// Enabled reports true.
func (s *SiliconFlow) Enabled() bool { return true }

// Rerank scores docs against query. Out-of-range indices in the response are dropped.
func (s *SiliconFlow) Rerank(ctx context.Context, query string, docs []string, topN int) ([]int, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	if topN <= 0 || topN > len(docs) {
		topN = len(docs)
	}
	body, err := json.Marshal(rerankRequest{
		Model:     s.model,
		Query:     query,
		Documents: docs,
		TopN:      topN,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	var parsed rerankResponse
	err = s.policy.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/rerank", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create rerank request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+s.apiKey)

		resp, err := s.client.Do(req)
		if err != nil {
			return retry.Classify(providerSiliconFlow, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			data, _ := io.ReadAll(resp.Body)
			return retry.FromStatus(providerSiliconFlow, resp.StatusCode, string(data))
		}
		parsed = rerankResponse{}
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return fmt.Errorf("decode rerank response: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("rerank: %w", err)
	}

	out := make([]int, 0, len(parsed.Results))
	seen := make(map[int]bool, len(parsed.Results))
	for _, r := range parsed.Results {
		if r.Index < 0 || r.Index >= len(docs) || seen[r.Index] {
			continue
		}
		seen[r.Index] = true
		out = append(out, r.Index)
		if len(out) == topN {
			break
		}
	}
	if s.logger != nil {
		s.logger.Debug("reranked", zap.Int("docs", len(docs)), zap.Int("kept", len(out)))
	}
	return out, nil
}
