package rerank

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/readmatrix/internal/config"
	"github.com/hyperjump/readmatrix/internal/retry"
)

func fastPolicy() *retry.Policy {
	return retry.NewPolicy(3, time.Millisecond, 2*time.Millisecond, 0, 0)
}

func TestNoop(t *testing.T) {
	idx, err := Noop{}.Rerank(context.Background(), "q", []string{"a", "b", "c"}, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, idx)
	assert.False(t, Noop{}.Enabled())
}

func TestSiliconFlow_Rerank(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		assert.Equal(t, "/v1/rerank", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var req rerankRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		assert.Equal(t, "BAAI/bge-reranker-v2-m3", req.Model)
		assert.Equal(t, 2, req.TopN)
		assert.False(t, req.ReturnDocuments)
		_, _ = w.Write([]byte(`{"results":[{"index":2,"relevance_score":0.9},{"index":9,"relevance_score":0.8},{"index":0,"relevance_score":0.5}]}`))
	}))
	defer srv.Close()

	s := NewSiliconFlow(srv.URL+"/v1/", "secret", "BAAI/bge-reranker-v2-m3", fastPolicy(), time.Second, nil)
	idx, err := s.Rerank(context.Background(), "复利", []string{"a", "b", "c"}, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 0}, idx)
	assert.True(t, s.Enabled())
}

func TestSiliconFlow_FatalError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"bad model"}`))
	}))
	defer srv.Close()

	s := NewSiliconFlow(srv.URL, "k", "m", fastPolicy(), time.Second, nil)
	_, err := s.Rerank(context.Background(), "q", []string{"a"}, 1)
	require.Error(t, err)
	assert.False(t, retry.IsTransient(err))
}

func TestSiliconFlow_Empty(t *testing.T) {
	s := NewSiliconFlow("http://unused", "k", "m", fastPolicy(), time.Second, nil)
	idx, err := s.Rerank(context.Background(), "q", nil, 5)
	require.NoError(t, err)
	assert.Empty(t, idx)
}

func TestNew(t *testing.T) {
	cfg := &config.Config{}
	assert.IsType(t, Noop{}, New(cfg, nil, nil))

	cfg.SiliconFlow.APIKey = "k"
	assert.IsType(t, &SiliconFlow{}, New(cfg, nil, nil))

	off := false
	cfg.Rerank.Enabled = &off
	assert.IsType(t, Noop{}, New(cfg, nil, nil))
}
