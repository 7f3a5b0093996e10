package rerank

import (
	"go.uber.org/zap"

	"github.com/hyperjump/readmatrix/internal/config"
	"github.com/hyperjump/readmatrix/internal/retry"
)

// New returns a SiliconFlow reranker when reranking is enabled and a SiliconFlow key is set,
// and Noop otherwise.
func New(cfg *config.Config, policy *retry.Policy, logger *zap.Logger) Reranker {
	if !cfg.Rerank.EnabledOrDefault() || cfg.SiliconFlow.APIKey == "" {
		if logger != nil && cfg.Rerank.EnabledOrDefault() {
			logger.Info("reranking disabled: SILICONFLOW_API_KEY not set")
		}
		return Noop{}
	}
	return NewSiliconFlow(cfg.SiliconFlow.BaseURL, cfg.SiliconFlow.APIKey, cfg.Rerank.Model, policy, cfg.Providers.Timeout, logger)
}
