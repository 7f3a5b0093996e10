package config

import (
	"strings"
	"time"
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Vault.Path == "" {
		cfg.Vault.Path = "./vault"
	}
	if cfg.Vault.WeReadFolder == "" {
		cfg.Vault.WeReadFolder = "微信读书"
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "./data"
	}
	// Derived paths keep the data_dir prefix verbatim so "./" stays relative to the config file.
	dataDir := strings.TrimRight(cfg.Storage.DataDir, "/")
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = dataDir + "/readmatrix.db"
	}
	if cfg.Storage.VectorPath == "" {
		cfg.Storage.VectorPath = dataDir + "/vectors/store.bin"
	}
	if cfg.Storage.BleveIndexPath == "" {
		cfg.Storage.BleveIndexPath = dataDir + "/bleve"
	}
	if cfg.SiliconFlow.BaseURL == "" {
		cfg.SiliconFlow.BaseURL = "https://api.siliconflow.cn/v1"
	}
	if cfg.Ollama.Host == "" {
		cfg.Ollama.Host = "http://localhost:11434"
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = ProviderOpenAI
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4o-mini"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = cfg.LLM.Provider
	}
	if cfg.Embedding.Model == "" {
		switch cfg.Embedding.Provider {
		case ProviderOllama:
			cfg.Embedding.Model = "nomic-embed-text"
		case ProviderSiliconFlow:
			cfg.Embedding.Model = "BAAI/bge-m3"
		default:
			cfg.Embedding.Model = "text-embedding-3-small"
		}
	}
	if cfg.Embedding.BatchSize == 0 {
		switch cfg.Embedding.Provider {
		case ProviderSiliconFlow:
			cfg.Embedding.BatchSize = 24
		case ProviderOllama:
			cfg.Embedding.BatchSize = 1
		default:
			cfg.Embedding.BatchSize = 100
		}
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 1000
	}
	if cfg.Rerank.Model == "" {
		cfg.Rerank.Model = "BAAI/bge-reranker-v2-m3"
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 5
	}
	if cfg.Conversation.WindowTurns <= 0 {
		cfg.Conversation.WindowTurns = 6
	}
	if cfg.Conversation.SummaryRefreshEvery <= 0 {
		cfg.Conversation.SummaryRefreshEvery = 8
	}
	if cfg.Conversation.SummaryMaxChars == 0 {
		cfg.Conversation.SummaryMaxChars = 1200
	}
	if cfg.Conversation.SummaryMaxChars < 200 {
		cfg.Conversation.SummaryMaxChars = 200
	}
	if cfg.Providers.MaxAttempts == 0 {
		cfg.Providers.MaxAttempts = 5
	}
	if cfg.Providers.BaseDelay == 0 {
		cfg.Providers.BaseDelay = time.Second
	}
	if cfg.Providers.MaxDelay == 0 {
		cfg.Providers.MaxDelay = 30 * time.Second
	}
	if cfg.Providers.Timeout == 0 {
		cfg.Providers.Timeout = 60 * time.Second
	}
	if cfg.Providers.Burst == 0 {
		cfg.Providers.Burst = 1
	}
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 400 * time.Millisecond
	}
}
