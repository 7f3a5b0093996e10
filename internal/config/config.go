// Package config provides configuration loading and structs for the ReadMatrix server and CLI.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hyperjump/readmatrix/internal/models"
)

// Provider names accepted by the llm and embedding sections.
const (
	ProviderOpenAI      = "openai"
	ProviderSiliconFlow = "siliconflow"
	ProviderOllama      = "ollama"
	ProviderMock        = "mock"
)

// Config holds all configuration for the application.
type Config struct {
	Debug        bool               `yaml:"debug"`
	Server       ServerConfig       `yaml:"server"`
	Vault        VaultConfig        `yaml:"vault"`
	Storage      StorageConfig      `yaml:"storage"`
	OpenAI       OpenAIConfig       `yaml:"openai"`
	SiliconFlow  SiliconFlowConfig  `yaml:"siliconflow"`
	Ollama       OllamaConfig       `yaml:"ollama"`
	LLM          LLMConfig          `yaml:"llm"`
	Embedding    EmbeddingConfig    `yaml:"embedding"`
	Rerank       RerankConfig       `yaml:"rerank"`
	Retrieval    RetrievalConfig    `yaml:"retrieval"`
	QA           QAConfig           `yaml:"qa"`
	Conversation ConversationConfig `yaml:"conversation"`
	Providers    ProvidersConfig    `yaml:"providers"`
	Watch        WatchConfig        `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// VaultConfig locates the Markdown vault and its WeRead highlights folder.
type VaultConfig struct {
	Path         string `yaml:"path"`
	WeReadFolder string `yaml:"weread_folder"`
	// Name is the Obsidian vault name used in deep links; defaults to the vault directory name.
	Name string `yaml:"name"`
}

// VaultName returns the configured vault name or the base name of the vault path.
func (v *VaultConfig) VaultName() string {
	if v.Name != "" {
		return v.Name
	}
	return filepath.Base(filepath.Clean(v.Path))
}

// StorageConfig holds paths for the database and indices.
type StorageConfig struct {
	DataDir        string `yaml:"data_dir"`
	DatabasePath   string `yaml:"database_path"`
	VectorPath     string `yaml:"vector_path"`
	BleveIndexPath string `yaml:"bleve_index_path"`
}

// OpenAIConfig holds OpenAI credentials.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// SiliconFlowConfig holds SiliconFlow credentials, shared by chat, embedding, and rerank.
type SiliconFlowConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// OllamaConfig holds the local Ollama endpoint.
type OllamaConfig struct {
	Host string `yaml:"host"`
}

// LLMConfig selects the generation provider.
type LLMConfig struct {
	Provider    string   `yaml:"provider"`
	Model       string   `yaml:"model"`
	Temperature *float64 `yaml:"temperature"`
}

// TemperatureOrDefault returns the answer temperature; defaults to 0.5 when unset.
func (l *LLMConfig) TemperatureOrDefault() float64 {
	if l.Temperature != nil {
		return *l.Temperature
	}
	return 0.5
}

// EmbeddingConfig selects the embedding provider.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	BatchSize  int    `yaml:"batch_size"`
	CacheSize  int    `yaml:"cache_size"`
}

// RerankConfig configures the cross-encoder reranker.
type RerankConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Model   string `yaml:"model"`
}

// EnabledOrDefault returns whether reranking is on; defaults to true when unset.
func (r *RerankConfig) EnabledOrDefault() bool {
	if r.Enabled != nil {
		return *r.Enabled
	}
	return true
}

// RetrievalConfig holds retriever settings.
type RetrievalConfig struct {
	TopK int `yaml:"top_k"`
	// MaxDistance is the cosine distance ceiling; 0 disables the filter.
	MaxDistance *float64 `yaml:"max_distance"`
	// ContextWindow is the number of neighbors added on each side of a seed chunk; 0 disables.
	ContextWindow *int  `yaml:"context_window"`
	QueryRewrite  *bool `yaml:"query_rewrite"`
	KeywordRecall bool  `yaml:"keyword_recall"`
}

// MaxDistanceOrDefault returns the distance ceiling; defaults to 0.4 when unset.
func (r *RetrievalConfig) MaxDistanceOrDefault() float64 {
	if r.MaxDistance != nil {
		return *r.MaxDistance
	}
	return 0.4
}

// ContextWindowOrDefault returns the neighbor window; defaults to 1 when unset.
func (r *RetrievalConfig) ContextWindowOrDefault() int {
	if r.ContextWindow != nil {
		return *r.ContextWindow
	}
	return 1
}

// QueryRewriteOrDefault returns whether to rewrite queries; defaults to true when unset.
func (r *RetrievalConfig) QueryRewriteOrDefault() bool {
	if r.QueryRewrite != nil {
		return *r.QueryRewrite
	}
	return true
}

// QAConfig holds answer generation settings.
type QAConfig struct {
	// NoteRatio is the target share (0-100) of note content in answers.
	NoteRatio *int `yaml:"note_ratio"`
}

// NoteRatioOrDefault returns the note ratio clamped to 0-100; defaults to 80 when unset.
func (q *QAConfig) NoteRatioOrDefault() int {
	if q.NoteRatio == nil {
		return 80
	}
	switch r := *q.NoteRatio; {
	case r < 0:
		return 0
	case r > 100:
		return 100
	default:
		return r
	}
}

// ConversationConfig holds memory window and summary settings.
type ConversationConfig struct {
	WindowTurns         int `yaml:"window_turns"`
	SummaryRefreshEvery int `yaml:"summary_refresh_every"`
	SummaryMaxChars     int `yaml:"summary_max_chars"`
}

// ProvidersConfig holds retry and throttling settings for all network providers.
type ProvidersConfig struct {
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	MaxAttempts       int           `yaml:"max_attempts"`
	BaseDelay         time.Duration `yaml:"base_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	Timeout           time.Duration `yaml:"timeout"`
}

// WatchConfig holds vault watch settings.
type WatchConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Debounce time.Duration `yaml:"debounce"`
}

// Load reads and parses the config file at path, applies environment overrides and defaults,
// and expands paths. Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyEnv(&cfg)
	ApplyDefaults(&cfg)
	cfg.expandPaths(filepath.Dir(path))
	return &cfg, nil
}

// Default returns the configuration used when no config file exists: environment
// overrides and defaults, with "./" paths resolved against dir.
func Default(dir string) *Config {
	var cfg Config
	applyEnv(&cfg)
	ApplyDefaults(&cfg)
	cfg.expandPaths(dir)
	return &cfg
}

func (c *Config) expandPaths(configDir string) {
	c.Vault.Path = expandPath(c.Vault.Path, configDir)
	c.Storage.DataDir = expandPath(c.Storage.DataDir, configDir)
	c.Storage.DatabasePath = expandPath(c.Storage.DatabasePath, configDir)
	c.Storage.VectorPath = expandPath(c.Storage.VectorPath, configDir)
	c.Storage.BleveIndexPath = expandPath(c.Storage.BleveIndexPath, configDir)
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate reports missing credentials for the selected providers and unknown provider names.
// Errors wrap models.ErrConfiguration.
func (c *Config) Validate() error {
	if err := c.checkProvider("llm", c.LLM.Provider); err != nil {
		return err
	}
	return c.checkProvider("embedding", c.Embedding.Provider)
}

func (c *Config) checkProvider(section, provider string) error {
	switch provider {
	case ProviderOpenAI:
		if c.OpenAI.APIKey == "" {
			return fmt.Errorf("%w: %s provider openai requires OPENAI_API_KEY", models.ErrConfiguration, section)
		}
	case ProviderSiliconFlow:
		if c.SiliconFlow.APIKey == "" {
			return fmt.Errorf("%w: %s provider siliconflow requires SILICONFLOW_API_KEY", models.ErrConfiguration, section)
		}
	case ProviderOllama, ProviderMock:
	default:
		return fmt.Errorf("%w: unknown %s provider %q", models.ErrConfiguration, section, provider)
	}
	return nil
}

// applyEnv overrides secrets and the vault location from the environment.
func applyEnv(cfg *Config) {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.OpenAI.APIKey == "" {
		cfg.OpenAI.APIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" && cfg.OpenAI.BaseURL == "" {
		cfg.OpenAI.BaseURL = v
	}
	if v := os.Getenv("SILICONFLOW_API_KEY"); v != "" && cfg.SiliconFlow.APIKey == "" {
		cfg.SiliconFlow.APIKey = v
	}
	if v := os.Getenv("READMATRIX_VAULT_PATH"); v != "" {
		cfg.Vault.Path = v
	}
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
