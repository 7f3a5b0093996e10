package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/readmatrix/internal/models"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  database_path: "./test.db"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Storage.DatabasePath != filepath.Join(filepath.Dir(path), "test.db") {
		t.Errorf("DatabasePath = %q", cfg.Storage.DatabasePath)
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
}

func TestLoad_debugTrue(t *testing.T) {
	path := writeConfig(t, "debug: true\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Debug {
		t.Error("debug should be true when set in config")
	}
}

func TestLoad_defaults(t *testing.T) {
	t.Setenv("READMATRIX_VAULT_PATH", "")
	path := writeConfig(t, "{}\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	dir := filepath.Dir(path)

	if cfg.Server.Port != 8000 {
		t.Errorf("Port = %d, want 8000", cfg.Server.Port)
	}
	if cfg.Vault.Path != filepath.Join(dir, "vault") {
		t.Errorf("Vault.Path = %q", cfg.Vault.Path)
	}
	if cfg.Vault.WeReadFolder != "微信读书" {
		t.Errorf("WeReadFolder = %q", cfg.Vault.WeReadFolder)
	}
	if cfg.Storage.DataDir != filepath.Join(dir, "data") {
		t.Errorf("DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Storage.DatabasePath != filepath.Join(dir, "data", "readmatrix.db") {
		t.Errorf("DatabasePath = %q", cfg.Storage.DatabasePath)
	}
	if cfg.Storage.VectorPath != filepath.Join(dir, "data", "vectors", "store.bin") {
		t.Errorf("VectorPath = %q", cfg.Storage.VectorPath)
	}
	if cfg.LLM.Model != "gpt-4o-mini" || cfg.LLM.TemperatureOrDefault() != 0.5 {
		t.Errorf("unexpected llm defaults: %+v", cfg.LLM)
	}
	if cfg.Embedding.Model != "text-embedding-3-small" || cfg.Embedding.BatchSize != 100 {
		t.Errorf("unexpected embedding defaults: %+v", cfg.Embedding)
	}
	if cfg.Rerank.Model != "BAAI/bge-reranker-v2-m3" || !cfg.Rerank.EnabledOrDefault() {
		t.Errorf("unexpected rerank defaults: %+v", cfg.Rerank)
	}
	if cfg.Retrieval.TopK != 5 {
		t.Errorf("TopK = %d, want 5", cfg.Retrieval.TopK)
	}
	if cfg.Retrieval.MaxDistanceOrDefault() != 0.4 {
		t.Errorf("MaxDistance = %v, want 0.4", cfg.Retrieval.MaxDistanceOrDefault())
	}
	if cfg.Retrieval.ContextWindowOrDefault() != 1 {
		t.Errorf("ContextWindow = %d, want 1", cfg.Retrieval.ContextWindowOrDefault())
	}
	if !cfg.Retrieval.QueryRewriteOrDefault() {
		t.Error("query rewrite should default to true")
	}
	if cfg.QA.NoteRatioOrDefault() != 80 {
		t.Errorf("NoteRatio = %d, want 80", cfg.QA.NoteRatioOrDefault())
	}
	if cfg.Conversation.WindowTurns != 6 || cfg.Conversation.SummaryRefreshEvery != 8 || cfg.Conversation.SummaryMaxChars != 1200 {
		t.Errorf("unexpected conversation defaults: %+v", cfg.Conversation)
	}
	if cfg.SiliconFlow.BaseURL != "https://api.siliconflow.cn/v1" {
		t.Errorf("SiliconFlow.BaseURL = %q", cfg.SiliconFlow.BaseURL)
	}
	if cfg.Ollama.Host != "http://localhost:11434" {
		t.Errorf("Ollama.Host = %q", cfg.Ollama.Host)
	}
	if cfg.Providers.MaxAttempts != 5 || cfg.Providers.BaseDelay != time.Second || cfg.Providers.MaxDelay != 30*time.Second {
		t.Errorf("unexpected provider defaults: %+v", cfg.Providers)
	}
}

func TestLoad_explicitZeroesKept(t *testing.T) {
	path := writeConfig(t, `
retrieval:
  max_distance: 0
  context_window: 0
  query_rewrite: false
qa:
  note_ratio: 0
rerank:
  enabled: false
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Retrieval.MaxDistanceOrDefault() != 0 {
		t.Error("explicit max_distance 0 should disable the filter")
	}
	if cfg.Retrieval.ContextWindowOrDefault() != 0 {
		t.Error("explicit context_window 0 should disable expansion")
	}
	if cfg.Retrieval.QueryRewriteOrDefault() {
		t.Error("query_rewrite false should be kept")
	}
	if cfg.QA.NoteRatioOrDefault() != 0 {
		t.Error("note_ratio 0 should be kept")
	}
	if cfg.Rerank.EnabledOrDefault() {
		t.Error("rerank enabled false should be kept")
	}
}

func TestLoad_durations(t *testing.T) {
	path := writeConfig(t, `
providers:
  base_delay: 250ms
  max_delay: 5s
watch:
  enabled: true
  debounce: 1s
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Providers.BaseDelay != 250*time.Millisecond || cfg.Providers.MaxDelay != 5*time.Second {
		t.Errorf("unexpected delays: %+v", cfg.Providers)
	}
	if !cfg.Watch.Enabled || cfg.Watch.Debounce != time.Second {
		t.Errorf("unexpected watch config: %+v", cfg.Watch)
	}
}

func TestLoad_envOverrides(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("SILICONFLOW_API_KEY", "sf-env")
	t.Setenv("READMATRIX_VAULT_PATH", "/srv/vault")
	path := writeConfig(t, `
openai:
  api_key: "sk-file"
vault:
  path: "./notes"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.OpenAI.APIKey != "sk-file" {
		t.Errorf("file api key should win, got %q", cfg.OpenAI.APIKey)
	}
	if cfg.SiliconFlow.APIKey != "sf-env" {
		t.Errorf("SiliconFlow.APIKey = %q, want sf-env", cfg.SiliconFlow.APIKey)
	}
	if cfg.Vault.Path != "/srv/vault" {
		t.Errorf("Vault.Path = %q, want /srv/vault", cfg.Vault.Path)
	}
}

func TestLoad_embeddingProviderDefaults(t *testing.T) {
	path := writeConfig(t, `
llm:
  provider: siliconflow
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Embedding.Provider != ProviderSiliconFlow {
		t.Errorf("embedding provider should follow llm provider, got %q", cfg.Embedding.Provider)
	}
	if cfg.Embedding.BatchSize != 24 {
		t.Errorf("BatchSize = %d, want 24", cfg.Embedding.BatchSize)
	}
}

func TestLoad_missingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoad_invalidYAML(t *testing.T) {
	path := writeConfig(t, "server: [unclosed\n")
	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid yaml")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name:    "openai without key",
			cfg:     Config{LLM: LLMConfig{Provider: ProviderOpenAI}, Embedding: EmbeddingConfig{Provider: ProviderOpenAI}},
			wantErr: true,
		},
		{
			name: "openai with key",
			cfg: Config{
				OpenAI:    OpenAIConfig{APIKey: "sk"},
				LLM:       LLMConfig{Provider: ProviderOpenAI},
				Embedding: EmbeddingConfig{Provider: ProviderOpenAI},
			},
		},
		{
			name: "siliconflow embedding without key",
			cfg: Config{
				LLM:       LLMConfig{Provider: ProviderOllama},
				Embedding: EmbeddingConfig{Provider: ProviderSiliconFlow},
			},
			wantErr: true,
		},
		{
			name: "ollama needs no key",
			cfg:  Config{LLM: LLMConfig{Provider: ProviderOllama}, Embedding: EmbeddingConfig{Provider: ProviderOllama}},
		},
		{
			name:    "unknown provider",
			cfg:     Config{LLM: LLMConfig{Provider: "bogus"}, Embedding: EmbeddingConfig{Provider: ProviderMock}},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, models.ErrConfiguration) {
				t.Errorf("error should wrap ErrConfiguration: %v", err)
			}
		})
	}
}

func TestNoteRatioClamped(t *testing.T) {
	for _, tc := range []struct{ in, want int }{{-5, 0}, {50, 50}, {150, 100}} {
		in := tc.in
		q := QAConfig{NoteRatio: &in}
		if got := q.NoteRatioOrDefault(); got != tc.want {
			t.Errorf("NoteRatioOrDefault(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestVaultName(t *testing.T) {
	v := VaultConfig{Path: "/home/me/Obsidian/MyVault/"}
	if got := v.VaultName(); got != "MyVault" {
		t.Errorf("VaultName() = %q", got)
	}
	v.Name = "Custom"
	if got := v.VaultName(); got != "Custom" {
		t.Errorf("VaultName() = %q", got)
	}
}

func TestSave_roundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.yaml")
	cfg := &Config{Server: ServerConfig{Host: "h", Port: 1234}}
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Server.Port != 1234 {
		t.Errorf("Port = %d", loaded.Server.Port)
	}
}

func TestDefault(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("READMATRIX_VAULT_PATH", "")
	dir := t.TempDir()
	cfg := Default(dir)
	if cfg.OpenAI.APIKey != "sk-env" {
		t.Errorf("APIKey = %q", cfg.OpenAI.APIKey)
	}
	if cfg.Vault.Path != filepath.Join(dir, "vault") {
		t.Errorf("Vault.Path = %q", cfg.Vault.Path)
	}
	if cfg.Storage.VectorPath != filepath.Join(dir, "data", "vectors", "store.bin") {
		t.Errorf("VectorPath = %q", cfg.Storage.VectorPath)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("Port = %d", cfg.Server.Port)
	}
}
