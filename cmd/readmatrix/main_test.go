package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/readmatrix/internal/models"
)

func TestArgsReorder(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			name:     "flags after question are moved first",
			args:     []string{"福贵怎么面对苦难", "-book-id", "A1"},
			expected: []string{"-book-id", "A1", "福贵怎么面对苦难"},
		},
		{
			name:     "flags first returns unchanged",
			args:     []string{"-book-id", "A1", "福贵怎么面对苦难"},
			expected: []string{"-book-id", "A1", "福贵怎么面对苦难"},
		},
		{
			name:     "question only returns unchanged",
			args:     []string{"福贵怎么面对苦难"},
			expected: []string{"福贵怎么面对苦难"},
		},
		{
			name:     "empty args returns unchanged",
			args:     []string{},
			expected: []string{},
		},
		{
			name:     "multiple positionals then flags",
			args:     []string{"活着", "苦难", "-limit", "5"},
			expected: []string{"-limit", "5", "活着", "苦难"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := argsReorder(tt.args)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("argsReorder() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestJoinArgs(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected string
	}{
		{"single word", []string{"活着"}, "活着"},
		{"multiple words", []string{"活着", "主题"}, "活着 主题"},
		{"single quoted phrase", []string{"what is  suffering"}, "what is  suffering"},
		{"empty args", []string{}, ""},
		{"blank args", []string{"  ", "  "}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := joinArgs(tt.args); got != tt.expected {
				t.Errorf("joinArgs(%v) = %q, want %q", tt.args, got, tt.expected)
			}
		})
	}
}

func TestLoadConfig_prefersCwdConfigWhenDefaultPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
debug: true
server:
  host: "localhost"
  port: 8080
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)

	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	// On macOS, cwd can be /private/var/... while t.TempDir() is /var/...; compare canonical paths.
	resolvedCanon, _ := filepath.EvalSymlinks(resolved)
	configPathCanon, _ := filepath.EvalSymlinks(configPath)
	if resolvedCanon != configPathCanon {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if !cfg.Debug {
		t.Error("debug should be true from cwd config.yaml")
	}
}

func TestLoadConfig_defaultsWithoutAnyFile(t *testing.T) {
	if _, err := os.Stat(defaultConfigPath); err == nil {
		t.Skip("a system config exists at the default path")
	}
	dir := t.TempDir()
	t.Chdir(dir)

	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != "" {
		t.Errorf("resolved path = %q, want built-in defaults", resolved)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("port = %d, want 8000", cfg.Server.Port)
	}
	if filepath.Base(cfg.Vault.Path) != "vault" || filepath.Base(filepath.Dir(cfg.Storage.DatabasePath)) != "data" {
		t.Errorf("unexpected default paths: vault=%s db=%s", cfg.Vault.Path, cfg.Storage.DatabasePath)
	}
}

func TestLoadConfig_usesExplicitPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  data_dir: "./state"
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != configPath {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if want := filepath.Join(dir, "state", "readmatrix.db"); cfg.Storage.DatabasePath != want {
		t.Errorf("database path = %s, want %s", cfg.Storage.DatabasePath, want)
	}
}

func TestLoadConfig_missingExplicitPath(t *testing.T) {
	if _, _, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected an error for a missing explicit config")
	}
}

const offlineBook = `---
doc_type: weread-highlights-reviews
bookId: "A1"
author: 余华
title: 活着
---
### 第一章
> 📌 人是为活着本身而活着的，而不是为了活着之外的任何事物所活着 ^a1
> 📌 生活是属于每个人自己的感受，不属于任何别人的看法 ^a2
`

// newOfflineComponents wires every component against mock providers and a temp vault.
func newOfflineComponents(t *testing.T) *Components {
	t.Helper()
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "vault", "微信读书"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "vault", "微信读书", "活着.md"), []byte(offlineBook), 0o644); err != nil {
		t.Fatal(err)
	}
	configPath := filepath.Join(dir, "config.yaml")
	content := `
vault:
  path: ./vault
storage:
  data_dir: ./data
llm:
  provider: mock
embedding:
  provider: mock
  dimensions: 32
rerank:
  enabled: false
retrieval:
  max_distance: 2
  query_rewrite: false
  keyword_recall: true
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		t.Fatal(err)
	}
	c, err := initializeComponents(cfg, zap.NewNop(), false)
	if err != nil {
		t.Fatalf("initializeComponents: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestInitializeComponents_offlineRoundTrip(t *testing.T) {
	c := newOfflineComponents(t)
	ctx := context.Background()

	stats, err := c.Manager.FullRebuild(ctx, nil)
	if err != nil {
		t.Fatalf("FullRebuild: %v", err)
	}
	if stats.IndexedFiles != 1 || stats.TotalChunks != 2 {
		t.Errorf("stats = %+v, want 1 file and 2 chunks", stats)
	}

	result, err := c.QA.Ask(ctx, &models.AskRequest{Query: "《活着》里人为什么而活着"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if result.NeedsClarification {
		t.Fatalf("explicit question should not need clarification: %+v", result)
	}
	if len(result.Citations) == 0 || result.Citations[0].BookTitle != "活着" {
		t.Errorf("citations = %+v, want notes from 活着", result.Citations)
	}
	if !strings.HasPrefix(result.Citations[0].ObsidianURI, "obsidian://open?vault=vault&file=") {
		t.Errorf("obsidian uri = %q", result.Citations[0].ObsidianURI)
	}

	query := &models.SearchQuery{Query: "感受"}
	if err := query.Validate(); err != nil {
		t.Fatal(err)
	}
	resp, err := keywordSearch(ctx, c.KeywordIndex, query, "")
	if err != nil {
		t.Fatalf("keywordSearch: %v", err)
	}
	if resp.Total == 0 || resp.Hits[0].Chunk.BookID != "A1" {
		t.Errorf("keyword hits = %+v", resp.Hits)
	}
	resp, err = keywordSearch(ctx, c.KeywordIndex, query, "other")
	if err != nil {
		t.Fatal(err)
	}
	if resp.Total != 0 {
		t.Errorf("book filter should exclude every hit, got %d", resp.Total)
	}

	report := c.Doctor.Run(ctx)
	if len(report.Checks) == 0 {
		t.Error("doctor should report checks")
	}
}

func TestStreamAnswer(t *testing.T) {
	c := newOfflineComponents(t)
	ctx := context.Background()
	if _, err := c.Manager.FullRebuild(ctx, nil); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := streamAnswer(ctx, &buf, c.QA, &models.AskRequest{Query: "《活着》里人为什么而活着"}); err != nil {
		t.Fatalf("streamAnswer: %v", err)
	}
	out := buf.String()
	for _, sub := range []string{"（离线模式）", "Sources:", "[1] 活着", "Conversation: "} {
		if !strings.Contains(out, sub) {
			t.Errorf("stream output missing %q:\n%s", sub, out)
		}
	}
	if strings.Count(out, "（离线模式）") != 1 {
		t.Errorf("answer should be printed once:\n%s", out)
	}
}

func TestInitializeComponents_rejectsMissingCredentials(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("OPENAI_API_KEY", "")
	configPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("llm:\n  provider: openai\n"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := initializeComponents(cfg, zap.NewNop(), false); err == nil {
		t.Error("expected a configuration error without an OpenAI key")
	}
}
