// Package doctor runs environment self-checks for the vault, storage, and providers.
package doctor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/hyperjump/readmatrix/internal/config"
	"github.com/hyperjump/readmatrix/internal/vector"
)

// Check outcomes.
const (
	StatusOK   = "ok"
	StatusWarn = "warn"
	StatusFail = "fail"
)

const (
	sampleBytes  = 1000
	probeTimeout = 5 * time.Second
)

// Check is the result of one self-check.
type Check struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Detail string `json:"detail"`
}

// Report collects all checks. Healthy is false when any check failed; warnings do not count.
type Report struct {
	Checks  []Check `json:"checks"`
	Healthy bool    `json:"healthy"`
}

// Pinger is satisfied by the SQLite storage.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Probe checks that the generation provider is reachable.
type Probe func(ctx context.Context) error

// Doctor runs the checks.
type Doctor struct {
	cfg    *config.Config
	db     Pinger
	store  vector.Store
	probe  Probe
	logger *zap.Logger
}

// Option configures a Doctor.
type Option func(*Doctor)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Doctor) { d.logger = l }
}

// WithProbe enables the provider connectivity check.
func WithProbe(p Probe) Option {
	return func(d *Doctor) { d.probe = p }
}

// New creates a doctor. db and store may be nil when they could not be opened.
func New(cfg *config.Config, db Pinger, store vector.Store, opts ...Option) *Doctor {
	d := &Doctor{cfg: cfg, db: db, store: store}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run executes every check in order.
func (d *Doctor) Run(ctx context.Context) *Report {
	r := &Report{Healthy: true}
	add := func(c Check) {
		if c.Status == StatusFail {
			r.Healthy = false
		}
		if d.logger != nil {
			d.logger.Debug("doctor check", zap.String("name", c.Name), zap.String("status", c.Status), zap.String("detail", c.Detail))
		}
		r.Checks = append(r.Checks, c)
	}

	add(d.checkVault())
	highlights, files := d.checkHighlights()
	add(highlights)
	add(checkStructure(files))
	add(d.checkDatabase(ctx))
	add(d.checkVectorStore())
	add(d.checkCredentials())
	if d.probe != nil {
		add(d.checkProvider(ctx))
	}
	return r
}

func (d *Doctor) checkVault() Check {
	c := Check{Name: "vault", Detail: d.cfg.Vault.Path}
	info, err := os.Stat(d.cfg.Vault.Path)
	switch {
	case err != nil:
		c.Status = StatusFail
		c.Detail = fmt.Sprintf("%s: %v", d.cfg.Vault.Path, err)
	case !info.IsDir():
		c.Status = StatusFail
		c.Detail = d.cfg.Vault.Path + " is not a directory"
	default:
		c.Status = StatusOK
	}
	return c
}

func (d *Doctor) checkHighlights() (Check, []string) {
	dir := filepath.Join(d.cfg.Vault.Path, d.cfg.Vault.WeReadFolder)
	files, err := filepath.Glob(filepath.Join(dir, "*.md"))
	if err == nil {
		_, err = os.Stat(dir)
	}
	if err != nil {
		return Check{Name: "highlights_folder", Status: StatusFail, Detail: dir + " not found"}, nil
	}
	sort.Strings(files)
	return Check{Name: "highlights_folder", Status: StatusOK, Detail: fmt.Sprintf("%d files", len(files))}, files
}

// checkStructure looks for WeRead markers in the first highlights file.
func checkStructure(files []string) Check {
	c := Check{Name: "highlights_format", Status: StatusWarn, Detail: "not detected"}
	if len(files) == 0 {
		return c
	}
	f, err := os.Open(files[0])
	if err != nil {
		return c
	}
	defer f.Close()
	buf := make([]byte, sampleBytes)
	n, _ := io.ReadFull(f, buf)
	sample := buf[:n]
	if bytes.Contains(sample, []byte("bookId:")) || bytes.Contains(sample, []byte("📌")) {
		c.Status = StatusOK
		c.Detail = "valid format"
	}
	return c
}

func (d *Doctor) checkDatabase(ctx context.Context) Check {
	c := Check{Name: "database", Detail: d.cfg.Storage.DatabasePath}
	if d.db == nil {
		c.Status = StatusFail
		c.Detail += ": not opened"
		return c
	}
	if err := d.db.Ping(ctx); err != nil {
		c.Status = StatusFail
		c.Detail = fmt.Sprintf("%s: %v", d.cfg.Storage.DatabasePath, err)
		return c
	}
	c.Status = StatusOK
	return c
}

func (d *Doctor) checkVectorStore() Check {
	c := Check{Name: "vector_store"}
	if d.store == nil {
		c.Status = StatusFail
		c.Detail = d.cfg.Storage.VectorPath + ": not opened"
		return c
	}
	c.Status = StatusOK
	c.Detail = fmt.Sprintf("%d chunks, %d books", d.store.Count(), len(d.store.BookIDs()))
	if d.store.Count() == 0 {
		c.Status = StatusWarn
		c.Detail = "empty; run the index command"
	}
	return c
}

func (d *Doctor) checkCredentials() Check {
	c := Check{Name: "credentials", Status: StatusOK,
		Detail: fmt.Sprintf("llm=%s embedding=%s", d.cfg.LLM.Provider, d.cfg.Embedding.Provider)}
	if err := d.cfg.Validate(); err != nil {
		c.Status = StatusFail
		c.Detail = err.Error()
		return c
	}
	if d.cfg.Rerank.EnabledOrDefault() && d.cfg.SiliconFlow.APIKey == "" {
		c.Status = StatusWarn
		c.Detail += "; reranking disabled without SILICONFLOW_API_KEY"
	}
	return c
}

func (d *Doctor) checkProvider(ctx context.Context) Check {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	c := Check{Name: "llm_provider", Status: StatusOK, Detail: d.cfg.LLM.Provider + " reachable"}
	if err := d.probe(ctx); err != nil {
		c.Status = StatusFail
		c.Detail = fmt.Sprintf("%s: %v", d.cfg.LLM.Provider, err)
	}
	return c
}

// ProviderProbe returns a probe for the configured generation provider: a model listing
// for OpenAI-compatible APIs, the tags endpoint for Ollama, and nothing for the mock.
func ProviderProbe(cfg *config.Config, httpClient *http.Client) Probe {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: probeTimeout}
	}
	listModels := func(apiKey, baseURL string) Probe {
		oc := openai.DefaultConfig(apiKey)
		if baseURL != "" {
			oc.BaseURL = baseURL
		}
		oc.HTTPClient = httpClient
		client := openai.NewClientWithConfig(oc)
		return func(ctx context.Context) error {
			_, err := client.ListModels(ctx)
			return err
		}
	}
	switch cfg.LLM.Provider {
	case config.ProviderOpenAI:
		return listModels(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL)
	case config.ProviderSiliconFlow:
		return listModels(cfg.SiliconFlow.APIKey, cfg.SiliconFlow.BaseURL)
	case config.ProviderOllama:
		url := strings.TrimRight(cfg.Ollama.Host, "/") + "/api/tags"
		return func(ctx context.Context) error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return err
			}
			resp, err := httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("unexpected status %d", resp.StatusCode)
			}
			return nil
		}
	}
	return nil
}
