// Package main is the ReadMatrix CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/hyperjump/readmatrix/internal/clarify"
	"github.com/hyperjump/readmatrix/internal/cli"
	"github.com/hyperjump/readmatrix/internal/config"
	"github.com/hyperjump/readmatrix/internal/conversation"
	"github.com/hyperjump/readmatrix/internal/doctor"
	"github.com/hyperjump/readmatrix/internal/embedding"
	"github.com/hyperjump/readmatrix/internal/eval"
	"github.com/hyperjump/readmatrix/internal/indexer"
	"github.com/hyperjump/readmatrix/internal/keyword"
	"github.com/hyperjump/readmatrix/internal/llm"
	"github.com/hyperjump/readmatrix/internal/models"
	"github.com/hyperjump/readmatrix/internal/qa"
	"github.com/hyperjump/readmatrix/internal/rerank"
	"github.com/hyperjump/readmatrix/internal/retriever"
	"github.com/hyperjump/readmatrix/internal/retry"
	"github.com/hyperjump/readmatrix/internal/server"
	"github.com/hyperjump/readmatrix/internal/storage"
	"github.com/hyperjump/readmatrix/internal/vault"
	"github.com/hyperjump/readmatrix/internal/vector"
	"github.com/hyperjump/readmatrix/internal/watcher"
	"github.com/hyperjump/readmatrix/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/readmatrix/config.yaml"

// loadConfig loads config from path. When path is the default, config.yaml in the current
// directory wins if it exists, and when neither exists the built-in defaults plus environment
// are used with paths relative to the current directory.
// Returns the config and the path that was actually loaded ("" for built-in defaults).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		cwd, cwdErr := os.Getwd()
		if cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) && cwdErr == nil {
			return config.Default(cwd), "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	// Secrets may live in .env next to the binary's working directory; a missing file is fine.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "serve", "server":
		runServe()
	case "index":
		runIndex()
	case "ask":
		runAsk()
	case "search":
		runSearch()
	case "stats":
		runStats()
	case "doctor":
		runDoctor()
	case "eval":
		runEval()
	case "version", "--version", "-v":
		fmt.Printf("readmatrix version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// setup loads config and creates the logger shared by every command.
func setup(configPath string, debugFlag bool) (*config.Config, *zap.Logger, bool) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || debugFlag
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	if resolved == "" {
		resolved = "(defaults)"
	}
	logger.Debug("config loaded", zap.String("config_path", resolved), zap.Bool("debug", debugMode))
	return cfg, logger, debugMode
}

func mustInitialize(cfg *config.Config, logger *zap.Logger, debug bool) *Components {
	components, err := initializeComponents(cfg, logger, debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	return components
}

func runServe() {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	watch := fs.Bool("watch", false, "watch the vault and re-index changed files")
	_ = fs.Parse(os.Args[2:])

	cfg, logger, debugMode := setup(*configPath, *debug)
	defer logger.Sync()

	components := mustInitialize(cfg, logger, debugMode)
	defer components.Close()

	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	var vaultWatcher *watcher.Watcher
	if *watch || cfg.Watch.Enabled {
		vaultWatcher = watcher.New(cfg.Vault.Path, components.Manager,
			watcher.WithDebounce(cfg.Watch.Debounce),
			watcher.WithLogger(logger))
		if err := vaultWatcher.Start(watchCtx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		go func() {
			stats, err := components.Manager.IncrementalUpdate(watchCtx, nil)
			if err != nil {
				logger.Warn("initial sync failed", zap.Error(err))
				return
			}
			logger.Info("initial sync done",
				zap.Int("indexed", stats.IndexedFiles),
				zap.Int("removed", stats.Removed),
				zap.Int("chunks", stats.TotalChunks))
		}()
	}

	srv := server.NewServer(
		components.Manager,
		components.QA,
		components.Conversations,
		&cfg.Server,
		logger,
		server.WithVersion(version),
		server.WithKeywordIndex(components.KeywordIndex),
		server.WithDoctor(components.Doctor),
	)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchCancel()
	if vaultWatcher != nil {
		vaultWatcher.Stop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

func runIndex() {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	full := fs.Bool("full", false, "clear the index and rebuild from scratch")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	cfg, logger, debugMode := setup(*configPath, *debug)
	defer logger.Sync()
	components := mustInitialize(cfg, logger, debugMode)
	defer components.Close()

	format := cli.ParseOutputFormat(*outputFormat)
	var progress indexer.ProgressFunc
	if format == cli.OutputText {
		progress = func(current, total int, msg string) {
			fmt.Printf("\r[%d/%d] %s\033[K", current, total, cli.Truncate(msg, 60))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	var (
		stats *models.IndexStats
		err   error
	)
	if *full {
		stats, err = components.Manager.FullRebuild(ctx, progress)
	} else {
		stats, err = components.Manager.IncrementalUpdate(ctx, progress)
	}
	if progress != nil {
		fmt.Println()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Indexing failed: %v\n", err)
		os.Exit(1)
	}
	if format == cli.OutputJSON {
		_ = cli.WriteJSON(os.Stdout, stats)
		return
	}
	fmt.Printf("Files: %d total, %d indexed, %d removed, %d unchanged\n",
		stats.TotalFiles, stats.IndexedFiles, stats.Removed, stats.Skipped)
	fmt.Printf("Chunks: %d\n", stats.TotalChunks)
	for _, e := range stats.Errors {
		fmt.Printf("  error: %s\n", e)
	}
}

func runAsk() {
	args := argsReorder(os.Args[2:])
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	serverURL := fs.String("server", "", "server URL (empty = answer locally)")
	conversationID := fs.String("conversation", "", "continue an existing conversation")
	bookID := fs.String("book-id", "", "restrict retrieval to one book id")
	bookTitle := fs.String("book-title", "", "restrict retrieval to one book title")
	topK := fs.Int("top-k", 0, "number of notes to retrieve (0 = config default)")
	noContext := fs.Bool("no-context", false, "ignore conversation history")
	stream := fs.Bool("stream", false, "print the answer as it is generated")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(args)

	question := joinArgs(fs.Args())
	if question == "" {
		fmt.Println("Usage: readmatrix ask [flags] <question>")
		os.Exit(1)
	}
	req := &models.AskRequest{Query: question, ConversationID: *conversationID, TopK: *topK}
	if *bookID != "" || *bookTitle != "" {
		req.Filters = &models.AskFilters{BookID: *bookID, BookTitle: *bookTitle}
	}
	if *noContext {
		useContext := false
		req.UseContext = &useContext
	}
	format := cli.ParseOutputFormat(*outputFormat)

	if *serverURL != "" {
		var result models.AskResult
		if err := postJSON(*serverURL+"/api/ask", req, &result); err != nil {
			fmt.Fprintf(os.Stderr, "Ask failed: %v\n", err)
			os.Exit(1)
		}
		_ = cli.WriteAskResult(os.Stdout, &result, format)
		return
	}

	cfg, logger, debugMode := setup(*configPath, *debug)
	defer logger.Sync()
	components := mustInitialize(cfg, logger, debugMode)
	defer components.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *stream && format == cli.OutputText {
		if err := streamAnswer(ctx, os.Stdout, components.QA, req); err != nil {
			fmt.Fprintf(os.Stderr, "\nAsk failed: %v\n", err)
			os.Exit(1)
		}
		return
	}
	result, err := components.QA.Ask(ctx, req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ask failed: %v\n", err)
		os.Exit(1)
	}
	_ = cli.WriteAskResult(os.Stdout, result, format)
}

// streamAnswer prints deltas as they arrive, then the sources.
func streamAnswer(ctx context.Context, w io.Writer, orchestrator *qa.Orchestrator, req *models.AskRequest) error {
	s, err := orchestrator.AskStream(ctx, req)
	if err != nil {
		return err
	}
	defer s.Close()
	result := &models.AskResult{}
	fmt.Fprintln(w)
	for s.Next() {
		ev := s.Event()
		switch data := ev.Data.(type) {
		case qa.Meta:
			result.ConversationID = data.ConversationID
		case qa.Delta:
			fmt.Fprint(w, data.Content)
		case []models.Citation:
			result.Citations = data
		}
	}
	if err := s.Err(); err != nil {
		return err
	}
	fmt.Fprintln(w)
	// The answer is already printed; reuse the writer for sources only.
	var buf bytes.Buffer
	_ = cli.WriteAskResult(&buf, result, cli.OutputText)
	out := buf.String()
	if i := strings.Index(out, "\nSources:"); i >= 0 {
		out = out[i:]
	} else if i := strings.Index(out, "\nConversation:"); i >= 0 {
		out = out[i:]
	}
	_, err = io.WriteString(w, out)
	return err
}

func runSearch() {
	args := argsReorder(os.Args[2:])
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = search the local index)")
	limit := fs.Int("limit", 10, "number of results")
	bookID := fs.String("book-id", "", "restrict results to one book id")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(args)

	query := &models.SearchQuery{Query: joinArgs(fs.Args()), Limit: *limit}
	if err := query.Validate(); err != nil {
		fmt.Println("Usage: readmatrix search [flags] <terms>")
		os.Exit(1)
	}
	format := cli.ParseOutputFormat(*outputFormat)

	if *serverURL != "" {
		response, err := searchViaHTTP(*serverURL, query, *bookID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
			os.Exit(1)
		}
		_ = cli.WriteSearchResults(os.Stdout, response, format)
		return
	}

	cfg, logger, _ := setup(*configPath, false)
	defer logger.Sync()
	idx, err := keyword.NewBleveIndex(cfg.Storage.BleveIndexPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open keyword index (is the server running? use --server): %v\n", err)
		os.Exit(1)
	}
	defer idx.Close()

	response, err := keywordSearch(context.Background(), idx, query, *bookID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
		os.Exit(1)
	}
	_ = cli.WriteSearchResults(os.Stdout, response, format)
}

func keywordSearch(ctx context.Context, idx keyword.Index, query *models.SearchQuery, bookID string) (*models.SearchResponse, error) {
	start := time.Now()
	var opts *keyword.SearchOptions
	if bookID != "" {
		opts = &keyword.SearchOptions{TitleBoost: 1, BookID: bookID}
	}
	results, err := idx.Search(ctx, query.Query, query.Limit, opts)
	if err != nil {
		return nil, err
	}
	resp := &models.SearchResponse{Query: query.Query, Hits: make([]models.SearchHit, 0, len(results))}
	for _, r := range results {
		resp.Hits = append(resp.Hits, models.SearchHit{Chunk: r.Chunk, Score: r.Score})
	}
	resp.Total = len(resp.Hits)
	resp.QueryTime = time.Since(start).Milliseconds()
	return resp, nil
}

func searchViaHTTP(serverURL string, query *models.SearchQuery, bookID string) (*models.SearchResponse, error) {
	params := url.Values{"q": {query.Query}, "limit": {strconv.Itoa(query.Limit)}}
	if bookID != "" {
		params.Set("book_id", bookID)
	}
	var response models.SearchResponse
	if err := getJSON(serverURL+"/api/search?"+params.Encode(), &response); err != nil {
		return nil, err
	}
	return &response, nil
}

func runStats() {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = read local storage)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])
	format := cli.ParseOutputFormat(*outputFormat)

	var overview models.IndexOverview
	if *serverURL != "" {
		if err := getJSON(*serverURL+"/api/stats", &overview); err != nil {
			fmt.Fprintf(os.Stderr, "Stats failed: %v\n", err)
			os.Exit(1)
		}
	} else {
		cfg, logger, debugMode := setup(*configPath, false)
		defer logger.Sync()
		components := mustInitialize(cfg, logger, debugMode)
		defer components.Close()
		res, err := components.Manager.Stats(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Stats failed: %v\n", err)
			os.Exit(1)
		}
		overview = *res
	}
	_ = cli.WriteStats(os.Stdout, &overview, format)
}

func runDoctor() {
	fs := flag.NewFlagSet("doctor", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	probe := fs.Bool("probe", true, "check that the generation provider is reachable")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	cfg, logger, _ := setup(*configPath, false)
	defer logger.Sync()

	// Doctor opens storage itself so that it can report on a broken setup.
	var db doctor.Pinger
	if s, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath); err == nil {
		defer s.Close()
		db = s
	}
	var store vector.Store
	if s, err := vector.NewMemoryStore(cfg.Storage.VectorPath); err == nil {
		store = s
	}
	opts := []doctor.Option{doctor.WithLogger(logger)}
	if *probe {
		opts = append(opts, doctor.WithProbe(doctor.ProviderProbe(cfg, nil)))
	}
	report := doctor.New(cfg, db, store, opts...).Run(context.Background())

	if cli.ParseOutputFormat(*outputFormat) == cli.OutputJSON {
		_ = cli.WriteJSON(os.Stdout, report)
	} else {
		for _, c := range report.Checks {
			fmt.Printf("[%-4s] %-18s %s\n", strings.ToUpper(c.Status), c.Name, c.Detail)
		}
	}
	if !report.Healthy {
		os.Exit(1)
	}
}

func runEval() {
	fs := flag.NewFlagSet("eval", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	casesPath := fs.String("cases", "", "JSONL file with evaluation cases")
	mode := fs.String("mode", eval.ModeRetrieval, "retrieval or generation")
	topK := fs.Int("top-k", 5, "retrieval depth per case")
	limit := fs.Int("limit", 0, "evaluate at most this many cases (0 = all)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	if *casesPath == "" {
		fmt.Println("Usage: readmatrix eval --cases <file.jsonl> [--mode retrieval|generation]")
		os.Exit(1)
	}
	cases, err := eval.LoadCasesFile(*casesPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load cases: %v\n", err)
		os.Exit(1)
	}
	if *limit > 0 && len(cases) > *limit {
		cases = cases[:*limit]
	}

	cfg, logger, debugMode := setup(*configPath, false)
	defer logger.Sync()
	components := mustInitialize(cfg, logger, debugMode)
	defer components.Close()

	runner := eval.NewRunner(components.Retriever, components.QA, eval.WithTopK(*topK), eval.WithLogger(logger))
	ctx := context.Background()
	var (
		results interface{}
		summary eval.Summary
	)
	switch *mode {
	case eval.ModeRetrieval:
		results, summary, err = runRetrievalEval(ctx, runner, cases)
	case eval.ModeGeneration:
		results, summary, err = runGenerationEval(ctx, runner, cases)
	default:
		fmt.Fprintf(os.Stderr, "Unknown mode %q; use retrieval or generation\n", *mode)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Evaluation failed: %v\n", err)
		os.Exit(1)
	}

	if cli.ParseOutputFormat(*outputFormat) == cli.OutputJSON {
		_ = cli.WriteJSON(os.Stdout, map[string]interface{}{"summary": summary, "results": results})
		return
	}
	fmt.Printf("mode:  %s\ncases: %d\n", summary.Mode, summary.Cases)
	if summary.Mode == eval.ModeRetrieval {
		fmt.Printf("hit_rate: %.3f\nmrr:      %.3f\n", summary.HitRate, summary.MRR)
	} else {
		fmt.Printf("citation_recall: %.3f\navg_citations:   %.2f\n", summary.CitationRecall, summary.AvgCitations)
	}
}

func runRetrievalEval(ctx context.Context, r *eval.Runner, cases []eval.Case) (interface{}, eval.Summary, error) {
	return r.Retrieval(ctx, cases)
}

func runGenerationEval(ctx context.Context, r *eval.Runner, cases []eval.Case) (interface{}, eval.Summary, error) {
	return r.Generation(ctx, cases)
}

// argsReorder moves any flags (and their values) that appear after the positional arguments
// to the front of the slice so that flag.Parse() sees them. Go's flag package stops at the
// first non-flag argument, so `readmatrix ask "问题" --book-id 1` would otherwise leave
// --book-id unparsed.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// joinArgs joins all positional args with spaces so multi-word questions work the same
// with or without shell quoting.
func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func postJSON(target string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := http.Post(target, "application/json", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	return decodeResponse(resp, out)
}

func getJSON(target string, out interface{}) error {
	resp, err := http.Get(target)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out interface{}) error {
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Components holds initialized services.
type Components struct {
	Storage       *storage.SQLiteStorage
	Embedder      embedding.Embedder
	VectorStore   *vector.MemoryStore
	KeywordIndex  *keyword.BleveIndex
	LLM           llm.Client
	Manager       *indexer.Manager
	Retriever     *retriever.Retriever
	Conversations *conversation.Service
	QA            *qa.Orchestrator
	Doctor        *doctor.Doctor
}

// Close releases everything in reverse order of opening; the vector store is saved on close.
func (c *Components) Close() {
	if c.KeywordIndex != nil {
		_ = c.KeywordIndex.Close()
	}
	if c.VectorStore != nil {
		_ = c.VectorStore.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger, debug bool) (*Components, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Components{}
	ok := false
	defer func() {
		if !ok {
			c.Close()
		}
	}()

	policy := retry.NewPolicy(
		cfg.Providers.MaxAttempts,
		cfg.Providers.BaseDelay,
		cfg.Providers.MaxDelay,
		cfg.Providers.RequestsPerSecond,
		cfg.Providers.Burst,
	)

	var err error
	c.Storage, err = storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c.Embedder, err = embedding.New(cfg, policy, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	c.LLM, err = llm.New(cfg, policy, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize llm: %w", err)
	}

	vecOpts := []vector.Option{}
	if debug {
		vecOpts = append(vecOpts, vector.WithLogger(logger))
	}
	c.VectorStore, err = vector.NewMemoryStore(cfg.Storage.VectorPath, vecOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector store: %w", err)
	}
	if logger != nil {
		logger.Debug("vector store loaded",
			zap.String("path", cfg.Storage.VectorPath),
			zap.Int("chunks", c.VectorStore.Count()))
	}

	c.KeywordIndex, err = keyword.NewBleveIndex(cfg.Storage.BleveIndexPath, keyword.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
	}

	scannerOpts := []vault.ScannerOption{}
	if debug {
		scannerOpts = append(scannerOpts, vault.WithLogger(logger))
	}
	c.Manager = indexer.NewManager(
		vault.NewScanner(cfg.Vault.Path, cfg.Vault.WeReadFolder, scannerOpts...),
		c.Storage,
		c.Storage,
		c.Embedder,
		c.VectorStore,
		indexer.WithLogger(logger),
		indexer.WithKeywordIndex(c.KeywordIndex),
		indexer.WithBatchSize(cfg.Embedding.BatchSize),
		indexer.WithDiskPaths(cfg.Storage.DatabasePath, cfg.Storage.VectorPath, cfg.Storage.BleveIndexPath),
	)

	retrieverOpts := []retriever.Option{
		retriever.WithLogger(logger),
		retriever.WithReranker(rerank.New(cfg, policy, logger)),
		retriever.WithTopK(cfg.Retrieval.TopK),
		retriever.WithMaxDistance(cfg.Retrieval.MaxDistanceOrDefault()),
		retriever.WithContextWindow(cfg.Retrieval.ContextWindowOrDefault()),
	}
	if cfg.Retrieval.QueryRewriteOrDefault() {
		retrieverOpts = append(retrieverOpts, retriever.WithQueryRewriter(c.LLM))
	}
	if cfg.Retrieval.KeywordRecall {
		retrieverOpts = append(retrieverOpts, retriever.WithKeywordRecall(c.KeywordIndex))
	}
	// Queries repeat across turns and evaluation runs, so only the retriever's embedder is cached.
	queryEmbedder := embedding.NewCachedEmbedder(c.Embedder, cfg.Embedding.CacheSize)
	c.Retriever = retriever.New(queryEmbedder, c.VectorStore, retrieverOpts...)

	c.Conversations = conversation.NewService(c.Storage, conversation.Config{
		WindowTurns:         cfg.Conversation.WindowTurns,
		SummaryRefreshEvery: cfg.Conversation.SummaryRefreshEvery,
		SummaryMaxChars:     cfg.Conversation.SummaryMaxChars,
	}, conversation.WithLogger(logger))

	c.QA = qa.New(
		c.Conversations,
		c.Retriever,
		clarify.New(c.LLM, clarify.WithLogger(logger)),
		c.LLM,
		qa.WithLogger(logger),
		qa.WithNoteRatio(cfg.QA.NoteRatioOrDefault()),
		qa.WithTemperature(cfg.LLM.TemperatureOrDefault()),
		qa.WithTopK(cfg.Retrieval.TopK),
		qa.WithLinker(qa.NewLinker(cfg.Vault.Path, cfg.Vault.Name)),
	)

	c.Doctor = doctor.New(cfg, c.Storage, c.VectorStore,
		doctor.WithLogger(logger),
		doctor.WithProbe(doctor.ProviderProbe(cfg, nil)))

	ok = true
	return c, nil
}

func printUsage() {
	fmt.Println(`readmatrix - Ask questions over your WeRead highlights in Obsidian

Usage:
  readmatrix serve [flags]              Start the HTTP server
  readmatrix index [flags]              Index new and changed highlight files
  readmatrix ask [flags] <question>     Ask a question grounded in your notes
  readmatrix search [flags] <terms>     Keyword search over indexed highlights
  readmatrix stats [flags]              Show index statistics
  readmatrix doctor [flags]             Check vault, storage and provider setup
  readmatrix eval --cases <file>        Run an offline evaluation
  readmatrix version                    Show version
  readmatrix help                       Show this help

Common Flags:
  --config string    Config file path (default: ./config.yaml, then /usr/local/etc/readmatrix/config.yaml)
  --debug            Enable debug logging
  --output string    Output format: text or json (default: text)

Serve Flags:
  --watch            Watch the vault and re-index changed files

Index Flags:
  --full             Clear the index and rebuild from scratch

Ask Flags:
  --conversation string   Continue an existing conversation
  --book-id string        Restrict retrieval to one book id
  --book-title string     Restrict retrieval to one book title
  --top-k int             Number of notes to retrieve
  --no-context            Ignore conversation history
  --stream                Print the answer as it is generated
  --server string         Ask a running server instead of answering locally

Search Flags:
  --limit int        Number of results (default: 10)
  --book-id string   Restrict results to one book id
  --server string    Search via a running server (avoids index lock conflicts)

Eval Flags:
  --cases string     JSONL cases: {"id", "query", "expected": {"book_title", "source_path", "must_include"}}
  --mode string      retrieval (hit rate, MRR) or generation (citation recall)
  --top-k int        Retrieval depth per case (default: 5)
  --limit int        Evaluate at most this many cases

Examples:
  readmatrix index --full
  readmatrix ask "《活着》里福贵是怎么面对苦难的？"
  readmatrix ask --book-title 活着 --stream 这本书的主题是什么
  readmatrix search --limit 5 活着
  readmatrix serve --watch
  readmatrix eval --cases eval/cases.jsonl --mode generation`)
}
