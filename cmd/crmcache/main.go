// Package main is the crmcache CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hubmind/crmcache/internal/cache"
	"github.com/hubmind/crmcache/internal/config"
	"github.com/hubmind/crmcache/internal/embedding"
	"github.com/hubmind/crmcache/internal/models"
	"github.com/hubmind/crmcache/internal/server"
	"github.com/hubmind/crmcache/internal/storage"
	"github.com/hubmind/crmcache/internal/vector"
	"github.com/hubmind/crmcache/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/crmcache/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks
// for config.yaml in the current directory (for development); if neither
// exists, defaults plus CRMCACHE_* environment variables are used.
// Returns the config and the path that was actually loaded ("" for defaults).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
			cfg, err := config.Default()
			if err != nil {
				return nil, "", err
			}
			return cfg, "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "ingest":
		runIngest()
	case "search":
		runSearch()
	case "recent":
		runRecent()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("crmcache version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.String("storage_dir", cfg.Storage.Dir),
		zap.Bool("debug", debugMode),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	report, err := components.Coordinator.Recover(ctx)
	if err != nil {
		logger.Fatal("Failed to recover cache state", zap.Error(err))
	}
	if report.VersionMismatch {
		logger.Warn("embedding model changed since last run; cache rebuilt")
	}

	go components.Coordinator.RunSnapshots(ctx, cfg.Cache.SnapshotInterval)

	srv := server.NewServer(components.Coordinator, components.Storage, &cfg.Server, &cfg.Storage, logger)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	if err := components.Coordinator.Snapshot(); err != nil {
		logger.Warn("final snapshot failed", zap.Error(err))
	}
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
}

// readPayloads reads one JSON value from path ("-" = stdin) and returns it as
// a list of payloads: a JSON array is split into elements, a single object
// becomes a one-element list.
func readPayloads(path string) ([]json.RawMessage, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty input")
	}
	if data[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, fmt.Errorf("parse JSON array: %w", err)
		}
		return list, nil
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("input is not valid JSON")
	}
	return []json.RawMessage{json.RawMessage(data)}, nil
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	sourceTypeFlag := fs.String("type", "", "source type: contact, company, engagement, conversation_thread")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 || *sourceTypeFlag == "" {
		fmt.Println("Usage: crmcache ingest --type <source-type> <json-file|->")
		os.Exit(1)
	}
	sourceType, err := models.ParseSourceType(*sourceTypeFlag)
	if err != nil {
		fmt.Printf("Invalid type: %v\n", err)
		os.Exit(1)
	}
	payloads, err := readPayloads(fs.Arg(0))
	if err != nil {
		fmt.Printf("Failed to read input: %v\n", err)
		os.Exit(1)
	}

	components, _, logger := mustInitialize(*configPath)
	defer logger.Sync()
	defer components.Close()

	ctx := context.Background()
	if _, err := components.Coordinator.Recover(ctx); err != nil {
		logger.Fatal("Failed to recover cache state", zap.Error(err))
	}
	report, err := components.Coordinator.IngestBatch(ctx, payloads, sourceType)
	if err != nil {
		fmt.Printf("Ingest failed: %v\n", err)
		os.Exit(1)
	}
	if err := components.Coordinator.Snapshot(); err != nil {
		logger.Warn("snapshot failed", zap.Error(err))
	}
	fmt.Printf("Ingested %d record(s), %d failed\n", len(report.Succeeded), len(report.Failed))
	for _, f := range report.Failed {
		fmt.Printf("  [%d] %s: %s\n", f.Index, f.RecordID, f.Reason)
	}
	if len(report.Failed) > 0 {
		os.Exit(1)
	}
}

// buildQueryText joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildQueryText(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "http://localhost:8080", "server URL (empty = use direct storage when server is not running)")
	limit := fs.Int("limit", 10, "number of results")
	typeFilter := fs.String("type", "", "restrict to a source type")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: crmcache search [flags] <query>")
		os.Exit(1)
	}
	queryText := buildQueryText(fs.Args())
	if queryText == "" {
		fmt.Println("Usage: crmcache search [flags] <query>")
		os.Exit(1)
	}

	query := &models.SearchQuery{Query: queryText, Limit: *limit}
	if *typeFilter != "" {
		st, err := models.ParseSourceType(*typeFilter)
		if err != nil {
			fmt.Printf("Invalid type: %v\n", err)
			os.Exit(1)
		}
		query.Filter = &models.SearchFilter{SourceType: st}
	}

	if *serverURL != "" {
		response, err := searchViaHTTP(*serverURL, query)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
			os.Exit(1)
		}
		printHits(response)
		return
	}

	components, _, logger := mustInitialize(*configPath)
	defer logger.Sync()
	defer components.Close()

	ctx := context.Background()
	if _, err := components.Coordinator.Recover(ctx); err != nil {
		logger.Fatal("Failed to recover cache state", zap.Error(err))
	}
	response, err := components.Coordinator.Search(ctx, query)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
		os.Exit(1)
	}
	printHits(response)
}

func printHits(response *models.SearchResponse) {
	if len(response.Hits) == 0 {
		fmt.Println("No results.")
		return
	}
	for _, hit := range response.Hits {
		fmt.Printf("%2d. [%.3f] %s (%s)\n", hit.Rank, hit.Score, hit.Record.ID, hit.Record.SourceType)
		fmt.Printf("    %s\n", utils.Truncate(hit.Record.NormalizedText, 120))
	}
}

func searchViaHTTP(serverURL string, query *models.SearchQuery) (*models.SearchResponse, error) {
	body, err := json.Marshal(query)
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(serverURL+"/api/v1/search", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var response models.SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &response, nil
}

func runRecent() {
	fs := flag.NewFlagSet("recent", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	typeFilter := fs.String("type", "", "restrict to a source type")
	sinceFlag := fs.String("since", "", "RFC3339 cutoff (e.g. 2026-08-27T00:00:00Z)")
	limit := fs.Int("limit", 20, "number of results")
	_ = fs.Parse(os.Args[2:])

	query := &models.RecentQuery{Limit: *limit}
	if *typeFilter != "" {
		st, err := models.ParseSourceType(*typeFilter)
		if err != nil {
			fmt.Printf("Invalid type: %v\n", err)
			os.Exit(1)
		}
		query.SourceType = st
	}
	if *sinceFlag != "" {
		since, err := time.Parse(time.RFC3339, *sinceFlag)
		if err != nil {
			fmt.Printf("Invalid since: %v\n", err)
			os.Exit(1)
		}
		query.Since = since
	}

	components, _, logger := mustInitialize(*configPath)
	defer logger.Sync()
	defer components.Close()

	recs, err := components.Coordinator.ListRecent(context.Background(), query)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Recent failed: %v\n", err)
		os.Exit(1)
	}
	for _, rec := range recs {
		fmt.Printf("%s  %-20s %s\n", rec.InsertedAt.Format(time.RFC3339), rec.SourceType, rec.ID)
	}
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	components, cfg, logger := mustInitialize(*configPath)
	defer logger.Sync()
	defer components.Close()

	ctx := context.Background()
	if _, err := components.Coordinator.Recover(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to recover cache state: %v\n", err)
		os.Exit(1)
	}
	count, err := components.Storage.Count(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Count failed: %v\n", err)
		os.Exit(1)
	}
	cacheCount, _ := components.Embedder.CacheCount()
	fmt.Printf("records:            %d\n", count)
	fmt.Printf("vector_index_size:  %d\n", components.Coordinator.IndexSize())
	fmt.Printf("embedding_cache:    %d\n", cacheCount)
	fmt.Printf("model:              %s\n", components.Embedder.ModelID())
	fmt.Printf("storage_dir:        %s\n", cfg.Storage.Dir)
	if diskBytes, err := storage.DiskUsageBytes(cfg.Storage.Dir); err == nil {
		fmt.Printf("disk_usage_bytes:   %d\n", diskBytes)
	}
}

// Components holds initialized services.
type Components struct {
	Storage     storage.Store
	Embedder    *embedding.CachingEmbedder
	Index       vector.VectorIndex
	Coordinator *cache.Coordinator
}

func (c *Components) Close() {
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Index != nil {
		_ = c.Index.Close()
	}
}

func mustInitialize(configPath string) (*Components, *config.Config, *zap.Logger) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	return components, cfg, logger
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	store, err := storage.NewSQLiteStore(cfg.Storage.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	// A configured model that fails to load is fatal: nothing can be
	// embedded or searched in the wrong space. Without a configured model
	// the deterministic mock embedder serves local development.
	var base embedding.Embedder
	if cfg.Embedding.ModelPath != "" {
		onnxEmbedder, err := embedding.NewONNXEmbedder(
			cfg.Embedding.ModelPath,
			cfg.Embedding.Dimensions,
			cfg.Embedding.MaxTokens,
		)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to load embedding model: %w", err)
		}
		base = onnxEmbedder
	} else {
		logger.Info("no embedding model configured, using deterministic mock embedder")
		base = embedding.NewMockEmbedder(cfg.Embedding.Dimensions)
	}

	embedder, err := embedding.NewCachingEmbedder(base, cfg.Storage.EmbedCacheDir(), cfg.Embedding.HotEntries)
	if err != nil {
		_ = base.Close()
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize embedding cache: %w", err)
	}

	index, err := vector.NewFlatIndex(cfg.Embedding.Dimensions)
	if err != nil {
		_ = embedder.Close()
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}

	coordinator := cache.New(
		store, embedder, index,
		cfg.Storage.IndexPath(), cfg.Storage.MetaPath(),
		cache.WithLogger(logger),
		cache.WithMaxRecords(cfg.Cache.MaxRecords),
		cache.WithCandidateMultiplier(cfg.Cache.CandidateMultiplier),
	)

	return &Components{
		Storage:     store,
		Embedder:    embedder,
		Index:       index,
		Coordinator: coordinator,
	}, nil
}

func printUsage() {
	fmt.Println(`crmcache - local semantic cache for CRM records

Usage:
  crmcache server [flags]                       Start the HTTP server
  crmcache ingest --type <t> <json-file|->      Cache records from a JSON file or stdin
  crmcache search [flags] <query>               Semantic search over cached records
  crmcache recent [flags]                       List recently cached records
  crmcache status [flags]                       Show cache/storage status
  crmcache version                              Show version
  crmcache help                                 Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/crmcache/config.yaml)
  --debug            Enable debug logging

Ingest Flags:
  --config string    Config file path
  --type string      Source type: contact, company, engagement, conversation_thread

Search Flags:
  --config string    Config file path (for direct storage mode)
  --server string    Server URL (default: http://localhost:8080). Use --server "" for direct storage.
  --limit int        Number of results (default: 10)
  --type string      Restrict to a source type

Recent Flags:
  --config string    Config file path
  --type string      Restrict to a source type
  --since string     RFC3339 cutoff
  --limit int        Number of results (default: 20)

Examples:
  crmcache server
  crmcache ingest --type contact contacts.json
  crmcache search "CEO at Acme"
  crmcache search --type conversation_thread "pricing discussion"
  crmcache recent --type contact --since 2026-08-27T00:00:00Z
  crmcache status`)
}
