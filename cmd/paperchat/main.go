// Package main is the paperchat CLI entry point.
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

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/evidenceworks/paperchat/internal/chunker"
	"github.com/evidenceworks/paperchat/internal/config"
	"github.com/evidenceworks/paperchat/internal/embedding"
	"github.com/evidenceworks/paperchat/internal/extract"
	"github.com/evidenceworks/paperchat/internal/generation"
	"github.com/evidenceworks/paperchat/internal/models"
	"github.com/evidenceworks/paperchat/internal/pipeline"
	"github.com/evidenceworks/paperchat/internal/retriever"
	"github.com/evidenceworks/paperchat/internal/server"
	"github.com/evidenceworks/paperchat/internal/storage"
	"github.com/evidenceworks/paperchat/internal/synthesis"
	"github.com/evidenceworks/paperchat/internal/vector"
	"github.com/evidenceworks/paperchat/internal/watcher"
	"github.com/evidenceworks/paperchat/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/paperchat/config.yaml"

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	switch os.Args[1] {
	case "server":
		runServer()
	case "ingest":
		runIngest()
	case "ask":
		runAsk()
	case "papers":
		runPapers()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("paperchat version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`paperchat - grounded Q&A over academic PDFs

Usage:
  paperchat server  [-config path] [-debug]      run the HTTP API server
  paperchat ingest  [-config path] <pdf>...      ingest PDFs locally
  paperchat ask     [-server url] [-paper id] <question>
  paperchat papers  [-server url]                list papers and statuses
  paperchat status  [-server url]                show index statistics
  paperchat version
`)
}

// loadConfig loads config from path. When path is the default, it first looks
// for config.yaml in the current directory (for development); if that exists
// it is used. Falls back to built-in defaults when no file is found at the
// default location.
func loadConfig(path string) (*config.Config, error) {
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				return config.Load(fallback)
			}
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return config.Default(), nil
		}
	}
	return config.Load(path)
}

// components holds the wired core, shared by the server and local ingestion.
type components struct {
	Storage     storage.Storage
	Index       vector.Index
	Embedder    embedding.Embedder
	Pipeline    *pipeline.Pipeline
	Retriever   *retriever.Retriever
	Synthesizer *synthesis.Synthesizer
}

func (c *components) Close() {
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Index != nil {
		_ = c.Index.Close()
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*components, error) {
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	index, err := vector.NewMemoryIndex(cfg.Embedding.Dimensions)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	if err := index.Load(cfg.Storage.VectorIndexPath); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("load vector index: %w", err)
	}
	embedder, err := embedding.NewOpenAIEmbedder(&cfg.Embedding)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	generator, err := generation.NewOpenAIGenerator(&cfg.Generation)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	pipe := pipeline.NewPipeline(
		store,
		embedder,
		index,
		chunker.NewChunker(cfg.Chunking.ChunkSize, cfg.Chunking.ChunkOverlap),
		extract.NewExtractor(),
		cfg.Storage.UploadDir,
		pipeline.WithLogger(logger),
		pipeline.WithIndexPath(cfg.Storage.VectorIndexPath),
	)
	ret := retriever.NewRetriever(store, embedder, index)
	synth := synthesis.NewSynthesizer(generator, &cfg.Retrieval, &cfg.Synthesis, cfg.Generation.Timeout())

	return &components{
		Storage:     store,
		Index:       index,
		Embedder:    embedder,
		Pipeline:    pipe,
		Retriever:   ret,
		Synthesizer: synth,
	}, nil
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, err := loadConfig(*configPath)
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

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	var watchCancel context.CancelFunc
	if cfg.Watch.Directory != "" {
		var watchCtx context.Context
		watchCtx, watchCancel = context.WithCancel(context.Background())
		defer watchCancel()
		watchOpts := []watcher.Option{}
		if debugMode {
			watchOpts = append(watchOpts, watcher.WithLogger(logger))
		}
		w := watcher.NewWatcher(cfg.Watch.Directory, func(path string) {
			key, err := stageUpload(path, cfg.Storage.UploadDir)
			if err != nil {
				logger.Warn("stage watched pdf failed", zap.String("path", path), zap.Error(err))
				return
			}
			if _, err := components.Pipeline.Ingest(context.Background(), key); err != nil {
				logger.Warn("watch ingest failed", zap.String("path", path), zap.Error(err))
			}
		}, watchOpts...)
		if err := w.Start(watchCtx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		defer w.Stop()
	}

	srv := server.NewServer(
		components.Retriever,
		components.Synthesizer,
		components.Pipeline,
		components.Storage,
		components.Index,
		cfg,
		logger,
	)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	if watchCancel != nil {
		watchCancel()
	}
	components.Pipeline.Wait()
	if err := components.Index.Save(cfg.Storage.VectorIndexPath); err != nil {
		logger.Warn("vector index save failed", zap.Error(err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

// stageUpload copies a PDF into the upload directory under a fresh upload key
// (no-op copy when it is already there) and returns the key. The key carries a
// random fragment so repeated drops of the same filename never collide.
func stageUpload(path, uploadDir string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if filepath.Dir(abs) == uploadDir {
		return filepath.Base(abs), nil
	}
	content, err := os.ReadFile(abs)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(uploadDir, 0755); err != nil {
		return "", err
	}
	key := fmt.Sprintf("%d_%s_%s",
		time.Now().Unix(),
		strings.ReplaceAll(uuid.New().String(), "-", "")[:8],
		filepath.Base(abs),
	)
	if err := os.WriteFile(filepath.Join(uploadDir, key), content, 0644); err != nil {
		return "", err
	}
	return key, nil
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])
	if fs.NArg() == 0 {
		fmt.Println("Usage: paperchat ingest [-config path] <pdf>...")
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug || *debug)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	ctx := context.Background()
	failed := 0
	for _, path := range fs.Args() {
		key, err := stageUpload(path, cfg.Storage.UploadDir)
		if err != nil {
			fmt.Printf("✗ %s: %v\n", path, err)
			failed++
			continue
		}
		paper, err := components.Pipeline.Ingest(ctx, key)
		if err != nil {
			fmt.Printf("✗ %s: %v\n", path, err)
			failed++
			continue
		}
		fmt.Printf("✓ %s  [%s] %s\n", path, paper.ID, paper.Title)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func runAsk() {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:3001", "paperchat server URL")
	paper := fs.String("paper", models.PaperFilterAll, "paper ID to restrict the question to")
	_ = fs.Parse(os.Args[2:])
	question := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if question == "" {
		fmt.Println("Usage: paperchat ask [-server url] [-paper id] <question>")
		os.Exit(1)
	}

	body, _ := json.Marshal(models.ChatRequest{Question: question, PaperFilter: *paper})
	resp, err := http.Post(*serverURL+"/api/v1/chat", "application/json", bytes.NewReader(body))
	if err != nil {
		fmt.Printf("Request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		fmt.Printf("Server error (%d): %s\n", resp.StatusCode, strings.TrimSpace(string(msg)))
		os.Exit(1)
	}
	var chat models.ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		fmt.Printf("Invalid response: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(chat.Answer)
	if len(chat.Citations) > 0 {
		fmt.Println("\nSources:")
		for _, c := range chat.Citations {
			loc := ""
			if c.PageStart > 0 {
				if c.PageEnd > c.PageStart {
					loc = fmt.Sprintf(" p. %d-%d", c.PageStart, c.PageEnd)
				} else {
					loc = fmt.Sprintf(" p. %d", c.PageStart)
				}
			}
			if c.Section != "" {
				loc += " § " + c.Section
			}
			fmt.Printf("  [%d] %s%s - %s\n", c.Rank, c.PaperTitle, loc, utils.Truncate(c.Snippet, 100))
		}
	}
}

func runPapers() {
	fs := flag.NewFlagSet("papers", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:3001", "paperchat server URL")
	_ = fs.Parse(os.Args[2:])

	resp, err := http.Get(*serverURL + "/api/v1/papers")
	if err != nil {
		fmt.Printf("Request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	var papers []struct {
		PaperID string `json:"paperId"`
		Title   string `json:"title"`
		Status  string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&papers); err != nil {
		fmt.Printf("Invalid response: %v\n", err)
		os.Exit(1)
	}
	if len(papers) == 0 {
		fmt.Println("No papers ingested.")
		return
	}
	for _, p := range papers {
		fmt.Printf("%-14s %-10s %s\n", p.PaperID, p.Status, p.Title)
	}
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:3001", "paperchat server URL")
	_ = fs.Parse(os.Args[2:])

	resp, err := http.Get(*serverURL + "/api/v1/status")
	if err != nil {
		fmt.Printf("Request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, out, "", "  "); err != nil {
		fmt.Println(strings.TrimSpace(string(out)))
		return
	}
	fmt.Println(pretty.String())
}
