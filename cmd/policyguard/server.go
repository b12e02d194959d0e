package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/policyguard/internal/analysis"
	"github.com/kalambet/policyguard/internal/api"
	"github.com/kalambet/policyguard/internal/chunking"
	"github.com/kalambet/policyguard/internal/compliance"
	"github.com/kalambet/policyguard/internal/config"
	"github.com/kalambet/policyguard/internal/engine"
	"github.com/kalambet/policyguard/internal/extract"
	"github.com/kalambet/policyguard/internal/ingest"
	"github.com/kalambet/policyguard/internal/invoice"
	"github.com/kalambet/policyguard/internal/reranking"
	"github.com/kalambet/policyguard/internal/retrieval"
	"github.com/kalambet/policyguard/internal/storage"
	"github.com/kalambet/policyguard/internal/validation"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the policyguard server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running policyguard server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show policyguard system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the MCP tools over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "policyguard.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

// setupLogging installs the default slog logger.
func setupLogging(cfg config.LogConfig, w io.Writer) {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(h))
}

// app is the wired service graph shared by the HTTP server and the MCP
// stdio server.
type app struct {
	deps    api.Deps
	closers []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("closing resource", "error", err)
		}
	}
}

func buildApp(ctx context.Context, cfg config.Config, token string) (*app, error) {
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	eng, err := engine.Detect(engine.DetectConfig{
		Provider:   cfg.Engine.Provider,
		BaseURL:    cfg.Engine.BaseURL,
		APIKey:     cfg.Engine.OpenAIAPIKey,
		Dimensions: cfg.Engine.EmbedDimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("detecting model backend: %w", err)
	}
	models := []string{cfg.Engine.ChatModel, cfg.Engine.VisionModel, cfg.Engine.EmbedModel}
	if err := engine.EnsureReady(ctx, eng, models, os.Stderr); err != nil {
		return nil, err
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	a.closers = append(a.closers, store.Close)

	var knowledge retrieval.KnowledgeStore
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		pg, err := retrieval.OpenPgStore(ctx, cfg.Storage.PostgresDSN, cfg.Engine.EmbedDimensions)
		if err != nil {
			return nil, fmt.Errorf("opening postgres knowledge store: %w", err)
		}
		a.closers = append(a.closers, pg.Close)
		knowledge = pg
	default:
		knowledge = retrieval.NewSQLiteStore(store.DB())
	}
	slog.Info("knowledge store ready", "driver", cfg.Storage.Driver)

	gst, err := invoice.NewGSTRule(cfg.Analysis.GSTPattern)
	if err != nil {
		return nil, fmt.Errorf("compiling analysis.gst_pattern: %w", err)
	}
	chunker, err := chunking.New(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap)
	if err != nil {
		return nil, fmt.Errorf("configuring chunker: %w", err)
	}

	embedder := retrieval.NewEmbedder(eng, cfg.Engine.EmbedModel, retrieval.EmbedderConfig{
		BatchSize:  cfg.Ingest.BatchSize,
		Rate:       cfg.Ingest.EmbedRate,
		Dimensions: cfg.Engine.EmbedDimensions,
	})
	searcher := retrieval.NewSearcher(embedder, knowledge, retrieval.SearcherConfig{
		TopK:          cfg.Retrieval.TopK,
		MinSimilarity: float32(cfg.Retrieval.MinSimilarity),
	})
	reranker := reranking.NewReranker(
		eng,
		cfg.Engine.ChatModel,
		cfg.Analysis.RerankingEnabled,
		cfg.Analysis.RerankingTimeoutDuration(),
		cfg.Analysis.RerankingThreshold,
		cfg.Retrieval.TopK,
	)

	stageTimeout := cfg.Analysis.StageTimeoutDuration()
	extractor := extract.New(extract.EngineVision{Engine: eng, Model: cfg.Engine.VisionModel})
	validator := validation.NewValidator(eng, cfg.Engine.ChatModel, gst, stageTimeout)
	checker := compliance.NewChecker(eng, searcher, reranker, compliance.Config{
		Model:   cfg.Engine.ChatModel,
		TopK:    cfg.Retrieval.TopK,
		Timeout: stageTimeout,
	})
	maxUpload := int64(cfg.Ingest.MaxUploadBytes)

	a.deps = api.Deps{
		Ingester: ingest.New(extractor, chunker, embedder, knowledge, ingest.Config{
			BatchSize:     cfg.Ingest.BatchSize,
			MinTextLength: cfg.Ingest.MinTextLength,
			MaxBytes:      maxUpload,
		}),
		Policies:       knowledge,
		Searcher:       searcher,
		Analyzer:       analysis.NewAnalyzer(extractor, validator, checker, maxUpload),
		History:        store,
		Token:          token,
		MaxUploadBytes: maxUpload,
	}
	ok = true
	return a, nil
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "policyguard version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log, os.Stderr)

	apiToken, err := config.GetAPIToken(config.NewSecretStore())
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	// Refuse to start twice: the health endpoint answers when a server runs.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("policyguard is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("policyguard is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, apiToken)
	if err != nil {
		return err
	}
	defer a.Close()

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewHandler(a.deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "policyguard listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// In-flight analyses get a grace period to finish.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runMCP() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	// stdout carries the MCP protocol; logs go to stderr.
	setupLogging(cfg.Log, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, "")
	if err != nil {
		return err
	}
	defer a.Close()

	stdioSrv := server.NewStdioServer(api.NewMCPServer(a.deps))
	slog.Info("MCP server started (stdio transport)")
	if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio server: %w", err)
	}
	return nil
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("policyguard is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop policyguard (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to policyguard (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	running := false
	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Provider", "%s", cfg.Engine.Provider)
	if cfg.Engine.BaseURL != "" {
		printStatus("Base URL", "%s", cfg.Engine.BaseURL)
	}
	printStatus("Chat model", "%s", cfg.Engine.ChatModel)
	printStatus("Vision model", "%s", cfg.Engine.VisionModel)
	printStatus("Embed model", "%s (%d dims)", cfg.Engine.EmbedModel, cfg.Engine.EmbedDimensions)
	printStatus("Knowledge store", "%s", cfg.Storage.Driver)

	apiToken, tokenErr := config.GetAPIToken(config.NewSecretStore())
	if tokenErr == nil && running {
		if docsResp, err := apiGet(client, serverURL+"/policies", apiToken); err == nil {
			var docs []json.RawMessage
			if json.NewDecoder(docsResp.Body).Decode(&docs) == nil {
				printStatus("Policy documents", "%d", len(docs))
			}
			docsResp.Body.Close()
		}
		if invResp, err := apiGet(client, serverURL+"/invoices?limit=100", apiToken); err == nil {
			var invoices []json.RawMessage
			if json.NewDecoder(invResp.Body).Decode(&invoices) == nil {
				printStatus("Analysed invoices", "%s", countLabel(len(invoices), 100))
			}
			invResp.Body.Close()
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	printStatus("Config file", "%s", config.ConfigFilePath())
	return nil
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return fmt.Sprintf("%d", count)
}

func apiGet(client *http.Client, url, token string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return client.Do(req)
}
