// Command advisord runs the advisory chatbot backend: HTTP and websocket
// chat endpoints over the retrieval index and conversation store.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/movne/advisor-backend/advisor"
	"github.com/movne/advisor-backend/assembler"
	"github.com/movne/advisor-backend/chunker"
	"github.com/movne/advisor-backend/config"
	"github.com/movne/advisor-backend/core"
	"github.com/movne/advisor-backend/embedder"
	"github.com/movne/advisor-backend/embedder/mock"
	embollama "github.com/movne/advisor-backend/embedder/ollama"
	"github.com/movne/advisor-backend/generate"
	genanthropic "github.com/movne/advisor-backend/generate/anthropic"
	genollama "github.com/movne/advisor-backend/generate/ollama"
	"github.com/movne/advisor-backend/index"
	"github.com/movne/advisor-backend/index/chromem"
	"github.com/movne/advisor-backend/memory"
	"github.com/movne/advisor-backend/memory/store/sqlite"
	"github.com/movne/advisor-backend/server"
)

// newONNXEmbedder is set by the onnx build tag; without it the backend
// is unavailable.
var newONNXEmbedder func(cfg *config.Config) (embedder.Embedder, error)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	// Local development secrets; missing file is fine.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	emb, closeEmb, err := buildEmbedder(cfg)
	if err != nil {
		return fmt.Errorf("build embedder: %w", err)
	}
	defer closeEmb()

	idx, err := buildIndex(cfg, emb)
	if err != nil {
		return fmt.Errorf("build index: %w", err)
	}

	store, err := sqlite.Open(cfg.Storage.DatabasePath, memory.Config{Retention: cfg.Retention()})
	if err != nil {
		return fmt.Errorf("open conversation store: %w", err)
	}
	defer store.Close()

	counter, err := buildCounter(cfg)
	if err != nil {
		return fmt.Errorf("build token counter: %w", err)
	}

	builder, err := assembler.New(idx, store, assembler.Config{
		TopChunks:    cfg.Assembler.TopChunks,
		HistoryLimit: cfg.Assembler.HistoryLimit,
		Budget:       cfg.Assembler.Budget,
		Counter:      counter,
	})
	if err != nil {
		return fmt.Errorf("build assembler: %w", err)
	}

	gen, err := buildGenerator(cfg)
	if err != nil {
		return fmt.Errorf("build generator: %w", err)
	}

	ch, err := chunker.New(chunker.Config{DefaultLanguage: core.LanguageEnglish})
	if err != nil {
		return fmt.Errorf("build chunker: %w", err)
	}

	svc := advisor.New(ch, idx, store, builder, gen, store, advisor.Config{
		GenerationTimeout: cfg.GenerationTimeout(),
		Generation: generate.Params{
			Model:     cfg.Generation.Model,
			MaxTokens: cfg.Generation.MaxTokens,
		},
	})

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: server.New(svc, logger).Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func buildEmbedder(cfg *config.Config) (embedder.Embedder, func(), error) {
	var base embedder.Embedder
	switch cfg.Embedding.Backend {
	case "ollama":
		base = embollama.New(embollama.Config{
			URL:        cfg.Embedding.OllamaURL,
			Model:      cfg.Embedding.OllamaModel,
			Dimensions: cfg.Embedding.Dimensions,
		})
	case "mock":
		base = mock.New(cfg.Embedding.Dimensions)
	case "onnx":
		if newONNXEmbedder == nil {
			return nil, nil, fmt.Errorf("onnx backend not compiled in (build with -tags onnx)")
		}
		var err error
		base, err = newONNXEmbedder(cfg)
		if err != nil {
			return nil, nil, err
		}
	default:
		return nil, nil, fmt.Errorf("unknown embedding backend %q", cfg.Embedding.Backend)
	}

	if cfg.Embedding.CacheEntries <= 0 {
		return base, func() {}, nil
	}
	cached, err := embedder.NewCached(base, embedder.CacheConfig{MaxEntries: cfg.Embedding.CacheEntries})
	if err != nil {
		return nil, nil, err
	}
	return cached, cached.Close, nil
}

func buildIndex(cfg *config.Config, emb embedder.Embedder) (advisor.Index, error) {
	switch cfg.Storage.IndexBackend {
	case "native":
		return index.Open(emb, index.Config{SnapshotPath: cfg.Storage.SnapshotPath})
	case "chromem":
		return chromem.New(emb, cfg.Storage.ChromemPath)
	default:
		return nil, fmt.Errorf("unknown index backend %q", cfg.Storage.IndexBackend)
	}
}

func buildCounter(cfg *config.Config) (assembler.TokenCounter, error) {
	switch cfg.Assembler.BudgetUnit {
	case "runes":
		return assembler.RuneCounter{}, nil
	default:
		return assembler.NewBPECounter()
	}
}

func buildGenerator(cfg *config.Config) (generate.Generator, error) {
	switch cfg.Generation.Backend {
	case "anthropic":
		if cfg.Generation.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY is not set")
		}
		return genanthropic.New(cfg.Generation.AnthropicAPIKey), nil
	case "ollama":
		return genollama.New(genollama.Config{
			BaseURL: cfg.Generation.OllamaURL,
			Model:   cfg.Generation.Model,
			Timeout: cfg.GenerationTimeout(),
		}), nil
	default:
		return nil, fmt.Errorf("unknown generation backend %q", cfg.Generation.Backend)
	}
}
