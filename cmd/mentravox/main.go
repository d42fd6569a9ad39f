// Command mentravox is the main entry point for the Mentravox glasses
// assistant server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/mentravox/mentravox/internal/app"
	"github.com/mentravox/mentravox/internal/config"
	"github.com/mentravox/mentravox/pkg/provider/embeddings"
	ollamaembed "github.com/mentravox/mentravox/pkg/provider/embeddings/ollama"
	oaembed "github.com/mentravox/mentravox/pkg/provider/embeddings/openai"
	"github.com/mentravox/mentravox/pkg/provider/llm"
	"github.com/mentravox/mentravox/pkg/provider/llm/anyllm"
	oallm "github.com/mentravox/mentravox/pkg/provider/llm/openai"
)

func main() {
	os.Exit(run())
}

func run() int {
	// A missing .env file is fine; environment overrides are optional.
	_ = godotenv.Load()

	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	logLevel := flag.String("log-level", "", "override the configured log level (debug, info, warn, error)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mentravox: %v\n", err)
		return 1
	}
	if *logLevel != "" {
		lvl := config.LogLevel(*logLevel)
		if !lvl.IsValid() {
			fmt.Fprintf(os.Stderr, "mentravox: invalid log level %q\n", *logLevel)
			return 1
		}
		cfg.Server.LogLevel = lvl
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("mentravox starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	providers, err := buildProviders(cfg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// buildProviders instantiates the LLM, fallback and embeddings providers
// named in cfg.
func buildProviders(cfg *config.Config) (*app.Providers, error) {
	ps := &app.Providers{}

	primary, err := buildLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", cfg.Providers.LLM.Name, err)
	}
	ps.LLM = primary
	if primary != nil {
		slog.Info("provider created", "kind", "llm", "name", cfg.Providers.LLM.Name, "model", cfg.Providers.LLM.Model)
	}

	fallback, err := buildLLM(cfg.Providers.FallbackLLM)
	if err != nil {
		return nil, fmt.Errorf("create fallback llm provider %q: %w", cfg.Providers.FallbackLLM.Name, err)
	}
	ps.Fallback = fallback
	if fallback != nil {
		slog.Info("provider created", "kind", "fallback_llm", "name", cfg.Providers.FallbackLLM.Name, "model", cfg.Providers.FallbackLLM.Model)
	}

	embedder, err := buildEmbeddings(cfg.Providers.Embeddings)
	if err != nil {
		return nil, fmt.Errorf("create embeddings provider %q: %w", cfg.Providers.Embeddings.Name, err)
	}
	ps.Embeddings = embedder
	if embedder != nil {
		slog.Info("provider created", "kind", "embeddings", "name", cfg.Providers.Embeddings.Name, "model", cfg.Providers.Embeddings.Model)
	}

	return ps, nil
}

// buildLLM constructs an LLM provider from one config entry. The "openai"
// name uses the native client; every other name goes through any-llm-go.
// An empty name yields nil.
func buildLLM(entry config.ProviderEntry) (llm.Provider, error) {
	switch entry.Name {
	case "":
		return nil, nil

	case "openai":
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)

	case "ollama":
		// Local server; BaseURL is the address, no API key.
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)

	default:
		var opts []anyllmlib.Option
		if entry.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
		}
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New(entry.Name, entry.Model, opts...)
	}
}

// buildEmbeddings constructs the embeddings provider for the semantic recall
// index. An empty name yields nil and disables recall.
func buildEmbeddings(entry config.ProviderEntry) (embeddings.Provider, error) {
	switch entry.Name {
	case "":
		return nil, nil

	case "openai":
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)

	case "ollama":
		return ollamaembed.New(entry.BaseURL, entry.Model)

	default:
		return nil, fmt.Errorf("unknown embeddings provider %q", entry.Name)
	}
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
