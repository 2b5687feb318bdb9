// Command synapse is an interactive code agent. It answers questions with a
// tool-calling model and keeps one source file in context, re-reading it
// before every question so the model sees the latest version.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"time"

	"github.com/martinemde/synapse/agentloop"
	"github.com/martinemde/synapse/unifiedllm"
)

func main() {
	var configPath, provider, model string
	flag.StringVar(&configPath, "config", "", "path to a YAML or JSON config file")
	flag.StringVar(&provider, "provider", "", "model provider: gemini, openai or anthropic")
	flag.StringVar(&model, "model", "", "model ID or alias")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, configPath, provider, model); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, provider, model string) error {
	cfg, err := agentloop.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if provider != "" {
		cfg.Provider = provider
	}
	if model != "" {
		cfg.Model = model
	}

	level, err := agentloop.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	profile, err := agentloop.ProfileFor(cfg.Provider, cfg.Model)
	if err != nil {
		return err
	}
	client, err := newClient(ctx, cfg, profile.ID(), profile.ModelID(), logger)
	if err != nil {
		return err
	}
	defer client.Close()

	ws, err := agentloop.NewWorkspace(cfg.Workspace)
	if err != nil {
		return err
	}

	sc := cfg.SessionConfig()
	sc.Workspace = ws
	sc.Logger = logger
	sc.Retry.OnRetry = func(err error, attempt int, delay time.Duration) {
		logger.Warn("retrying model call", "attempt", attempt, "delay", delay, "error", err)
	}

	reg := agentloop.NewToolRegistry()
	if err := agentloop.RegisterBuiltinTools(reg, agentloop.BuiltinDeps{
		Workspace:     ws,
		Client:        client,
		Model:         profile.ModelID(),
		Provider:      profile.ID(),
		Retry:         &sc.Retry,
		CryptoBaseURL: cfg.CryptoBaseURL,
	}); err != nil {
		return err
	}

	session, err := agentloop.NewSession(client, profile, reg, sc)
	if err != nil {
		return err
	}
	defer session.Close()

	logger.Info("session started", "provider", profile.ID(), "model", profile.ModelID(), "workspace", ws.Root())

	r := newREPL(session, os.Stdin, os.Stdout)
	go r.printEvents(session.Events())
	return r.loop(ctx)
}

// newClient builds the client for provider. An explicit api_key_env in the
// config takes precedence over the environment scan.
func newClient(ctx context.Context, cfg *agentloop.FileConfig, provider, model string, logger *slog.Logger) (*unifiedllm.Client, error) {
	if cfg.APIKeyEnv != "" {
		key := os.Getenv(cfg.APIKeyEnv)
		if key == "" {
			return nil, fmt.Errorf("%s is not set", cfg.APIKeyEnv)
		}
		var adapter unifiedllm.ProviderAdapter
		var err error
		if provider == "gemini" {
			adapter, err = unifiedllm.NewGeminiAdapter(ctx, key)
		} else {
			adapter, err = unifiedllm.NewGollmAdapter(provider, key, unifiedllm.WithModel(model))
		}
		if err != nil {
			return nil, err
		}
		return unifiedllm.NewClient(
			unifiedllm.WithProvider(provider, adapter),
			unifiedllm.WithDefaultProvider(provider),
			unifiedllm.WithMiddleware(unifiedllm.LoggingMiddleware(logger)),
		), nil
	}

	client := unifiedllm.NewClientFromEnv(ctx)
	if !slices.Contains(client.Providers(), provider) {
		_ = client.Close()
		return nil, errors.New(missingKeyMessage(provider))
	}
	client.Use(unifiedllm.LoggingMiddleware(logger))
	return client, nil
}

func missingKeyMessage(provider string) string {
	switch provider {
	case "gemini":
		return "no Gemini credentials: set GEMINI_API_KEY or GOOGLE_API_KEY"
	case "openai":
		return "no OpenAI credentials: set OPENAI_API_KEY"
	case "anthropic":
		return "no Anthropic credentials: set ANTHROPIC_API_KEY"
	default:
		return fmt.Sprintf("provider %q is not configured", provider)
	}
}
