package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agentflow/internal/api"
	"agentflow/internal/config"
	"agentflow/internal/database"
	"agentflow/internal/execution"
	"agentflow/internal/logging"
	"agentflow/internal/logs"
	"agentflow/internal/providers"
	"agentflow/internal/tools"
)

func main() {
	cfg := config.Load()
	logging.Init(cfg.Environment)

	pricing, err := config.LoadPricing(cfg.PricingFile)
	if err != nil {
		slog.Warn("pricing table unavailable, costs will be zero", "file", cfg.PricingFile, "error", err)
		pricing = config.PricingTable{}
	}
	pricingFunc := func(model string) (providers.ModelPricing, bool) {
		p, ok := pricing[model]
		if !ok {
			return providers.ModelPricing{}, false
		}
		return providers.ModelPricing{Input: p.Input, Output: p.Output, CachedInput: p.CachedInput}, true
	}

	registry := providers.NewRegistry(providers.RegistryConfig{
		APIKeys: map[string]string{
			"openai":    cfg.OpenAIAPIKey,
			"anthropic": cfg.AnthropicAPIKey,
			"google":    cfg.GoogleAPIKey,
			"deepseek":  cfg.DeepseekAPIKey,
			"xai":       cfg.XAIAPIKey,
			"groq":      cfg.GroqAPIKey,
			"cerebras":  cfg.CerebrasAPIKey,
		},
		HostedKeys:      cfg.HostedKeys,
		HostedModels:    cfg.HostedModels,
		AllowServerKeys: cfg.AllowServerKeys,
		OllamaURL:       cfg.OllamaURL,
		Pricing:         pricingFunc,
	})

	if cfg.OllamaURL != "" {
		refreshCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := registry.RefreshLocalModels(refreshCtx); err != nil {
			slog.Warn("local model discovery failed", "url", cfg.OllamaURL, "error", err)
		} else {
			slog.Info("local models discovered", "count", len(registry.LocalModels()))
		}
		cancel()
	}

	toolRegistry := tools.GetRegistry()
	slog.Info("tool registry ready", "tools", toolRegistry.Count())

	var sqlDB *database.DB
	if cfg.DatabaseURL != "" {
		sqlDB, err = database.New(cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect to MySQL", "error", err)
			os.Exit(1)
		}
		if err := sqlDB.Initialize(); err != nil {
			slog.Error("failed to initialize MySQL schema", "error", err)
			os.Exit(1)
		}
	}

	var mongo *database.MongoDB
	var logLogger *logs.Logger
	var reader api.ExecutionReader
	if cfg.MongoURL != "" {
		mongo, err = database.NewMongoDB(cfg.MongoURL)
		if err != nil {
			slog.Error("failed to connect to MongoDB", "error", err)
			os.Exit(1)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := mongo.Initialize(ctx); err != nil {
			cancel()
			slog.Error("failed to initialize MongoDB indexes", "error", err)
			os.Exit(1)
		}
		cancel()

		store := logs.NewDBStore(mongo, sqlDB)
		logLogger = logs.NewLogger(store)
		reader = store
	} else {
		slog.Warn("MONGO_URL not set, execution logs will not be persisted")
	}

	tracker := execution.NewTracker()
	handler := api.NewWorkflowHandler(registry, toolRegistry, logLogger, reader, tracker, nil)
	server := api.NewServer(cfg, handler, tracker)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		slog.Info("shutting down")
		if err := server.Shutdown(30 * time.Second); err != nil {
			slog.Warn("error during shutdown", "error", err)
		}
		if mongo != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := mongo.Close(ctx); err != nil {
				slog.Warn("error closing MongoDB", "error", err)
			}
		}
		if sqlDB != nil {
			if err := sqlDB.Close(); err != nil {
				slog.Warn("error closing MySQL", "error", err)
			}
		}
	}()

	slog.Info("server starting", "port", cfg.Port, "environment", cfg.Environment)
	if err := server.Listen(); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
