package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/floatchat/floatchat/api"
	"github.com/floatchat/floatchat/internal/config"
	"github.com/floatchat/floatchat/internal/executor"
	"github.com/floatchat/floatchat/internal/geo"
	"github.com/floatchat/floatchat/internal/history"
	"github.com/floatchat/floatchat/internal/intent"
	"github.com/floatchat/floatchat/internal/knowledge"
	"github.com/floatchat/floatchat/internal/log"
	"github.com/floatchat/floatchat/internal/pipeline"
	"github.com/floatchat/floatchat/internal/rag"
)

// Setup creates and initializes the application. On error, everything
// already initialized is released before returning.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	a := &App{Config: cfg, Logger: logger}

	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	pool, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.DBPool = pool

	g, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	embedder := provideEmbedder(g, cfg)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
	}
	a.Embedder = embedder

	a.Knowledge = knowledge.New(knowledge.NewQueries(pool), embedder, logger)
	a.Indexer = knowledge.NewIndexer(pool, a.Knowledge, logger)
	a.History = history.NewStore(history.NewQueries(pool), history.NewTokenCounter(logger), history.Limits{
		MaxMessageTokens:   cfg.MaxMessageTokens,
		MaxSessionTokens:   cfg.MaxSessionTokens,
		MaxSessionMessages: cfg.MaxSessionMessages,
	}, logger)

	a.Pipeline = providePipeline(a, logger)

	server, err := api.NewServer(api.ServerConfig{
		Logger:   logger,
		Pipeline: a.Pipeline,
		Sessions: a.History,
		DB:       pool,
	})
	if err != nil {
		return nil, fmt.Errorf("creating http server: %w", err)
	}
	a.Server = server

	return a, nil
}

// provideDBPool creates and verifies the PostgreSQL connection pool.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}

// provideGenkit initializes Genkit with the configured AI provider.
func provideGenkit(ctx context.Context, cfg *config.Config, logger log.Logger) (*genkit.Genkit, error) {
	var g *genkit.Genkit

	switch cfg.Provider {
	case config.ProviderOllama:
		ollamaPlugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}
		g = genkit.Init(ctx, genkit.WithPlugins(ollamaPlugin))
		if g == nil {
			return nil, errors.New("initializing genkit with ollama provider")
		}
		// Ollama requires explicit model registration.
		ollamaPlugin.DefineModel(g, ollama.ModelDefinition{
			Name: cfg.ModelName,
			Type: "chat",
		}, nil)
		ollamaPlugin.DefineEmbedder(g, cfg.OllamaHost, cfg.EmbedderModel, nil)
		logger.Info("initialized genkit with ollama provider",
			"model", cfg.ModelName, "host", cfg.OllamaHost)

	default: // gemini / googleai
		g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with gemini provider")
		}
		logger.Info("initialized genkit with gemini provider", "model", cfg.ModelName)
	}

	return g, nil
}

// provideEmbedder looks up the embedder registered by the provider
// plugin.
func provideEmbedder(g *genkit.Genkit, cfg *config.Config) ai.Embedder {
	switch cfg.Provider {
	case config.ProviderOllama:
		return ollama.Embedder(g, cfg.OllamaHost)
	default:
		return googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	}
}

// providePipeline assembles the orchestrator from already initialized
// components.
func providePipeline(a *App, logger log.Logger) *pipeline.Orchestrator {
	cfg := a.Config

	resolverOpts := []geo.Option{
		geo.WithExternalGeocoding(cfg.ExternalGeocoding),
		geo.WithRadiusKm(cfg.ProximityRadiusKm),
	}
	if cfg.GeocodingUserAgent != "" {
		resolverOpts = append(resolverOpts, geo.WithUserAgent(cfg.GeocodingUserAgent))
	}
	resolver := geo.NewResolver(logger, resolverOpts...)

	retriever := knowledge.NewRetriever(a.Knowledge, cfg.RetrievalTopK, logger)
	generator := rag.NewGenkitGenerator(a.Genkit, cfg.FullModelName())
	core := rag.NewCore(retriever, generator, logger)
	exec := executor.New(a.DBPool, time.Duration(cfg.QueryTimeoutSeconds)*time.Second, logger)

	return pipeline.New(
		intent.NewClassifier(),
		resolver,
		generator,
		core,
		exec,
		a.History,
		logger,
		pipeline.WithHistoryTurns(cfg.HistoryTurns),
		pipeline.WithMaxSessionMessages(cfg.MaxSessionMessages),
	)
}
