package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fupingyezi/mini-DeepResearch/config"
	"github.com/fupingyezi/mini-DeepResearch/internal/agent"
	"github.com/fupingyezi/mini-DeepResearch/internal/cache"
	"github.com/fupingyezi/mini-DeepResearch/internal/circuitbreaker"
	"github.com/fupingyezi/mini-DeepResearch/internal/graph"
	"github.com/fupingyezi/mini-DeepResearch/internal/metrics"
	"github.com/fupingyezi/mini-DeepResearch/internal/research"
	"github.com/fupingyezi/mini-DeepResearch/internal/store"
	"github.com/fupingyezi/mini-DeepResearch/provider"
	"github.com/fupingyezi/mini-DeepResearch/tools/web_fetch"
	"github.com/fupingyezi/mini-DeepResearch/tools/web_search"
)

// App is the wired process: HTTP server plus the resources it owns.
type App struct {
	Server  *Server
	Store   *store.Store
	Redis   *redis.Client
	Janitor *Janitor
	Logger  *zap.Logger
}

func breaker(name string, c config.BreakerConfig, logger *zap.Logger) *circuitbreaker.Breaker {
	return circuitbreaker.New(name, circuitbreaker.Config{
		FailureThreshold: c.FailureThreshold,
		Timeout:          c.Timeout,
		OnStateChange:    metrics.BreakerStateChange,
	}, logger.Named("breaker"))
}

// NewSearchTool builds the web search tool described by cfg.
func NewSearchTool(cfg config.SearchConfig, logger *zap.Logger) (*web_search.Tool, error) {
	searcher, err := web_search.NewWebSearcher(web_search.Provider(cfg.Provider), cfg.APIKey, cfg.BaseURL, &http.Client{Timeout: cfg.Timeout})
	if err != nil {
		return nil, err
	}
	tool := &web_search.Tool{
		Searcher:   searcher,
		Provider:   web_search.Provider(cfg.Provider),
		MaxResults: cfg.MaxResults,
		Rerank:     cfg.Rerank,
		Breaker:    breaker("search", cfg.Breaker, logger),
		Logger:     logger.Named("search"),
	}
	if cfg.Enrich.Enabled {
		fetcher, err := web_fetch.NewWebFetcher(web_fetch.FetcherType(cfg.Enrich.Fetcher), cfg.Enrich.Timeout, cfg.Enrich.MaxContentChars, nil)
		if err != nil {
			return nil, err
		}
		tool.Enricher = &web_fetch.Enricher{
			Fetcher:         fetcher,
			MinContentChars: cfg.Enrich.MinContentChars,
			Concurrency:     cfg.Enrich.Concurrency,
			Logger:          logger.Named("enrich"),
		}
	}
	return tool, nil
}

// Build wires every dependency from cfg. Close releases them.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	app := &App{Logger: logger}

	llm, err := provider.NewProvider(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("llm provider: %w", err)
	}
	llmBreaker := breaker("llm", cfg.LLM.Breaker, logger)
	search, err := NewSearchTool(cfg.Search, logger)
	if err != nil {
		return nil, fmt.Errorf("search tool: %w", err)
	}

	if cfg.Server.AutoMigrate {
		if err := Migrate(cfg.Server.MigrationsDir, cfg.Storage.Postgres.DSN(), "up", 0); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	app.Store, err = store.NewWithDSN(ctx, cfg.Storage.Postgres.DSN())
	if err != nil {
		return nil, err
	}
	if cfg.Cache.Enabled || cfg.Checkpoint.Backend == "redis" {
		app.Redis, err = cache.NewClient(ctx, cfg.Storage.Redis)
		if err != nil {
			app.Close()
			return nil, err
		}
	}

	var cp graph.Checkpointer
	switch cfg.Checkpoint.Backend {
	case "memory":
		cp = graph.NewMemoryCheckpointer()
	case "redis":
		cp = cache.NewRedisCheckpointer(app.Redis, cfg.Cache.Prefix, cfg.Checkpoint.TTL)
	default:
		cp = app.Store
	}

	deps := research.Deps{LLM: llm, Search: search, Logger: logger.Named("research"), Breaker: llmBreaker}
	g, err := research.NewGraph(deps, research.OptionsFromConfig(cfg.Research))
	if err != nil {
		app.Close()
		return nil, err
	}
	engine, err := graph.NewEngine(g,
		graph.WithCheckpointer(cp),
		graph.WithMaxSteps(cfg.Research.MaxSteps),
		graph.WithLogger(logger.Named("graph")),
		graph.WithMetrics(metrics.GraphMetrics()),
	)
	if err != nil {
		app.Close()
		return nil, err
	}

	if p, ok := cp.(Pruner); ok {
		app.Janitor, err = NewJanitor(p, cfg.Checkpoint.PruneSchedule, cfg.Checkpoint.Retention, app.Redis, logger.Named("janitor"))
		if err != nil {
			app.Close()
			return nil, err
		}
	}

	var c *cache.Cache
	if cfg.Cache.Enabled {
		c = cache.New(app.Redis, cfg.Cache.Prefix, cfg.Cache.TTL)
	}
	app.Server = New(Deps{
		Repo:        app.Store,
		Cache:       c,
		Engine:      engine,
		Chat:        agent.NewChat(llm, llmBreaker, logger.Named("agent")),
		Search:      agent.NewSearch(llm, search, llmBreaker, logger.Named("agent")),
		Logger:      logger,
		CORSOrigins: cfg.Server.CORSOrigins,
		Heartbeat:   cfg.Server.HeartbeatInterval,
	})
	return app, nil
}

// Run serves addr and runs the janitor until ctx is done.
func (a *App) Run(ctx context.Context, addr string) error {
	if a.Janitor != nil {
		go a.Janitor.Run(ctx)
	}
	return a.Server.Start(ctx, addr)
}

func (a *App) Close() {
	var errs []error
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	if err := errors.Join(errs...); err != nil {
		a.Logger.Warn("close resources", zap.Error(err))
	}
}
