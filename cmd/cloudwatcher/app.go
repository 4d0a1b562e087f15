package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/TobiSchelling/cloudwatcher/internal/collect"
	"github.com/TobiSchelling/cloudwatcher/internal/database"
	"github.com/TobiSchelling/cloudwatcher/internal/extract"
	"github.com/TobiSchelling/cloudwatcher/internal/fetch"
	"github.com/TobiSchelling/cloudwatcher/internal/linkcache"
	"github.com/TobiSchelling/cloudwatcher/internal/llm"
	"github.com/TobiSchelling/cloudwatcher/internal/metrics"
	"github.com/TobiSchelling/cloudwatcher/internal/scan"
)

// app holds the wired components of a scan-capable process.
type app struct {
	db       *database.DB
	redis    *redis.Client
	gateway  *extract.Gateway
	orch     *scan.Orchestrator
	registry *prometheus.Registry
}

func openDB(ctx context.Context) (*database.DB, error) {
	db, err := database.Open(ctx, cfg.Storage.Driver, cfg.StorageURL(), cfg.StorageKey())
	if err != nil {
		return nil, fmt.Errorf("opening %s storage: %w", cfg.Storage.Driver, err)
	}
	return db, nil
}

func newApp(ctx context.Context) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration:\n%w", err)
	}

	db, err := openDB(ctx)
	if err != nil {
		return nil, err
	}
	a := &app{db: db}

	provider, err := llm.CreateProvider(cfg.LLM.Provider, cfg.LLM.Model, cfg.LLM.OllamaURL, cfg.APIKey())
	if err != nil {
		a.Close()
		return nil, err
	}
	a.gateway = extract.New(provider, extract.Options{
		MaxTokens:          cfg.LLM.MaxTokens,
		PromptContentChars: cfg.LLM.PromptContentChars,
	}, logger.Named("extract"))

	feeds := make([]collect.FeedConfig, 0, len(cfg.Feeds))
	for _, f := range cfg.Feeds {
		feeds = append(feeds, collect.FeedConfig{URL: f.URL, Provider: f.Provider})
	}
	opts := collect.Options{
		MaxPerFeed:      cfg.Collector.MaxPerFeed,
		MaxContentChars: cfg.Collector.MaxContentChars,
		Timeout:         cfg.Collector.Timeout,
		UserAgent:       cfg.Collector.UserAgent,
	}
	if cfg.Collector.FetchMissingContent {
		opts.Fetcher = fetch.NewContentFetcher(cfg.Collector.Timeout, cfg.Collector.UserAgent)
	}
	collector := collect.NewCollector(feeds, opts, logger.Named("collect"))

	var store scan.Store = db
	if cfg.Redis.Address != "" {
		client, err := linkcache.Connect(ctx, cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Warn("Link cache disabled", zap.Error(err))
		} else {
			a.redis = client
			store = linkcache.New(db, client, cfg.Redis.Key, logger.Named("linkcache"))
		}
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a.orch = scan.New(collector, a.gateway, store, scan.Options{
		ItemDelay:   cfg.Scan.ItemDelay,
		SettleDelay: cfg.Scan.SettleDelay,
		Metrics:     metrics.New(a.registry),
	}, logger.Named("scan"))

	return a, nil
}

// Close waits for in-flight scans, then releases connections.
func (a *app) Close() {
	if a.orch != nil {
		a.orch.Wait()
	}
	if a.redis != nil {
		a.redis.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}
