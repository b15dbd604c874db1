package commands

import (
	"context"

	"go.uber.org/zap"

	"github.com/turanyalin/MachineLearningHuggingFaceDataFetchingScript/internal/collab"
	"github.com/turanyalin/MachineLearningHuggingFaceDataFetchingScript/internal/export"
	"github.com/turanyalin/MachineLearningHuggingFaceDataFetchingScript/internal/graph"
	"github.com/turanyalin/MachineLearningHuggingFaceDataFetchingScript/internal/hub"
	"github.com/turanyalin/MachineLearningHuggingFaceDataFetchingScript/internal/metrics"
	"github.com/turanyalin/MachineLearningHuggingFaceDataFetchingScript/internal/pipeline"
	"github.com/turanyalin/MachineLearningHuggingFaceDataFetchingScript/pkg/config"
	"github.com/turanyalin/MachineLearningHuggingFaceDataFetchingScript/pkg/logger"
)

// app wires the collaborators shared by run and serve
type app struct {
	cfg       *config.Config
	log       *zap.Logger
	metrics   *metrics.Collector
	client    *hub.Client
	pipeline  *pipeline.Pipeline
	graphRepo *graph.Repository // nil when Neo4j is disabled
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	log := logger.Get()

	a := &app{
		cfg:     cfg,
		log:     log,
		metrics: metrics.New(),
		client:  hub.NewClient(cfg.HubEndpoint, cfg.HubToken, cfg.RequestTimeout, hub.WithKind(cfg.RepoKind)),
	}

	sinks := []pipeline.Sink{export.NewFileSink(cfg.OutputDir)}
	if cfg.Neo4jEnabled {
		driver, err := graph.Connect(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword)
		if err != nil {
			return nil, err
		}
		a.graphRepo = graph.NewRepository(driver)
		if err := a.graphRepo.EnsureSchema(ctx); err != nil {
			_ = a.graphRepo.Close()
			return nil, err
		}
		sinks = append(sinks, a.graphRepo)
		log.Info("Neo4j sink enabled", zap.String("uri", cfg.Neo4jURI))
	}

	fetcher := collab.NewFetcher(a.client, cfg.Concurrency,
		collab.WithRetryPolicy(retryPolicy(cfg)),
		collab.WithObserver(a.metrics),
	)
	a.pipeline = pipeline.New(a.client, fetcher,
		pipeline.WithSinks(sinks...),
		pipeline.WithRunObserver(a.metrics),
	)

	log.Info("Collector configured",
		zap.String("endpoint", cfg.HubEndpoint),
		zap.String("kind", cfg.RepoKind),
		zap.Int("concurrency", cfg.Concurrency),
		zap.String("retry_policy", cfg.RetryPolicy),
		zap.String("output_dir", cfg.OutputDir),
	)
	return a, nil
}

func (a *app) Close() {
	if a.graphRepo != nil {
		if err := a.graphRepo.Close(); err != nil {
			a.log.Warn("Failed to close Neo4j driver", zap.Error(err))
		}
	}
}

// runOptions turns the configuration into pipeline options
func runOptions(cfg *config.Config) pipeline.Options {
	return pipeline.Options{
		Kind:           cfg.RepoKind,
		SortBy:         cfg.SortBy,
		Direction:      cfg.Direction,
		Limit:          cfg.Limit,
		TopPercent:     cfg.TopPercent,
		EstimatedTotal: cfg.EstimatedTotal,
		Timeout:        cfg.RunTimeout,
	}
}

func retryPolicy(cfg *config.Config) collab.RetryPolicy {
	switch cfg.RetryPolicy {
	case config.RetryFixed:
		return collab.FixedRetry{Attempts: cfg.MaxRetries, Delay: cfg.RetryDelay}
	case config.RetryBackoff:
		return collab.BackoffRetry{MaxRetries: uint64(cfg.MaxRetries)}
	default:
		return collab.NoRetry{}
	}
}
