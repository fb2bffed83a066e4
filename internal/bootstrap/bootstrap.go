package bootstrap

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/spacebiolab/biolit/internal/config"
	"github.com/spacebiolab/biolit/internal/core/ports"
	"github.com/spacebiolab/biolit/internal/core/usecase"
	"github.com/spacebiolab/biolit/internal/infrastructure/encode/bgesmall"
	"github.com/spacebiolab/biolit/internal/infrastructure/encode/splade"
	"github.com/spacebiolab/biolit/internal/infrastructure/queue/nats"
	"github.com/spacebiolab/biolit/internal/infrastructure/report"
	"github.com/spacebiolab/biolit/internal/infrastructure/repository/postgres"
	"github.com/spacebiolab/biolit/internal/infrastructure/resilience"
	"github.com/spacebiolab/biolit/internal/infrastructure/vector/qdrant"
)

// Core wires the retrieval stack without any transport attached: encoders,
// vector store, run repository and the three use cases.
type Core struct {
	Config config.Config

	Runs      ports.RunRepository
	Retriever ports.Retriever
	Ingestor  ports.Ingestor
	Evaluator ports.Evaluator
	Report    ports.ReportWriter

	closeFn func()
}

// App is a Core plus the ingest-job queue used by the api and worker
// processes.
type App struct {
	*Core

	Queue *nats.Queue
}

func NewCore(ctx context.Context, cfg config.Config) (*Core, error) {
	var (
		runs    ports.RunRepository
		closeFn = func() {}
	)
	if cfg.PostgresDSN != "" {
		db, err := postgres.OpenDB(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		repo := postgres.NewRunRepository(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		runs = repo
		closeFn = func() { _ = db.Close() }
	}

	denseEncoder := bgesmall.New(cfg.EmbedURL, cfg.EmbedModel, bgesmall.Options{
		ExpectedDim: cfg.DenseDim,
		Executor:    resilience.NewExecutor(resilience.DefaultConfig()),
	})
	sparseEncoder := splade.New(cfg.SpladeURL, splade.Options{
		MaxTokens:   cfg.SparseMaxTokens,
		DefaultTopK: cfg.SparseTopK,
		Executor:    resilience.NewExecutor(resilience.DefaultConfig()),
	})
	store := qdrant.New(cfg.QdrantURL, cfg.QdrantCollection, qdrant.Options{
		APIKey:          cfg.QdrantAPIKey,
		UpsertBatchSize: cfg.UpsertBatchSize,
		Executor:        resilience.NewExecutor(resilience.DefaultConfig()),
	})

	var inferenceRL *rate.Limiter
	if cfg.InferenceRPS > 0 {
		inferenceRL = rate.NewLimiter(rate.Limit(cfg.InferenceRPS), int(cfg.InferenceRPS)+1)
	}

	retriever := usecase.NewHybridRetrieveUseCase(denseEncoder, sparseEncoder, store, usecase.RetrieveOptions{
		TopKDefault:    cfg.RetrieveTopK,
		PoolMultiplier: cfg.PoolMultiplier,
		PoolMin:        cfg.PoolMin,
		RRFK:           cfg.RRFK,
		Timeout:        time.Duration(cfg.RetrieveTimeoutSeconds) * time.Second,
	})
	ingestor := usecase.NewIngestPipelineUseCase(denseEncoder, sparseEncoder, store, runs, usecase.IngestOptions{
		Collection:  cfg.QdrantCollection,
		BatchSize:   cfg.IngestBatchSize,
		SparseTopK:  cfg.SparseTopK,
		InferenceRL: inferenceRL,
	})
	evaluator := usecase.NewEvaluationHarnessUseCase(retriever, runs, usecase.EvaluateOptions{
		Collection: cfg.QdrantCollection,
		Workers:    cfg.EvalWorkers,
		TopK:       cfg.EvalTopK,
	})

	return &Core{
		Config:    cfg,
		Runs:      runs,
		Retriever: retriever,
		Ingestor:  ingestor,
		Evaluator: evaluator,
		Report:    report.NewExcelWriter(),
		closeFn:   closeFn,
	}, nil
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	core, err := NewCore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	queue, err := nats.New(cfg.NATSURL, cfg.NATSSubject)
	if err != nil {
		core.Close()
		return nil, fmt.Errorf("init ingest queue: %w", err)
	}

	coreClose := core.closeFn
	core.closeFn = func() {
		queue.Close()
		coreClose()
	}

	return &App{
		Core:  core,
		Queue: queue,
	}, nil
}

func (c *Core) Close() {
	if c.closeFn != nil {
		c.closeFn()
	}
}
