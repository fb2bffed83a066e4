package ports

import (
	"context"
	"time"

	"github.com/spacebiolab/biolit/internal/core/domain"
)

// DenseEncoder produces fixed-length float embeddings. Deterministic for
// identical input and model version.
type DenseEncoder interface {
	EncodeDense(ctx context.Context, texts []string) ([][]float32, error)
	EncodeQueryDense(ctx context.Context, text string) ([]float32, error)
}

// SparseEncoder produces pruned term-weight maps. topK bounds the number of
// retained terms per text.
type SparseEncoder interface {
	EncodeSparse(ctx context.Context, texts []string, topK int) ([]domain.SparseVector, error)
	EncodeQuerySparse(ctx context.Context, text string) (domain.SparseVector, error)
}

// VectorStore wraps the vector database collection holding chunk records.
// WithCollection returns a store bound to another collection on the same
// backend, used when a job targets a non-default collection.
type VectorStore interface {
	EnsureCollection(ctx context.Context, denseDim int) error
	UpsertChunks(ctx context.Context, records []domain.ChunkRecord) error
	SearchDense(ctx context.Context, queryVector []float32, k int) ([]domain.RetrievalCandidate, error)
	SearchSparse(ctx context.Context, query domain.SparseVector, k int) ([]domain.RetrievalCandidate, error)
	WithCollection(name string) VectorStore
}

// RunRepository checkpoints ingestion runs and records evaluation summaries.
type RunRepository interface {
	StartIngestRun(ctx context.Context, collection, inputDir string, startIndex int) (string, error)
	CompleteIngestFile(ctx context.Context, runID string, fileIndex int, chunks int) error
	FinishIngestRun(ctx context.Context, runID string, status string, errMessage string) error
	LastCompletedFileIndex(ctx context.Context, collection, inputDir string) (int, error)
	SaveEvaluationRun(ctx context.Context, summary *domain.EvaluationSummary, startedAt time.Time) error
}

// JobQueue publishes/consumes directory-ingest jobs.
type JobQueue interface {
	PublishIngestJob(ctx context.Context, job domain.IngestJob) error
	SubscribeIngestJobs(ctx context.Context, handler func(context.Context, domain.IngestJob) error) error
}

// ReportWriter exports an evaluation summary for operators.
type ReportWriter interface {
	Write(summary *domain.EvaluationSummary, path string) error
}
