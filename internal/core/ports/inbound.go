package ports

import (
	"context"

	"github.com/spacebiolab/biolit/internal/core/domain"
)

// Retriever is the inbound contract for hybrid query-time retrieval.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) (*domain.RetrievalResult, error)
}

// Ingestor runs the batch ingestion pipeline over a directory of
// chunk-record files, optionally skipping an already-processed prefix.
type Ingestor interface {
	IngestDirectory(ctx context.Context, job domain.IngestJob) (*domain.IngestReport, error)
}

// Evaluator drives the retriever with a fixed test set and scores recall.
type Evaluator interface {
	Evaluate(ctx context.Context, testSetDir string, topK int) (*domain.EvaluationSummary, error)
}
