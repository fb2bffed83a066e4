package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrEncoding covers malformed, empty or oversized input text. Local
	// failures: the record is skipped during ingestion, the query fails fast.
	ErrEncoding = errors.New("encoding failed")

	// ErrRetrievalUnavailable means the vector store was unreachable or
	// retries were exhausted for a search.
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")

	// ErrCollectionSchema marks a missing collection or a dimension
	// mismatch. Fatal, never retried.
	ErrCollectionSchema = errors.New("collection schema error")

	// ErrUpsertBatch marks a persistent write failure after retries.
	ErrUpsertBatch = errors.New("upsert batch failed")

	ErrInvalidInput = errors.New("invalid input")
	ErrTemporary    = errors.New("temporary failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
