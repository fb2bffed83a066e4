package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spacebiolab/biolit/internal/core/domain"
	"github.com/spacebiolab/biolit/internal/core/ports"
)

// RetrieveOptions carries the fusion hyperparameters. PoolMultiplier and
// PoolMin size the per-signal candidate pool: pool_k = max(topK*PoolMultiplier,
// PoolMin), so fusion sees more material than the final cut.
type RetrieveOptions struct {
	TopKDefault    int
	PoolMultiplier int
	PoolMin        int
	RRFK           int
	Timeout        time.Duration
}

func (o RetrieveOptions) normalize() RetrieveOptions {
	out := o
	if out.TopKDefault <= 0 {
		out.TopKDefault = 10
	}
	if out.PoolMultiplier <= 0 {
		out.PoolMultiplier = 3
	}
	if out.PoolMin <= 0 {
		out.PoolMin = 50
	}
	if out.RRFK <= 0 {
		out.RRFK = 60
	}
	if out.Timeout <= 0 {
		out.Timeout = 30 * time.Second
	}
	return out
}

// HybridRetrieveUseCase fuses dense and sparse nearest-neighbor search over
// the chunk collection into one ranked list. Stateless per call: safe for
// concurrent queries.
type HybridRetrieveUseCase struct {
	dense  ports.DenseEncoder
	sparse ports.SparseEncoder
	store  ports.VectorStore
	opts   RetrieveOptions
}

func NewHybridRetrieveUseCase(
	dense ports.DenseEncoder,
	sparse ports.SparseEncoder,
	store ports.VectorStore,
	opts RetrieveOptions,
) *HybridRetrieveUseCase {
	return &HybridRetrieveUseCase{
		dense:  dense,
		sparse: sparse,
		store:  store,
		opts:   opts.normalize(),
	}
}

type signalOutcome struct {
	signal     domain.Signal
	candidates []domain.RetrievalCandidate
	err        error
}

// Retrieve runs both signals concurrently, fuses via RRF and truncates to
// topK. One failed signal degrades the response to a flagged single-signal
// ranking; both failing surfaces ErrRetrievalUnavailable.
func (uc *HybridRetrieveUseCase) Retrieve(ctx context.Context, query string, topK int) (*domain.RetrievalResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "retrieve", errors.New("empty query"))
	}
	if topK <= 0 {
		topK = uc.opts.TopKDefault
	}

	poolK := topK * uc.opts.PoolMultiplier
	if poolK < uc.opts.PoolMin {
		poolK = uc.opts.PoolMin
	}

	ctx, cancel := context.WithTimeout(ctx, uc.opts.Timeout)
	defer cancel()

	outcomes := make(chan signalOutcome, 2)
	go func() {
		candidates, err := uc.searchDense(ctx, query, poolK)
		outcomes <- signalOutcome{signal: domain.SignalDense, candidates: candidates, err: err}
	}()
	go func() {
		candidates, err := uc.searchSparse(ctx, query, poolK)
		outcomes <- signalOutcome{signal: domain.SignalSparse, candidates: candidates, err: err}
	}()

	var dense, sparse signalOutcome
	for i := 0; i < 2; i++ {
		outcome := <-outcomes
		if outcome.signal == domain.SignalDense {
			dense = outcome
		} else {
			sparse = outcome
		}
	}

	// Bad input fails the whole query regardless of the other signal.
	for _, outcome := range []signalOutcome{dense, sparse} {
		if outcome.err != nil && domain.IsKind(outcome.err, domain.ErrEncoding) {
			return nil, outcome.err
		}
	}

	switch {
	case dense.err == nil && sparse.err == nil:
		fused := fuseRRF(dense.candidates, sparse.candidates, uc.opts.RRFK)
		return &domain.RetrievalResult{Results: trimFused(fused, topK)}, nil

	case dense.err == nil:
		slog.Warn("sparse_signal_degraded", "error", sparse.err)
		ranked := rankOnly(dense.candidates, domain.SignalDense, uc.opts.RRFK)
		return &domain.RetrievalResult{
			Results:        trimFused(ranked, topK),
			Degraded:       true,
			DegradedSignal: domain.SignalSparse,
		}, nil

	case sparse.err == nil:
		slog.Warn("dense_signal_degraded", "error", dense.err)
		ranked := rankOnly(sparse.candidates, domain.SignalSparse, uc.opts.RRFK)
		return &domain.RetrievalResult{
			Results:        trimFused(ranked, topK),
			Degraded:       true,
			DegradedSignal: domain.SignalDense,
		}, nil

	default:
		return nil, domain.WrapError(domain.ErrRetrievalUnavailable, "retrieve",
			fmt.Errorf("dense: %v; sparse: %v", dense.err, sparse.err))
	}
}

func (uc *HybridRetrieveUseCase) searchDense(ctx context.Context, query string, poolK int) ([]domain.RetrievalCandidate, error) {
	vector, err := uc.dense.EncodeQueryDense(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("encode dense query: %w", err)
	}
	candidates, err := uc.store.SearchDense(ctx, vector, poolK)
	if err != nil {
		return nil, fmt.Errorf("search dense: %w", err)
	}
	return candidates, nil
}

func (uc *HybridRetrieveUseCase) searchSparse(ctx context.Context, query string, poolK int) ([]domain.RetrievalCandidate, error) {
	vector, err := uc.sparse.EncodeQuerySparse(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("encode sparse query: %w", err)
	}
	candidates, err := uc.store.SearchSparse(ctx, vector, poolK)
	if err != nil {
		return nil, fmt.Errorf("search sparse: %w", err)
	}
	return candidates, nil
}
