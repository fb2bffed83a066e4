package usecase

import (
	"sort"

	"github.com/spacebiolab/biolit/internal/core/domain"
)

// fuseRRF combines the dense and sparse candidate lists with Reciprocal Rank
// Fusion. Each list contributes 1/(rrfK + rank) per chunk, rank 1-based; a
// chunk absent from a list simply contributes nothing from it. The output is
// the union of both lists ordered by fused score descending, ties broken by
// chunk id ascending so repeated runs produce identical orderings.
func fuseRRF(dense, sparse []domain.RetrievalCandidate, rrfK int) []domain.FusedResult {
	if rrfK <= 0 {
		rrfK = 60
	}

	acc := make(map[string]*domain.FusedResult, len(dense)+len(sparse))

	addSignal := func(candidates []domain.RetrievalCandidate, signal domain.Signal) {
		for i, cand := range candidates {
			rank := i + 1
			entry, ok := acc[cand.ChunkID]
			if !ok {
				entry = &domain.FusedResult{
					ChunkID:   cand.ChunkID,
					ArticleID: cand.ArticleID,
					Section:   cand.Section,
					Text:      cand.Text,
					URL:       cand.URL,
				}
				acc[cand.ChunkID] = entry
			}
			fillPayload(entry, cand)
			entry.FusedScore += 1.0 / float64(rrfK+rank)
			r := rank
			switch signal {
			case domain.SignalDense:
				entry.DenseRank = &r
			case domain.SignalSparse:
				entry.SparseRank = &r
			}
		}
	}

	addSignal(dense, domain.SignalDense)
	addSignal(sparse, domain.SignalSparse)

	out := make([]domain.FusedResult, 0, len(acc))
	for _, entry := range acc {
		out = append(out, *entry)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].FusedScore != out[j].FusedScore {
			return out[i].FusedScore > out[j].FusedScore
		}
		return out[i].ChunkID < out[j].ChunkID
	})

	return out
}

// rankOnly builds a fused-shaped ranking from a single surviving signal.
// Scores stay rank-based so they remain comparable within the response.
func rankOnly(candidates []domain.RetrievalCandidate, signal domain.Signal, rrfK int) []domain.FusedResult {
	if rrfK <= 0 {
		rrfK = 60
	}
	out := make([]domain.FusedResult, 0, len(candidates))
	for i, cand := range candidates {
		rank := i + 1
		entry := domain.FusedResult{
			ChunkID:    cand.ChunkID,
			FusedScore: 1.0 / float64(rrfK+rank),
			ArticleID:  cand.ArticleID,
			Section:    cand.Section,
			Text:       cand.Text,
			URL:        cand.URL,
		}
		r := rank
		switch signal {
		case domain.SignalDense:
			entry.DenseRank = &r
		case domain.SignalSparse:
			entry.SparseRank = &r
		}
		out = append(out, entry)
	}
	return out
}

func trimFused(results []domain.FusedResult, limit int) []domain.FusedResult {
	if limit <= 0 || len(results) <= limit {
		return results
	}
	return results[:limit]
}

// fillPayload backfills metadata fields missing from one signal's hit.
func fillPayload(entry *domain.FusedResult, cand domain.RetrievalCandidate) {
	if entry.Text == "" && cand.Text != "" {
		entry.Text = cand.Text
	}
	if entry.Section == "" && cand.Section != "" {
		entry.Section = cand.Section
	}
	if entry.ArticleID == "" && cand.ArticleID != "" {
		entry.ArticleID = cand.ArticleID
	}
	if entry.URL == "" && cand.URL != "" {
		entry.URL = cand.URL
	}
}
