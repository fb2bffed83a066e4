package splade

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/spacebiolab/biolit/internal/core/domain"
	"github.com/spacebiolab/biolit/internal/infrastructure/resilience"
)

func fastExecutor() *resilience.Executor {
	return resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    2,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
		RetryMultiplier:     2,
		BreakerEnabled:      false,
	})
}

func activationServer(t *testing.T, results []activationResult) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/activations" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"results": results})
	}))
}

func TestPoolActivationsAppliesLogSaturation(t *testing.T) {
	vec := poolActivations([]tokenActivations{
		{Indices: []uint32{7}, Values: []float32{1.0}},
	}, 10)
	if len(vec.Indices) != 1 || vec.Indices[0] != 7 {
		t.Fatalf("unexpected indices: %v", vec.Indices)
	}
	want := float32(math.Log1p(1.0))
	if math.Abs(float64(vec.Values[0]-want)) > 1e-6 {
		t.Fatalf("expected log1p(1)=%v, got %v", want, vec.Values[0])
	}
}

func TestPoolActivationsMaxPoolsAcrossTokens(t *testing.T) {
	vec := poolActivations([]tokenActivations{
		{Indices: []uint32{3, 9}, Values: []float32{0.5, 2.0}},
		{Indices: []uint32{3}, Values: []float32{4.0}},
	}, 10)
	if len(vec.Indices) != 2 {
		t.Fatalf("expected 2 terms, got %v", vec.Indices)
	}
	// Term 3 appears in both tokens; the heavier activation wins.
	if vec.Indices[0] != 3 || float64(vec.Values[0]) < math.Log1p(4.0)-1e-6 {
		t.Fatalf("expected max-pooled weight for term 3, got %v", vec.Values[0])
	}
}

func TestPoolActivationsDropsNonPositiveActivations(t *testing.T) {
	vec := poolActivations([]tokenActivations{
		{Indices: []uint32{1, 2, 3}, Values: []float32{-0.5, 0, 1.5}},
	}, 10)
	if len(vec.Indices) != 1 || vec.Indices[0] != 3 {
		t.Fatalf("expected only positive activations kept, got %v", vec.Indices)
	}
}

func TestPoolActivationsPrunesToTopK(t *testing.T) {
	token := tokenActivations{}
	for i := 0; i < 300; i++ {
		token.Indices = append(token.Indices, uint32(i))
		token.Values = append(token.Values, float32(i+1))
	}
	vec := poolActivations([]tokenActivations{token}, 200)
	if len(vec.Indices) != 200 {
		t.Fatalf("expected 200 terms after pruning, got %d", len(vec.Indices))
	}
	// The heaviest 200 terms are ids 100..299, returned in ascending index order.
	if vec.Indices[0] != 100 || vec.Indices[199] != 299 {
		t.Fatalf("expected heaviest terms kept, got first=%d last=%d", vec.Indices[0], vec.Indices[199])
	}
	for i := 1; i < len(vec.Indices); i++ {
		if vec.Indices[i] <= vec.Indices[i-1] {
			t.Fatalf("indices not strictly ascending at %d: %d <= %d", i, vec.Indices[i], vec.Indices[i-1])
		}
	}
}

func TestEncodeSparseEndToEnd(t *testing.T) {
	server := activationServer(t, []activationResult{
		{TokenCount: 4, Tokens: []tokenActivations{
			{Indices: []uint32{11, 42}, Values: []float32{2.0, 0.3}},
			{Indices: []uint32{11}, Values: []float32{0.1}},
		}},
	})
	defer server.Close()

	encoder := New(server.URL, Options{Executor: fastExecutor()})
	vectors, err := encoder.EncodeSparse(context.Background(), []string{"muscle atrophy in microgravity"}, 200)
	if err != nil {
		t.Fatalf("EncodeSparse() error = %v", err)
	}
	if len(vectors) != 1 {
		t.Fatalf("expected 1 vector, got %d", len(vectors))
	}
	if len(vectors[0].Indices) != 2 || vectors[0].Indices[0] != 11 || vectors[0].Indices[1] != 42 {
		t.Fatalf("unexpected indices: %v", vectors[0].Indices)
	}
}

func TestEncodeSparseRejectsEmptyText(t *testing.T) {
	encoder := New("http://unused", Options{Executor: fastExecutor()})
	_, err := encoder.EncodeSparse(context.Background(), []string{""}, 200)
	if err == nil || !domain.IsKind(err, domain.ErrEncoding) {
		t.Fatalf("expected ErrEncoding for empty text, got %v", err)
	}
}

func TestEncodeSparseRejectsOversizedText(t *testing.T) {
	server := activationServer(t, []activationResult{
		{TokenCount: 300, Tokens: []tokenActivations{{Indices: []uint32{1}, Values: []float32{1}}}},
	})
	defer server.Close()

	encoder := New(server.URL, Options{Executor: fastExecutor(), MaxTokens: 256})
	_, err := encoder.EncodeSparse(context.Background(), []string{"very long passage"}, 200)
	if err == nil || !domain.IsKind(err, domain.ErrEncoding) {
		t.Fatalf("expected ErrEncoding for token overflow, got %v", err)
	}
}

func TestEncodeSparseAllZeroYieldsEmptyVector(t *testing.T) {
	server := activationServer(t, []activationResult{
		{TokenCount: 2, Tokens: []tokenActivations{{Indices: []uint32{5}, Values: []float32{0}}}},
		{TokenCount: 2, Tokens: []tokenActivations{{Indices: []uint32{7}, Values: []float32{1}}}},
	})
	defer server.Close()

	encoder := New(server.URL, Options{Executor: fastExecutor()})
	vectors, err := encoder.EncodeSparse(context.Background(), []string{"stopwords only", "bone loss"}, 200)
	if err != nil {
		t.Fatalf("a degenerate text must not fail the batch: %v", err)
	}
	if len(vectors) != 2 {
		t.Fatalf("expected 2 vectors, got %d", len(vectors))
	}
	if !vectors[0].IsEmpty() {
		t.Fatalf("expected an empty vector for the all-zero text, got %d terms", len(vectors[0].Indices))
	}
	if vectors[1].IsEmpty() {
		t.Fatalf("the valid text must keep its vector")
	}
}

func TestEncodeQuerySparseRejectsAllZeroResult(t *testing.T) {
	server := activationServer(t, []activationResult{
		{TokenCount: 2, Tokens: []tokenActivations{{Indices: []uint32{5}, Values: []float32{0}}}},
	})
	defer server.Close()

	encoder := New(server.URL, Options{Executor: fastExecutor()})
	_, err := encoder.EncodeQuerySparse(context.Background(), "stopwords only")
	if err == nil || !domain.IsKind(err, domain.ErrEncoding) {
		t.Fatalf("expected ErrEncoding for a degenerate query, got %v", err)
	}
}

func TestEncodeSparseUnavailableServiceIsTemporary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "loading weights", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	encoder := New(server.URL, Options{Executor: fastExecutor()})
	_, err := encoder.EncodeSparse(context.Background(), []string{"q"}, 200)
	if err == nil || !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected ErrTemporary, got %v", err)
	}
}

func TestEncodeQuerySparseUsesDefaultTopK(t *testing.T) {
	token := tokenActivations{}
	for i := 0; i < 20; i++ {
		token.Indices = append(token.Indices, uint32(i))
		token.Values = append(token.Values, float32(i+1))
	}
	server := activationServer(t, []activationResult{{TokenCount: 5, Tokens: []tokenActivations{token}}})
	defer server.Close()

	encoder := New(server.URL, Options{Executor: fastExecutor(), DefaultTopK: 8})
	vec, err := encoder.EncodeQuerySparse(context.Background(), "bone loss")
	if err != nil {
		t.Fatalf("EncodeQuerySparse() error = %v", err)
	}
	if len(vec.Indices) != 8 {
		t.Fatalf("expected default top-k of 8 terms, got %d", len(vec.Indices))
	}
}
