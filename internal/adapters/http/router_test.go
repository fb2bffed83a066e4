package httpadapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spacebiolab/biolit/internal/core/domain"
)

type fakeRetriever struct {
	result *domain.RetrievalResult
	err    error

	lastQuery string
	lastTopK  int
}

func (f *fakeRetriever) Retrieve(_ context.Context, query string, topK int) (*domain.RetrievalResult, error) {
	f.lastQuery = query
	f.lastTopK = topK
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeQueue struct {
	published []domain.IngestJob
	err       error
}

func (f *fakeQueue) PublishIngestJob(_ context.Context, job domain.IngestJob) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, job)
	return nil
}

func (f *fakeQueue) SubscribeIngestJobs(ctx context.Context, _ func(context.Context, domain.IngestJob) error) error {
	<-ctx.Done()
	return nil
}

func intPtr(v int) *int { return &v }

func TestHealthz(t *testing.T) {
	handler := NewRouter(&fakeRetriever{}, &fakeQueue{}, RouterOptions{}).Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if res.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected request id header")
	}
}

func TestRetrieveReturnsOrderedResults(t *testing.T) {
	retriever := &fakeRetriever{result: &domain.RetrievalResult{
		Results: []domain.FusedResult{
			{ChunkID: "PMC1:results:aa", FusedScore: 0.032, DenseRank: intPtr(1), SparseRank: intPtr(2), Section: "results"},
			{ChunkID: "PMC2:abstract:bb", FusedScore: 0.016, SparseRank: intPtr(1)},
		},
	}}
	handler := NewRouter(retriever, &fakeQueue{}, RouterOptions{}).Handler()

	req := httptest.NewRequest(http.MethodPost, "/v1/retrieve", strings.NewReader(`{"query":"muscle atrophy","top_k":5}`))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if retriever.lastQuery != "muscle atrophy" || retriever.lastTopK != 5 {
		t.Fatalf("unexpected retriever call: %q %d", retriever.lastQuery, retriever.lastTopK)
	}

	var resp retrieveResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Results) != 2 || resp.Results[0].ChunkID != "PMC1:results:aa" {
		t.Fatalf("unexpected results: %+v", resp.Results)
	}
	if resp.Results[1].DenseRank != nil {
		t.Fatalf("expected nil dense rank for sparse-only hit")
	}
	if resp.Degraded {
		t.Fatalf("expected non-degraded response")
	}
}

func TestRetrieveExposesDegradedFlag(t *testing.T) {
	retriever := &fakeRetriever{result: &domain.RetrievalResult{
		Results:        []domain.FusedResult{{ChunkID: "PMC1:results:aa", FusedScore: 0.016}},
		Degraded:       true,
		DegradedSignal: domain.SignalSparse,
	}}
	handler := NewRouter(retriever, &fakeQueue{}, RouterOptions{}).Handler()

	req := httptest.NewRequest(http.MethodPost, "/v1/retrieve", strings.NewReader(`{"query":"bone loss"}`))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	var resp retrieveResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Degraded || resp.DegradedSignal != "sparse" {
		t.Fatalf("expected degraded sparse response, got %+v", resp)
	}
}

func TestRetrieveRejectsEmptyQuery(t *testing.T) {
	handler := NewRouter(&fakeRetriever{}, &fakeQueue{}, RouterOptions{}).Handler()

	req := httptest.NewRequest(http.MethodPost, "/v1/retrieve", strings.NewReader(`{"query":"  "}`))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestRetrieveMapsUnavailableTo503(t *testing.T) {
	retriever := &fakeRetriever{err: domain.WrapError(domain.ErrRetrievalUnavailable, "retrieve", context.DeadlineExceeded)}
	handler := NewRouter(retriever, &fakeQueue{}, RouterOptions{}).Handler()

	req := httptest.NewRequest(http.MethodPost, "/v1/retrieve", strings.NewReader(`{"query":"q"}`))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", res.Code)
	}
}

func TestEnqueueIngestJobPublishes(t *testing.T) {
	queue := &fakeQueue{}
	handler := NewRouter(&fakeRetriever{}, queue, RouterOptions{}).Handler()

	body := `{"input_dir":"/data/chunks","collection":"research_corpus_v1","start_index":4,"resume":true}`
	req := httptest.NewRequest(http.MethodPost, "/v1/ingest/jobs", strings.NewReader(body))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", res.Code, res.Body.String())
	}
	if len(queue.published) != 1 {
		t.Fatalf("expected 1 published job, got %d", len(queue.published))
	}
	job := queue.published[0]
	if job.InputDir != "/data/chunks" || job.Collection != "research_corpus_v1" || job.StartIndex != 4 || !job.Resume {
		t.Fatalf("unexpected job: %+v", job)
	}
}

func TestEnqueueIngestJobRejectsMissingDir(t *testing.T) {
	handler := NewRouter(&fakeRetriever{}, &fakeQueue{}, RouterOptions{}).Handler()

	req := httptest.NewRequest(http.MethodPost, "/v1/ingest/jobs", strings.NewReader(`{"start_index":0}`))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestRateLimitMiddlewareReturns429(t *testing.T) {
	handler := NewRouter(&fakeRetriever{}, &fakeQueue{}, RouterOptions{
		RateLimitRPS: 1,
		RateBurst:    1,
	}).Handler()

	req1 := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res1 := httptest.NewRecorder()
	handler.ServeHTTP(res1, req1)
	if res1.Code != http.StatusOK {
		t.Fatalf("first request expected 200, got %d", res1.Code)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res2 := httptest.NewRecorder()
	handler.ServeHTTP(res2, req2)
	if res2.Code != http.StatusTooManyRequests {
		t.Fatalf("second request expected 429, got %d", res2.Code)
	}
	if res2.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header for 429 response")
	}
}

func TestBackpressureMiddlewareReturns503WhenSaturated(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan int, 1)

	base := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started <- struct{}{}
		<-release
		w.WriteHeader(http.StatusNoContent)
	})
	handler := backpressureMiddleware(base, 1, 20*time.Millisecond)

	go func() {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		done <- res.Code
	}()

	<-started

	req2 := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res2 := httptest.NewRecorder()
	handler.ServeHTTP(res2, req2)
	if res2.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for saturated backpressure gate, got %d", res2.Code)
	}

	close(release)

	select {
	case code := <-done:
		if code != http.StatusNoContent {
			t.Fatalf("first request expected 204, got %d", code)
		}
	case <-time.After(1 * time.Second):
		t.Fatalf("timed out waiting for first request completion")
	}
}
