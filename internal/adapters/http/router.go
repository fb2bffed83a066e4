package httpadapter

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/spacebiolab/biolit/internal/core/domain"
	"github.com/spacebiolab/biolit/internal/core/ports"
	"github.com/spacebiolab/biolit/internal/observability/metrics"
)

type RouterOptions struct {
	Service       string
	RateLimitRPS  float64
	RateBurst     int
	MaxConcurrent int
	Metrics       *metrics.HTTPServerMetrics
}

// Router exposes hybrid retrieval and ingest-job submission over HTTP.
type Router struct {
	retriever ports.Retriever
	queue     ports.JobQueue
	opts      RouterOptions
}

func NewRouter(retriever ports.Retriever, queue ports.JobQueue, opts RouterOptions) *Router {
	if opts.Service == "" {
		opts.Service = "biolit-api"
	}
	return &Router{
		retriever: retriever,
		queue:     queue,
		opts:      opts,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/retrieve", rt.retrieve)
	mux.HandleFunc("/v1/ingest/jobs", rt.enqueueIngestJob)
	if rt.opts.Metrics != nil {
		mux.Handle("/metrics", rt.opts.Metrics.Handler())
	}

	var handler http.Handler = mux
	if rt.opts.MaxConcurrent > 0 {
		handler = backpressureMiddleware(handler, rt.opts.MaxConcurrent, 100*time.Millisecond)
	}
	if rt.opts.RateLimitRPS > 0 {
		handler = rateLimitMiddleware(handler, rt.opts.RateLimitRPS, rt.opts.RateBurst)
	}
	if rt.opts.Metrics != nil {
		handler = rt.opts.Metrics.Middleware(rt.opts.Service, handler)
	}
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type retrieveRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

type retrieveResponse struct {
	Results        []fusedResultDTO `json:"results"`
	Degraded       bool             `json:"degraded"`
	DegradedSignal string           `json:"degraded_signal,omitempty"`
}

type fusedResultDTO struct {
	ChunkID    string  `json:"chunk_id"`
	FusedScore float64 `json:"fused_score"`
	DenseRank  *int    `json:"dense_rank,omitempty"`
	SparseRank *int    `json:"sparse_rank,omitempty"`
	ArticleID  string  `json:"article_id,omitempty"`
	Section    string  `json:"section,omitempty"`
	Text       string  `json:"text,omitempty"`
	URL        string  `json:"url,omitempty"`
}

func (rt *Router) retrieve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req retrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query is required"})
		return
	}

	start := time.Now()
	result, err := rt.retriever.Retrieve(r.Context(), req.Query, req.TopK)
	if err != nil {
		if rt.opts.Metrics != nil {
			rt.opts.Metrics.RecordRetrievalError(rt.opts.Service)
		}
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}
	if rt.opts.Metrics != nil {
		rt.opts.Metrics.RecordRetrieval(rt.opts.Service, len(result.Results), result.Degraded, string(result.DegradedSignal), time.Since(start))
	}

	response := retrieveResponse{
		Results:        make([]fusedResultDTO, 0, len(result.Results)),
		Degraded:       result.Degraded,
		DegradedSignal: string(result.DegradedSignal),
	}
	for _, fused := range result.Results {
		response.Results = append(response.Results, fusedResultDTO{
			ChunkID:    fused.ChunkID,
			FusedScore: fused.FusedScore,
			DenseRank:  fused.DenseRank,
			SparseRank: fused.SparseRank,
			ArticleID:  fused.ArticleID,
			Section:    fused.Section,
			Text:       fused.Text,
			URL:        fused.URL,
		})
	}
	writeJSON(w, http.StatusOK, response)
}

type ingestJobRequest struct {
	InputDir   string `json:"input_dir"`
	Collection string `json:"collection"`
	StartIndex int    `json:"start_index"`
	Resume     bool   `json:"resume"`
}

func (rt *Router) enqueueIngestJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if rt.queue == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "ingest queue is not configured"})
		return
	}

	var req ingestJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.InputDir) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "input_dir is required"})
		return
	}
	if req.StartIndex < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "start_index must not be negative"})
		return
	}

	job := domain.IngestJob{
		InputDir:   req.InputDir,
		Collection: req.Collection,
		StartIndex: req.StartIndex,
		Resume:     req.Resume,
	}
	if err := rt.queue.PublishIngestJob(r.Context(), job); err != nil {
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "enqueued"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
