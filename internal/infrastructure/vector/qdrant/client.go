package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/spacebiolab/biolit/internal/core/domain"
	"github.com/spacebiolab/biolit/internal/core/ports"
	"github.com/spacebiolab/biolit/internal/infrastructure/resilience"
)

const (
	denseVectorName  = "dense"
	sparseVectorName = "sparse"
)

// Client talks to one Qdrant collection holding chunk records with two named
// vector fields: a cosine dense field and a sparse field. All calls go
// through the resilience executor; transient failures are retried, schema
// failures are not.
type Client struct {
	baseURL    string
	collection string
	apiKey     string
	httpClient *http.Client
	executor   *resilience.Executor

	upsertBatchSize int

	ensureMu         sync.Mutex
	ensuredDenseDim  int
	collectionExists bool
}

type Options struct {
	APIKey          string
	Timeout         time.Duration
	UpsertBatchSize int
	Executor        *resilience.Executor
}

func New(baseURL, collection string, options Options) *Client {
	timeout := options.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	upsertBatchSize := options.UpsertBatchSize
	if upsertBatchSize <= 0 {
		upsertBatchSize = 64
	}
	executor := options.Executor
	if executor == nil {
		executor = resilience.NewExecutor(resilience.DefaultConfig())
	}
	return &Client{
		baseURL:         strings.TrimRight(baseURL, "/"),
		collection:      collection,
		apiKey:          options.APIKey,
		httpClient:      &http.Client{Timeout: timeout},
		executor:        executor,
		upsertBatchSize: upsertBatchSize,
	}
}

// WithCollection returns a client for another collection on the same Qdrant
// instance. Connection, credentials and resilience state are shared; the
// ensure-collection memoization is not, since the new collection may not
// exist yet.
func (c *Client) WithCollection(name string) ports.VectorStore {
	if name == "" || name == c.collection {
		return c
	}
	return &Client{
		baseURL:         c.baseURL,
		collection:      name,
		apiKey:          c.apiKey,
		httpClient:      c.httpClient,
		executor:        c.executor,
		upsertBatchSize: c.upsertBatchSize,
	}
}

// EnsureCollection creates the collection if absent. Idempotent; the result
// is memoized per dense dimensionality so repeated upserts skip the call.
func (c *Client) EnsureCollection(ctx context.Context, denseDim int) error {
	if denseDim <= 0 {
		return domain.WrapError(domain.ErrCollectionSchema, "ensure collection",
			fmt.Errorf("invalid dense dimensionality %d", denseDim))
	}

	c.ensureMu.Lock()
	if c.collectionExists {
		ensured := c.ensuredDenseDim
		c.ensureMu.Unlock()
		if ensured != denseDim {
			return domain.WrapError(domain.ErrCollectionSchema, "ensure collection",
				fmt.Errorf("collection %s ensured with dim %d, got %d", c.collection, ensured, denseDim))
		}
		return nil
	}
	c.ensureMu.Unlock()

	body := map[string]any{
		"vectors": map[string]any{
			denseVectorName: map[string]any{
				"size":     denseDim,
				"distance": "Cosine",
			},
		},
		"sparse_vectors": map[string]any{
			sparseVectorName: map[string]any{},
		},
	}

	err := c.executor.Execute(ctx, "qdrant_ensure_collection", func(ctx context.Context) error {
		return c.doJSON(ctx, http.MethodPut, fmt.Sprintf("/collections/%s", c.collection), body, nil, "ensure collection")
	}, classifyQdrantError)
	if err != nil {
		var statusErr *HTTPStatusError
		// 409 means another writer created it first.
		if asStatusError(err, &statusErr) && statusErr.StatusCode == http.StatusConflict {
			err = nil
		}
	}
	if err != nil {
		return domain.WrapError(domain.ErrCollectionSchema, "ensure collection", err)
	}

	c.ensureMu.Lock()
	c.collectionExists = true
	c.ensuredDenseDim = denseDim
	c.ensureMu.Unlock()
	return nil
}

type point struct {
	ID      string         `json:"id"`
	Vector  map[string]any `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// UpsertChunks writes records keyed by their deterministic point id, in
// bounded sub-batches so a large batch never exceeds request size limits.
func (c *Client) UpsertChunks(ctx context.Context, records []domain.ChunkRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := c.EnsureCollection(ctx, len(records[0].Dense)); err != nil {
		return err
	}

	for start := 0; start < len(records); start += c.upsertBatchSize {
		end := start + c.upsertBatchSize
		if end > len(records) {
			end = len(records)
		}

		points := make([]point, 0, end-start)
		for _, rec := range records[start:end] {
			points = append(points, point{
				ID: domain.PointID(rec.ChunkID),
				Vector: map[string]any{
					denseVectorName: rec.Dense,
					sparseVectorName: map[string]any{
						"indices": rec.Sparse.Indices,
						"values":  rec.Sparse.Values,
					},
				},
				Payload: map[string]any{
					"chunk_id":         rec.ChunkID,
					"article_id":       rec.ArticleID,
					"section":          rec.Section,
					"text":             rec.Text,
					"url":              rec.URL,
					"publication_date": rec.PublicationDate,
				},
			})
		}

		err := c.executor.Execute(ctx, "qdrant_upsert", func(ctx context.Context) error {
			path := fmt.Sprintf("/collections/%s/points?wait=true", c.collection)
			return c.doJSON(ctx, http.MethodPut, path, map[string]any{"points": points}, nil, "upsert points")
		}, classifyQdrantError)
		if err != nil {
			if isSchemaError(err) {
				return domain.WrapError(domain.ErrCollectionSchema, "upsert points", err)
			}
			return domain.WrapError(domain.ErrUpsertBatch, "upsert points",
				fmt.Errorf("sub-batch %d..%d: %w", start, end-1, err))
		}
	}
	return nil
}

func (c *Client) SearchDense(ctx context.Context, queryVector []float32, k int) ([]domain.RetrievalCandidate, error) {
	if len(queryVector) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "search dense", fmt.Errorf("empty query vector"))
	}
	return c.search(ctx, denseVectorName, queryVector, k)
}

func (c *Client) SearchSparse(ctx context.Context, query domain.SparseVector, k int) ([]domain.RetrievalCandidate, error) {
	if query.IsEmpty() {
		return nil, domain.WrapError(domain.ErrInvalidInput, "search sparse", fmt.Errorf("empty sparse query"))
	}
	return c.search(ctx, sparseVectorName, map[string]any{
		"indices": query.Indices,
		"values":  query.Values,
	}, k)
}

func (c *Client) search(ctx context.Context, using string, query any, k int) ([]domain.RetrievalCandidate, error) {
	if k <= 0 {
		k = 10
	}

	body := map[string]any{
		"query":        query,
		"using":        using,
		"limit":        k,
		"with_payload": true,
	}

	var response struct {
		Result struct {
			Points []struct {
				ID      string         `json:"id"`
				Score   float64        `json:"score"`
				Payload map[string]any `json:"payload"`
			} `json:"points"`
		} `json:"result"`
	}

	operation := fmt.Sprintf("qdrant_search_%s", using)
	err := c.executor.Execute(ctx, operation, func(ctx context.Context) error {
		path := fmt.Sprintf("/collections/%s/points/query", c.collection)
		return c.doJSON(ctx, http.MethodPost, path, body, &response, "search "+using)
	}, classifyQdrantError)
	if err != nil {
		if isSchemaError(err) {
			return nil, domain.WrapError(domain.ErrCollectionSchema, "search "+using, err)
		}
		return nil, domain.WrapError(domain.ErrRetrievalUnavailable, "search "+using, err)
	}

	out := make([]domain.RetrievalCandidate, 0, len(response.Result.Points))
	for i, p := range response.Result.Points {
		chunkID := payloadString(p.Payload, "chunk_id")
		if chunkID == "" {
			chunkID = p.ID
		}
		out = append(out, domain.RetrievalCandidate{
			ChunkID:   chunkID,
			Rank:      i + 1,
			RawScore:  p.Score,
			ArticleID: payloadString(p.Payload, "article_id"),
			Section:   payloadString(p.Payload, "section"),
			Text:      payloadString(p.Payload, "text"),
			URL:       payloadString(p.Payload, "url"),
		})
	}
	return out, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload any, out any, operation string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &HTTPStatusError{
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(respBody)),
		}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

func payloadString(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
