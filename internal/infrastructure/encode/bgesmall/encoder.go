package bgesmall

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spacebiolab/biolit/internal/core/domain"
	"github.com/spacebiolab/biolit/internal/infrastructure/resilience"
)

// Encoder produces dense passage embeddings through an Ollama-compatible
// embedding inference service.
type Encoder struct {
	baseURL     string
	model       string
	expectedDim int
	httpClient  *http.Client
	executor    *resilience.Executor
}

type Options struct {
	Timeout     time.Duration
	ExpectedDim int
	Executor    *resilience.Executor
}

func New(baseURL, model string, options Options) *Encoder {
	timeout := options.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	executor := options.Executor
	if executor == nil {
		executor = resilience.NewExecutor(resilience.DefaultConfig())
	}
	return &Encoder{
		baseURL:     strings.TrimRight(baseURL, "/"),
		model:       model,
		expectedDim: options.ExpectedDim,
		httpClient:  &http.Client{Timeout: timeout},
		executor:    executor,
	}
}

func (e *Encoder) EncodeDense(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, domain.WrapError(domain.ErrEncoding, "encode dense",
				fmt.Errorf("text %d of %d is empty", i, len(texts)))
		}
	}

	request := map[string]any{
		"model": e.model,
		"input": texts,
	}
	var response struct {
		Embeddings [][]float32 `json:"embeddings"`
	}

	err := e.executor.Execute(ctx, "embed_dense", func(ctx context.Context) error {
		return e.postJSON(ctx, "/api/embed", request, &response)
	}, classifyEmbedError)
	if err != nil {
		return nil, wrapTemporaryIfNeeded("encode dense", err)
	}

	if len(response.Embeddings) != len(texts) {
		return nil, domain.WrapError(domain.ErrEncoding, "encode dense",
			fmt.Errorf("got %d embeddings for %d texts", len(response.Embeddings), len(texts)))
	}
	for i, vec := range response.Embeddings {
		if len(vec) == 0 {
			return nil, domain.WrapError(domain.ErrEncoding, "encode dense",
				fmt.Errorf("empty embedding for text %d", i))
		}
		if e.expectedDim > 0 && len(vec) != e.expectedDim {
			return nil, domain.WrapError(domain.ErrEncoding, "encode dense",
				fmt.Errorf("embedding %d has dim %d, want %d", i, len(vec), e.expectedDim))
		}
	}
	return response.Embeddings, nil
}

func (e *Encoder) EncodeQueryDense(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EncodeDense(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, domain.WrapError(domain.ErrEncoding, "encode query dense",
			fmt.Errorf("empty embedding result"))
	}
	return vectors[0], nil
}

func (e *Encoder) postJSON(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("embed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &HTTPStatusError{
			Operation:  "embed",
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(respBody)),
		}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode embed response: %w", err)
	}
	return nil
}
