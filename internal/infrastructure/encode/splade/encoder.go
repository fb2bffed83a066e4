package splade

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/spacebiolab/biolit/internal/core/domain"
	"github.com/spacebiolab/biolit/internal/infrastructure/resilience"
)

// Encoder produces learned sparse vectors from a SPLADE activation service.
// The service returns raw token-level activations over vocabulary term ids;
// the saturating transform, max-pooling and top-k pruning happen here so the
// stored representation is independent of the serving runtime.
type Encoder struct {
	baseURL     string
	httpClient  *http.Client
	executor    *resilience.Executor
	maxTokens   int
	defaultTopK int
}

type Options struct {
	Timeout     time.Duration
	MaxTokens   int
	DefaultTopK int
	Executor    *resilience.Executor
}

func New(baseURL string, options Options) *Encoder {
	timeout := options.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	maxTokens := options.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 256
	}
	defaultTopK := options.DefaultTopK
	if defaultTopK <= 0 {
		defaultTopK = 200
	}
	executor := options.Executor
	if executor == nil {
		executor = resilience.NewExecutor(resilience.DefaultConfig())
	}
	return &Encoder{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{Timeout: timeout},
		executor:    executor,
		maxTokens:   maxTokens,
		defaultTopK: defaultTopK,
	}
}

type tokenActivations struct {
	Indices []uint32  `json:"indices"`
	Values  []float32 `json:"values"`
}

type activationResult struct {
	TokenCount int                `json:"token_count"`
	Tokens     []tokenActivations `json:"tokens"`
}

func (e *Encoder) EncodeSparse(ctx context.Context, texts []string, topK int) ([]domain.SparseVector, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if topK <= 0 {
		topK = e.defaultTopK
	}
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, domain.WrapError(domain.ErrEncoding, "encode sparse",
				fmt.Errorf("text %d of %d is empty", i, len(texts)))
		}
	}

	request := map[string]any{"texts": texts}
	var response struct {
		Results []activationResult `json:"results"`
	}

	err := e.executor.Execute(ctx, "encode_sparse", func(ctx context.Context) error {
		return e.postJSON(ctx, "/activations", request, &response)
	}, classifySpladeError)
	if err != nil {
		return nil, wrapTemporaryIfNeeded("encode sparse", err)
	}

	if len(response.Results) != len(texts) {
		return nil, domain.WrapError(domain.ErrEncoding, "encode sparse",
			fmt.Errorf("got %d activation sets for %d texts", len(response.Results), len(texts)))
	}

	out := make([]domain.SparseVector, 0, len(texts))
	for i, result := range response.Results {
		if result.TokenCount > e.maxTokens {
			return nil, domain.WrapError(domain.ErrEncoding, "encode sparse",
				fmt.Errorf("text %d has %d tokens, model max is %d", i, result.TokenCount, e.maxTokens))
		}
		// An all-zero activation yields an empty vector; the caller decides
		// whether the text is skippable (ingest) or fatal (query).
		out = append(out, poolActivations(result.Tokens, topK))
	}
	return out, nil
}

func (e *Encoder) EncodeQuerySparse(ctx context.Context, text string) (domain.SparseVector, error) {
	vectors, err := e.EncodeSparse(ctx, []string{text}, e.defaultTopK)
	if err != nil {
		return domain.SparseVector{}, err
	}
	if len(vectors) == 0 || vectors[0].IsEmpty() {
		return domain.SparseVector{}, domain.WrapError(domain.ErrEncoding, "encode query sparse",
			fmt.Errorf("query produced an all-zero sparse vector"))
	}
	return vectors[0], nil
}

// poolActivations applies log1p(max(0, a)) per activation, keeps the maximum
// weight per term id across token positions, prunes to the topK heaviest
// terms and returns indices sorted ascending.
func poolActivations(tokens []tokenActivations, topK int) domain.SparseVector {
	pooled := make(map[uint32]float32)
	for _, tok := range tokens {
		n := len(tok.Indices)
		if len(tok.Values) < n {
			n = len(tok.Values)
		}
		for j := 0; j < n; j++ {
			raw := tok.Values[j]
			if raw <= 0 {
				continue
			}
			weight := float32(math.Log1p(float64(raw)))
			if weight > pooled[tok.Indices[j]] {
				pooled[tok.Indices[j]] = weight
			}
		}
	}
	if len(pooled) == 0 {
		return domain.SparseVector{}
	}

	type term struct {
		index  uint32
		weight float32
	}
	terms := make([]term, 0, len(pooled))
	for index, weight := range pooled {
		terms = append(terms, term{index: index, weight: weight})
	}
	sort.Slice(terms, func(a, b int) bool {
		if terms[a].weight != terms[b].weight {
			return terms[a].weight > terms[b].weight
		}
		return terms[a].index < terms[b].index
	})
	if topK > 0 && len(terms) > topK {
		terms = terms[:topK]
	}
	sort.Slice(terms, func(a, b int) bool { return terms[a].index < terms[b].index })

	vec := domain.SparseVector{
		Indices: make([]uint32, len(terms)),
		Values:  make([]float32, len(terms)),
	}
	for i, t := range terms {
		vec.Indices[i] = t.index
		vec.Values[i] = t.weight
	}
	return vec
}

func (e *Encoder) postJSON(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal splade request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create splade request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("splade request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &HTTPStatusError{
			Operation:  "splade",
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(respBody)),
		}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode splade response: %w", err)
	}
	return nil
}
