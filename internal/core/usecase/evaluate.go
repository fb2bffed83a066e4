package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spacebiolab/biolit/internal/core/domain"
	"github.com/spacebiolab/biolit/internal/core/ports"
)

type EvaluateOptions struct {
	Collection string
	Workers    int
	TopK       int
}

func (o EvaluateOptions) normalize() EvaluateOptions {
	out := o
	if out.Workers <= 0 {
		out.Workers = 4
	}
	if out.TopK <= 0 {
		out.TopK = 15
	}
	return out
}

// EvaluationHarnessUseCase replays a fixed question set through the hybrid
// retriever and scores recall against must/should-retrieve ground truth.
// Questions run concurrently under a bounded worker pool; results are keyed
// by question id, never by arrival order.
type EvaluationHarnessUseCase struct {
	retriever ports.Retriever
	runs      ports.RunRepository // optional
	opts      EvaluateOptions
}

func NewEvaluationHarnessUseCase(retriever ports.Retriever, runs ports.RunRepository, opts EvaluateOptions) *EvaluationHarnessUseCase {
	return &EvaluationHarnessUseCase{
		retriever: retriever,
		runs:      runs,
		opts:      opts.normalize(),
	}
}

func (uc *EvaluationHarnessUseCase) Evaluate(ctx context.Context, testSetDir string, topK int) (*domain.EvaluationSummary, error) {
	if topK <= 0 {
		topK = uc.opts.TopK
	}

	cases, err := loadTestCases(testSetDir)
	if err != nil {
		return nil, err
	}
	startedAt := time.Now().UTC()

	results := make(map[string]domain.QuestionResult, len(cases))
	var mu sync.Mutex

	jobs := make(chan domain.TestCase)
	var wg sync.WaitGroup
	for w := 0; w < uc.opts.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for tc := range jobs {
				result := uc.scoreQuestion(ctx, tc, topK)
				mu.Lock()
				results[tc.ID] = result
				mu.Unlock()
			}
		}()
	}

	for _, tc := range cases {
		jobs <- tc
	}
	close(jobs)
	wg.Wait()

	summary := buildSummary(uc.opts.Collection, topK, cases, results)

	if uc.runs != nil {
		if err := uc.runs.SaveEvaluationRun(ctx, summary, startedAt); err != nil {
			slog.Warn("evaluation_run_save_failed", "error", err)
		}
	}
	return summary, nil
}

func (uc *EvaluationHarnessUseCase) scoreQuestion(ctx context.Context, tc domain.TestCase, topK int) domain.QuestionResult {
	result := domain.QuestionResult{
		QuestionID:   tc.ID,
		QuestionType: tc.QuestionType,
		Difficulty:   tc.Difficulty,
	}

	resp, err := uc.retriever.Retrieve(ctx, tc.Question, topK)
	if err != nil {
		result.Err = err.Error()
		result.Missing = append([]string(nil), tc.GroundTruth.MustRetrieveChunks...)
		return result
	}

	retrieved := make(map[string]struct{}, len(resp.Results))
	for _, r := range resp.Results {
		retrieved[r.ChunkID] = struct{}{}
	}

	result.Degraded = resp.Degraded
	result.StrictRecall = recall(retrieved, tc.GroundTruth.MustRetrieveChunks)
	result.SoftRecall = recall(retrieved, union(tc.GroundTruth.MustRetrieveChunks, tc.GroundTruth.ShouldRetrieveChunks))
	result.RetrievalScore = (result.StrictRecall + result.SoftRecall) / 2.0
	result.Missing = missing(retrieved, union(tc.GroundTruth.MustRetrieveChunks, tc.GroundTruth.ShouldRetrieveChunks))
	return result
}

// recall computes |retrieved ∩ expected| / |expected|; an empty expected set
// scores 1.0.
func recall(retrieved map[string]struct{}, expected []string) float64 {
	if len(expected) == 0 {
		return 1.0
	}
	set := make(map[string]struct{}, len(expected))
	for _, id := range expected {
		set[id] = struct{}{}
	}
	found := 0
	for id := range set {
		if _, ok := retrieved[id]; ok {
			found++
		}
	}
	return float64(found) / float64(len(set))
}

func union(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, id := range append(append([]string(nil), a...), b...) {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func missing(retrieved map[string]struct{}, expected []string) []string {
	out := make([]string, 0)
	for _, id := range expected {
		if _, ok := retrieved[id]; !ok {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func buildSummary(collection string, topK int, cases []domain.TestCase, results map[string]domain.QuestionResult) *domain.EvaluationSummary {
	summary := &domain.EvaluationSummary{
		Collection: collection,
		TopK:       topK,
		Questions:  make([]domain.QuestionResult, 0, len(cases)),
	}
	// Report in test-set order, not completion order.
	for _, tc := range cases {
		summary.Questions = append(summary.Questions, results[tc.ID])
	}

	summary.ByType = aggregateBy(summary.Questions, func(q domain.QuestionResult) string { return q.QuestionType })
	summary.ByDifficulty = aggregateBy(summary.Questions, func(q domain.QuestionResult) string { return q.Difficulty })

	overall := aggregateBy(summary.Questions, func(domain.QuestionResult) string { return "overall" })
	if len(overall) == 1 {
		summary.Overall = overall[0]
	}
	return summary
}

func aggregateBy(questions []domain.QuestionResult, keyFn func(domain.QuestionResult) string) []domain.BucketMetrics {
	type agg struct {
		n              int
		strict, soft   float64
		retrievalScore float64
	}
	buckets := make(map[string]*agg)
	for _, q := range questions {
		key := keyFn(q)
		if key == "" {
			key = "unknown"
		}
		b, ok := buckets[key]
		if !ok {
			b = &agg{}
			buckets[key] = b
		}
		b.n++
		b.strict += q.StrictRecall
		b.soft += q.SoftRecall
		b.retrievalScore += q.RetrievalScore
	}

	keys := make([]string, 0, len(buckets))
	for key := range buckets {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make([]domain.BucketMetrics, 0, len(keys))
	for _, key := range keys {
		b := buckets[key]
		out = append(out, domain.BucketMetrics{
			Bucket:         key,
			Questions:      b.n,
			StrictRecall:   b.strict / float64(b.n),
			SoftRecall:     b.soft / float64(b.n),
			RetrievalScore: b.retrievalScore / float64(b.n),
		})
	}
	return out
}

// testCaseFile is the per-article test-set layout produced by the test-case
// generator: one JSON file per article with a list of questions.
type testCaseFile struct {
	ArticleID string            `json:"article_id"`
	TestCases []domain.TestCase `json:"test_cases"`
}

func loadTestCases(testSetDir string) ([]domain.TestCase, error) {
	matches, err := filepath.Glob(filepath.Join(testSetDir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("list test cases: %w", err)
	}
	if len(matches) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "load test cases",
			fmt.Errorf("no *.json files in %s", testSetDir))
	}
	sort.Strings(matches)

	var cases []domain.TestCase
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read test case file: %w", err)
		}

		var file testCaseFile
		if err := json.Unmarshal(data, &file); err != nil {
			return nil, domain.WrapError(domain.ErrInvalidInput, "parse test cases",
				fmt.Errorf("%s: %w", filepath.Base(path), err))
		}

		base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		for i, tc := range file.TestCases {
			if tc.ID == "" {
				tc.ID = fmt.Sprintf("%s#%d", base, i+1)
			}
			if strings.TrimSpace(tc.Question) == "" {
				return nil, domain.WrapError(domain.ErrInvalidInput, "parse test cases",
					fmt.Errorf("%s: question %d is empty", filepath.Base(path), i+1))
			}
			cases = append(cases, tc)
		}
	}
	return cases, nil
}
