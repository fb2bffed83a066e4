package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/spacebiolab/biolit/internal/core/domain"
)

type scriptedRetriever struct {
	byQuestion map[string][]string
	err        error
}

func (s *scriptedRetriever) Retrieve(_ context.Context, query string, _ int) (*domain.RetrievalResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	ids := s.byQuestion[query]
	results := make([]domain.FusedResult, 0, len(ids))
	for i, id := range ids {
		results = append(results, domain.FusedResult{ChunkID: id, FusedScore: 1.0 / float64(i+1)})
	}
	return &domain.RetrievalResult{Results: results}, nil
}

func writeTestCaseFile(t *testing.T, dir, name string, file testCaseFile) {
	t.Helper()
	data, err := json.Marshal(file)
	if err != nil {
		t.Fatalf("marshal test cases: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		t.Fatalf("write test cases: %v", err)
	}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestEvaluateRecallExample(t *testing.T) {
	// must={A,B}, should={C}, retrieved={A,C,D}:
	// strict = 1/2, soft = 2/3, score = mean.
	dir := t.TempDir()
	writeTestCaseFile(t, dir, "article_1_test_cases.json", testCaseFile{
		ArticleID: "PMC1",
		TestCases: []domain.TestCase{{
			Question:     "what changed?",
			QuestionType: "factual",
			Difficulty:   "easy",
			GroundTruth: domain.GroundTruth{
				MustRetrieveChunks:   []string{"A", "B"},
				ShouldRetrieveChunks: []string{"C"},
			},
		}},
	})

	retriever := &scriptedRetriever{byQuestion: map[string][]string{
		"what changed?": {"A", "C", "D"},
	}}
	harness := NewEvaluationHarnessUseCase(retriever, nil, EvaluateOptions{Workers: 2})

	summary, err := harness.Evaluate(context.Background(), dir, 15)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if len(summary.Questions) != 1 {
		t.Fatalf("expected 1 question, got %d", len(summary.Questions))
	}

	q := summary.Questions[0]
	if !almostEqual(q.StrictRecall, 0.5) {
		t.Fatalf("strict recall = %v, want 0.5", q.StrictRecall)
	}
	if !almostEqual(q.SoftRecall, 2.0/3.0) {
		t.Fatalf("soft recall = %v, want 2/3", q.SoftRecall)
	}
	if !almostEqual(q.RetrievalScore, (0.5+2.0/3.0)/2.0) {
		t.Fatalf("retrieval score = %v", q.RetrievalScore)
	}
	if len(q.Missing) != 1 || q.Missing[0] != "B" {
		t.Fatalf("expected missing=[B], got %v", q.Missing)
	}
}

func TestEvaluateAggregatesByBucket(t *testing.T) {
	dir := t.TempDir()
	writeTestCaseFile(t, dir, "article_1_test_cases.json", testCaseFile{
		TestCases: []domain.TestCase{
			{
				Question:     "q1",
				QuestionType: "factual",
				Difficulty:   "easy",
				GroundTruth:  domain.GroundTruth{MustRetrieveChunks: []string{"A"}},
			},
			{
				Question:     "q2",
				QuestionType: "comparative",
				Difficulty:   "hard",
				GroundTruth:  domain.GroundTruth{MustRetrieveChunks: []string{"Z"}},
			},
		},
	})

	retriever := &scriptedRetriever{byQuestion: map[string][]string{
		"q1": {"A"},
		"q2": {"other"},
	}}
	harness := NewEvaluationHarnessUseCase(retriever, nil, EvaluateOptions{Workers: 4})

	summary, err := harness.Evaluate(context.Background(), dir, 15)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if !almostEqual(summary.Overall.StrictRecall, 0.5) {
		t.Fatalf("overall strict recall = %v, want 0.5", summary.Overall.StrictRecall)
	}
	if len(summary.ByType) != 2 || len(summary.ByDifficulty) != 2 {
		t.Fatalf("expected 2 type and 2 difficulty buckets, got %d/%d",
			len(summary.ByType), len(summary.ByDifficulty))
	}

	for _, bucket := range summary.ByType {
		switch bucket.Bucket {
		case "factual":
			if !almostEqual(bucket.StrictRecall, 1.0) {
				t.Fatalf("factual strict recall = %v", bucket.StrictRecall)
			}
		case "comparative":
			if !almostEqual(bucket.StrictRecall, 0.0) {
				t.Fatalf("comparative strict recall = %v", bucket.StrictRecall)
			}
		default:
			t.Fatalf("unexpected bucket %s", bucket.Bucket)
		}
	}
}

func TestEvaluateResultsKeyedByQuestionID(t *testing.T) {
	dir := t.TempDir()
	cases := make([]domain.TestCase, 8)
	byQuestion := make(map[string][]string, len(cases))
	for i := range cases {
		q := string(rune('a' + i))
		cases[i] = domain.TestCase{
			Question:    q,
			GroundTruth: domain.GroundTruth{MustRetrieveChunks: []string{q + "-chunk"}},
		}
		byQuestion[q] = []string{q + "-chunk"}
	}
	writeTestCaseFile(t, dir, "article_2_test_cases.json", testCaseFile{TestCases: cases})

	harness := NewEvaluationHarnessUseCase(&scriptedRetriever{byQuestion: byQuestion}, nil, EvaluateOptions{Workers: 8})
	summary, err := harness.Evaluate(context.Background(), dir, 15)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	// Concurrent workers must not reorder the report.
	for i, q := range summary.Questions {
		wantID := "article_2_test_cases#" + string(rune('1'+i))
		if q.QuestionID != wantID {
			t.Fatalf("question %d id = %s, want %s", i, q.QuestionID, wantID)
		}
		if !almostEqual(q.StrictRecall, 1.0) {
			t.Fatalf("question %s strict recall = %v", q.QuestionID, q.StrictRecall)
		}
	}
}

func TestEvaluateRecordsRetrieverErrors(t *testing.T) {
	dir := t.TempDir()
	writeTestCaseFile(t, dir, "a.json", testCaseFile{
		TestCases: []domain.TestCase{{
			Question:    "q",
			GroundTruth: domain.GroundTruth{MustRetrieveChunks: []string{"A"}},
		}},
	})

	retriever := &scriptedRetriever{err: errors.New("store down")}
	harness := NewEvaluationHarnessUseCase(retriever, nil, EvaluateOptions{})

	summary, err := harness.Evaluate(context.Background(), dir, 15)
	if err != nil {
		t.Fatalf("harness should collect per-question errors, got %v", err)
	}
	q := summary.Questions[0]
	if q.Err == "" {
		t.Fatalf("expected recorded error")
	}
	if len(q.Missing) != 1 || q.Missing[0] != "A" {
		t.Fatalf("failed question should report all must-retrieve chunks missing, got %v", q.Missing)
	}
}

func TestEvaluateEmptyTestSetFails(t *testing.T) {
	dir := t.TempDir()
	harness := NewEvaluationHarnessUseCase(&scriptedRetriever{}, nil, EvaluateOptions{})
	_, err := harness.Evaluate(context.Background(), dir, 15)
	if err == nil || !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
