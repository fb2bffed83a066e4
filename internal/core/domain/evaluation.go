package domain

// GroundTruth lists the evidence a correct answer must rest on.
// MustRetrieve chunks are required; ShouldRetrieve chunks are recommended.
type GroundTruth struct {
	MustRetrieveChunks   []string `json:"must_retrieve_chunks"`
	ShouldRetrieveChunks []string `json:"should_retrieve_chunks"`
	Answer               string   `json:"answer"`
	KeyFacts             []string `json:"key_facts"`
}

type TestCase struct {
	ID           string      `json:"id"`
	Question     string      `json:"question"`
	QuestionType string      `json:"question_type"`
	Difficulty   string      `json:"difficulty"`
	GroundTruth  GroundTruth `json:"ground_truth"`
}

// QuestionResult scores one retrieval run against its ground truth.
type QuestionResult struct {
	QuestionID     string   `json:"question_id"`
	QuestionType   string   `json:"question_type"`
	Difficulty     string   `json:"difficulty"`
	StrictRecall   float64  `json:"strict_recall"`
	SoftRecall     float64  `json:"soft_recall"`
	RetrievalScore float64  `json:"retrieval_score"`
	Missing        []string `json:"missing_chunk_ids"`
	Degraded       bool     `json:"degraded"`
	Err            string   `json:"error,omitempty"`
}

// BucketMetrics aggregates question results within one grouping key.
type BucketMetrics struct {
	Bucket         string  `json:"bucket"`
	Questions      int     `json:"questions"`
	StrictRecall   float64 `json:"strict_recall"`
	SoftRecall     float64 `json:"soft_recall"`
	RetrievalScore float64 `json:"retrieval_score"`
}

// EvaluationSummary is the harness output: per-question detail plus
// arithmetic-mean aggregates per question type, per difficulty and overall.
type EvaluationSummary struct {
	Collection   string           `json:"collection"`
	TopK         int              `json:"top_k"`
	Questions    []QuestionResult `json:"questions"`
	ByType       []BucketMetrics  `json:"by_question_type"`
	ByDifficulty []BucketMetrics  `json:"by_difficulty"`
	Overall      BucketMetrics    `json:"overall"`
}
