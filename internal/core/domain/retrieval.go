package domain

// Signal names the two retrieval spaces a candidate can come from.
type Signal string

const (
	SignalDense  Signal = "dense"
	SignalSparse Signal = "sparse"
)

// RetrievalCandidate is a single-signal search hit. RawScore carries the
// native similarity score of that signal and is not comparable across
// signals; Rank is the 1-based position in the signal's ordered list.
type RetrievalCandidate struct {
	ChunkID   string  `json:"chunk_id"`
	Rank      int     `json:"rank"`
	RawScore  float64 `json:"raw_score"`
	ArticleID string  `json:"article_id"`
	Section   string  `json:"section"`
	Text      string  `json:"text"`
	URL       string  `json:"url"`
}

// FusedResult is one entry of the fused ranking. DenseRank/SparseRank are nil
// when the chunk did not appear in that signal's candidate list.
type FusedResult struct {
	ChunkID    string  `json:"chunk_id"`
	FusedScore float64 `json:"fused_score"`
	DenseRank  *int    `json:"dense_rank,omitempty"`
	SparseRank *int    `json:"sparse_rank,omitempty"`
	ArticleID  string  `json:"article_id"`
	Section    string  `json:"section"`
	Text       string  `json:"text"`
	URL        string  `json:"url"`
}

// RetrievalResult is the contract handed to the generation stage. Degraded is
// set when one signal failed and the ranking was built from the survivor.
type RetrievalResult struct {
	Results        []FusedResult `json:"results"`
	Degraded       bool          `json:"degraded"`
	DegradedSignal Signal        `json:"degraded_signal,omitempty"`
}
