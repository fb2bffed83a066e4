package domain

import (
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/google/uuid"
)

// ChunkRecord is the atomic retrievable unit: one passage of a source
// article together with both of its embeddings.
type ChunkRecord struct {
	ChunkID         string       `json:"chunk_id"`
	ArticleID       string       `json:"article_id"`
	Section         string       `json:"section"`
	Text            string       `json:"text"`
	URL             string       `json:"url"`
	PublicationDate string       `json:"publication_date,omitempty"`
	Dense           []float32    `json:"-"`
	Sparse          SparseVector `json:"-"`
}

// SparseVector is a term-id to weight map in Qdrant wire form. Indices are
// sorted ascending and weights are non-negative.
type SparseVector struct {
	Indices []uint32  `json:"indices"`
	Values  []float32 `json:"values"`
}

func (v SparseVector) IsEmpty() bool {
	return len(v.Indices) == 0
}

// DeriveChunkID builds a stable chunk identifier from the source article id,
// the section label and a hash of the passage content. Re-ingesting identical
// input yields the same id, so upserts overwrite instead of duplicating.
func DeriveChunkID(articleID, section, text string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	return fmt.Sprintf("%s:%s:%016x", articleID, strings.ToLower(strings.TrimSpace(section)), h.Sum64())
}

// PointID maps a chunk id onto a Qdrant-compatible UUID. Deterministic: the
// same chunk id always produces the same point id.
func PointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(chunkID)).String()
}

// Validate rejects records that must never reach the vector store.
func (r *ChunkRecord) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return WrapError(ErrInvalidInput, "validate chunk", fmt.Errorf("chunk %s has empty text", r.ChunkID))
	}
	if r.ChunkID == "" {
		return WrapError(ErrInvalidInput, "validate chunk", fmt.Errorf("article %s: missing chunk id", r.ArticleID))
	}
	if len(r.Dense) == 0 {
		return WrapError(ErrEncoding, "validate chunk", fmt.Errorf("chunk %s has no dense vector", r.ChunkID))
	}
	if r.Sparse.IsEmpty() {
		return WrapError(ErrEncoding, "validate chunk", fmt.Errorf("chunk %s has degenerate sparse vector", r.ChunkID))
	}
	if len(r.Sparse.Indices) != len(r.Sparse.Values) {
		return WrapError(ErrEncoding, "validate chunk",
			fmt.Errorf("chunk %s sparse indices/values mismatch: %d/%d", r.ChunkID, len(r.Sparse.Indices), len(r.Sparse.Values)))
	}
	return nil
}
