package search

// ScoredChunk is a transient per-scorer result. Rank is 1-based within the
// scorer's output ordering.
type ScoredChunk struct {
	ChunkID int64
	Score   float64
	Rank    int
}

// FusedResult is a chunk with its reciprocal-rank-fusion score. Output
// sequences are sorted so FusedScore is monotonically non-increasing.
type FusedResult struct {
	ChunkID    int64
	FusedScore float64
}

// Passage is a final retrieved passage handed to the answer generator.
type Passage struct {
	ChunkID int64   `json:"chunk_id"`
	Text    string  `json:"text"`
	Score   float64 `json:"score"`
	Source  string  `json:"source,omitempty"`
}

// Result is the outcome of one retrieval pass.
type Result struct {
	Passages []Passage `json:"passages"`

	// RerankFallback is set when the reranker collaborator failed and the
	// passages are in fused-score order instead.
	RerankFallback bool `json:"rerank_fallback,omitempty"`
}
