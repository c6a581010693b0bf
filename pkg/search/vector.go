package search

import (
	"math"
	"sort"

	"github.com/docgrep/docgrep/pkg/corpus"
)

// VectorScores computes cosine similarity between the query embedding and
// every well-formed chunk in the corpus. Output is sorted by score
// descending, ties broken by chunk ID ascending, with 1-based ranks
// assigned. Chunks with malformed embeddings are returned in skipped rather
// than aborting the query; zero-norm vectors score 0.
func VectorScores(query []float32, c *corpus.Corpus) (scored []ScoredChunk, skipped []int64, err error) {
	if c.Len() == 0 {
		return nil, nil, ErrEmptyCorpus
	}
	if len(query) != c.Dims() {
		return nil, nil, ErrDimensionMismatch
	}

	qNorm := norm(query)

	scored = make([]ScoredChunk, 0, c.Len())
	for _, ch := range c.Chunks() {
		if !c.WellFormed(ch) {
			skipped = append(skipped, ch.ID)
			continue
		}
		scored = append(scored, ScoredChunk{
			ChunkID: ch.ID,
			Score:   cosine(query, ch.Embedding, qNorm),
		})
	}

	sortScored(scored)
	return scored, skipped, nil
}

// cosine computes dot(q, v) / (|q| * |v|) with float64 accumulation.
// A zero-norm vector on either side scores 0.
func cosine(q, v []float32, qNorm float64) float64 {
	var dot, vv float64
	for i := range q {
		dot += float64(q[i]) * float64(v[i])
		vv += float64(v[i]) * float64(v[i])
	}
	vNorm := math.Sqrt(vv)
	if qNorm == 0 || vNorm == 0 {
		return 0
	}
	return dot / (qNorm * vNorm)
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// sortScored orders by score descending, chunk ID ascending on ties, and
// assigns 1-based ranks. The ordering is deterministic for reproducible
// retrieval.
func sortScored(scored []ScoredChunk) {
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].ChunkID < scored[j].ChunkID
	})
	for i := range scored {
		scored[i].Rank = i + 1
	}
}
