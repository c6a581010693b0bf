// Package corpus holds the in-memory document store the retrieval pipeline
// scores over. A Corpus is loaded once from the ingestion store and is
// read-only afterwards, so it can be shared across concurrent queries
// without locking.
package corpus

import (
	"math"
	"sort"
)

// Chunk is a unit of ingested text with its embedding vector.
// Chunks are immutable after ingestion.
type Chunk struct {
	ID        int64
	Text      string
	Embedding []float32
	Metadata  map[string]string
}

// Corpus is an ordered, immutable sequence of chunks.
type Corpus struct {
	chunks []*Chunk
	byID   map[int64]*Chunk
	dims   int
}

// New builds a corpus from the given chunks. Chunks are ordered by ID
// ascending regardless of input order. The corpus dimensionality is taken
// from the first non-empty embedding; chunks whose embeddings disagree stay
// in the corpus (they still participate in keyword scoring) but are skipped
// by the vector scorer.
func New(chunks []*Chunk) *Corpus {
	ordered := make([]*Chunk, len(chunks))
	copy(ordered, chunks)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].ID < ordered[j].ID
	})

	byID := make(map[int64]*Chunk, len(ordered))
	dims := 0
	for _, ch := range ordered {
		byID[ch.ID] = ch
		if dims == 0 && len(ch.Embedding) > 0 {
			dims = len(ch.Embedding)
		}
	}

	return &Corpus{
		chunks: ordered,
		byID:   byID,
		dims:   dims,
	}
}

// Chunks returns the ordered chunk sequence. Callers must not mutate it.
func (c *Corpus) Chunks() []*Chunk {
	return c.chunks
}

// Get looks up a chunk by ID.
func (c *Corpus) Get(id int64) (*Chunk, bool) {
	ch, ok := c.byID[id]
	return ch, ok
}

// Len returns the number of chunks.
func (c *Corpus) Len() int {
	return len(c.chunks)
}

// Dims returns the embedding dimensionality, 0 for an empty corpus.
func (c *Corpus) Dims() int {
	return c.dims
}

// WellFormed reports whether a chunk's embedding matches the corpus
// dimensionality and contains no NaN or infinite components.
func (c *Corpus) WellFormed(ch *Chunk) bool {
	if len(ch.Embedding) != c.dims {
		return false
	}
	for _, v := range ch.Embedding {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
