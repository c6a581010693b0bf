package search

import (
	"math"
	"strings"

	"github.com/docgrep/docgrep/pkg/corpus"
)

// BM25 free parameters. Standard values, fixed for reproducibility.
const (
	bm25K1 = 1.5
	bm25B  = 0.75
)

// BM25Index is a keyword scorer over a corpus. Term statistics are computed
// once at construction; the index is read-only afterwards and safe for
// concurrent use.
type BM25Index struct {
	chunkIDs  []int64
	termFreqs []map[string]int // per chunk: term -> occurrences
	lengths   []int            // per chunk: token count
	docFreqs  map[string]int   // term -> number of chunks containing it
	avgLen    float64
}

// NewBM25Index tokenizes every chunk and builds the term statistics.
func NewBM25Index(c *corpus.Corpus) *BM25Index {
	chunks := c.Chunks()
	idx := &BM25Index{
		chunkIDs:  make([]int64, len(chunks)),
		termFreqs: make([]map[string]int, len(chunks)),
		lengths:   make([]int, len(chunks)),
		docFreqs:  make(map[string]int),
	}

	totalLen := 0
	for i, ch := range chunks {
		tokens := Tokenize(ch.Text)
		tf := make(map[string]int, len(tokens))
		for _, t := range tokens {
			tf[t]++
		}
		for t := range tf {
			idx.docFreqs[t]++
		}
		idx.chunkIDs[i] = ch.ID
		idx.termFreqs[i] = tf
		idx.lengths[i] = len(tokens)
		totalLen += len(tokens)
	}
	if len(chunks) > 0 {
		idx.avgLen = float64(totalLen) / float64(len(chunks))
	}

	return idx
}

// Scores computes BM25 relevance for every chunk against the query.
// Chunks with no query-term overlap score 0 and are omitted, so the output
// contains only matching chunks, sorted descending with the same tie-break
// rule as the vector scorer.
func (idx *BM25Index) Scores(query string) []ScoredChunk {
	queryTerms := Tokenize(query)
	if len(queryTerms) == 0 {
		return nil
	}

	n := float64(len(idx.chunkIDs))
	var scored []ScoredChunk
	for i, id := range idx.chunkIDs {
		score := 0.0
		for _, term := range queryTerms {
			tf := idx.termFreqs[i][term]
			if tf == 0 {
				continue
			}
			df := float64(idx.docFreqs[term])
			idf := math.Log(1 + (n-df+0.5)/(df+0.5))
			lenNorm := 1 - bm25B + bm25B*float64(idx.lengths[i])/idx.avgLen
			score += idf * float64(tf) * (bm25K1 + 1) / (float64(tf) + bm25K1*lenNorm)
		}
		if score > 0 {
			scored = append(scored, ScoredChunk{ChunkID: id, Score: score})
		}
	}

	sortScored(scored)
	return scored
}

// Tokenize lowercases the text, splits on whitespace, and trims surrounding
// punctuation from each token. Empty tokens are dropped.
func Tokenize(text string) []string {
	words := strings.Fields(strings.ToLower(text))
	tokens := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.Trim(w, ".,?!\"'`:;()[]{}*-—/\\")
		if w != "" {
			tokens = append(tokens, w)
		}
	}
	return tokens
}
