package search

import (
	"errors"
	"math"
	"testing"

	"github.com/docgrep/docgrep/pkg/corpus"
)

func testCorpus(chunks ...*corpus.Chunk) *corpus.Corpus {
	return corpus.New(chunks)
}

func TestVectorScoresEmptyCorpus(t *testing.T) {
	c := testCorpus()

	_, _, err := VectorScores([]float32{1, 0}, c)
	if !errors.Is(err, ErrEmptyCorpus) {
		t.Fatalf("expected ErrEmptyCorpus, got %v", err)
	}
}

func TestVectorScoresDimensionMismatch(t *testing.T) {
	c := testCorpus(
		&corpus.Chunk{ID: 1, Embedding: []float32{1, 0, 0}},
	)

	_, _, err := VectorScores([]float32{1, 0}, c)
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestVectorScoresOrdering(t *testing.T) {
	// Chunk 2 is parallel to the query, chunk 1 orthogonal, chunk 3 in
	// between.
	c := testCorpus(
		&corpus.Chunk{ID: 1, Embedding: []float32{0, 1, 0}},
		&corpus.Chunk{ID: 2, Embedding: []float32{2, 0, 0}},
		&corpus.Chunk{ID: 3, Embedding: []float32{1, 1, 0}},
	)

	scored, skipped, err := VectorScores([]float32{1, 0, 0}, c)
	if err != nil {
		t.Fatal(err)
	}
	if len(skipped) != 0 {
		t.Errorf("expected no skipped chunks, got %v", skipped)
	}
	if len(scored) != 3 {
		t.Fatalf("expected 3 scored chunks, got %d", len(scored))
	}

	wantOrder := []int64{2, 3, 1}
	for i, want := range wantOrder {
		if scored[i].ChunkID != want {
			t.Errorf("position %d: got chunk %d, want %d", i, scored[i].ChunkID, want)
		}
		if scored[i].Rank != i+1 {
			t.Errorf("position %d: got rank %d, want %d", i, scored[i].Rank, i+1)
		}
	}

	// Magnitude must not matter: chunk 2 has length 2 but scores 1.
	if math.Abs(scored[0].Score-1) > 1e-9 {
		t.Errorf("parallel vector should score 1, got %f", scored[0].Score)
	}

	for _, sc := range scored {
		if sc.Score < -1-1e-9 || sc.Score > 1+1e-9 {
			t.Errorf("chunk %d: cosine %f out of [-1, 1]", sc.ChunkID, sc.Score)
		}
	}
}

func TestVectorScoresZeroNorm(t *testing.T) {
	c := testCorpus(
		&corpus.Chunk{ID: 1, Embedding: []float32{0, 0, 0}},
		&corpus.Chunk{ID: 2, Embedding: []float32{1, 0, 0}},
	)

	scored, _, err := VectorScores([]float32{1, 0, 0}, c)
	if err != nil {
		t.Fatal(err)
	}

	for _, sc := range scored {
		if sc.ChunkID == 1 && sc.Score != 0 {
			t.Errorf("zero-norm chunk should score 0, got %f", sc.Score)
		}
	}

	// Zero-norm query scores everything 0 rather than erroring.
	scored, _, err = VectorScores([]float32{0, 0, 0}, c)
	if err != nil {
		t.Fatal(err)
	}
	for _, sc := range scored {
		if sc.Score != 0 {
			t.Errorf("zero-norm query: chunk %d scored %f, want 0", sc.ChunkID, sc.Score)
		}
	}
}

func TestVectorScoresSkipsMalformed(t *testing.T) {
	c := testCorpus(
		&corpus.Chunk{ID: 1, Embedding: []float32{1, 0, 0}},
		&corpus.Chunk{ID: 2, Embedding: []float32{1, 0}}, // wrong dims
		&corpus.Chunk{ID: 3, Embedding: []float32{float32(math.NaN()), 0, 0}},
		&corpus.Chunk{ID: 4, Embedding: []float32{0, 1, 0}},
	)

	scored, skipped, err := VectorScores([]float32{1, 0, 0}, c)
	if err != nil {
		t.Fatal(err)
	}

	if len(skipped) != 2 {
		t.Fatalf("expected 2 skipped chunks, got %v", skipped)
	}
	if skipped[0] != 2 || skipped[1] != 3 {
		t.Errorf("expected chunks 2 and 3 skipped, got %v", skipped)
	}
	if len(scored) != 2 {
		t.Fatalf("expected 2 scored chunks, got %d", len(scored))
	}
}

func TestVectorScoresTieBreakByID(t *testing.T) {
	// Identical embeddings tie exactly; lower ID wins.
	c := testCorpus(
		&corpus.Chunk{ID: 7, Embedding: []float32{1, 1}},
		&corpus.Chunk{ID: 3, Embedding: []float32{1, 1}},
		&corpus.Chunk{ID: 5, Embedding: []float32{1, 1}},
	)

	scored, _, err := VectorScores([]float32{1, 0}, c)
	if err != nil {
		t.Fatal(err)
	}

	wantOrder := []int64{3, 5, 7}
	for i, want := range wantOrder {
		if scored[i].ChunkID != want {
			t.Errorf("position %d: got chunk %d, want %d", i, scored[i].ChunkID, want)
		}
	}
}

func TestVectorScoresDeterministic(t *testing.T) {
	c := testCorpus(
		&corpus.Chunk{ID: 1, Embedding: []float32{0.3, 0.7, 0.1}},
		&corpus.Chunk{ID: 2, Embedding: []float32{0.5, 0.2, 0.9}},
		&corpus.Chunk{ID: 3, Embedding: []float32{0.8, 0.4, 0.2}},
	)
	query := []float32{0.6, 0.3, 0.5}

	first, _, err := VectorScores(query, c)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		again, _, err := VectorScores(query, c)
		if err != nil {
			t.Fatal(err)
		}
		for j := range first {
			if again[j] != first[j] {
				t.Fatalf("run %d: position %d differs: %+v vs %+v", i, j, again[j], first[j])
			}
		}
	}
}
