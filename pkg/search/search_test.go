package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/docgrep/docgrep/pkg/corpus"
	"github.com/docgrep/docgrep/pkg/rerank"
)

type mockEmbedder struct {
	vector []float32
	err    error
	mu     sync.Mutex
	calls  int
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.vector, nil
}

func (m *mockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		v, err := m.Embed(ctx, texts[i])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

type mockReranker struct {
	results []rerank.Result
	err     error
	calls   int
}

func (m *mockReranker) Rerank(ctx context.Context, query string, passages []string) ([]rerank.Result, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.results, nil
}

type mockGenerator struct {
	answer   string
	err      error
	passages []string
}

func (m *mockGenerator) Generate(ctx context.Context, query string, passages []string) (string, error) {
	m.passages = passages
	if m.err != nil {
		return "", m.err
	}
	return m.answer, nil
}

// beeCorpus is a small prose corpus where chunk 2 is the best answer for
// nesting-habit queries by both scorers.
func beeCorpus() *corpus.Corpus {
	return testCorpus(
		&corpus.Chunk{
			ID:        1,
			Text:      "Honey bees live in large colonies and build wax combs.",
			Embedding: []float32{0.2, 0.9, 0.1},
			Metadata:  map[string]string{"source": "bees.md"},
		},
		&corpus.Chunk{
			ID:        2,
			Text:      "Carpenter bees nest in tunnels they bore into dead wood.",
			Embedding: []float32{0.9, 0.2, 0.1},
			Metadata:  map[string]string{"source": "bees.md"},
		},
		&corpus.Chunk{
			ID:        3,
			Text:      "Bumble bees nest in abandoned rodent burrows underground.",
			Embedding: []float32{0.6, 0.5, 0.2},
			Metadata:  map[string]string{"source": "bees.md"},
		},
		&corpus.Chunk{
			ID:        4,
			Text:      "Composting improves garden soil structure over time.",
			Embedding: []float32{0.1, 0.1, 0.9},
			Metadata:  map[string]string{"source": "garden.md"},
		},
	)
}

func TestRetrieveEndToEnd(t *testing.T) {
	emb := &mockEmbedder{vector: []float32{0.9, 0.3, 0.1}}
	s := NewWithConfig(Config{
		Corpus:   beeCorpus(),
		Embedder: emb,
	})

	result, err := s.Retrieve(context.Background(), "where do carpenter bees nest")
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Passages) == 0 {
		t.Fatal("expected passages")
	}
	if result.RerankFallback {
		t.Error("no reranker configured, fallback flag should be unset")
	}

	top := result.Passages[0]
	if top.ChunkID != 2 {
		t.Errorf("expected carpenter bee chunk first, got chunk %d", top.ChunkID)
	}
	if top.Source != "bees.md" {
		t.Errorf("source = %q, want bees.md", top.Source)
	}
	for i := 1; i < len(result.Passages); i++ {
		if result.Passages[i].Score > result.Passages[i-1].Score {
			t.Errorf("passage scores not non-increasing at position %d", i)
		}
	}
}

func TestRetrieveIdempotent(t *testing.T) {
	s := NewWithConfig(Config{
		Corpus:   beeCorpus(),
		Embedder: &mockEmbedder{vector: []float32{0.9, 0.3, 0.1}},
	})

	first, err := s.Retrieve(context.Background(), "carpenter bees")
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		s.ClearCache()
		again, err := s.Retrieve(context.Background(), "carpenter bees")
		if err != nil {
			t.Fatal(err)
		}
		if len(again.Passages) != len(first.Passages) {
			t.Fatalf("run %d: passage count changed", i)
		}
		for j := range first.Passages {
			if again.Passages[j] != first.Passages[j] {
				t.Fatalf("run %d: passage %d differs", i, j)
			}
		}
	}
}

func TestRetrieveQueryCache(t *testing.T) {
	emb := &mockEmbedder{vector: []float32{0.9, 0.3, 0.1}}
	s := NewWithConfig(Config{
		Corpus:   beeCorpus(),
		Embedder: emb,
	})

	if _, err := s.Retrieve(context.Background(), "carpenter bees"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Retrieve(context.Background(), "carpenter bees"); err != nil {
		t.Fatal(err)
	}
	if emb.calls != 1 {
		t.Errorf("expected second query to hit the cache, embedder called %d times", emb.calls)
	}

	// Different options miss the cache.
	opts := DefaultOptions()
	opts.TopN = 2
	if _, err := s.RetrieveWithOptions(context.Background(), "carpenter bees", opts); err != nil {
		t.Fatal(err)
	}
	if emb.calls != 2 {
		t.Errorf("different options should miss the cache, embedder called %d times", emb.calls)
	}
}

func TestRetrieveEmptyCorpus(t *testing.T) {
	s := NewWithConfig(Config{
		Corpus:   testCorpus(),
		Embedder: &mockEmbedder{vector: []float32{1, 0}},
	})

	_, err := s.Retrieve(context.Background(), "anything")
	if !errors.Is(err, ErrEmptyCorpus) {
		t.Fatalf("expected ErrEmptyCorpus, got %v", err)
	}
}

func TestRetrieveEmbedFailure(t *testing.T) {
	s := NewWithConfig(Config{
		Corpus:   beeCorpus(),
		Embedder: &mockEmbedder{err: errors.New("service down")},
	})

	_, err := s.Retrieve(context.Background(), "carpenter bees")
	if err == nil {
		t.Fatal("expected error")
	}

	var stageErr *StageError
	if !errors.As(err, &stageErr) {
		t.Fatalf("expected StageError, got %T", err)
	}
	if stageErr.Stage != StageEmbed {
		t.Errorf("stage = %q, want %q", stageErr.Stage, StageEmbed)
	}
}

func TestRetrieveDimensionMismatch(t *testing.T) {
	s := NewWithConfig(Config{
		Corpus:   beeCorpus(),
		Embedder: &mockEmbedder{vector: []float32{1, 0}}, // corpus is 3-dim
	})

	_, err := s.Retrieve(context.Background(), "carpenter bees")
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestRetrieveRerankReorders(t *testing.T) {
	// The reranker inverts whatever order fusion produced.
	rr := &mockReranker{}
	s := NewWithConfig(Config{
		Corpus:   beeCorpus(),
		Embedder: &mockEmbedder{vector: []float32{0.9, 0.3, 0.1}},
		Reranker: rr,
	})

	opts := DefaultOptions()
	opts.TopN = 2
	rr.results = []rerank.Result{
		{Index: 1, Score: 0.99},
		{Index: 0, Score: 0.42},
	}

	result, err := s.RetrieveWithOptions(context.Background(), "where do carpenter bees nest", opts)
	if err != nil {
		t.Fatal(err)
	}
	if rr.calls != 1 {
		t.Fatalf("reranker called %d times", rr.calls)
	}
	if result.RerankFallback {
		t.Error("fallback flag set on successful rerank")
	}
	if len(result.Passages) != 2 {
		t.Fatalf("expected 2 passages, got %d", len(result.Passages))
	}
	if result.Passages[0].Score != 0.99 || result.Passages[1].Score != 0.42 {
		t.Errorf("passages should carry reranker scores, got %f and %f",
			result.Passages[0].Score, result.Passages[1].Score)
	}
}

func TestRetrieveRerankFallback(t *testing.T) {
	s := NewWithConfig(Config{
		Corpus:   beeCorpus(),
		Embedder: &mockEmbedder{vector: []float32{0.9, 0.3, 0.1}},
		Reranker: &mockReranker{err: errors.New("rerank service unavailable")},
	})

	result, err := s.Retrieve(context.Background(), "where do carpenter bees nest")
	if err != nil {
		t.Fatal(err)
	}
	if !result.RerankFallback {
		t.Error("expected RerankFallback to be set")
	}
	if len(result.Passages) == 0 {
		t.Fatal("fallback should still return fused passages")
	}
	if result.Passages[0].ChunkID != 2 {
		t.Errorf("fallback should keep fused order, got chunk %d first", result.Passages[0].ChunkID)
	}
}

func TestRetrieveRerankFallbackMatchesFusedOrder(t *testing.T) {
	emb := &mockEmbedder{vector: []float32{0.9, 0.3, 0.1}}

	plain := NewWithConfig(Config{Corpus: beeCorpus(), Embedder: emb})
	fused, err := plain.Retrieve(context.Background(), "carpenter bees nest")
	if err != nil {
		t.Fatal(err)
	}

	failing := NewWithConfig(Config{
		Corpus:   beeCorpus(),
		Embedder: emb,
		Reranker: &mockReranker{err: errors.New("boom")},
	})
	fallback, err := failing.Retrieve(context.Background(), "carpenter bees nest")
	if err != nil {
		t.Fatal(err)
	}

	if len(fallback.Passages) != len(fused.Passages) {
		t.Fatalf("passage counts differ: %d vs %d", len(fallback.Passages), len(fused.Passages))
	}
	for i := range fused.Passages {
		if fallback.Passages[i].ChunkID != fused.Passages[i].ChunkID {
			t.Errorf("position %d: chunk %d vs %d",
				i, fallback.Passages[i].ChunkID, fused.Passages[i].ChunkID)
		}
	}
}

func TestRetrieveTopNCapped(t *testing.T) {
	s := NewWithConfig(Config{
		Corpus:   beeCorpus(),
		Embedder: &mockEmbedder{vector: []float32{0.9, 0.3, 0.1}},
	})

	opts := Options{TopK: 2, TopN: 10}
	result, err := s.RetrieveWithOptions(context.Background(), "bees nest", opts)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Passages) > 2 {
		t.Errorf("TopN above TopK should be capped, got %d passages", len(result.Passages))
	}
}

func TestRetrieveAndAnswer(t *testing.T) {
	gen := &mockGenerator{answer: "Carpenter bees nest in tunnels bored into dead wood [1]."}
	s := NewWithConfig(Config{
		Corpus:    beeCorpus(),
		Embedder:  &mockEmbedder{vector: []float32{0.9, 0.2, 0.1}},
		Generator: gen,
	})

	answer, err := s.RetrieveAndAnswer(context.Background(), "where do carpenter bees nest")
	if err != nil {
		t.Fatal(err)
	}
	if answer != gen.answer {
		t.Errorf("answer = %q", answer)
	}
	if len(gen.passages) == 0 {
		t.Fatal("generator received no passages")
	}
	if gen.passages[0] != "Carpenter bees nest in tunnels they bore into dead wood." {
		t.Errorf("top passage = %q", gen.passages[0])
	}
}

func TestRetrieveAndAnswerGenerateFailure(t *testing.T) {
	s := NewWithConfig(Config{
		Corpus:    beeCorpus(),
		Embedder:  &mockEmbedder{vector: []float32{0.9, 0.2, 0.1}},
		Generator: &mockGenerator{err: errors.New("model overloaded")},
	})

	_, err := s.RetrieveAndAnswer(context.Background(), "where do carpenter bees nest")
	if err == nil {
		t.Fatal("expected error")
	}

	var stageErr *StageError
	if !errors.As(err, &stageErr) {
		t.Fatalf("expected StageError, got %T: %v", err, err)
	}
	if stageErr.Stage != StageGenerate {
		t.Errorf("stage = %q, want %q", stageErr.Stage, StageGenerate)
	}
}

func TestRetrieveConcurrent(t *testing.T) {
	s := NewWithConfig(Config{
		Corpus:   beeCorpus(),
		Embedder: &mockEmbedder{vector: []float32{0.9, 0.3, 0.1}},
	})

	done := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func(i int) {
			_, err := s.Retrieve(context.Background(), fmt.Sprintf("query %d", i%2))
			done <- err
		}(i)
	}
	for i := 0; i < 8; i++ {
		if err := <-done; err != nil {
			t.Fatal(err)
		}
	}
}
