// Package search implements the hybrid retrieval pipeline: vector and
// keyword scoring over an in-memory corpus, reciprocal rank fusion,
// cross-encoder reranking with fallback, and answer generation.
package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/docgrep/docgrep/pkg/corpus"
	"github.com/docgrep/docgrep/pkg/embed"
	"github.com/docgrep/docgrep/pkg/rerank"
	"github.com/docgrep/docgrep/pkg/util"
)

// Reranker is the cross-encoder collaborator consumed by the pipeline.
type Reranker interface {
	Rerank(ctx context.Context, query string, passages []string) ([]rerank.Result, error)
}

// Generator is the answer-generation collaborator.
type Generator interface {
	Generate(ctx context.Context, query string, passages []string) (string, error)
}

// Options configures one retrieval pass.
type Options struct {
	TopK int // Fused candidates handed to the reranker (default: 20)
	TopN int // Final passages returned (default: 5, capped at TopK)
	RRFK int // Rank fusion constant (default: 60)
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		TopK: 20,
		TopN: 5,
		RRFK: DefaultRRFK,
	}
}

// Config holds searcher configuration. Collaborators are injected
// explicitly; there is no ambient client state.
type Config struct {
	Corpus    *corpus.Corpus
	Embedder  embed.Embedder
	Reranker  Reranker  // Optional; nil disables the rerank stage
	Generator Generator // Required only for RetrieveAndAnswer
	Logger    *log.Logger
	CacheSize int           // Query result cache entries (default: 100)
	CacheTTL  time.Duration // Query result cache TTL (default: 5m)
}

// Searcher runs the retrieval pipeline. Safe for concurrent use: the corpus
// and BM25 index are read-only after construction.
type Searcher struct {
	corpus     *corpus.Corpus
	bm25       *BM25Index
	embedder   embed.Embedder
	reranker   Reranker
	generator  Generator
	logger     *log.Logger
	queryCache *util.QueryCache
}

// NewWithConfig creates a searcher. The BM25 index over the corpus is built
// here, once.
func NewWithConfig(cfg Config) *Searcher {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	cacheSize := cfg.CacheSize
	if cacheSize == 0 {
		cacheSize = 100
	}
	cacheTTL := cfg.CacheTTL
	if cacheTTL == 0 {
		cacheTTL = 5 * time.Minute
	}

	return &Searcher{
		corpus:     cfg.Corpus,
		bm25:       NewBM25Index(cfg.Corpus),
		embedder:   cfg.Embedder,
		reranker:   cfg.Reranker,
		generator:  cfg.Generator,
		logger:     logger,
		queryCache: util.NewQueryCache(cacheSize, cacheTTL),
	}
}

// Retrieve runs the pipeline with default options.
func (s *Searcher) Retrieve(ctx context.Context, query string) (*Result, error) {
	return s.RetrieveWithOptions(ctx, query, DefaultOptions())
}

// RetrieveWithOptions runs embed -> {vector, keyword} -> fuse -> rerank and
// returns the final passages. A reranker failure does not abort retrieval;
// the result falls back to fused order with RerankFallback set.
func (s *Searcher) RetrieveWithOptions(ctx context.Context, query string, opts Options) (*Result, error) {
	if s.corpus.Len() == 0 {
		return nil, ErrEmptyCorpus
	}
	if opts.TopK <= 0 {
		opts.TopK = 20
	}
	if opts.TopN <= 0 || opts.TopN > opts.TopK {
		opts.TopN = min(5, opts.TopK)
	}

	cacheKey := s.cacheKey(query, opts)
	if cached := s.queryCache.Get(cacheKey); cached != nil {
		if r, ok := cached.(*Result); ok {
			s.logger.Debug("query cache hit", "query", query, "passages", len(r.Passages))
			return r, nil
		}
	}

	embedStart := time.Now()
	queryEmb, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, &StageError{Stage: StageEmbed, Err: err}
	}
	s.logger.Debug("query embedded", "query", query, "took", time.Since(embedStart))

	if len(queryEmb) != s.corpus.Dims() {
		return nil, ErrDimensionMismatch
	}

	// Vector and keyword scoring are independent; run both and join
	// before fusion.
	var (
		wg          sync.WaitGroup
		vecScores   []ScoredChunk
		vecSkipped  []int64
		vecErr      error
		bm25Results []ScoredChunk
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		vecScores, vecSkipped, vecErr = VectorScores(queryEmb, s.corpus)
	}()
	go func() {
		defer wg.Done()
		bm25Results = s.bm25.Scores(query)
	}()
	wg.Wait()

	if vecErr != nil {
		return nil, vecErr
	}
	for _, id := range vecSkipped {
		s.logger.Warn("chunk excluded from vector scoring: malformed embedding", "chunk_id", id)
	}

	fused := FuseRRF(opts.RRFK, vecScores, bm25Results)
	if len(fused) > opts.TopK {
		fused = fused[:opts.TopK]
	}

	result := &Result{}
	final := fused
	if s.reranker != nil {
		reranked, err := s.rerankCandidates(ctx, query, fused, opts.TopN)
		if err != nil {
			s.logger.Warn("reranking failed, falling back to fused order",
				"err", err, "candidates", len(fused))
			result.RerankFallback = true
		} else {
			final = reranked
		}
	}
	if len(final) > opts.TopN {
		final = final[:opts.TopN]
	}

	result.Passages = make([]Passage, 0, len(final))
	for _, fr := range final {
		ch, ok := s.corpus.Get(fr.ChunkID)
		if !ok {
			continue
		}
		result.Passages = append(result.Passages, Passage{
			ChunkID: fr.ChunkID,
			Text:    ch.Text,
			Score:   fr.FusedScore,
			Source:  ch.Metadata["source"],
		})
	}

	s.queryCache.Set(cacheKey, result)
	return result, nil
}

// RetrieveAndAnswer retrieves passages for the query and hands them to the
// answer generator. Generation failures carry the generate stage so callers
// can tell them apart from retrieval failures.
func (s *Searcher) RetrieveAndAnswer(ctx context.Context, query string) (string, error) {
	return s.RetrieveAndAnswerWithOptions(ctx, query, DefaultOptions())
}

// RetrieveAndAnswerWithOptions is RetrieveAndAnswer with explicit retrieval
// options.
func (s *Searcher) RetrieveAndAnswerWithOptions(ctx context.Context, query string, opts Options) (string, error) {
	result, err := s.RetrieveWithOptions(ctx, query, opts)
	if err != nil {
		return "", err
	}

	passages := make([]string, len(result.Passages))
	for i, p := range result.Passages {
		passages[i] = p.Text
	}

	answer, err := s.generator.Generate(ctx, query, passages)
	if err != nil {
		return "", &StageError{Stage: StageGenerate, Err: err}
	}
	return answer, nil
}

// rerankCandidates scores the fused candidates with the cross-encoder and
// returns the top n in reranker order.
func (s *Searcher) rerankCandidates(ctx context.Context, query string, fused []FusedResult, n int) ([]FusedResult, error) {
	passages := make([]string, len(fused))
	for i, fr := range fused {
		ch, ok := s.corpus.Get(fr.ChunkID)
		if !ok {
			return nil, fmt.Errorf("fused chunk %d not in corpus", fr.ChunkID)
		}
		passages[i] = ch.Text
	}

	results, err := s.reranker.Rerank(ctx, query, passages)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("reranker returned no results for %d candidates", len(fused))
	}

	reranked := make([]FusedResult, 0, len(results))
	for _, r := range results {
		reranked = append(reranked, FusedResult{
			ChunkID:    fused[r.Index].ChunkID,
			FusedScore: r.Score,
		})
	}
	sort.Slice(reranked, func(i, j int) bool {
		if reranked[i].FusedScore != reranked[j].FusedScore {
			return reranked[i].FusedScore > reranked[j].FusedScore
		}
		return reranked[i].ChunkID < reranked[j].ChunkID
	})

	if len(reranked) > n {
		reranked = reranked[:n]
	}
	return reranked, nil
}

// ClearCache drops all cached query results.
func (s *Searcher) ClearCache() {
	s.queryCache.Clear()
}

func (s *Searcher) cacheKey(query string, opts Options) string {
	h := sha256.New()
	_, _ = fmt.Fprintf(h, "%s:%d:%d:%d", query, opts.TopK, opts.TopN, opts.RRFK)
	return hex.EncodeToString(h.Sum(nil)[:8])
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
