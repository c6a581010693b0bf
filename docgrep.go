// Package docgrep provides question answering over document collections
// through hybrid retrieval: vector similarity and BM25 keyword scores are
// fused with reciprocal rank fusion, reranked by a cross-encoder, and the
// final passages are handed to a chat-completion model.
//
// For CLI usage, install with: go install github.com/docgrep/docgrep/cmd/docgrep@latest
//
// For library usage:
//
//	client, err := docgrep.Open(ctx, "index.db", docgrep.DefaultOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	answer, err := client.Ask(ctx, "carpenter bee nesting habits")
package docgrep

import (
	"context"

	charmlog "github.com/charmbracelet/log"

	"github.com/docgrep/docgrep/pkg/embed"
	"github.com/docgrep/docgrep/pkg/llm"
	"github.com/docgrep/docgrep/pkg/rerank"
	"github.com/docgrep/docgrep/pkg/search"
	"github.com/docgrep/docgrep/pkg/store"
)

// Result is a retrieval result.
type Result = search.Result

// Options configures the docgrep client.
type Options struct {
	Embed     embed.Config
	Chat      llm.Config
	Rerank    rerank.Config
	UseRerank bool
	Retrieval search.Options
	Logger    *charmlog.Logger
}

// DefaultOptions resolves collaborator configuration from the environment.
func DefaultOptions() Options {
	return Options{
		Embed:     embed.DefaultConfig(),
		Chat:      llm.DefaultConfig(),
		Rerank:    rerank.DefaultConfig(),
		Retrieval: search.DefaultOptions(),
	}
}

// Client answers questions against an ingested document store.
type Client struct {
	store    *store.Store
	searcher *search.Searcher
	opts     Options
}

// Open loads the chunk store at path into memory and wires the pipeline.
func Open(ctx context.Context, path string, opts Options) (*Client, error) {
	s, err := store.Open(path)
	if err != nil {
		return nil, err
	}

	c, err := s.LoadCorpus(ctx)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	generator, err := llm.New(opts.Chat)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	var reranker search.Reranker
	if opts.UseRerank {
		reranker = rerank.NewWithConfig(opts.Rerank)
	}

	searcher := search.NewWithConfig(search.Config{
		Corpus:    c,
		Embedder:  embed.NewWithConfig(opts.Embed),
		Reranker:  reranker,
		Generator: generator,
		Logger:    opts.Logger,
	})

	return &Client{store: s, searcher: searcher, opts: opts}, nil
}

// Retrieve returns the top passages for the query without generating an
// answer.
func (c *Client) Retrieve(ctx context.Context, query string) (*Result, error) {
	return c.searcher.RetrieveWithOptions(ctx, query, c.opts.Retrieval)
}

// Ask retrieves passages for the query and generates an answer grounded in
// them.
func (c *Client) Ask(ctx context.Context, query string) (string, error) {
	return c.searcher.RetrieveAndAnswerWithOptions(ctx, query, c.opts.Retrieval)
}

// Close releases the underlying store.
func (c *Client) Close() error {
	return c.store.Close()
}
