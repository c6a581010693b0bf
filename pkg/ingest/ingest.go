// Package ingest walks a directory of documents, extracts and chunks their
// text, embeds each chunk, and persists the result as the retrieval
// pipeline's document store.
package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/docgrep/docgrep/pkg/corpus"
	"github.com/docgrep/docgrep/pkg/embed"
	"github.com/docgrep/docgrep/pkg/store"
)

const embedBatchSize = 32

// Config holds ingestor configuration.
type Config struct {
	Root     string // Directory to ingest
	Store    *store.Store
	Embedder embed.Embedder
	Chunking ChunkConfig
	Logger   *log.Logger
}

// Ingestor ingests documents into the chunk store.
type Ingestor struct {
	root     string
	store    *store.Store
	embedder embed.Embedder
	chunkCfg ChunkConfig
	logger   *log.Logger
}

// New creates an ingestor.
func New(cfg Config) (*Ingestor, error) {
	absRoot, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	chunkCfg := cfg.Chunking
	if chunkCfg.ChunkWords == 0 {
		chunkCfg = DefaultChunkConfig()
	}

	return &Ingestor{
		root:     absRoot,
		store:    cfg.Store,
		embedder: cfg.Embedder,
		chunkCfg: chunkCfg,
		logger:   logger,
	}, nil
}

// Ingest processes every supported document under the root directory.
func (ing *Ingestor) Ingest(ctx context.Context) error {
	start := time.Now()

	var files []string
	err := filepath.WalkDir(ing.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && supportedExt(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return err
	}

	ing.logger.Info("ingesting", "root", ing.root, "files", len(files))

	total := 0
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := ing.ingestFile(ctx, path)
		if err != nil {
			ing.logger.Warn("skipping document", "path", path, "err", err)
			continue
		}
		total += n
	}

	ing.logger.Info("ingest complete", "chunks", total, "took", time.Since(start).Round(time.Millisecond))
	return nil
}

// ingestFile re-ingests one document: prior chunks for the source are
// dropped so the store never holds stale text.
func (ing *Ingestor) ingestFile(ctx context.Context, path string) (int, error) {
	rel, err := filepath.Rel(ing.root, path)
	if err != nil {
		rel = path
	}

	text, err := ExtractText(path)
	if err != nil {
		return 0, err
	}

	pieces := SplitText(text, ing.chunkCfg)
	if len(pieces) == 0 {
		return 0, fmt.Errorf("no text extracted")
	}

	docID := uuid.NewString()
	chunks := make([]*corpus.Chunk, len(pieces))
	for i, piece := range pieces {
		chunks[i] = &corpus.Chunk{
			Text: piece,
			Metadata: map[string]string{
				"source":   rel,
				"doc_id":   docID,
				"position": fmt.Sprintf("%d", i),
			},
		}
	}

	for start := 0; start < len(chunks); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, ch := range batch {
			texts[i] = ch.Text
		}
		embeddings, err := ing.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return 0, fmt.Errorf("embedding failed: %w", err)
		}
		for i, emb := range embeddings {
			batch[i].Embedding = emb
		}
	}

	if err := ing.store.DeleteBySource(ctx, rel); err != nil {
		return 0, err
	}
	if err := ing.store.StoreBatch(ctx, chunks); err != nil {
		return 0, err
	}

	ing.logger.Debug("ingested document", "source", rel, "chunks", len(chunks))
	return len(chunks), nil
}

// Watch ingests the root directory, then re-ingests documents as they
// change. Blocks until the context is cancelled.
func (ing *Ingestor) Watch(ctx context.Context) error {
	if err := ing.Ingest(ctx); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	err = filepath.WalkDir(ing.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		return err
	}

	ing.logger.Info("watching for changes", "root", ing.root)

	// Editors fire bursts of events per save; coalesce them.
	var (
		mu      sync.Mutex
		pending = make(map[string]bool)
		timer   *time.Timer
	)
	process := func() {
		mu.Lock()
		files := make([]string, 0, len(pending))
		for f := range pending {
			files = append(files, f)
		}
		pending = make(map[string]bool)
		mu.Unlock()

		for _, f := range files {
			n, err := ing.ingestFile(ctx, f)
			if err != nil {
				ing.logger.Warn("re-ingest failed", "path", f, "err", err)
				continue
			}
			ing.logger.Info("re-ingested", "path", f, "chunks", n)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 || !supportedExt(event.Name) {
				continue
			}
			mu.Lock()
			pending[event.Name] = true
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(500*time.Millisecond, process)
			mu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			ing.logger.Warn("watcher error", "err", err)
		}
	}
}
