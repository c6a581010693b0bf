// Package store persists ingested chunks and their embeddings in SQLite
// with the sqlite-vec extension. The store is the ingestion output format;
// retrieval loads it once into an in-memory corpus and never touches the
// database on the query path.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/docgrep/docgrep/pkg/corpus"
)

const defaultDims = 1536 // text-embedding-3-small dimensions

// Store is the chunk storage backend.
type Store struct {
	db   *sql.DB
	dims int
}

// Stats holds store statistics.
type Stats struct {
	Sources int64
	Chunks  int64
}

// Option configures a Store.
type Option func(*Store)

// WithDims sets the embedding dimensionality for a new database. An
// existing database keeps its recorded dimensionality.
func WithDims(dims int) Option {
	return func(s *Store) {
		s.dims = dims
	}
}

// Open opens or creates a store at the given path.
func Open(path string, opts ...Option) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	sqlite_vec.Auto()

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db, dims: defaultDims}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) init() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA busy_timeout=10000",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	// An existing database's dimensionality wins over the option.
	var recorded string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'dims'`).Scan(&recorded)
	if err == nil {
		var d int
		if _, err := fmt.Sscanf(recorded, "%d", &d); err == nil && d > 0 {
			s.dims = d
		}
	}

	queries := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS chunks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source TEXT NOT NULL,
			text TEXT NOT NULL,
			metadata TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS vec_chunks USING vec0(
			rowid INTEGER PRIMARY KEY,
			embedding float[%d] distance_metric=cosine
		)`, s.dims),
		`CREATE INDEX IF NOT EXISTS idx_chunks_source ON chunks(source)`,
	}
	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to init schema: %w", err)
		}
	}

	_, err = s.db.Exec(`INSERT OR IGNORE INTO meta (key, value) VALUES ('dims', ?)`,
		fmt.Sprintf("%d", s.dims))
	return err
}

// Dims returns the embedding dimensionality the store was created with.
func (s *Store) Dims() int {
	return s.dims
}

// StoreBatch persists chunks with their embeddings in one transaction and
// fills in the assigned chunk IDs.
func (s *Store) StoreBatch(ctx context.Context, chunks []*corpus.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	chunkStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (source, text, metadata) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer func() { _ = chunkStmt.Close() }()

	vecStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO vec_chunks (rowid, embedding) VALUES (?, ?)`)
	if err != nil {
		return err
	}
	defer func() { _ = vecStmt.Close() }()

	for _, ch := range chunks {
		if len(ch.Embedding) != s.dims {
			return fmt.Errorf("chunk embedding has %d dims, store expects %d", len(ch.Embedding), s.dims)
		}

		metadata, _ := json.Marshal(ch.Metadata)
		res, err := chunkStmt.ExecContext(ctx, ch.Metadata["source"], ch.Text, string(metadata))
		if err != nil {
			return fmt.Errorf("failed to insert chunk: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		ch.ID = id

		blob, err := sqlite_vec.SerializeFloat32(ch.Embedding)
		if err != nil {
			return fmt.Errorf("failed to serialize embedding: %w", err)
		}
		if _, err := vecStmt.ExecContext(ctx, id, blob); err != nil {
			return fmt.Errorf("failed to insert embedding: %w", err)
		}
	}

	return tx.Commit()
}

// LoadCorpus reads every chunk with its embedding, ordered by ID, into an
// in-memory corpus.
func (s *Store) LoadCorpus(ctx context.Context) (*corpus.Corpus, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.text, c.metadata, v.embedding
		FROM chunks c
		JOIN vec_chunks v ON v.rowid = c.id
		ORDER BY c.id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var chunks []*corpus.Chunk
	for rows.Next() {
		var (
			ch          corpus.Chunk
			metadataStr sql.NullString
			blob        []byte
		)
		if err := rows.Scan(&ch.ID, &ch.Text, &metadataStr, &blob); err != nil {
			return nil, err
		}
		if metadataStr.Valid && metadataStr.String != "" {
			_ = json.Unmarshal([]byte(metadataStr.String), &ch.Metadata)
		}
		ch.Embedding = deserializeFloat32(blob)
		chunks = append(chunks, &ch)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return corpus.New(chunks), nil
}

// deserializeFloat32 converts raw little-endian float32 bytes back to a
// float32 slice. Returns nil for a malformed blob.
func deserializeFloat32(blob []byte) []float32 {
	if len(blob)%4 != 0 {
		return nil
	}
	n := len(blob) / 4
	vec := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := uint32(blob[i*4]) | uint32(blob[i*4+1])<<8 | uint32(blob[i*4+2])<<16 | uint32(blob[i*4+3])<<24
		vec[i] = math.Float32frombits(bits)
	}
	return vec
}

// DeleteBySource removes all chunks ingested from a source document.
func (s *Store) DeleteBySource(ctx context.Context, source string) error {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM chunks WHERE source = ?`, source)
	if err != nil {
		return err
	}

	var ids []int64
	for rows.Next() {
		var id int64
		_ = rows.Scan(&id)
		ids = append(ids, id)
	}
	_ = rows.Close()

	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range ids {
		_, _ = tx.ExecContext(ctx, `DELETE FROM vec_chunks WHERE rowid = ?`, id)
		_, _ = tx.ExecContext(ctx, `DELETE FROM chunks WHERE id = ?`, id)
	}

	return tx.Commit()
}

// Stats returns store statistics.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	var stats Stats
	_ = s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT source) FROM chunks`).Scan(&stats.Sources)
	_ = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chunks`).Scan(&stats.Chunks)
	return &stats, nil
}

// Close closes the store.
func (s *Store) Close() error {
	return s.db.Close()
}
