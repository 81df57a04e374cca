// Package store persists chunk embeddings in SQLite so a book is embedded
// at most once per model. Vectors are written int8-quantized with a
// per-vector scale (see pkg/quant), cutting the cache size to a quarter of
// the float32 payload at a negligible recall cost.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/liliang-cn/bookmind/pkg/quant"
)

// ChunkVector pairs a chunk id with its embedding.
type ChunkVector struct {
	ID     string
	Vector []float32
}

// Meta describes what is cached for a book.
type Meta struct {
	Model string // embedding model the vectors came from
	Dims  int    // vector dimension
	Count int    // number of cached chunks
}

// EmbedCache is a SQLite-backed embedding cache keyed by (book, chunk).
type EmbedCache struct {
	db     *sql.DB
	path   string
	mu     sync.RWMutex
	closed bool
}

// New creates an embedding cache backed by the SQLite file at path.
func New(path string) (*EmbedCache, error) {
	if path == "" {
		return nil, wrapError("init", fmt.Errorf("database path cannot be empty"))
	}
	return &EmbedCache{path: path}, nil
}

// Init opens the database connection and creates the schema.
func (c *EmbedCache) Init(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return wrapError("init", ErrStoreClosed)
	}

	db, err := sql.Open("sqlite", c.path+"?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=10000")
	if err != nil {
		return wrapError("init", fmt.Errorf("failed to open database: %w", err))
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	c.db = db

	if err := c.createTables(ctx); err != nil {
		return wrapError("init", err)
	}
	return nil
}

// createTables creates the necessary database tables
func (c *EmbedCache) createTables(ctx context.Context) error {
	createTableSQL := `
	CREATE TABLE IF NOT EXISTS embeddings (
		book_id TEXT NOT NULL,
		chunk_id TEXT NOT NULL,
		vector BLOB NOT NULL,
		scale REAL NOT NULL,
		model TEXT NOT NULL,
		dims INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (book_id, chunk_id)
	);

	CREATE INDEX IF NOT EXISTS idx_embeddings_book_id ON embeddings(book_id);
	`

	_, err := c.db.ExecContext(ctx, createTableSQL)
	if err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

// Embeddings loads every cached vector for the book, dequantized, keyed by
// chunk id. A book with no cached rows yields an empty map.
func (c *EmbedCache) Embeddings(ctx context.Context, bookID string) (map[string][]float32, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, wrapError("embeddings", ErrStoreClosed)
	}
	if bookID == "" {
		return nil, wrapError("embeddings", ErrEmptyBookID)
	}

	rows, err := c.db.QueryContext(ctx,
		"SELECT chunk_id, vector, scale FROM embeddings WHERE book_id = ?", bookID)
	if err != nil {
		return nil, wrapError("embeddings", err)
	}
	defer rows.Close()

	vectors := make(map[string][]float32)
	for rows.Next() {
		var (
			chunkID string
			blob    []byte
			scale   float64
		)
		if err := rows.Scan(&chunkID, &blob, &scale); err != nil {
			return nil, wrapError("embeddings", err)
		}
		vec, err := quant.Decode(blob, float32(scale))
		if err != nil {
			return nil, wrapError("embeddings", fmt.Errorf("chunk %q: %w", chunkID, err))
		}
		vectors[chunkID] = vec
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError("embeddings", err)
	}
	return vectors, nil
}

// PutBatch quantizes and writes a batch of chunk vectors in one
// transaction. Re-writing an existing chunk replaces the previous row.
// Mixing models within one book is rejected.
func (c *EmbedCache) PutBatch(ctx context.Context, bookID string, batch []ChunkVector, model string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return wrapError("putBatch", ErrStoreClosed)
	}
	if bookID == "" {
		return wrapError("putBatch", ErrEmptyBookID)
	}
	if len(batch) == 0 {
		return nil
	}

	var cached string
	err := c.db.QueryRowContext(ctx,
		"SELECT model FROM embeddings WHERE book_id = ? LIMIT 1", bookID).Scan(&cached)
	if err != nil && err != sql.ErrNoRows {
		return wrapError("putBatch", err)
	}
	if err == nil && cached != model {
		return wrapError("putBatch",
			fmt.Errorf("%w: cached %q, writing %q", ErrModelMismatch, cached, model))
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapError("putBatch", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO embeddings (book_id, chunk_id, vector, scale, model, dims)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return wrapError("putBatch", err)
	}
	defer stmt.Close()

	for _, cv := range batch {
		blob, scale, err := quant.Encode(cv.Vector)
		if err != nil {
			return wrapError("putBatch", fmt.Errorf("chunk %q: %w", cv.ID, err))
		}
		if _, err := stmt.ExecContext(ctx, bookID, cv.ID, blob, float64(scale), model, len(cv.Vector)); err != nil {
			return wrapError("putBatch", fmt.Errorf("chunk %q: %w", cv.ID, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return wrapError("putBatch", err)
	}
	return nil
}

// Meta reports the cached model, dimension and row count for the book, or
// nil when nothing is cached.
func (c *EmbedCache) Meta(ctx context.Context, bookID string) (*Meta, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, wrapError("meta", ErrStoreClosed)
	}
	if bookID == "" {
		return nil, wrapError("meta", ErrEmptyBookID)
	}

	var m Meta
	err := c.db.QueryRowContext(ctx, `
		SELECT model, dims, COUNT(*) FROM embeddings
		WHERE book_id = ? GROUP BY model, dims LIMIT 1`, bookID).
		Scan(&m.Model, &m.Dims, &m.Count)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapError("meta", err)
	}
	return &m, nil
}

// Clear deletes every cached row for the book.
func (c *EmbedCache) Clear(ctx context.Context, bookID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return wrapError("clear", ErrStoreClosed)
	}
	if bookID == "" {
		return wrapError("clear", ErrEmptyBookID)
	}

	_, err := c.db.ExecContext(ctx, "DELETE FROM embeddings WHERE book_id = ?", bookID)
	if err != nil {
		return wrapError("clear", err)
	}
	return nil
}

// Close closes the database connection. Further calls fail with
// ErrStoreClosed.
func (c *EmbedCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if c.db != nil {
		if err := c.db.Close(); err != nil {
			return wrapError("close", err)
		}
	}
	return nil
}
