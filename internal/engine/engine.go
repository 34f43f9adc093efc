// Package engine provides the similarity index backing a collection. Vectors
// are held in a SQLite database (modernc.org/sqlite, pure Go) and ranked with
// a registered vec_cosine scalar function. The database file is a derived
// cache: it can always be rebuilt from the shadow store and is never read
// back except through Search.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "modernc.org/sqlite" // register pure-Go SQLite driver
)

// DimensionMismatchError reports a vector whose length differs from the
// dimension the index was created with.
type DimensionMismatchError struct {
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// Item is a single (id, vector) pair for batch insertion.
type Item struct {
	ID     string
	Vector []float32
}

// Hit is a single search result, best match first when returned from Search.
type Hit struct {
	ID    string
	Score float64
}

// Engine is a fixed-dimension similarity index. The dimension is bound at
// creation and cannot change; callers reset by creating a fresh Engine.
type Engine struct {
	db        *sql.DB
	path      string
	dimension int
}

const schema = `CREATE TABLE IF NOT EXISTS vectors (
	id        TEXT NOT NULL PRIMARY KEY,
	embedding BLOB NOT NULL
);`

// New creates an empty index bound to dimension, stored at path. Pass
// ":memory:" for an in-memory index (tests). Any rows left over in an
// existing file are dropped; the engine never trusts its own residue.
func New(path string, dimension int) (*Engine, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("engine: dimension must be positive, got %d", dimension)
	}
	registerFunctions()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("engine: open %s: %w", path, err)
	}
	// A single connection keeps the in-memory DSN coherent and serializes
	// writes; the collection lock already serializes callers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("engine: create schema: %w", err)
	}
	if _, err := db.Exec(`DELETE FROM vectors`); err != nil {
		db.Close()
		return nil, fmt.Errorf("engine: reset vectors: %w", err)
	}
	return &Engine{db: db, path: path, dimension: dimension}, nil
}

// Dimension returns the fixed vector length the index was created with.
func (e *Engine) Dimension() int {
	return e.dimension
}

// InsertOne adds or replaces the vector stored under id.
func (e *Engine) InsertOne(ctx context.Context, id string, vector []float32) error {
	if len(vector) != e.dimension {
		return &DimensionMismatchError{Expected: e.dimension, Actual: len(vector)}
	}
	_, err := e.db.ExecContext(ctx,
		`INSERT INTO vectors (id, embedding) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET embedding = excluded.embedding`,
		id, encodeVector(vector))
	if err != nil {
		return fmt.Errorf("engine: insert %q: %w", id, err)
	}
	return nil
}

// InsertMany adds or replaces all items in one transaction. Every item's
// dimension is validated before any row is written, so a batch either fully
// succeeds or leaves the index unchanged.
func (e *Engine) InsertMany(ctx context.Context, items []Item) error {
	for _, item := range items {
		if len(item.Vector) != e.dimension {
			return &DimensionMismatchError{Expected: e.dimension, Actual: len(item.Vector)}
		}
	}
	if len(items) == 0 {
		return nil
	}
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("engine: begin batch: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO vectors (id, embedding) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET embedding = excluded.embedding`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("engine: prepare batch: %w", err)
	}
	defer stmt.Close()
	for _, item := range items {
		if _, err := stmt.ExecContext(ctx, item.ID, encodeVector(item.Vector)); err != nil {
			tx.Rollback()
			return fmt.Errorf("engine: batch insert %q: %w", item.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("engine: commit batch: %w", err)
	}
	return nil
}

// Search returns up to k (id, score) pairs ordered by cosine similarity,
// best match first. An empty index yields an empty slice, never an error.
func (e *Engine) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	if len(query) != e.dimension {
		return nil, &DimensionMismatchError{Expected: e.dimension, Actual: len(query)}
	}
	if k <= 0 {
		return []Hit{}, nil
	}
	rows, err := e.db.QueryContext(ctx,
		`SELECT id, vec_cosine(embedding, ?) AS score
		 FROM vectors ORDER BY score DESC LIMIT ?`,
		encodeVector(query), k)
	if err != nil {
		return nil, fmt.Errorf("engine: search: %w", err)
	}
	defer rows.Close()
	hits := make([]Hit, 0, k)
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.ID, &h.Score); err != nil {
			return nil, fmt.Errorf("engine: scan hit: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("engine: search rows: %w", err)
	}
	return hits, nil
}

// Close releases the underlying database. The file, if any, stays on disk;
// use RemoveArtifacts to discard it.
func (e *Engine) Close() error {
	return e.db.Close()
}

// RemoveArtifacts deletes the engine's database file and SQLite side files
// at path. Missing files are not an error. Called on startup, clear and
// reload so a stale cache is never trusted.
func RemoveArtifacts(path string) error {
	if path == "" || path == ":memory:" {
		return nil
	}
	for _, p := range []string{path, path + "-journal", path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("engine: remove artifact %s: %w", p, err)
		}
	}
	return nil
}
