package cachestore

import (
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/glebarez/go-sqlite"
)

// Index is a queryable SQLite projection over the cache store's JSON
// files, which remain the source of truth. The index can always be
// rebuilt by re-scanning the directory; it exists purely to let the
// decision API answer "list the cache" without reading every file.
//
// The index is stored at <cacheDir>/index.db.
type Index struct {
	db *sql.DB
}

// EntryMeta is one row of the cache index: enough to render a cache
// listing without loading the full record.
type EntryMeta struct {
	Fingerprint string `json:"fingerprint"`
	Model       string `json:"model"`
	CreatedAt   string `json:"created_at"`
	ChunkCount  int    `json:"chunk_count"`
	Status      int    `json:"status"`
}

// OpenIndex opens (or creates) the SQLite index database under dir.
func OpenIndex(dir string) (*Index, error) {
	path := dir + "/index.db"
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cachestore: opening index %s: %w", path, err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS entries (
			fingerprint TEXT PRIMARY KEY,
			model       TEXT NOT NULL DEFAULT '',
			created_at  TEXT NOT NULL DEFAULT '',
			chunk_count INTEGER NOT NULL DEFAULT 0,
			status      INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_model ON entries(model);
		CREATE INDEX IF NOT EXISTS idx_created_at ON entries(created_at);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("cachestore: creating index schema: %w", err)
	}

	return &Index{db: db}, nil
}

// Record upserts the index row for a CachedResponse that was just
// written. Failures are logged but never propagate — the JSON file is
// the record of truth and this index can be rebuilt.
func (idx *Index) Record(rec CachedResponse) {
	_, err := idx.db.Exec(
		`INSERT INTO entries (fingerprint, model, created_at, chunk_count, status)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(fingerprint) DO UPDATE SET
		   model = excluded.model,
		   created_at = excluded.created_at,
		   chunk_count = excluded.chunk_count,
		   status = excluded.status`,
		rec.Hash, rec.Request.Model, rec.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
		len(rec.Response.Chunks), rec.Response.Status,
	)
	if err != nil {
		slog.Error("cache index upsert failed", "fingerprint", rec.Hash, "error", err)
	}
}

// List returns cache entries newest-first, optionally limited to limit
// rows (0 means unlimited).
func (idx *Index) List(limit int) ([]EntryMeta, error) {
	query := "SELECT fingerprint, model, created_at, chunk_count, status FROM entries ORDER BY created_at DESC"
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := idx.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("cachestore: querying index: %w", err)
	}
	defer rows.Close()

	var out []EntryMeta
	for rows.Next() {
		var e EntryMeta
		if err := rows.Scan(&e.Fingerprint, &e.Model, &e.CreatedAt, &e.ChunkCount, &e.Status); err != nil {
			return nil, fmt.Errorf("cachestore: scanning index row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the underlying database connection.
func (idx *Index) Close() error {
	return idx.db.Close()
}
