package corpus

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// Store is an Accessor backed by a local SQLite database. It also carries the
// write operations used by the import path. Safe for concurrent use; writes
// are serialized onto a single connection.
type Store struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// DefaultDBPath returns the default path for the corpus database.
// It resolves to ~/.kestrel/corpus.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("corpus: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".kestrel")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("corpus: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "corpus.db"), nil
}

// Open opens (or creates) a Store at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*Store, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("corpus: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *Store) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS documents (
    id          TEXT    PRIMARY KEY,
    title       TEXT    NOT NULL,
    content     TEXT    NOT NULL,
    source      TEXT    NOT NULL,
    source_id   TEXT    NOT NULL,
    folder      TEXT    NOT NULL DEFAULT '',
    modified_at INTEGER NOT NULL  -- Unix timestamp (seconds)
);
CREATE INDEX IF NOT EXISTS idx_documents_source
    ON documents (source, source_id);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("corpus: migrate: %w", err)
	}
	return nil
}

// Put inserts or replaces a document keyed by its ID.
func (s *Store) Put(ctx context.Context, doc Document) error {
	const q = `
INSERT INTO documents (id, title, content, source, source_id, folder, modified_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    title = excluded.title, content = excluded.content,
    source = excluded.source, source_id = excluded.source_id,
    folder = excluded.folder, modified_at = excluded.modified_at`
	mod := doc.ModifiedAt
	if mod.IsZero() {
		mod = time.Now()
	}
	_, err := s.db.ExecContext(ctx, q,
		doc.ID, doc.Title, doc.Content, doc.Source, doc.SourceID, doc.Folder, mod.Unix())
	if err != nil {
		return fmt.Errorf("corpus: put %s: %w", doc.ID, err)
	}
	return nil
}

// Delete removes a document by ID. Deleting an absent ID is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
		return fmt.Errorf("corpus: delete %s: %w", id, err)
	}
	return nil
}

// All returns a snapshot of every cached document, ordered by modification
// time (newest first) so ranking ties resolve toward recent notes.
func (s *Store) All(ctx context.Context) ([]Document, error) {
	const q = `
SELECT id, title, content, source, source_id, folder, modified_at
FROM   documents
ORDER  BY modified_at DESC, id ASC`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("corpus: all: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		var ts int64
		if err := rows.Scan(&d.ID, &d.Title, &d.Content, &d.Source, &d.SourceID, &d.Folder, &ts); err != nil {
			return nil, fmt.Errorf("corpus: all scan: %w", err)
		}
		d.ModifiedAt = time.Unix(ts, 0)
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("corpus: all rows: %w", err)
	}
	return docs, nil
}

// Count returns the number of cached documents.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("corpus: count: %w", err)
	}
	return n, nil
}

// Close releases the database connection pool.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("corpus: close: %w", err)
	}
	return nil
}
