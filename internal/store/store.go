// Package store provides the SQLite-backed ingestion catalog. It records which
// PDF sources have been ingested into which vector collection, with a content
// hash so unchanged files are not re-embedded. It never stores conversation
// content.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// Disabled is the MEDQA_CATALOG_DB value that turns the catalog off.
const Disabled = "disabled"

// Entry is one ingested source.
type Entry struct {
	// Source is the local path or s3:// URI that was ingested.
	Source string
	// Collection is the vector collection (or table) it was written to.
	Collection string
	// SHA256 is the hex digest of the PDF bytes.
	SHA256 string
	// Pages is the number of pages with extractable text.
	Pages int
	// Chunks is the number of chunks upserted.
	Chunks int
	// IngestedAt is when the ingest completed.
	IngestedAt time.Time
}

// Catalog records and looks up ingested sources. Implementations must be safe
// for concurrent use.
type Catalog interface {
	// Lookup returns the entry for source in collection; ok is false if none.
	Lookup(ctx context.Context, source, collection string) (entry Entry, ok bool, err error)
	// Record inserts or replaces the entry for (Source, Collection).
	Record(ctx context.Context, e Entry) error
	// List returns all entries for collection, most recent first. An empty
	// collection lists every entry.
	List(ctx context.Context, collection string) ([]Entry, error)
	// Close releases any resources held by the catalog.
	Close() error
}

// SQLiteStore is a Catalog backed by a local SQLite database.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// DefaultDBPath returns ~/.medqa/catalog.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".medqa")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "catalog.db"), nil
}

// Open opens (or creates) a SQLiteStore at path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Single writer; also keeps ":memory:" on one connection.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS ingested_sources (
    source       TEXT    NOT NULL,
    collection   TEXT    NOT NULL,
    sha256       TEXT    NOT NULL,
    pages        INTEGER NOT NULL,
    chunks       INTEGER NOT NULL,
    ingested_at  INTEGER NOT NULL,  -- Unix timestamp (seconds)
    PRIMARY KEY (source, collection)
);
CREATE INDEX IF NOT EXISTS idx_ingested_sources_collection
    ON ingested_sources (collection, ingested_at);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Lookup returns the catalog entry for source in collection.
func (s *SQLiteStore) Lookup(ctx context.Context, source, collection string) (Entry, bool, error) {
	const q = `
SELECT source, collection, sha256, pages, chunks, ingested_at
FROM   ingested_sources
WHERE  source = ? AND collection = ?`

	e, err := scanEntry(s.db.QueryRowContext(ctx, q, source, collection))
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("store: lookup: %w", err)
	}
	return e, true, nil
}

// Record upserts e. A zero IngestedAt is set to now.
func (s *SQLiteStore) Record(ctx context.Context, e Entry) error {
	if e.IngestedAt.IsZero() {
		e.IngestedAt = time.Now()
	}
	const q = `
INSERT INTO ingested_sources (source, collection, sha256, pages, chunks, ingested_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (source, collection) DO UPDATE SET
    sha256      = excluded.sha256,
    pages       = excluded.pages,
    chunks      = excluded.chunks,
    ingested_at = excluded.ingested_at`
	if _, err := s.db.ExecContext(ctx, q, e.Source, e.Collection, e.SHA256, e.Pages, e.Chunks, e.IngestedAt.Unix()); err != nil {
		return fmt.Errorf("store: record: %w", err)
	}
	return nil
}

// List returns entries for collection, most recent first.
func (s *SQLiteStore) List(ctx context.Context, collection string) ([]Entry, error) {
	q := `
SELECT source, collection, sha256, pages, chunks, ingested_at
FROM   ingested_sources`
	var args []any
	if collection != "" {
		q += ` WHERE collection = ?`
		args = append(args, collection)
	}
	q += ` ORDER BY ingested_at DESC, source ASC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list scan: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list rows: %w", err)
	}
	return out, nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var (
		e  Entry
		ts int64
	)
	if err := row.Scan(&e.Source, &e.Collection, &e.SHA256, &e.Pages, &e.Chunks, &ts); err != nil {
		return Entry{}, err
	}
	e.IngestedAt = time.Unix(ts, 0)
	return e, nil
}
