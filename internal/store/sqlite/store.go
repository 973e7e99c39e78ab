// Package sqlite implements the catalog on top of an SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/sadontsev/flibusta-sub001/internal/store"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// DefaultMappingsTable is the shard-mapping table name.
const DefaultMappingsTable = "book_archives"

const mappingsDDL = `CREATE TABLE IF NOT EXISTS %[1]s (
    filename     TEXT NOT NULL,
    start_id     INTEGER NOT NULL,
    end_id       INTEGER NOT NULL,
    format       TEXT NOT NULL DEFAULT '',
    user_format  INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_%[1]s_range ON %[1]s(start_id, end_id);`

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var _ store.Catalog = (*Store)(nil)

// Store is the SQLite-backed catalog.
type Store struct {
	db            *sql.DB
	logger        *slog.Logger
	mappingsTable string
}

// Option configures a Store.
type Option func(*Store)

// WithMappingsTable overrides the shard-mapping table name.
func WithMappingsTable(name string) Option {
	return func(s *Store) {
		if name != "" {
			s.mappingsTable = name
		}
	}
}

// Open creates or opens the catalog at path.
// It configures WAL mode, sets pragmas, and applies the schema.
func Open(path string, logger *slog.Logger, opts ...Option) (*Store, error) {
	s := &Store{logger: logger, mappingsTable: DefaultMappingsTable}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	if !tableNamePattern.MatchString(s.mappingsTable) {
		return nil, fmt.Errorf("invalid mappings table name %q", s.mappingsTable)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("exec schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf(mappingsDDL, s.mappingsTable)); err != nil {
		db.Close()
		return nil, fmt.Errorf("create mappings table: %w", err)
	}

	s.db = db
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ExactFilename returns the stored entry name for a book.
func (s *Store) ExactFilename(ctx context.Context, bookID int64) (string, bool, error) {
	var name string
	err := s.db.QueryRowContext(ctx,
		`SELECT filename FROM book_filenames WHERE book_id = ?`, bookID).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query filename for %d: %w", bookID, err)
	}
	return name, name != "", nil
}

// PutFilename records the exact entry name of a book.
func (s *Store) PutFilename(ctx context.Context, bookID int64, filename string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO book_filenames (book_id, filename) VALUES (?, ?)
		 ON CONFLICT(book_id) DO UPDATE SET filename = excluded.filename`, bookID, filename)
	if err != nil {
		return fmt.Errorf("put filename for %d: %w", bookID, err)
	}
	return nil
}

// CoverEntry returns the dedicated cover archive entry for a book.
func (s *Store) CoverEntry(ctx context.Context, bookID int64) (store.CoverEntry, bool, error) {
	var e store.CoverEntry
	err := s.db.QueryRowContext(ctx,
		`SELECT archive, entry FROM book_covers WHERE book_id = ?`, bookID).Scan(&e.Archive, &e.Entry)
	if errors.Is(err, sql.ErrNoRows) {
		return store.CoverEntry{}, false, nil
	}
	if err != nil {
		return store.CoverEntry{}, false, fmt.Errorf("query cover entry for %d: %w", bookID, err)
	}
	return e, true, nil
}

// PutCoverEntry maps a book to an entry in a dedicated cover archive.
func (s *Store) PutCoverEntry(ctx context.Context, bookID int64, e store.CoverEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO book_covers (book_id, archive, entry) VALUES (?, ?, ?)
		 ON CONFLICT(book_id) DO UPDATE SET archive = excluded.archive, entry = excluded.entry`,
		bookID, e.Archive, e.Entry)
	if err != nil {
		return fmt.Errorf("put cover entry for %d: %w", bookID, err)
	}
	return nil
}
