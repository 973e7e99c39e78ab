package sqlite

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/sadontsev/flibusta-sub001/internal/domain"
)

const mappingsMetaKey = "mappings_sha256"

// ShardsForBook returns the well-formed shards whose range contains bookID.
func (s *Store) ShardsForBook(ctx context.Context, bookID int64) ([]domain.ArchiveShard, error) {
	//nolint:gosec // table name is validated in Open
	query := fmt.Sprintf(`SELECT filename, start_id, end_id, format, user_format
		FROM %s WHERE start_id <= ? AND end_id >= ? AND start_id <= end_id`, s.mappingsTable)

	rows, err := s.db.QueryContext(ctx, query, bookID, bookID)
	if err != nil {
		return nil, fmt.Errorf("query shards for %d: %w", bookID, err)
	}
	defer rows.Close()

	var shards []domain.ArchiveShard
	for rows.Next() {
		var sh domain.ArchiveShard
		var user int
		if err := rows.Scan(&sh.Filename, &sh.StartID, &sh.EndID, &sh.FormatTag, &user); err != nil {
			return nil, fmt.Errorf("scan shard: %w", err)
		}
		sh.IsUserFormat = user != 0 || domain.IsUserFormatTag(sh.FormatTag)
		if sh.Valid() {
			shards = append(shards, sh)
		}
	}
	return shards, rows.Err()
}

// PutShard inserts one mapping row.
func (s *Store) PutShard(ctx context.Context, sh domain.ArchiveShard) error {
	//nolint:gosec // table name is validated in Open
	query := fmt.Sprintf(`INSERT INTO %s (filename, start_id, end_id, format, user_format)
		VALUES (?, ?, ?, ?, ?)`, s.mappingsTable)
	user := 0
	if sh.IsUserFormat {
		user = 1
	}
	if _, err := s.db.ExecContext(ctx, query, sh.Filename, sh.StartID, sh.EndID, sh.FormatTag, user); err != nil {
		return fmt.Errorf("put shard %s: %w", sh.Filename, err)
	}
	return nil
}

// ImportMappings replaces the mapping table with the rows of an SQL dump.
// The dump is executed as is inside one transaction; an unchanged file (by
// content hash) is skipped. It reports whether an import happened.
func (s *Store) ImportMappings(ctx context.Context, path string) (bool, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- operator-supplied dump
	if err != nil {
		return false, fmt.Errorf("read mappings: %w", err)
	}
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])

	previous, err := s.importedDigest(ctx)
	if err != nil {
		s.logger.Warn("cannot read previous mappings digest, importing anyway",
			slog.String("path", path), slog.Any("error", err))
	}
	if previous == digest {
		s.logger.Debug("mappings unchanged, skipping import", slog.String("path", path))
		return false, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin import: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	//nolint:gosec // table name is validated in Open
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, s.mappingsTable)); err != nil {
		return false, fmt.Errorf("clear mappings: %w", err)
	}
	if _, err := tx.ExecContext(ctx, string(data)); err != nil {
		return false, fmt.Errorf("exec mappings dump: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO catalog_meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, mappingsMetaKey, digest); err != nil {
		return false, fmt.Errorf("record import: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit import: %w", err)
	}

	s.logger.Info("imported shard mappings", slog.String("path", path), slog.String("table", s.mappingsTable))
	return true, nil
}

// importedDigest returns the hash of the last imported dump, or "" when
// nothing was imported yet.
func (s *Store) importedDigest(ctx context.Context) (string, error) {
	var digest string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM catalog_meta WHERE key = ?`, mappingsMetaKey).Scan(&digest)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read mappings digest: %w", err)
	}
	return digest, nil
}
