package sqlite

import (
	"context"
	"fmt"
)

// RecentBookIDs returns up to limit live book ids, newest first.
func (s *Store) RecentBookIDs(ctx context.Context, limit int) ([]int64, error) {
	return s.bookIDs(ctx, `SELECT book_id FROM books WHERE deleted = 0 ORDER BY book_id DESC LIMIT ?`, limit)
}

// OldestBookIDs returns up to limit live book ids, oldest first.
func (s *Store) OldestBookIDs(ctx context.Context, limit int) ([]int64, error) {
	return s.bookIDs(ctx, `SELECT book_id FROM books WHERE deleted = 0 ORDER BY book_id ASC LIMIT ?`, limit)
}

func (s *Store) bookIDs(ctx context.Context, query string, limit int) ([]int64, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query book ids: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0, limit)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan book id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// PutBook registers a book id. Deleted books are skipped by the id queries.
func (s *Store) PutBook(ctx context.Context, bookID int64, deleted bool) error {
	del := 0
	if deleted {
		del = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO books (book_id, deleted) VALUES (?, ?)
		 ON CONFLICT(book_id) DO UPDATE SET deleted = excluded.deleted`, bookID, del)
	if err != nil {
		return fmt.Errorf("put book %d: %w", bookID, err)
	}
	return nil
}
