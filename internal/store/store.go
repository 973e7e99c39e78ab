// Package store defines the read-only catalog the archive pipeline consults.
package store

import (
	"context"

	"github.com/sadontsev/flibusta-sub001/internal/domain"
)

// CoverEntry names an image inside a dedicated cover archive.
type CoverEntry struct {
	Archive string
	Entry   string
}

// Catalog answers questions about where books live. Implementations must be
// safe for concurrent use.
type Catalog interface {
	// ExactFilename returns the stored entry name for a book, if known.
	ExactFilename(ctx context.Context, bookID int64) (string, bool, error)
	// ShardsForBook returns every mapped shard whose range contains bookID,
	// in no particular order.
	ShardsForBook(ctx context.Context, bookID int64) ([]domain.ArchiveShard, error)
	// CoverEntry returns the dedicated cover archive entry for a book, if any.
	CoverEntry(ctx context.Context, bookID int64) (CoverEntry, bool, error)
	// RecentBookIDs returns up to limit ids, newest first.
	RecentBookIDs(ctx context.Context, limit int) ([]int64, error)
	// OldestBookIDs returns up to limit ids, oldest first.
	OldestBookIDs(ctx context.Context, limit int) ([]int64, error)
}
