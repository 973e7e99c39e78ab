// Package service wires the archive pipeline into the operations exposed to
// the HTTP layer and the CLI: fetching book files, caching covers and
// converting formats.
package service

import (
	"context"
	"log/slog"
	"path"

	"github.com/sadontsev/flibusta-sub001/internal/archive"
	"github.com/sadontsev/flibusta-sub001/internal/domain"
	"github.com/sadontsev/flibusta-sub001/internal/errors"
	"github.com/sadontsev/flibusta-sub001/internal/logger"
)

// BookFile is a book's raw file as stored in its shard.
type BookFile struct {
	Name    string
	Format  string
	Archive string
	Data    []byte
}

// BookSource fetches raw book files.
type BookSource interface {
	GetBookBytes(ctx context.Context, bookID int64, requested string) (BookFile, error)
}

// BookService locates a book's shard and extracts its entry.
type BookService struct {
	locator  *archive.Locator
	resolver *archive.Resolver
	logger   *slog.Logger
}

// NewBookService creates a new book service.
func NewBookService(locator *archive.Locator, resolver *archive.Resolver, log *slog.Logger) *BookService {
	return &BookService{
		locator:  locator,
		resolver: resolver,
		logger:   logger.OrDiscard(log),
	}
}

// GetBookBytes returns the stored file for bookID. requested is a format
// preference ("" for none); the file returned may be in another format.
func (s *BookService) GetBookBytes(ctx context.Context, bookID int64, requested string) (BookFile, error) {
	if bookID <= 0 {
		return BookFile{}, errors.Validationf("invalid book id %d", bookID)
	}
	requested = domain.NormalizeFormat(requested)
	if requested != "" && !domain.ValidFormat(requested) {
		return BookFile{}, errors.Validationf("invalid format %q", requested)
	}

	loc, err := s.locator.Locate(ctx, bookID, requested)
	if err != nil {
		return BookFile{}, err
	}

	name, data, err := s.resolver.Resolve(ctx, loc, bookID, requested)
	if err != nil {
		return BookFile{}, err
	}

	return BookFile{
		Name:    name,
		Format:  domain.NormalizeFormat(path.Ext(name)),
		Archive: path.Base(loc.Path),
		Data:    data,
	}, nil
}
