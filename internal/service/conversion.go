package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sadontsev/flibusta-sub001/internal/convert"
	"github.com/sadontsev/flibusta-sub001/internal/diskcache"
	"github.com/sadontsev/flibusta-sub001/internal/domain"
	"github.com/sadontsev/flibusta-sub001/internal/errors"
	"github.com/sadontsev/flibusta-sub001/internal/flight"
	"github.com/sadontsev/flibusta-sub001/internal/logger"
)

// Availability reports whether the external converter may be used.
type Availability interface {
	Available(ctx context.Context) bool
}

// ConversionStats is a snapshot of the conversion cache.
type ConversionStats struct {
	InFlight    int   `json:"in_flight"`
	CachedFiles int   `json:"cached_files"`
	CachedBytes int64 `json:"cached_bytes"`
}

// ConversionService converts books on demand, caching every result and
// running at most one conversion per book and target at a time.
type ConversionService struct {
	books    BookSource
	cache    *diskcache.Cache
	prober   Availability
	external convert.Converter
	builtin  *convert.Builtin
	logger   *slog.Logger

	flight flight.Group[[]byte]
}

// NewConversionService creates a conversion service. external may be nil
// when no external converter is configured; cache entries at or below
// convert.MinOutputSize are ignored.
func NewConversionService(
	books BookSource,
	cache *diskcache.Cache,
	prober Availability,
	external convert.Converter,
	builtin *convert.Builtin,
	log *slog.Logger,
) *ConversionService {
	return &ConversionService{
		books:    books,
		cache:    cache,
		prober:   prober,
		external: external,
		builtin:  builtin,
		logger:   logger.OrDiscard(log),
	}
}

// Convert returns raw converted from source to target. Identity requests
// return raw untouched; everything else is served from the cache or
// converted once and cached.
func (s *ConversionService) Convert(ctx context.Context, bookID int64, source, target string, raw []byte) ([]byte, error) {
	source = domain.NormalizeFormat(source)
	target = domain.NormalizeFormat(target)
	if !domain.ValidFormat(target) {
		return nil, errors.Validationf("invalid target format %q", target)
	}
	if !domain.ValidFormat(source) {
		return nil, errors.Validationf("invalid source format %q", source)
	}
	if source == target {
		return raw, nil
	}
	if data, ok := s.cached(bookID, target); ok {
		return data, nil
	}

	key := fmt.Sprintf("%d:%s", bookID, target)
	data, shared, err := s.flight.Do(ctx, key, func(ctx context.Context) ([]byte, error) {
		if data, ok := s.cached(bookID, target); ok {
			return data, nil
		}
		return s.run(ctx, convert.Job{BookID: bookID, Source: source, Target: target, Input: raw})
	})
	if err != nil {
		return nil, err
	}
	if shared {
		s.logger.Debug("joined in-flight conversion", slog.String("key", key))
	}
	return data, nil
}

// ConvertBook fetches a book and converts it to target. A cached result is
// served without touching the archive; a book already stored in target is
// returned as is.
func (s *ConversionService) ConvertBook(ctx context.Context, bookID int64, target string) (BookFile, error) {
	target = domain.NormalizeFormat(target)
	if !domain.ValidFormat(target) {
		return BookFile{}, errors.Validationf("invalid target format %q", target)
	}
	name := fmt.Sprintf("%d.%s", bookID, target)
	if data, ok := s.cached(bookID, target); ok {
		return BookFile{Name: name, Format: target, Data: data}, nil
	}

	book, err := s.books.GetBookBytes(ctx, bookID, target)
	if err != nil {
		return BookFile{}, err
	}
	if book.Format == target {
		return book, nil
	}

	data, err := s.Convert(ctx, bookID, book.Format, target, book.Data)
	if err != nil {
		return BookFile{}, err
	}
	return BookFile{Name: name, Format: target, Archive: book.Archive, Data: data}, nil
}

// Available reports whether the external converter is configured and
// answered its probe.
func (s *ConversionService) Available(ctx context.Context) bool {
	return s.external != nil && s.prober != nil && s.prober.Available(ctx)
}

// Stats returns a snapshot of the conversion cache.
func (s *ConversionService) Stats() ConversionStats {
	st := ConversionStats{InFlight: s.flight.Len()}
	files, size, err := s.cache.Usage()
	if err != nil {
		s.logger.Warn("conversion cache usage unavailable", slog.Any("error", err))
	}
	st.CachedFiles, st.CachedBytes = files, size
	return st
}

func (s *ConversionService) cached(bookID int64, target string) ([]byte, bool) {
	if !s.cache.Valid(bookID, target) {
		return nil, false
	}
	data, err := s.cache.Read(bookID, target)
	if err != nil {
		s.logger.Warn("conversion cache read failed",
			slog.Int64("book_id", bookID), slog.String("format", target), slog.Any("error", err))
		return nil, false
	}
	return data, true
}

func (s *ConversionService) run(ctx context.Context, job convert.Job) ([]byte, error) {
	conv, name, err := s.pick(ctx, job.Source, job.Target)
	if err != nil {
		return nil, err
	}

	out, err := conv.Convert(ctx, job)
	if err != nil {
		s.logger.Warn("conversion failed",
			slog.Int64("book_id", job.BookID),
			slog.String("converter", name),
			slog.String("from", job.Source),
			slog.String("to", job.Target),
			slog.Any("error", err))
		return nil, err
	}
	if len(out) <= convert.MinOutputSize {
		return nil, errors.OutputMissing(job.Target)
	}

	if _, err := s.cache.Write(job.BookID, job.Target, out); err != nil {
		s.logger.Warn("failed to cache conversion",
			slog.Int64("book_id", job.BookID), slog.String("format", job.Target), slog.Any("error", err))
	}
	return out, nil
}

func (s *ConversionService) pick(ctx context.Context, source, target string) (convert.Converter, string, error) {
	if s.external != nil && s.prober != nil && s.prober.Available(ctx) {
		return s.external, "external", nil
	}
	if s.builtin != nil && s.builtin.Supports(source, target) {
		return s.builtin, "builtin", nil
	}
	if source == "" {
		source = "unknown"
	}
	return nil, "", errors.UnsupportedConversion(source, target)
}
