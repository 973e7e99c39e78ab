package api

import (
	"context"
	"net/http"

	"github.com/sadontsev/flibusta-sub001/internal/domain"
	"github.com/sadontsev/flibusta-sub001/internal/service"
)

// BookFiles returns raw book files.
type BookFiles interface {
	GetBookBytes(ctx context.Context, bookID int64, requested string) (service.BookFile, error)
}

// Covers serves and precaches cover images.
type Covers interface {
	Cover(ctx context.Context, bookID int64) (service.CoverImage, bool)
	PrecacheAll(ctx context.Context, opts service.PrecacheOptions) (bool, error)
	StopPrecaching() bool
	Progress() domain.BulkProgress
	Stats() service.CoverStats
}

// Conversions produces books in other formats.
type Conversions interface {
	ConvertBook(ctx context.Context, bookID int64, target string) (service.BookFile, error)
	Stats() service.ConversionStats
}

// Services groups the business logic used by the API server.
type Services struct {
	Books       BookFiles
	Covers      Covers
	Conversions Conversions
	// Converter reports external converter availability; nil when the
	// external converter is disabled.
	Converter service.Availability
	// Events streams precache progress and archive changes; optional.
	Events http.Handler
}
