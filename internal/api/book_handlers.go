package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/gabriel-vasile/mimetype"

	"github.com/sadontsev/flibusta-sub001/internal/service"
)

func (s *Server) registerBookRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "getBookFile",
		Method:      http.MethodGet,
		Path:        "/api/v1/books/{id}/file",
		Summary:     "Get book file",
		Description: "Returns the book exactly as stored in its archive",
		Tags:        []string{"Books"},
	}, s.handleGetBookFile)

	huma.Register(s.api, huma.Operation{
		OperationID: "downloadBook",
		Method:      http.MethodGet,
		Path:        "/api/v1/books/{id}/download/{format}",
		Summary:     "Download book in format",
		Description: "Returns the book converted to the requested format, converting and caching it on first request",
		Tags:        []string{"Books"},
		Middlewares: huma.Middlewares{s.rateLimitDownloads},
	}, s.handleDownloadBook)
}

// === DTOs ===

// GetBookFileInput selects a book and, optionally, a preferred stored format.
type GetBookFileInput struct {
	ID     int64  `path:"id" minimum:"1" doc:"Book ID"`
	Format string `query:"format" doc:"Preferred stored format, e.g. fb2 or epub"`
}

// DownloadBookInput selects a book and the target format.
type DownloadBookInput struct {
	ID     int64  `path:"id" minimum:"1" doc:"Book ID"`
	Format string `path:"format" doc:"Target format, e.g. epub or mobi"`
}

// BookFileOutput streams a book file.
type BookFileOutput struct {
	ContentType        string `header:"Content-Type"`
	ContentDisposition string `header:"Content-Disposition"`
	Body               []byte
}

// === Handlers ===

func (s *Server) handleGetBookFile(ctx context.Context, input *GetBookFileInput) (*BookFileOutput, error) {
	book, err := s.services.Books.GetBookBytes(ctx, input.ID, input.Format)
	if err != nil {
		return nil, err
	}
	return bookOutput(book), nil
}

func (s *Server) handleDownloadBook(ctx context.Context, input *DownloadBookInput) (*BookFileOutput, error) {
	book, err := s.services.Conversions.ConvertBook(ctx, input.ID, input.Format)
	if err != nil {
		return nil, err
	}
	return bookOutput(book), nil
}

func bookOutput(book service.BookFile) *BookFileOutput {
	return &BookFileOutput{
		ContentType:        bookContentType(book),
		ContentDisposition: fmt.Sprintf("attachment; filename=%q", book.Name),
		Body:               book.Data,
	}
}

// bookContentType names formats whose bytes are ambiguous and sniffs the rest.
func bookContentType(book service.BookFile) string {
	switch book.Format {
	case "epub":
		return "application/epub+zip"
	case "fb2":
		return "application/x-fictionbook+xml"
	case "mobi", "azw3":
		return "application/x-mobipocket-ebook"
	case "pdf":
		return "application/pdf"
	}
	return mimetype.Detect(book.Data).String()
}
