package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"github.com/sadontsev/flibusta-sub001/internal/cover"
	"github.com/sadontsev/flibusta-sub001/internal/http/response"
)

func (s *Server) registerCoverRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "getBookCoverBlurHash",
		Method:      http.MethodGet,
		Path:        "/api/v1/books/{id}/cover/blurhash",
		Summary:     "Get cover placeholder",
		Description: "Returns a BlurHash placeholder and the dimensions of the book cover",
		Tags:        []string{"Covers"},
	}, s.handleGetCoverBlurHash)

	// Direct chi route for cover streaming with conditional requests.
	s.router.Get("/api/v1/books/{id}/cover", s.handleServeCover)
}

// === DTOs ===

// CoverBlurHashInput selects a book.
type CoverBlurHashInput struct {
	ID int64 `path:"id" minimum:"1" doc:"Book ID"`
}

// CoverBlurHashResponse describes a cover placeholder.
type CoverBlurHashResponse struct {
	BlurHash string `json:"blur_hash" doc:"BlurHash string"`
	Width    int    `json:"width" doc:"Cover width in pixels"`
	Height   int    `json:"height" doc:"Cover height in pixels"`
}

// CoverBlurHashOutput wraps the placeholder for Huma.
type CoverBlurHashOutput struct {
	ETag string `header:"ETag"`
	Body CoverBlurHashResponse
}

// === Handlers ===

func (s *Server) handleGetCoverBlurHash(ctx context.Context, input *CoverBlurHashInput) (*CoverBlurHashOutput, error) {
	img, ok := s.services.Covers.Cover(ctx, input.ID)
	if !ok {
		return nil, huma.Error404NotFound("Book has no cover")
	}
	hash, err := cover.BlurHash(img.Data)
	if err != nil {
		return nil, huma.Error422UnprocessableEntity("Cover cannot be decoded", err)
	}
	w, h, err := cover.Dimensions(img.Data)
	if err != nil {
		return nil, huma.Error422UnprocessableEntity("Cover cannot be decoded", err)
	}
	return &CoverBlurHashOutput{
		ETag: strconv.Quote(img.ETag),
		Body: CoverBlurHashResponse{BlurHash: hash, Width: w, Height: h},
	}, nil
}

func (s *Server) handleServeCover(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		response.BadRequest(w, "invalid book id", s.logger)
		return
	}

	img, ok := s.services.Covers.Cover(r.Context(), id)
	if !ok {
		response.NotFound(w, "cover not found", s.logger)
		return
	}

	etag := strconv.Quote(img.ETag)
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	if match := r.Header.Get("If-None-Match"); match == etag || match == "*" {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", cover.ContentType(img.Ext))
	w.Header().Set("Content-Length", strconv.Itoa(len(img.Data)))
	if _, err := w.Write(img.Data); err != nil {
		s.logger.Debug("cover write aborted", "book_id", id, "error", err)
	}
}
