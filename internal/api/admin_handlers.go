package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/sadontsev/flibusta-sub001/internal/domain"
	"github.com/sadontsev/flibusta-sub001/internal/service"
)

func (s *Server) registerAdminRoutes() {
	if s.services.Events != nil {
		s.router.Get("/api/v1/admin/events", s.services.Events.ServeHTTP)
	}

	huma.Register(s.api, huma.Operation{
		OperationID: "startCoverPrecache",
		Method:      http.MethodPost,
		Path:        "/api/v1/admin/covers/precache",
		Summary:     "Start cover precache",
		Description: "Starts a background job that extracts covers for recent, oldest or uncached books",
		Tags:        []string{"Admin"},
	}, s.handleStartPrecache)

	huma.Register(s.api, huma.Operation{
		OperationID: "stopCoverPrecache",
		Method:      http.MethodPost,
		Path:        "/api/v1/admin/covers/precache/stop",
		Summary:     "Stop cover precache",
		Description: "Asks the running precache job to stop after its current book",
		Tags:        []string{"Admin"},
	}, s.handleStopPrecache)

	huma.Register(s.api, huma.Operation{
		OperationID: "getCoverPrecache",
		Method:      http.MethodGet,
		Path:        "/api/v1/admin/covers/precache",
		Summary:     "Get cover precache progress",
		Tags:        []string{"Admin"},
	}, s.handleGetPrecache)

	huma.Register(s.api, huma.Operation{
		OperationID: "getCacheStats",
		Method:      http.MethodGet,
		Path:        "/api/v1/admin/cache/stats",
		Summary:     "Get cache statistics",
		Description: "Returns cover pool, bulk job and cache usage for covers and conversions",
		Tags:        []string{"Admin"},
	}, s.handleGetCacheStats)
}

// === DTOs ===

// StartPrecacheInput is the bulk job request.
type StartPrecacheInput struct {
	Body struct {
		Limit int    `json:"limit" doc:"Maximum number of books to visit"`
		Mode  string `json:"mode" enum:"recent,all,missing" doc:"Which books to visit"`
	}
}

// StartPrecacheResponse reports whether a job was started.
type StartPrecacheResponse struct {
	Started  bool                `json:"started" doc:"False when a job is already running"`
	Progress domain.BulkProgress `json:"progress"`
}

// StartPrecacheOutput wraps the response for Huma.
type StartPrecacheOutput struct {
	Body StartPrecacheResponse
}

// StopPrecacheOutput reports whether a running job was asked to stop.
type StopPrecacheOutput struct {
	Body struct {
		Stopped bool `json:"stopped"`
	}
}

// PrecacheProgressOutput wraps bulk job progress.
type PrecacheProgressOutput struct {
	Body domain.BulkProgress
}

// CacheStatsResponse groups cover and conversion statistics.
type CacheStatsResponse struct {
	Covers      service.CoverStats      `json:"covers"`
	Conversions service.ConversionStats `json:"conversions"`
}

// CacheStatsOutput wraps the statistics for Huma.
type CacheStatsOutput struct {
	Body CacheStatsResponse
}

// === Handlers ===

func (s *Server) handleStartPrecache(ctx context.Context, input *StartPrecacheInput) (*StartPrecacheOutput, error) {
	started, err := s.services.Covers.PrecacheAll(ctx, service.PrecacheOptions{
		Limit: input.Body.Limit,
		Mode:  domain.PrecacheMode(input.Body.Mode),
	})
	if err != nil {
		return nil, err
	}
	return &StartPrecacheOutput{Body: StartPrecacheResponse{
		Started:  started,
		Progress: s.services.Covers.Progress(),
	}}, nil
}

func (s *Server) handleStopPrecache(_ context.Context, _ *struct{}) (*StopPrecacheOutput, error) {
	out := &StopPrecacheOutput{}
	out.Body.Stopped = s.services.Covers.StopPrecaching()
	return out, nil
}

func (s *Server) handleGetPrecache(_ context.Context, _ *struct{}) (*PrecacheProgressOutput, error) {
	return &PrecacheProgressOutput{Body: s.services.Covers.Progress()}, nil
}

func (s *Server) handleGetCacheStats(_ context.Context, _ *struct{}) (*CacheStatsOutput, error) {
	return &CacheStatsOutput{Body: CacheStatsResponse{
		Covers:      s.services.Covers.Stats(),
		Conversions: s.services.Conversions.Stats(),
	}}, nil
}
