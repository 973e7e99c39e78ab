package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

func (s *Server) registerHealthRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "healthCheck",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns server health and external converter availability",
		Tags:        []string{"Health"},
	}, s.handleHealthCheck)
}

// ComponentHealth describes the health of a single component.
type ComponentHealth struct {
	Status  string `json:"status" doc:"Component status: healthy, degraded, or disabled"`
	Message string `json:"message,omitempty" doc:"Additional status information"`
}

// HealthResponse contains health check data in API responses.
type HealthResponse struct {
	Status     string                     `json:"status" doc:"Overall status: healthy or degraded"`
	Components map[string]ComponentHealth `json:"components" doc:"Individual component statuses"`
}

// HealthOutput wraps the health response for Huma.
type HealthOutput struct {
	Body HealthResponse
}

func (s *Server) handleHealthCheck(ctx context.Context, _ *struct{}) (*HealthOutput, error) {
	resp := HealthResponse{
		Status:     "healthy",
		Components: map[string]ComponentHealth{"archives": {Status: "healthy"}},
	}

	// Only fb2 to epub works while the external converter is down.
	switch {
	case s.services.Converter == nil:
		resp.Components["converter"] = ComponentHealth{Status: "disabled", Message: "built-in converter only"}
	case s.services.Converter.Available(ctx):
		resp.Components["converter"] = ComponentHealth{Status: "healthy"}
	default:
		resp.Components["converter"] = ComponentHealth{Status: "degraded", Message: "external converter unreachable"}
		resp.Status = "degraded"
	}

	return &HealthOutput{Body: resp}, nil
}
