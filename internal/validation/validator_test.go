package validation_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperr "github.com/sadontsev/flibusta-sub001/internal/errors"
	"github.com/sadontsev/flibusta-sub001/internal/validation"
)

type precacheRequest struct {
	Mode   string `json:"mode" validate:"required,oneof=recent all missing"`
	Limit  int    `json:"limit" validate:"min=1,max=100000"`
	Format string `json:"format,omitempty" validate:"omitempty,bookformat"`
}

func TestValidator_Valid(t *testing.T) {
	v := validation.New()
	assert.NoError(t, v.Validate(precacheRequest{Mode: "recent", Limit: 10}))
	assert.NoError(t, v.Validate(precacheRequest{Mode: "all", Limit: 100000, Format: "epub"}))
}

func TestValidator_Errors(t *testing.T) {
	v := validation.New()

	tests := []struct {
		name    string
		req     precacheRequest
		field   string
		message string
	}{
		{"missing mode", precacheRequest{Limit: 1}, "mode", "is required"},
		{"unknown mode", precacheRequest{Mode: "newest", Limit: 1}, "mode", "must be one of: recent all missing"},
		{"zero limit", precacheRequest{Mode: "all"}, "limit", "must be at least 1"},
		{"huge limit", precacheRequest{Mode: "all", Limit: 100001}, "limit", "must not exceed 100000"},
		{"bad format", precacheRequest{Mode: "all", Limit: 1, Format: "../x"}, "format", "must be a format tag of 2 to 5 lowercase letters or digits"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.req)
			require.Error(t, err)
			assert.ErrorIs(t, err, apperr.ErrValidation)

			var e *apperr.Error
			require.ErrorAs(t, err, &e)
			assert.Equal(t, http.StatusBadRequest, e.HTTPStatus())
			details, ok := e.Details.(map[string]string)
			require.True(t, ok)
			assert.Equal(t, tt.message, details[tt.field])
		})
	}
}
