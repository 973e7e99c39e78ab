package errors

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsMatchesByCode(t *testing.T) {
	err := EntryNotFoundf("book %d not in %s", 42, "f.fb2.0-99.zip")

	assert.True(t, Is(err, ErrEntryNotFound))
	assert.False(t, Is(err, ErrArchiveNotFound))
	assert.Equal(t, "book 42 not in f.fb2.0-99.zip", err.Error())
}

func TestWrappedThroughFmt(t *testing.T) {
	err := fmt.Errorf("fetch book: %w", ArchiveNotFoundf("no shard for %d", 7))

	assert.True(t, Is(err, ErrArchiveNotFound))
	assert.Equal(t, CodeArchiveNotFound, CodeOf(err))
	assert.Equal(t, CodeInternal, CodeOf(New("plain")))
}

func TestConverterErrorsNameTarget(t *testing.T) {
	timeout := ConverterTimeout("mobi", context.DeadlineExceeded)
	assert.Contains(t, timeout.Error(), "mobi")
	assert.True(t, Is(timeout, context.DeadlineExceeded))

	failed := ConverterFailed("pdf", "boom", nil)
	assert.Contains(t, failed.Error(), "pdf")
	require.IsType(t, map[string]string{}, failed.Details)
	assert.Equal(t, "boom", failed.Details.(map[string]string)["output"])

	assert.Nil(t, ConverterFailed("pdf", "", nil).Details)
}

func TestWithCauseDoesNotMutateSentinel(t *testing.T) {
	cause := New("disk")
	err := ErrInternal.WithCause(cause)

	assert.NotSame(t, ErrInternal, err)
	assert.Nil(t, ErrInternal.Unwrap())
	assert.Equal(t, cause, err.Unwrap())
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{CodeArchiveNotFound, http.StatusNotFound},
		{CodeEntryNotFound, http.StatusNotFound},
		{CodeConverterUnavailable, http.StatusServiceUnavailable},
		{CodeConverterTimeout, http.StatusGatewayTimeout},
		{CodeConverterNonZeroExit, http.StatusBadGateway},
		{CodeOutputMissing, http.StatusBadGateway},
		{CodeUnsupportedConversion, http.StatusUnprocessableEntity},
		{CodeValidation, http.StatusBadRequest},
		{CodeInternal, http.StatusInternalServerError},
		{Code("SOMETHING_ELSE"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.code.HTTPStatus())
		})
	}
}
