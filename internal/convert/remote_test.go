package convert

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperr "github.com/sadontsev/flibusta-sub001/internal/errors"
)

func withCredentials(t *testing.T, serverURL string) string {
	t.Helper()
	return strings.Replace(serverURL, "http://", "http://conv:s3cret@", 1)
}

func TestRemote_Convert(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/convert", r.URL.Path)
		assert.Equal(t, "fb2", r.URL.Query().Get("from"))
		assert.Equal(t, "mobi", r.URL.Query().Get("to"))
		assert.Equal(t, "application/octet-stream", r.Header.Get("Content-Type"))
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "conv", user)
		assert.Equal(t, "s3cret", pass)

		body, _ := io.ReadAll(r.Body)
		_, _ = w.Write(append([]byte("MOBI:"), body...))
	}))
	defer srv.Close()

	r, err := NewRemote(withCredentials(t, srv.URL) + "/")
	require.NoError(t, err)
	assert.NotContains(t, r.Endpoint(), "s3cret")

	out, err := r.Convert(context.Background(), testJob())
	require.NoError(t, err)
	assert.Equal(t, "MOBI:<FictionBook/>", string(out))
}

func TestRemote_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, strings.Repeat("x", 2000))
	}))
	defer srv.Close()

	r, err := NewRemote(srv.URL)
	require.NoError(t, err)

	_, err = r.Convert(context.Background(), testJob())
	require.ErrorIs(t, err, apperr.ErrConverterNonZeroExit)

	var e *apperr.Error
	require.ErrorAs(t, err, &e)
	details := e.Details.(map[string]string)
	assert.Len(t, details["output"], maxErrorOutput)
}

func TestRemote_EmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r, err := NewRemote(srv.URL)
	require.NoError(t, err)

	_, err = r.Convert(context.Background(), testJob())
	assert.ErrorIs(t, err, apperr.ErrOutputMissing)
}

func TestRemote_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	r, err := NewRemote(srv.URL, WithRemoteTimeout(100*time.Millisecond))
	require.NoError(t, err)

	_, err = r.Convert(context.Background(), testJob())
	assert.ErrorIs(t, err, apperr.ErrConverterTimeout)
}

func TestRemote_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	r, err := NewRemote(url)
	require.NoError(t, err)

	_, err = r.Convert(context.Background(), testJob())
	assert.ErrorIs(t, err, apperr.ErrConverterUnavailable)
	assert.Error(t, r.Probe(context.Background()))
}

func TestRemote_Probe(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, "OK")
	}))
	defer srv.Close()

	r, err := NewRemote(srv.URL)
	require.NoError(t, err)
	assert.NoError(t, r.Probe(context.Background()))

	healthy.Store(false)
	assert.Error(t, r.Probe(context.Background()))
}

func TestNewRemote_Invalid(t *testing.T) {
	for _, raw := range []string{"", "localhost:7090", "ftp://host/x", "http://"} {
		_, err := NewRemote(raw)
		assert.Error(t, err, raw)
	}
}
