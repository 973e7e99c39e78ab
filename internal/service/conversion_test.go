package service

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sadontsev/flibusta-sub001/internal/convert"
	apperr "github.com/sadontsev/flibusta-sub001/internal/errors"
)

var bigOutput = []byte(strings.Repeat("converted book bytes ", 20))

func newTestConversions(t *testing.T, books BookSource, available bool, ext convert.Converter) *ConversionService {
	t.Helper()
	return NewConversionService(books, newTestCache(t, convert.MinOutputSize), staticAvailability(available),
		ext, convert.NewBuiltin(nil), nil)
}

func TestConvert_Identity(t *testing.T) {
	conv := &fakeConverter{outs: [][]byte{bigOutput}}
	s := newTestConversions(t, newFakeBooks(), true, conv)

	raw := []byte("tiny")
	out, err := s.Convert(context.Background(), 1, "EPUB", "epub", raw)
	require.NoError(t, err)
	assert.Equal(t, raw, out)
	assert.Zero(t, conv.calls.Load())
}

func TestConvert_ExternalAndCache(t *testing.T) {
	conv := &fakeConverter{outs: [][]byte{bigOutput}}
	s := newTestConversions(t, newFakeBooks(), true, conv)

	out, err := s.Convert(context.Background(), 2, "fb2", "mobi", []byte("<FictionBook/>"))
	require.NoError(t, err)
	assert.Equal(t, bigOutput, out)
	assert.True(t, s.cache.Valid(2, "mobi"))

	out, err = s.Convert(context.Background(), 2, "fb2", "MOBI", []byte("<FictionBook/>"))
	require.NoError(t, err)
	assert.Equal(t, bigOutput, out)
	assert.Equal(t, int32(1), conv.calls.Load())

	st := s.Stats()
	assert.Equal(t, 1, st.CachedFiles)
	assert.Zero(t, st.InFlight)
}

func TestConvert_CachedEntryWins(t *testing.T) {
	conv := &fakeConverter{outs: [][]byte{bigOutput}}
	s := newTestConversions(t, newFakeBooks(), true, conv)
	cached := bytes.Repeat([]byte("c"), 500)
	_, err := s.cache.Write(3, "pdf", cached)
	require.NoError(t, err)

	out, err := s.Convert(context.Background(), 3, "fb2", "pdf", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, cached, out)
	assert.Zero(t, conv.calls.Load())
}

func TestConvert_SingleFlight(t *testing.T) {
	conv := &fakeConverter{outs: [][]byte{bigOutput}, gate: make(chan struct{})}
	s := newTestConversions(t, newFakeBooks(), true, conv)

	var wg sync.WaitGroup
	errs := make([]error, 6)
	for i := range errs {
		wg.Go(func() {
			_, errs[i] = s.Convert(context.Background(), 4, "fb2", "azw3", []byte("x"))
		})
	}
	require.Eventually(t, func() bool { return conv.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, s.Stats().InFlight)
	close(conv.gate)
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), conv.calls.Load())
}

func TestConvert_FailureIsNotCached(t *testing.T) {
	conv := &fakeConverter{
		outs: [][]byte{nil, bigOutput},
		errs: []error{apperr.ConverterFailed("mobi", "boom", errors.New("exit status 1"))},
	}
	s := newTestConversions(t, newFakeBooks(), true, conv)

	_, err := s.Convert(context.Background(), 5, "fb2", "mobi", []byte("x"))
	require.ErrorIs(t, err, apperr.ErrConverterNonZeroExit)
	assert.False(t, s.cache.Valid(5, "mobi"))

	out, err := s.Convert(context.Background(), 5, "fb2", "mobi", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, bigOutput, out)
	assert.Equal(t, int32(2), conv.calls.Load())
}

func TestConvert_TinyOutput(t *testing.T) {
	conv := &fakeConverter{outs: [][]byte{[]byte("short")}}
	s := newTestConversions(t, newFakeBooks(), true, conv)

	_, err := s.Convert(context.Background(), 6, "fb2", "mobi", []byte("x"))
	assert.ErrorIs(t, err, apperr.ErrOutputMissing)
	assert.False(t, s.cache.Valid(6, "mobi"))
}

func TestConvert_BuiltinFallback(t *testing.T) {
	conv := &fakeConverter{outs: [][]byte{bigOutput}}
	s := newTestConversions(t, newFakeBooks(), false, conv)

	out, err := s.Convert(context.Background(), 7, "fb2", "epub", fb2WithCover(testPNG(t, 32)))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("PK")))
	assert.Zero(t, conv.calls.Load())
	assert.True(t, s.cache.Valid(7, "epub"))

	_, err = s.Convert(context.Background(), 7, "fb2", "mobi", []byte("x"))
	assert.ErrorIs(t, err, apperr.ErrUnsupportedConversion)
}

func TestConvert_NoExternalConfigured(t *testing.T) {
	s := newTestConversions(t, newFakeBooks(), true, nil)

	_, err := s.Convert(context.Background(), 8, "epub", "pdf", []byte("x"))
	assert.ErrorIs(t, err, apperr.ErrUnsupportedConversion)
}

func TestConvert_InvalidTarget(t *testing.T) {
	s := newTestConversions(t, newFakeBooks(), true, nil)

	_, err := s.Convert(context.Background(), 1, "fb2", "../etc", []byte("x"))
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestConvert_InvalidSource(t *testing.T) {
	conv := &fakeConverter{outs: [][]byte{bigOutput}}
	s := newTestConversions(t, newFakeBooks(), true, conv)

	for _, source := range []string{"../x", "", "fb2;rm"} {
		_, err := s.Convert(context.Background(), 1, source, "epub", []byte("x"))
		assert.ErrorIs(t, err, apperr.ErrValidation, "source %q", source)
	}
	assert.Zero(t, conv.calls.Load())
}

func TestConvert_WaiterCancellation(t *testing.T) {
	conv := &fakeConverter{outs: [][]byte{bigOutput}, gate: make(chan struct{})}
	s := newTestConversions(t, newFakeBooks(), true, conv)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := s.Convert(ctx, 9, "fb2", "mobi", []byte("x"))
		done <- err
	}()
	require.Eventually(t, func() bool { return conv.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(conv.gate)
	require.Eventually(t, func() bool { return s.cache.Valid(9, "mobi") }, time.Second, 5*time.Millisecond,
		"the shared conversion finishes for other callers")
}

func TestConvertBook(t *testing.T) {
	books := newFakeBooks()
	books.files[20] = BookFile{Name: "20.fb2", Format: "fb2", Archive: "f.fb2.0-99.zip", Data: []byte("<FictionBook/>")}
	books.files[21] = BookFile{Name: "21.epub", Format: "epub", Data: []byte("native epub")}
	conv := &fakeConverter{outs: [][]byte{bigOutput}}
	s := newTestConversions(t, books, true, conv)

	f, err := s.ConvertBook(context.Background(), 20, "mobi")
	require.NoError(t, err)
	assert.Equal(t, "20.mobi", f.Name)
	assert.Equal(t, "mobi", f.Format)
	assert.Equal(t, bigOutput, f.Data)

	f, err = s.ConvertBook(context.Background(), 20, "mobi")
	require.NoError(t, err)
	assert.Equal(t, bigOutput, f.Data)
	assert.Equal(t, int32(1), books.calls.Load(), "cached result skips the archive")

	f, err = s.ConvertBook(context.Background(), 21, "epub")
	require.NoError(t, err)
	assert.Equal(t, "21.epub", f.Name)
	assert.Equal(t, []byte("native epub"), f.Data)
	assert.Equal(t, int32(1), conv.calls.Load())

	books.errs[22] = apperr.ArchiveNotFoundf("no shard")
	_, err = s.ConvertBook(context.Background(), 22, "mobi")
	assert.ErrorIs(t, err, apperr.ErrArchiveNotFound)
}

func TestConversionAvailable(t *testing.T) {
	conv := &fakeConverter{}
	assert.True(t, newTestConversions(t, newFakeBooks(), true, conv).Available(context.Background()))
	assert.False(t, newTestConversions(t, newFakeBooks(), false, conv).Available(context.Background()))
	assert.False(t, newTestConversions(t, newFakeBooks(), true, nil).Available(context.Background()))
}
