package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sadontsev/flibusta-sub001/internal/convert"
	"github.com/sadontsev/flibusta-sub001/internal/diskcache"
	"github.com/sadontsev/flibusta-sub001/internal/store"
)

type fakeBooks struct {
	mu    sync.Mutex
	files map[int64]BookFile
	errs  map[int64]error
	gate  chan struct{}
	calls atomic.Int32
}

func newFakeBooks() *fakeBooks {
	return &fakeBooks{files: map[int64]BookFile{}, errs: map[int64]error{}}
}

func (f *fakeBooks) GetBookBytes(ctx context.Context, bookID int64, _ string) (BookFile, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return BookFile{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[bookID]; ok {
		return BookFile{}, err
	}
	if b, ok := f.files[bookID]; ok {
		return b, nil
	}
	return BookFile{Name: "x.fb2", Format: "fb2", Data: []byte("<FictionBook/>")}, nil
}

type fakeCatalog struct {
	mu          sync.Mutex
	covers      map[int64]store.CoverEntry
	recent      []int64
	oldest      []int64
	err         error
	recentLimit int
	// hold, when set, blocks RecentBookIDs until closed or cancelled;
	// entered is signalled on each blocked call.
	hold    chan struct{}
	entered chan struct{}
}

func (f *fakeCatalog) CoverEntry(_ context.Context, bookID int64) (store.CoverEntry, bool, error) {
	e, ok := f.covers[bookID]
	return e, ok, nil
}

func (f *fakeCatalog) RecentBookIDs(ctx context.Context, limit int) ([]int64, error) {
	if f.hold != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
		select {
		case <-f.hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	f.recentLimit = limit
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.recent[:min(limit, len(f.recent))], nil
}

func (f *fakeCatalog) OldestBookIDs(_ context.Context, limit int) ([]int64, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.oldest[:min(limit, len(f.oldest))], nil
}

type fakeNamed map[string][]byte

func (f fakeNamed) ReadNamed(_ context.Context, archivePath, entry string) ([]byte, error) {
	if data, ok := f[archivePath+"!"+entry]; ok {
		return data, nil
	}
	return nil, context.Canceled
}

type staticAvailability bool

func (a staticAvailability) Available(context.Context) bool { return bool(a) }

type fakeConverter struct {
	mu    sync.Mutex
	outs  [][]byte
	errs  []error
	gate  chan struct{}
	calls atomic.Int32
}

func (f *fakeConverter) Convert(_ context.Context, _ convert.Job) ([]byte, error) {
	n := int(f.calls.Add(1)) - 1
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var err error
	if n < len(f.errs) {
		err = f.errs[n]
	}
	if err != nil {
		return nil, err
	}
	return f.outs[min(n, len(f.outs)-1)], nil
}

func testPNG(t *testing.T, size int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := range size {
		for x := range size {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255}) //nolint:gosec // test pattern
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func fb2WithCover(img []byte) []byte {
	return []byte(`<?xml version="1.0" encoding="utf-8"?>
<FictionBook><description><title-info><book-title>T</book-title></title-info></description>
<body><section><p>x</p></section></body>
<binary id="cover.png" content-type="image/png">` + base64.StdEncoding.EncodeToString(img) + `</binary>
</FictionBook>`)
}

func newTestCache(t *testing.T, minSize int64) *diskcache.Cache {
	t.Helper()
	c, err := diskcache.New(t.TempDir(), diskcache.WithMinSize(minSize))
	require.NoError(t, err)
	return c
}
