package archive

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sadontsev/flibusta-sub001/internal/domain"
	"github.com/sadontsev/flibusta-sub001/internal/errors"
)

type fakeShards struct {
	shards []domain.ArchiveShard
	err    error
}

func (f fakeShards) ShardsForBook(_ context.Context, id int64) ([]domain.ArchiveShard, error) {
	var out []domain.ArchiveShard
	for _, s := range f.shards {
		if s.Contains(id) {
			out = append(out, s)
		}
	}
	return out, f.err
}

type fakeFilenames map[int64]string

func (f fakeFilenames) ExactFilename(_ context.Context, id int64) (string, bool, error) {
	name, ok := f[id]
	return name, ok, nil
}

func writeZip(t *testing.T, path string, files map[string][]byte) {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func TestParseShardName(t *testing.T) {
	tests := []struct {
		name      string
		ok        bool
		tag       string
		start     int64
		end       int64
		userShard bool
	}{
		{"f.fb2.1000-1999.zip", true, "fb2", 1000, 1999, false},
		{"fb2-000024-030559.zip", true, "fb2", 24, 30559, false},
		{"f.n.174406-174817.zip", true, "n", 174406, 174817, true},
		{"F.EPUB.5-9.ZIP", true, "epub", 5, 9, false},
		{"f.fb2.2000-1000.zip", false, "", 0, 0, false},
		{"readme.txt", false, "", 0, 0, false},
		{"covers.zip", false, "", 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, ok := ParseShardName(tt.name)
			assert.Equal(t, tt.ok, ok)
			if !tt.ok {
				return
			}
			assert.Equal(t, tt.tag, s.FormatTag)
			assert.Equal(t, tt.start, s.StartID)
			assert.Equal(t, tt.end, s.EndID)
			assert.Equal(t, tt.userShard, s.IsUserFormat)
		})
	}
}

func TestMatch(t *testing.T) {
	tests := []struct {
		name  string
		names []string
		q     Query
		want  string
		ok    bool
	}{
		{
			name:  "exact filename short-circuits extension guessing",
			names: []string{"1500.fb2", "books/1500-orig.epub"},
			q:     Query{BookID: 1500, Exact: "1500-orig.epub", Extensions: []string{"fb2", "epub"}},
			want:  "books/1500-orig.epub",
			ok:    true,
		},
		{
			name:  "exact filename missing falls through",
			names: []string{"1500.fb2"},
			q:     Query{BookID: 1500, Exact: "gone.fb2", Extensions: []string{"fb2"}},
			want:  "1500.fb2",
			ok:    true,
		},
		{
			name:  "basename follows extension preference",
			names: []string{"1500.epub", "1500.fb2"},
			q:     Query{BookID: 1500, Extensions: domain.CandidateExtensions("fb2", "")},
			want:  "1500.fb2",
			ok:    true,
		},
		{
			name:  "requested format wins over canonical order",
			names: []string{"1500.fb2", "1500.epub"},
			q:     Query{BookID: 1500, Extensions: domain.CandidateExtensions("n", "epub")},
			want:  "1500.epub",
			ok:    true,
		},
		{
			name:  "nested path matched by base name",
			names: []string{"a/15000.fb2", "b/1500.fb2"},
			q:     Query{BookID: 1500, Extensions: []string{"fb2"}},
			want:  "b/1500.fb2",
			ok:    true,
		},
		{
			name:  "loose match accepts unknown extensions",
			names: []string{"x/1500.fb3"},
			q:     Query{BookID: 1500, Extensions: []string{"fb2"}},
			want:  "x/1500.fb3",
			ok:    true,
		},
		{
			name:  "different id does not match",
			names: []string{"15001.fb2", "11500.fb2"},
			q:     Query{BookID: 1500, Extensions: []string{"fb2"}},
			ok:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Match(tt.names, tt.q)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLocator_MappingPreference(t *testing.T) {
	fsys := afero.NewMemMapFs()
	for _, name := range []string{"f.n.1000-1999.zip", "f.fb2.1000-1999.zip", "f.epub.1000-1999.zip"} {
		require.NoError(t, afero.WriteFile(fsys, "/books/"+name, []byte("zip"), 0o644))
	}
	shards := fakeShards{shards: []domain.ArchiveShard{
		{Filename: "f.n.1000-1999.zip", StartID: 1000, EndID: 1999, FormatTag: "n", IsUserFormat: true},
		{Filename: "f.epub.1000-1999.zip", StartID: 1000, EndID: 1999, FormatTag: "epub"},
		{Filename: "f.fb2.1000-1999.zip", StartID: 1000, EndID: 1999, FormatTag: "fb2"},
	}}
	l := NewLocator(shards, "/books", nil, WithLocatorFs(fsys))

	loc, err := l.Locate(context.Background(), 1500, "")
	require.NoError(t, err)
	assert.Equal(t, "/books/f.fb2.1000-1999.zip", loc.Path)

	loc, err = l.Locate(context.Background(), 1500, "epub")
	require.NoError(t, err)
	assert.Equal(t, "/books/f.epub.1000-1999.zip", loc.Path)
}

func TestLocator_SkipsStaleMappings(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/books/f.epub.1-99.zip", []byte("zip"), 0o644))
	shards := fakeShards{shards: []domain.ArchiveShard{
		{Filename: "f.fb2.1-99.zip", StartID: 1, EndID: 99, FormatTag: "fb2"},
		{Filename: "f.epub.1-99.zip", StartID: 1, EndID: 99, FormatTag: "epub"},
	}}
	l := NewLocator(shards, "/books", nil, WithLocatorFs(fsys))

	loc, err := l.Locate(context.Background(), 50, "")
	require.NoError(t, err)
	assert.Equal(t, "epub", loc.Shard.FormatTag)
}

func TestLocator_ScanFallback(t *testing.T) {
	fsys := afero.NewMemMapFs()
	for _, name := range []string{
		"f.fb2.1000-1999.zip",
		"f.fb2.1400-1600.zip",
		"f.n.1400-1600.zip",
		"notes.txt",
	} {
		require.NoError(t, afero.WriteFile(fsys, "/books/"+name, []byte("zip"), 0o644))
	}

	// A failing catalog degrades to the directory scan.
	l := NewLocator(fakeShards{err: errors.New("db down")}, "/books", nil, WithLocatorFs(fsys))

	loc, err := l.Locate(context.Background(), 1500, "")
	require.NoError(t, err)
	assert.Equal(t, "/books/f.fb2.1400-1600.zip", loc.Path, "narrowest public fb2 shard wins")

	_, err = l.Locate(context.Background(), 5000, "")
	assert.True(t, errors.Is(err, errors.ErrArchiveNotFound))
}

func TestLocator_Invalidate(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll("/books", 0o755))
	l := NewLocator(nil, "/books", nil, WithLocatorFs(fsys), WithScanTTL(time.Hour))

	_, err := l.Locate(context.Background(), 7, "")
	require.Error(t, err)

	require.NoError(t, afero.WriteFile(fsys, "/books/f.fb2.0-9.zip", []byte("zip"), 0o644))
	_, err = l.Locate(context.Background(), 7, "")
	require.Error(t, err, "listing is memoised")

	l.Invalidate()
	loc, err := l.Locate(context.Background(), 7, "")
	require.NoError(t, err)
	assert.Equal(t, "/books/f.fb2.0-9.zip", loc.Path)
}

func TestResolver_Resolve(t *testing.T) {
	dir := t.TempDir()
	shardPath := filepath.Join(dir, "f.fb2.1000-1999.zip")
	writeZip(t, shardPath, map[string][]byte{
		"1499.fb2":      []byte("<other/>"),
		"1500.fb2":      []byte("<FictionBook/>"),
		"1500-orig.pdf": []byte("%PDF"),
	})
	shard, _ := ParseShardName(filepath.Base(shardPath))
	loc := Location{Path: shardPath, Shard: shard}

	t.Run("extension cascade", func(t *testing.T) {
		r := NewResolver(nil, nil, nil)
		name, data, err := r.Resolve(context.Background(), loc, 1500, "")
		require.NoError(t, err)
		assert.Equal(t, "1500.fb2", name)
		assert.Equal(t, []byte("<FictionBook/>"), data)
	})

	t.Run("exact filename", func(t *testing.T) {
		r := NewResolver(fakeFilenames{1500: "1500-orig.pdf"}, nil, nil)
		name, data, err := r.Resolve(context.Background(), loc, 1500, "")
		require.NoError(t, err)
		assert.Equal(t, "1500-orig.pdf", name)
		assert.Equal(t, []byte("%PDF"), data)
	})

	t.Run("missing entry", func(t *testing.T) {
		r := NewResolver(nil, nil, nil)
		_, _, err := r.Resolve(context.Background(), loc, 1777, "")
		assert.True(t, errors.Is(err, errors.ErrEntryNotFound))
	})

	t.Run("missing archive", func(t *testing.T) {
		r := NewResolver(nil, nil, nil)
		_, _, err := r.Resolve(context.Background(), Location{Path: filepath.Join(dir, "gone.zip")}, 1500, "")
		assert.True(t, errors.Is(err, errors.ErrArchiveNotFound))
	})
}

func TestResolver_EntrySizeCap(t *testing.T) {
	dir := t.TempDir()
	shardPath := filepath.Join(dir, "f.fb2.0-9.zip")
	writeZip(t, shardPath, map[string][]byte{"5.fb2": bytes.Repeat([]byte("x"), 64)})

	r := NewResolver(nil, NewOpener(nil, WithMaxEntryBytes(16)), nil)
	_, _, err := r.Resolve(context.Background(), Location{Path: shardPath}, 5, "")
	assert.ErrorIs(t, err, ErrEntryTooLarge)
}

func TestOpener_UnzipFallback(t *testing.T) {
	dir := t.TempDir()
	stub := filepath.Join(dir, "unzip")
	script := `#!/bin/sh
if [ "$1" = "-Z1" ]; then
  printf 'dir/\ndir/42.fb2\n'
  exit 0
fi
if [ "$1" = "-p" ]; then
  printf 'extracted:%s' "$3"
  exit 0
fi
exit 2
`
	require.NoError(t, os.WriteFile(stub, []byte(script), 0o755))

	// Not a zip the in-process reader accepts.
	bogus := filepath.Join(dir, "f.fb2.0-99.zip")
	require.NoError(t, os.WriteFile(bogus, []byte("definitely not a zip"), 0o644))

	r := NewResolver(nil, NewOpener(nil, WithUnzip(stub)), nil)
	name, data, err := r.Resolve(context.Background(), Location{Path: bogus}, 42, "")
	require.NoError(t, err)
	assert.Equal(t, "dir/42.fb2", name)
	assert.Equal(t, "extracted:dir/42.fb2", string(data))
}

func TestOpener_NoFallback(t *testing.T) {
	bogus := filepath.Join(t.TempDir(), "x.zip")
	require.NoError(t, os.WriteFile(bogus, []byte("nope"), 0o644))

	_, err := NewOpener(nil, WithUnzip("")).Open(context.Background(), bogus)
	assert.Error(t, err)
}

func TestReadNamed(t *testing.T) {
	dir := t.TempDir()
	coverArchive := filepath.Join(dir, "covers.zip")
	writeZip(t, coverArchive, map[string][]byte{"c/42.jpg": []byte("jpeg")})

	r := NewResolver(nil, nil, nil)
	data, err := r.ReadNamed(context.Background(), coverArchive, "42.jpg")
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg"), data)

	_, err = r.ReadNamed(context.Background(), coverArchive, "43.jpg")
	assert.True(t, errors.Is(err, errors.ErrEntryNotFound))
}
