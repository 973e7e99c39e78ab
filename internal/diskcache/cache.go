// Package diskcache stores derived artefacts (covers, converted books) as
// plain files named {id}.{ext}. Entries are never expired or rewritten once
// valid; a file smaller than the minimum size is treated as absent.
package diskcache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/spf13/afero"
)

// Cache is a directory of {id}.{ext} files. Safe for concurrent use: writers
// rename a finished temp file into place, so readers never see partial data.
type Cache struct {
	fs      afero.Fs
	dir     string
	minSize int64
}

// Option configures a Cache.
type Option func(*Cache)

// WithFs swaps the filesystem, mostly for tests.
func WithFs(fsys afero.Fs) Option {
	return func(c *Cache) { c.fs = fsys }
}

// WithMinSize sets the size an entry must exceed to count as valid.
func WithMinSize(n int64) Option {
	return func(c *Cache) { c.minSize = n }
}

// New creates the cache directory if needed.
func New(dir string, opts ...Option) (*Cache, error) {
	if dir == "" {
		return nil, errors.New("cache directory cannot be empty")
	}
	c := &Cache{fs: afero.NewOsFs(), dir: dir}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory %s: %w", dir, err)
	}
	return c, nil
}

// Dir returns the cache directory.
func (c *Cache) Dir() string { return c.dir }

// Fs returns the underlying filesystem.
func (c *Cache) Fs() afero.Fs { return c.fs }

// Path returns the file path for an entry, whether or not it exists.
func (c *Cache) Path(id int64, ext string) string {
	return filepath.Join(c.dir, strconv.FormatInt(id, 10)+"."+strings.ToLower(ext))
}

// Valid reports whether the entry exists and exceeds the minimum size.
func (c *Cache) Valid(id int64, ext string) bool {
	info, err := c.fs.Stat(c.Path(id, ext))
	return err == nil && info.Mode().IsRegular() && info.Size() > c.minSize
}

// Lookup returns the first valid entry among exts.
func (c *Cache) Lookup(id int64, exts ...string) (path, ext string, ok bool) {
	for _, e := range exts {
		if c.Valid(id, e) {
			return c.Path(id, e), e, true
		}
	}
	return "", "", false
}

// Read returns an entry's contents. Invalid entries report fs.ErrNotExist.
func (c *Cache) Read(id int64, ext string) ([]byte, error) {
	if !c.Valid(id, ext) {
		return nil, fmt.Errorf("cache entry %d.%s: %w", id, ext, fs.ErrNotExist)
	}
	data, err := afero.ReadFile(c.fs, c.Path(id, ext))
	if err != nil {
		return nil, fmt.Errorf("read cache entry %d.%s: %w", id, ext, err)
	}
	return data, nil
}

// Open opens an entry for streaming.
func (c *Cache) Open(id int64, ext string) (afero.File, error) {
	if !c.Valid(id, ext) {
		return nil, fmt.Errorf("cache entry %d.%s: %w", id, ext, fs.ErrNotExist)
	}
	return c.fs.Open(c.Path(id, ext))
}

// Write stores data and returns the entry path. Data at or below the minimum
// size is rejected so it can never shadow a later good result.
func (c *Cache) Write(id int64, ext string, data []byte) (string, error) {
	if int64(len(data)) <= c.minSize {
		return "", fmt.Errorf("cache entry %d.%s too small (%d bytes)", id, ext, len(data))
	}

	final := c.Path(id, ext)
	tmp, err := afero.TempFile(c.fs, c.dir, "."+filepath.Base(final)+".*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = c.fs.Remove(tmpName)
		return "", fmt.Errorf("write cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = c.fs.Remove(tmpName)
		return "", fmt.Errorf("close cache entry: %w", err)
	}
	if err := c.fs.Rename(tmpName, final); err != nil {
		_ = c.fs.Remove(tmpName)
		return "", fmt.Errorf("publish cache entry: %w", err)
	}
	return final, nil
}

// Hash returns the xxhash of an entry, used for ETags.
func (c *Cache) Hash(id int64, ext string) (string, error) {
	data, err := c.Read(id, ext)
	if err != nil {
		return "", err
	}
	return Sum(data), nil
}

// Sum is the content hash used for entry ETags.
func Sum(data []byte) string {
	return strconv.FormatUint(xxhash.Sum64(data), 16)
}

// Usage reports how many valid entries the cache holds and their total size.
func (c *Cache) Usage() (files int, size int64, err error) {
	entries, err := afero.ReadDir(c.fs, c.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, 0, nil
		}
		return 0, 0, fmt.Errorf("list cache: %w", err)
	}
	for _, e := range entries {
		if !e.Mode().IsRegular() || strings.HasPrefix(e.Name(), ".") || e.Size() <= c.minSize {
			continue
		}
		files++
		size += e.Size()
	}
	return files, size, nil
}
