// Package archive locates book files inside sharded zip archives and
// extracts them.
package archive

import (
	"cmp"
	"context"
	"log/slog"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/sadontsev/flibusta-sub001/internal/domain"
	"github.com/sadontsev/flibusta-sub001/internal/errors"
	"github.com/sadontsev/flibusta-sub001/internal/logger"
)

// ShardPattern parses shard file names such as "f.fb2.1000-1999.zip",
// "fb2-000024-030559.zip" or "f.n.174406-174817.zip".
var ShardPattern = regexp.MustCompile(`(?i)^(?:[a-z]\.)?([a-z0-9]+)[.-](\d+)-(\d+)\.zip$`)

// ShardSource returns the mapped shards covering a book.
type ShardSource interface {
	ShardsForBook(ctx context.Context, bookID int64) ([]domain.ArchiveShard, error)
}

// Location is a shard on disk chosen for a book.
type Location struct {
	Path  string
	Shard domain.ArchiveShard
}

// ParseShardName turns a file name into a shard; ok is false when the name
// does not follow the pattern or the range is inverted.
func ParseShardName(name string) (domain.ArchiveShard, bool) {
	m := ShardPattern.FindStringSubmatch(name)
	if m == nil {
		return domain.ArchiveShard{}, false
	}
	start, err1 := strconv.ParseInt(m[2], 10, 64)
	end, err2 := strconv.ParseInt(m[3], 10, 64)
	if err1 != nil || err2 != nil {
		return domain.ArchiveShard{}, false
	}
	tag := strings.ToLower(m[1])
	s := domain.ArchiveShard{
		Filename:     name,
		StartID:      start,
		EndID:        end,
		FormatTag:    tag,
		IsUserFormat: domain.IsUserFormatTag(tag),
	}
	return s, s.Valid()
}

// Locator picks the shard holding a book.
type Locator struct {
	shards ShardSource
	fs     afero.Fs
	root   string
	ttl    time.Duration
	logger *slog.Logger

	mu       sync.Mutex
	listing  []domain.ArchiveShard
	listedAt time.Time
}

// LocatorOption configures a Locator.
type LocatorOption func(*Locator)

// WithLocatorFs swaps the filesystem used for listing and existence checks.
func WithLocatorFs(fsys afero.Fs) LocatorOption {
	return func(l *Locator) { l.fs = fsys }
}

// WithScanTTL bounds how long a directory listing is reused.
func WithScanTTL(d time.Duration) LocatorOption {
	return func(l *Locator) { l.ttl = d }
}

// NewLocator creates a Locator over the shard directory root. shards may be
// nil, in which case only the directory scan is used.
func NewLocator(shards ShardSource, root string, log *slog.Logger, opts ...LocatorOption) *Locator {
	l := &Locator{
		shards: shards,
		fs:     afero.NewOsFs(),
		root:   root,
		ttl:    5 * time.Minute,
		logger: logger.OrDiscard(log),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Root returns the shard directory.
func (l *Locator) Root() string { return l.root }

// Locate returns the preferred existing shard for bookID.
func (l *Locator) Locate(ctx context.Context, bookID int64, requested string) (Location, error) {
	if loc, ok := l.fromMappings(ctx, bookID, requested); ok {
		return loc, nil
	}
	if loc, ok := l.fromScan(bookID, requested); ok {
		return loc, nil
	}
	return Location{}, errors.ArchiveNotFoundf("no archive holds book %d", bookID)
}

func (l *Locator) fromMappings(ctx context.Context, bookID int64, requested string) (Location, bool) {
	if l.shards == nil {
		return Location{}, false
	}
	candidates, err := l.shards.ShardsForBook(ctx, bookID)
	if err != nil {
		l.logger.Warn("shard mapping lookup failed, scanning directory",
			slog.Int64("book_id", bookID), slog.Any("error", err))
		return Location{}, false
	}

	slices.SortFunc(candidates, domain.ShardLess(requested))
	for _, c := range candidates {
		if !c.Valid() || !c.Contains(bookID) {
			continue
		}
		p := l.path(c.Filename)
		if l.exists(p) {
			return Location{Path: p, Shard: c}, true
		}
		l.logger.Debug("mapped shard missing on disk", slog.String("filename", c.Filename))
	}
	return Location{}, false
}

func (l *Locator) fromScan(bookID int64, requested string) (Location, bool) {
	var candidates []domain.ArchiveShard
	for _, s := range l.scan() {
		if s.Contains(bookID) {
			candidates = append(candidates, s)
		}
	}
	if len(candidates) == 0 {
		return Location{}, false
	}

	pref := domain.ShardPreference(requested)
	slices.SortFunc(candidates, func(a, b domain.ArchiveShard) int {
		return cmp.Or(
			pref(a, b),
			cmp.Compare(a.Width(), b.Width()),
			cmp.Compare(a.StartID, b.StartID),
			strings.Compare(a.Filename, b.Filename),
		)
	})

	best := candidates[0]
	return Location{Path: l.path(best.Filename), Shard: best}, true
}

// scan returns the memoised directory listing, refreshing it when stale.
func (l *Locator) scan() []domain.ArchiveShard {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.listing != nil && (l.ttl <= 0 || time.Since(l.listedAt) < l.ttl) {
		return l.listing
	}

	infos, err := afero.ReadDir(l.fs, l.root)
	if err != nil {
		l.logger.Warn("cannot list archive directory", slog.String("root", l.root), slog.Any("error", err))
		return nil
	}

	listing := make([]domain.ArchiveShard, 0, len(infos))
	for _, info := range infos {
		if !info.Mode().IsRegular() {
			continue
		}
		if s, ok := ParseShardName(info.Name()); ok {
			listing = append(listing, s)
		}
	}
	l.listing = listing
	l.listedAt = time.Now()
	l.logger.Debug("scanned archive directory", slog.Int("shards", len(listing)))
	return listing
}

// Invalidate drops the memoised listing; the next scan re-reads the directory.
func (l *Locator) Invalidate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listing = nil
}

func (l *Locator) path(filename string) string {
	if filepath.IsAbs(filename) {
		return filepath.Clean(filename)
	}
	return filepath.Join(l.root, filepath.FromSlash(filename))
}

func (l *Locator) exists(p string) bool {
	info, err := l.fs.Stat(p)
	return err == nil && info.Mode().IsRegular()
}
