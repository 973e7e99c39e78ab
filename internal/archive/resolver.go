package archive

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/sadontsev/flibusta-sub001/internal/domain"
	"github.com/sadontsev/flibusta-sub001/internal/errors"
	"github.com/sadontsev/flibusta-sub001/internal/logger"
)

// FilenameSource knows the exact stored entry name of some books.
type FilenameSource interface {
	ExactFilename(ctx context.Context, bookID int64) (string, bool, error)
}

// looseEntry matches any "<digits>.<ext>" file name, at the root or nested.
var looseEntry = regexp.MustCompile(`(?i)(^|/)\d+\.[a-z0-9]+$`)

// Matcher picks an entry for a book from an archive listing.
type Matcher func(names []string, q Query) (string, bool)

// Query carries what the matchers know about the wanted book.
type Query struct {
	BookID     int64
	Exact      string
	Extensions []string
}

// Matchers is the resolution cascade, tried in order.
var Matchers = []Matcher{
	MatchExact,
	MatchBasename,
	MatchSuffix,
	MatchLoose,
}

// MatchExact matches the stored filename, at the root or under a directory.
func MatchExact(names []string, q Query) (string, bool) {
	if q.Exact == "" {
		return "", false
	}
	suffix := "/" + q.Exact
	for _, n := range names {
		if n == q.Exact || strings.HasSuffix(n, suffix) {
			return n, true
		}
	}
	return "", false
}

// MatchBasename matches "<id>.<ext>" as the whole base name, trying
// extensions in preference order.
func MatchBasename(names []string, q Query) (string, bool) {
	id := strconv.FormatInt(q.BookID, 10)
	for _, ext := range q.Extensions {
		want := id + "." + ext
		for _, n := range names {
			if strings.EqualFold(path.Base(n), want) {
				return n, true
			}
		}
	}
	return "", false
}

// MatchSuffix matches any path ending in "/<id>.<ext>".
func MatchSuffix(names []string, q Query) (string, bool) {
	id := strconv.FormatInt(q.BookID, 10)
	for _, ext := range q.Extensions {
		want := "/" + id + "." + ext
		for _, n := range names {
			if strings.HasSuffix(strings.ToLower(n), want) {
				return n, true
			}
		}
	}
	return "", false
}

// MatchLoose accepts any "<digits>.<ext>" entry whose path contains
// "/<id>." regardless of extension.
func MatchLoose(names []string, q Query) (string, bool) {
	needle := "/" + strconv.FormatInt(q.BookID, 10) + "."
	for _, n := range names {
		if looseEntry.MatchString(n) && strings.Contains("/"+n, needle) {
			return n, true
		}
	}
	return "", false
}

// Match runs the cascade and returns the first hit.
func Match(names []string, q Query) (string, bool) {
	for _, m := range Matchers {
		if name, ok := m(names, q); ok {
			return name, true
		}
	}
	return "", false
}

// Resolver finds and extracts a book's entry inside a located shard.
type Resolver struct {
	filenames FilenameSource
	opener    *Opener
	logger    *slog.Logger
}

// NewResolver creates a Resolver. filenames may be nil.
func NewResolver(filenames FilenameSource, opener *Opener, log *slog.Logger) *Resolver {
	if opener == nil {
		opener = NewOpener(log)
	}
	return &Resolver{filenames: filenames, opener: opener, logger: logger.OrDiscard(log)}
}

// Resolve returns the matching entry name and its bytes.
func (r *Resolver) Resolve(ctx context.Context, loc Location, bookID int64, requested string) (string, []byte, error) {
	q := Query{
		BookID:     bookID,
		Extensions: domain.CandidateExtensions(loc.Shard.FormatTag, requested),
	}
	if r.filenames != nil {
		exact, ok, err := r.filenames.ExactFilename(ctx, bookID)
		if err != nil {
			r.logger.Warn("exact filename lookup failed",
				slog.Int64("book_id", bookID), slog.Any("error", err))
		} else if ok {
			q.Exact = exact
		}
	}

	a, err := r.opener.Open(ctx, loc.Path)
	if err != nil {
		return "", nil, openError(err, loc.Path)
	}
	defer a.Close()

	entries := a.Entries()
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}

	name, ok := Match(names, q)
	if !ok {
		return "", nil, errors.EntryNotFoundf("book %d not found in %s", bookID, path.Base(loc.Path))
	}

	data, err := a.ReadEntry(ctx, name)
	if err != nil {
		return "", nil, fmt.Errorf("extract %s from %s: %w", name, path.Base(loc.Path), err)
	}

	r.logger.Debug("resolved archive entry",
		slog.Int64("book_id", bookID),
		slog.String("archive", path.Base(loc.Path)),
		slog.String("entry", name),
		slog.Int("bytes", len(data)))
	return name, data, nil
}

// ReadNamed extracts a specific entry, as used for dedicated cover archives.
func (r *Resolver) ReadNamed(ctx context.Context, archivePath, entry string) ([]byte, error) {
	a, err := r.opener.Open(ctx, archivePath)
	if err != nil {
		return nil, openError(err, archivePath)
	}
	defer a.Close()

	names := make([]string, 0, 1)
	for _, e := range a.Entries() {
		names = append(names, e.Name)
	}
	name, ok := MatchExact(names, Query{Exact: entry})
	if !ok {
		return nil, errors.EntryNotFoundf("%s not found in %s", entry, path.Base(archivePath))
	}
	return a.ReadEntry(ctx, name)
}

func openError(err error, archivePath string) error {
	code := errors.CodeInternal
	if errors.Is(err, fs.ErrNotExist) {
		code = errors.CodeArchiveNotFound
	}
	return errors.Wrapf(err, code, "cannot open %s", path.Base(archivePath))
}
