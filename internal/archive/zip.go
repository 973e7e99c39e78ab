package archive

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/sadontsev/flibusta-sub001/internal/logger"
)

// DefaultMaxEntryBytes caps a single extracted entry.
const DefaultMaxEntryBytes = 256 << 20

// ErrEntryTooLarge is returned when an entry exceeds the extraction cap.
var ErrEntryTooLarge = errors.New("archive entry exceeds size limit")

// Entry is one file inside an archive.
type Entry struct {
	Name string
	Size int64
}

// Archive is an opened zip shard. Listing reads only the central directory;
// ReadEntry decompresses just the named entry.
type Archive interface {
	Entries() []Entry
	ReadEntry(ctx context.Context, name string) ([]byte, error)
	Close() error
}

// Opener opens shards, falling back to an external unzip binary for
// archives the in-process reader rejects.
type Opener struct {
	unzipPath string
	maxEntry  int64
	timeout   time.Duration
	logger    *slog.Logger
}

// OpenerOption configures an Opener.
type OpenerOption func(*Opener)

// WithUnzip sets the external unzip binary; empty disables the fallback.
func WithUnzip(path string) OpenerOption {
	return func(o *Opener) { o.unzipPath = path }
}

// WithMaxEntryBytes caps extracted entry size.
func WithMaxEntryBytes(n int64) OpenerOption {
	return func(o *Opener) {
		if n > 0 {
			o.maxEntry = n
		}
	}
}

// WithToolTimeout bounds each external unzip invocation.
func WithToolTimeout(d time.Duration) OpenerOption {
	return func(o *Opener) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// NewOpener creates an Opener.
func NewOpener(log *slog.Logger, opts ...OpenerOption) *Opener {
	o := &Opener{
		unzipPath: "unzip",
		maxEntry:  DefaultMaxEntryBytes,
		timeout:   2 * time.Minute,
		logger:    logger.OrDiscard(log),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Open opens the archive at path.
func (o *Opener) Open(ctx context.Context, path string) (Archive, error) {
	zr, err := zip.OpenReader(path)
	if err == nil {
		return &zipArchive{rc: zr, maxEntry: o.maxEntry}, nil
	}
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) || o.unzipPath == "" {
		return nil, fmt.Errorf("open archive %s: %w", path, err)
	}

	o.logger.Debug("in-process zip reader failed, using unzip",
		slog.String("path", path), slog.Any("error", err))

	ua := &unzipArchive{opener: o, path: path}
	if lerr := ua.list(ctx); lerr != nil {
		return nil, fmt.Errorf("open archive %s: %w", path, errors.Join(err, lerr))
	}
	return ua, nil
}

type zipArchive struct {
	rc       *zip.ReadCloser
	maxEntry int64
}

func (a *zipArchive) Entries() []Entry {
	out := make([]Entry, 0, len(a.rc.File))
	for _, f := range a.rc.File {
		if f.FileInfo().IsDir() {
			continue
		}
		out = append(out, Entry{Name: f.Name, Size: int64(f.UncompressedSize64)}) //nolint:gosec // sizes fit
	}
	return out
}

func (a *zipArchive) ReadEntry(_ context.Context, name string) ([]byte, error) {
	for _, f := range a.rc.File {
		if f.Name == name {
			return readZipFile(f, a.maxEntry)
		}
	}
	return nil, fmt.Errorf("entry %s: %w", name, fs.ErrNotExist)
}

func (a *zipArchive) Close() error { return a.rc.Close() }

func readZipFile(f *zip.File, limit int64) ([]byte, error) {
	if f.UncompressedSize64 > uint64(limit) { //nolint:gosec // limit is positive
		return nil, fmt.Errorf("%s: %w", f.Name, ErrEntryTooLarge)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read entry %s: %w", f.Name, err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%s: %w", f.Name, ErrEntryTooLarge)
	}
	return data, nil
}

// unzipArchive shells out to unzip for listing and extraction.
type unzipArchive struct {
	opener  *Opener
	path    string
	entries []Entry
}

func (a *unzipArchive) list(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, a.opener.timeout)
	defer cancel()

	//nolint:gosec // binary path comes from configuration
	cmd := exec.CommandContext(ctx, a.opener.unzipPath, "-Z1", a.path)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return fmt.Errorf("unzip -Z1: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	sc := bufio.NewScanner(bytes.NewReader(out))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		name := strings.TrimRight(sc.Text(), "\r")
		if name == "" || strings.HasSuffix(name, "/") {
			continue
		}
		a.entries = append(a.entries, Entry{Name: name, Size: -1})
	}
	return sc.Err()
}

func (a *unzipArchive) Entries() []Entry { return a.entries }

func (a *unzipArchive) ReadEntry(ctx context.Context, name string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, a.opener.timeout)
	defer cancel()

	//nolint:gosec // binary path comes from configuration
	cmd := exec.CommandContext(ctx, a.opener.unzipPath, "-p", a.path, escapeWildcards(name))
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start unzip: %w", err)
	}

	limit := a.opener.maxEntry
	data, readErr := io.ReadAll(io.LimitReader(stdout, limit+1))
	if int64(len(data)) > limit {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, fmt.Errorf("%s: %w", name, ErrEntryTooLarge)
	}
	if err := cmd.Wait(); err != nil {
		return nil, fmt.Errorf("unzip -p %s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	if readErr != nil {
		return nil, fmt.Errorf("read unzip output: %w", readErr)
	}
	return data, nil
}

func (a *unzipArchive) Close() error { return nil }

// escapeWildcards stops unzip from treating entry names as patterns.
func escapeWildcards(name string) string {
	r := strings.NewReplacer(`[`, `\[`, `]`, `\]`, `*`, `\*`, `?`, `\?`)
	return r.Replace(name)
}
