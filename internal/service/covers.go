package service

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/sadontsev/flibusta-sub001/internal/config"
	"github.com/sadontsev/flibusta-sub001/internal/cover"
	"github.com/sadontsev/flibusta-sub001/internal/diskcache"
	"github.com/sadontsev/flibusta-sub001/internal/domain"
	"github.com/sadontsev/flibusta-sub001/internal/errors"
	"github.com/sadontsev/flibusta-sub001/internal/flight"
	"github.com/sadontsev/flibusta-sub001/internal/logger"
	"github.com/sadontsev/flibusta-sub001/internal/store"
	"github.com/sadontsev/flibusta-sub001/internal/validation"
)

const (
	// minCoverSize rejects images too small to be a real cover.
	minCoverSize = 100

	// yieldEvery is how often the bulk job lets other work through.
	yieldEvery = 25
)

// CoverCatalog is the part of the catalog the cover cache needs.
type CoverCatalog interface {
	CoverEntry(ctx context.Context, bookID int64) (store.CoverEntry, bool, error)
	RecentBookIDs(ctx context.Context, limit int) ([]int64, error)
	OldestBookIDs(ctx context.Context, limit int) ([]int64, error)
}

// NamedReader extracts a known entry from an archive.
type NamedReader interface {
	ReadNamed(ctx context.Context, archivePath, entry string) ([]byte, error)
}

// CoverServiceConfig tunes the cover cache.
type CoverServiceConfig struct {
	// CoverArchivesPath holds dedicated cover archives.
	CoverArchivesPath string
	// Concurrency bounds background extraction; 0 is the default, other
	// values are clamped with config.ClampConcurrency.
	Concurrency int
	// PrecacheRate paces the bulk job in items per second; 0 is unpaced.
	PrecacheRate float64
	// LockPath, when set, is a lock file that keeps bulk jobs exclusive
	// across processes sharing the cache.
	LockPath string
}

// PrecacheOptions selects the ids a bulk job walks.
type PrecacheOptions struct {
	Limit int                 `json:"limit" validate:"min=1,max=100000"`
	Mode  domain.PrecacheMode `json:"mode" validate:"required,oneof=recent all missing"`
}

// CoverStats is a snapshot of the cover cache.
type CoverStats struct {
	Queued      int                 `json:"queued"`
	Running     int                 `json:"running"`
	InFlight    int                 `json:"in_flight"`
	CachedFiles int                 `json:"cached_files"`
	CachedBytes int64               `json:"cached_bytes"`
	Bulk        domain.BulkProgress `json:"bulk"`
}

// CoverService materialises cover images into the cover cache, on demand
// and in bulk.
type CoverService struct {
	catalog   CoverCatalog
	books     BookSource
	named     NamedReader
	cache     *diskcache.Cache
	cfg       CoverServiceConfig
	validator *validation.Validator
	logger    *slog.Logger

	flight  flight.Group[string]
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	lock    *flock.Flock

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	pending map[int64]struct{}
	running int
	job     *precacheJob
	// bulkAlive is true from candidate selection until the job's loop has
	// returned.
	bulkAlive    bool
	cancelSelect context.CancelFunc
	cron      *cron.Cron
	progress  ProgressReporter
}

// ProgressReporter receives bulk job snapshots as they change.
type ProgressReporter interface {
	ReportProgress(p domain.BulkProgress)
}

// NewCoverService creates a cover service. catalog and named may be nil when
// no dedicated cover archives exist.
func NewCoverService(
	catalog CoverCatalog,
	books BookSource,
	named NamedReader,
	cache *diskcache.Cache,
	cfg CoverServiceConfig,
	log *slog.Logger,
) *CoverService {
	if cfg.Concurrency == 0 {
		cfg.Concurrency = config.DefaultCoverConcurrency
	}
	cfg.Concurrency = config.ClampConcurrency(cfg.Concurrency)
	ctx, cancel := context.WithCancel(context.Background())

	s := &CoverService{
		catalog:   catalog,
		books:     books,
		named:     named,
		cache:     cache,
		cfg:       cfg,
		validator: validation.New(),
		logger:    logger.OrDiscard(log),
		sem:       semaphore.NewWeighted(int64(cfg.Concurrency)),
		ctx:       ctx,
		cancel:    cancel,
		pending:   make(map[int64]struct{}),
	}
	if cfg.PrecacheRate > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.PrecacheRate), 1)
	}
	if cfg.LockPath != "" {
		s.lock = flock.New(cfg.LockPath)
	}
	return s
}

// SetProgressReporter sets where bulk job snapshots are published.
func (s *CoverService) SetProgressReporter(r ProgressReporter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = r
}

// IsCached returns the cached cover path for bookID, if any.
func (s *CoverService) IsCached(bookID int64) (string, bool) {
	p, _, ok := s.cache.Lookup(bookID, cover.ImageExtensions...)
	return p, ok
}

// EnsureCached returns the path of the cached cover, extracting it first if
// needed. ok is false when the book has no usable cover or extraction
// failed; failures are logged.
func (s *CoverService) EnsureCached(ctx context.Context, bookID int64) (string, bool) {
	p, err := s.ensure(ctx, bookID)
	if err != nil {
		s.logger.Warn("cover extraction failed", slog.Int64("book_id", bookID), slog.Any("error", err))
		return "", false
	}
	return p, p != ""
}

// CoverImage is a cached cover ready to serve.
type CoverImage struct {
	Ext  string
	ETag string
	Data []byte
}

// Cover returns the cached cover for bookID, extracting it first if needed.
func (s *CoverService) Cover(ctx context.Context, bookID int64) (CoverImage, bool) {
	p, ok := s.EnsureCached(ctx, bookID)
	if !ok {
		return CoverImage{}, false
	}
	ext := strings.TrimPrefix(filepath.Ext(p), ".")
	data, err := s.cache.Read(bookID, ext)
	if err != nil {
		s.logger.Warn("cached cover unreadable", slog.Int64("book_id", bookID), slog.Any("error", err))
		return CoverImage{}, false
	}
	return CoverImage{Ext: ext, ETag: diskcache.Sum(data), Data: data}, true
}

// ensure returns "" with a nil error when the book simply has no cover.
func (s *CoverService) ensure(ctx context.Context, bookID int64) (string, error) {
	if bookID <= 0 {
		return "", nil
	}
	if p, ok := s.IsCached(bookID); ok {
		return p, nil
	}
	p, _, err := s.flight.Do(ctx, strconv.FormatInt(bookID, 10), func(ctx context.Context) (string, error) {
		return s.extract(ctx, bookID)
	})
	return p, err
}

func (s *CoverService) extract(ctx context.Context, bookID int64) (string, error) {
	// Another caller may have finished while we waited for the key.
	if p, ok := s.IsCached(bookID); ok {
		return p, nil
	}

	if img := s.fromCoverArchive(ctx, bookID); img != nil {
		return s.store(bookID, img, "cover archive")
	}

	book, err := s.books.GetBookBytes(ctx, bookID, "")
	if err != nil {
		if errors.Is(err, errors.ErrArchiveNotFound) || errors.Is(err, errors.ErrEntryNotFound) {
			s.logger.Debug("no book file for cover", slog.Int64("book_id", bookID), slog.Any("error", err))
			return "", nil
		}
		return "", err
	}

	img := cover.Extract(cover.KindFromName(book.Name), book.Data)
	if !plausibleCover(img) {
		s.logger.Debug("no usable cover in book file",
			slog.Int64("book_id", bookID), slog.String("entry", book.Name))
		return "", nil
	}
	return s.store(bookID, img, book.Format)
}

func (s *CoverService) fromCoverArchive(ctx context.Context, bookID int64) []byte {
	if s.catalog == nil || s.named == nil || s.cfg.CoverArchivesPath == "" {
		return nil
	}
	entry, ok, err := s.catalog.CoverEntry(ctx, bookID)
	if err != nil {
		s.logger.Warn("cover entry lookup failed", slog.Int64("book_id", bookID), slog.Any("error", err))
		return nil
	}
	if !ok {
		return nil
	}
	img, err := s.named.ReadNamed(ctx, filepath.Join(s.cfg.CoverArchivesPath, entry.Archive), entry.Entry)
	if err != nil {
		s.logger.Debug("cover archive entry unavailable",
			slog.Int64("book_id", bookID), slog.String("archive", entry.Archive), slog.Any("error", err))
		return nil
	}
	if !plausibleCover(img) {
		return nil
	}
	return img
}

func (s *CoverService) store(bookID int64, img []byte, source string) (string, error) {
	ext := cover.DetectImageType(img)
	p, err := s.cache.Write(bookID, ext, img)
	if err != nil {
		return "", fmt.Errorf("cache cover for book %d: %w", bookID, err)
	}
	s.logger.Debug("cached cover",
		slog.Int64("book_id", bookID),
		slog.String("source", source),
		slog.String("ext", ext),
		slog.Int("bytes", len(img)))
	return p, nil
}

// plausibleCover accepts images of a known type whose header decodes to a
// non-empty size.
func plausibleCover(img []byte) bool {
	if len(img) < minCoverSize || cover.DetectImageType(img) == "" {
		return false
	}
	w, h, err := cover.Dimensions(img)
	return err == nil && w > 0 && h > 0
}

// Schedule queues a background EnsureCached. It returns false when the cover
// is already cached or a request for the same book is queued or running.
func (s *CoverService) Schedule(bookID int64) bool {
	if bookID <= 0 {
		return false
	}
	if _, ok := s.IsCached(bookID); ok {
		return false
	}

	s.mu.Lock()
	if _, ok := s.pending[bookID]; ok || s.flight.InFlight(strconv.FormatInt(bookID, 10)) {
		s.mu.Unlock()
		return false
	}
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		return false
	}
	s.pending[bookID] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.pending, bookID)
			s.mu.Unlock()
		}()

		if err := s.sem.Acquire(s.ctx, 1); err != nil {
			return
		}
		defer s.sem.Release(1)

		s.mu.Lock()
		s.running++
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			s.running--
			s.mu.Unlock()
		}()

		s.EnsureCached(s.ctx, bookID)
	}()
	return true
}

// Stats returns a snapshot of the pool, the bulk job and the cache.
func (s *CoverService) Stats() CoverStats {
	s.mu.Lock()
	st := CoverStats{
		Queued:   len(s.pending) - s.running,
		Running:  s.running,
		InFlight: s.flight.Len(),
	}
	if s.job != nil {
		st.Bulk = s.job.Snapshot()
	}
	s.mu.Unlock()

	files, size, err := s.cache.Usage()
	if err != nil {
		s.logger.Warn("cover cache usage unavailable", slog.Any("error", err))
	}
	st.CachedFiles, st.CachedBytes = files, size
	return st
}

// StartSchedule runs a missing-mode bulk job on a cron schedule.
func (s *CoverService) StartSchedule(expr string, limit int) error {
	c := cron.New()
	_, err := c.AddFunc(expr, func() {
		started, err := s.PrecacheAll(s.ctx, PrecacheOptions{Limit: limit, Mode: domain.PrecacheMissing})
		switch {
		case err != nil:
			s.logger.Warn("scheduled cover precache failed", slog.Any("error", err))
		case !started:
			s.logger.Info("scheduled cover precache skipped, a job is already running")
		}
	})
	if err != nil {
		return errors.Validationf("invalid precache schedule %q: %v", expr, err)
	}

	s.mu.Lock()
	if s.cron != nil {
		s.cron.Stop()
	}
	s.cron = c
	s.mu.Unlock()

	c.Start()
	s.logger.Info("cover precache scheduled", slog.String("schedule", expr), slog.Int("limit", limit))
	return nil
}

// Shutdown stops the schedule and the bulk job and waits for background
// work, up to ctx.
func (s *CoverService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	if s.job != nil {
		s.job.stop()
	}
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("cover service shutdown: %w", ctx.Err())
	}
}
