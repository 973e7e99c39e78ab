package service

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/sadontsev/flibusta-sub001/internal/domain"
	"github.com/sadontsev/flibusta-sub001/internal/errors"
)

// precacheJob owns the progress of one bulk run.
type precacheJob struct {
	mu sync.Mutex
	p  domain.BulkProgress
}

func newPrecacheJob(opts PrecacheOptions, total int) *precacheJob {
	id, err := gonanoid.New(12)
	if err != nil {
		id = fmt.Sprintf("job-%d", time.Now().UnixNano())
	}
	now := time.Now()
	return &precacheJob{p: domain.BulkProgress{
		JobID:         id,
		Active:        true,
		Mode:          opts.Mode,
		Limit:         opts.Limit,
		Total:         total,
		StartedAt:     now,
		LastUpdatedAt: now,
	}}
}

// Snapshot returns a copy of the progress.
func (j *precacheJob) Snapshot() domain.BulkProgress {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.p
}

func (j *precacheJob) active() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.p.Active
}

func (j *precacheJob) stop() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	was := j.p.Active
	j.p.Active = false
	j.p.LastUpdatedAt = time.Now()
	return was
}

func (j *precacheJob) record(cached bool, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.p.Processed++
	if err != nil {
		j.p.Errors++
	} else if cached {
		j.p.Cached++
	}
	j.p.LastUpdatedAt = time.Now()
}

func (j *precacheJob) finish() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.p.Active = false
	j.p.Done = true
	j.p.LastUpdatedAt = time.Now()
}

// PrecacheAll starts a bulk job in the background. started is false when a
// job is still running, here or in another process sharing the lock file. A
// stopped job counts as running until its current item completes.
// A failed candidate query is returned as an error and starts nothing.
// Stopping while candidates are still being selected starts nothing.
func (s *CoverService) PrecacheAll(ctx context.Context, opts PrecacheOptions) (bool, error) {
	if err := s.validator.Validate(opts); err != nil {
		return false, err
	}

	selectCtx, cancelSelect, ok, err := s.reserveBulk(ctx)
	if !ok || err != nil {
		return false, err
	}
	defer cancelSelect()

	// The slot is held, so the catalog query runs without s.mu.
	ids, err := s.candidates(selectCtx, opts)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelSelect = nil

	switch {
	case err != nil && selectCtx.Err() != nil && ctx.Err() == nil:
		s.releaseBulk()
		s.logger.Info("cover precache stopped before it started", slog.String("mode", string(opts.Mode)))
		return false, nil
	case err != nil:
		s.releaseBulk()
		return false, errors.Wrapf(err, errors.CodeInternal, "select %s precache candidates", opts.Mode)
	case s.ctx.Err() != nil:
		s.releaseBulk()
		return false, errors.Internalf("cover service is shutting down")
	}

	job := newPrecacheJob(opts, len(ids))
	s.job = job
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.report(job)
		s.runPrecache(job, ids)

		s.mu.Lock()
		s.releaseBulk()
		s.mu.Unlock()
		job.finish()
		s.report(job)
	}()

	s.logger.Info("cover precache started",
		slog.String("job_id", job.p.JobID),
		slog.String("mode", string(opts.Mode)),
		slog.Int("limit", opts.Limit),
		slog.Int("candidates", len(ids)))
	return true, nil
}

// reserveBulk claims the bulk slot and the cross-process lock. ok is false
// when either is already held.
func (s *CoverService) reserveBulk(ctx context.Context) (context.Context, context.CancelFunc, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx.Err() != nil {
		return nil, nil, false, errors.Internalf("cover service is shutting down")
	}
	if s.bulkAlive {
		return nil, nil, false, nil
	}
	if s.lock != nil {
		locked, err := s.lock.TryLock()
		if err != nil {
			return nil, nil, false, errors.Wrap(err, errors.CodeInternal, "acquire precache lock")
		}
		if !locked {
			s.logger.Info("cover precache already running in another process",
				slog.String("lock", s.lock.Path()))
			return nil, nil, false, nil
		}
	}

	s.bulkAlive = true
	selectCtx, cancel := context.WithCancel(ctx)
	s.cancelSelect = cancel
	return selectCtx, cancel, true, nil
}

// releaseBulk frees the slot and the lock file. Callers hold s.mu.
func (s *CoverService) releaseBulk() {
	s.unlockBulk()
	s.bulkAlive = false
}

// StopPrecaching asks the running job to stop after its current item, or
// abandons a job whose candidates are still being selected.
func (s *CoverService) StopPrecaching() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelSelect != nil {
		s.cancelSelect()
		return true
	}
	if s.job == nil {
		return false
	}
	return s.job.stop()
}

// Progress returns the current or last bulk job's progress.
func (s *CoverService) Progress() domain.BulkProgress {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.job == nil {
		return domain.BulkProgress{}
	}
	return s.job.Snapshot()
}

func (s *CoverService) candidates(ctx context.Context, opts PrecacheOptions) ([]int64, error) {
	if s.catalog == nil {
		return nil, errors.Internalf("no catalog configured")
	}
	switch opts.Mode {
	case domain.PrecacheRecent:
		return s.catalog.RecentBookIDs(ctx, opts.Limit)
	case domain.PrecacheAll:
		return s.catalog.OldestBookIDs(ctx, opts.Limit)
	case domain.PrecacheMissing:
		// Only the newest 2N ids are considered, so older gaps are not found.
		ids, err := s.catalog.RecentBookIDs(ctx, opts.Limit*2)
		if err != nil {
			return nil, err
		}
		missing := make([]int64, 0, opts.Limit)
		for _, id := range ids {
			if len(missing) == opts.Limit {
				break
			}
			if _, ok := s.IsCached(id); !ok {
				missing = append(missing, id)
			}
		}
		return missing, nil
	default:
		return nil, errors.Validationf("unknown precache mode %q", opts.Mode)
	}
}

func (s *CoverService) runPrecache(job *precacheJob, ids []int64) {
	for i, id := range ids {
		if !job.active() || s.ctx.Err() != nil {
			s.logger.Info("cover precache stopped",
				slog.String("job_id", job.p.JobID), slog.Int("processed", i))
			return
		}
		if s.limiter != nil {
			if err := s.limiter.Wait(s.ctx); err != nil {
				return
			}
		}

		p, err := s.ensure(s.ctx, id)
		if err != nil {
			s.logger.Debug("precache item failed", slog.Int64("book_id", id), slog.Any("error", err))
		}
		job.record(p != "", err)
		s.report(job)

		if (i+1)%yieldEvery == 0 {
			snap := job.Snapshot()
			s.logger.Debug("cover precache progress",
				slog.String("job_id", snap.JobID),
				slog.Int("processed", snap.Processed),
				slog.Int("cached", snap.Cached),
				slog.Int("errors", snap.Errors))
			runtime.Gosched()
		}
	}

	snap := job.Snapshot()
	s.logger.Info("cover precache finished",
		slog.String("job_id", snap.JobID),
		slog.Int("processed", snap.Processed),
		slog.Int("cached", snap.Cached),
		slog.Int("errors", snap.Errors))
}

func (s *CoverService) report(job *precacheJob) {
	s.mu.Lock()
	r := s.progress
	s.mu.Unlock()
	if r != nil {
		r.ReportProgress(job.Snapshot())
	}
}

func (s *CoverService) unlockBulk() {
	if s.lock == nil {
		return
	}
	if err := s.lock.Unlock(); err != nil {
		s.logger.Warn("failed to release precache lock", slog.Any("error", err))
	}
}
