package providers

import (
	"context"

	"github.com/samber/do/v2"

	"github.com/sadontsev/flibusta-sub001/internal/archive"
	"github.com/sadontsev/flibusta-sub001/internal/config"
	"github.com/sadontsev/flibusta-sub001/internal/logger"
	"github.com/sadontsev/flibusta-sub001/internal/watcher"
)

// ArchiveWatcherHandle wraps the shard directory watcher with shutdown
// capability.
type ArchiveWatcherHandle struct {
	*watcher.Watcher
	cancel context.CancelFunc
}

// Shutdown implements do.Shutdownable.
func (h *ArchiveWatcherHandle) Shutdown() error {
	if h.Watcher == nil {
		return nil
	}
	h.cancel()
	return h.Watcher.Stop()
}

// ProvideArchiveWatcher watches the shard directory and drops the locator's
// listing whenever shards appear or disappear.
func ProvideArchiveWatcher(i do.Injector) (*ArchiveWatcherHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	locator := do.MustInvoke[*archive.Locator](i)
	events := do.MustInvoke[*EventManagerHandle](i)

	w, err := watcher.New(log.Logger, watcher.Options{Extensions: []string{"zip"}},
		func(batch []watcher.Event) {
			locator.Invalidate()
			paths := make([]string, 0, len(batch))
			for _, ev := range batch {
				if ev.Path != "" {
					paths = append(paths, ev.Path)
				}
			}
			events.ArchivesChanged(paths)
			log.Info("Archive directory changed", "events", len(batch))
		})
	if err != nil {
		return nil, err
	}

	if err := w.Watch(cfg.Archives.BooksPath); err != nil {
		// Without a watcher the listing still expires after the scan TTL.
		log.Warn("Archive directory not watched", "path", cfg.Archives.BooksPath, "error", err)
		_ = w.Stop()
		return &ArchiveWatcherHandle{}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := w.Start(ctx); err != nil {
			log.Error("Archive watcher error", "error", err)
		}
	}()

	log.Info("Archive watcher started", "path", cfg.Archives.BooksPath)
	return &ArchiveWatcherHandle{Watcher: w, cancel: cancel}, nil
}
