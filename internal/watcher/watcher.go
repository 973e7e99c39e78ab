// Package watcher reports changes to the archive shard directory so that
// cached directory listings can be dropped.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/sadontsev/flibusta-sub001/internal/logger"
)

// Handler receives a settled batch of events.
type Handler func(events []Event)

// Watcher monitors directories (not recursively) and delivers debounced
// batches of events to a handler.
type Watcher struct {
	logger  *slog.Logger
	opts    Options
	fsw     *fsnotify.Watcher
	handler Handler

	mu      sync.Mutex
	pending []Event
	timer   *time.Timer

	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

// New creates a watcher; handler is called from the watcher's goroutine.
func New(log *slog.Logger, opts Options, handler Handler) (*Watcher, error) {
	opts.setDefaults()
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	return &Watcher{
		logger:  logger.OrDiscard(log),
		opts:    opts,
		fsw:     fsw,
		handler: handler,
		done:    make(chan struct{}),
	}, nil
}

// Watch adds a directory.
func (w *Watcher) Watch(dir string) error {
	dir = filepath.Clean(dir)
	if err := w.fsw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.logger.Debug("added watch", slog.String("path", dir))
	return nil
}

// Start processes events until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.wg.Add(1)
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.done:
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				// Events were lost; report a catch-all change.
				w.enqueue(Event{Type: EventModified, Path: "", Time: time.Now()})
				continue
			}
			w.logger.Warn("watcher error", slog.Any("error", err))
		}
	}
}

// Stop stops the watcher and releases resources. Pending events are
// dropped.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.pending = nil
		w.mu.Unlock()
		err = w.fsw.Close()
		w.wg.Wait()
	})
	return err
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if w.opts.shouldIgnore(ev.Name) {
		return
	}
	var t EventType
	switch {
	case ev.Has(fsnotify.Create):
		t = EventAdded
	case ev.Has(fsnotify.Remove):
		t = EventRemoved
	case ev.Has(fsnotify.Rename):
		t = EventMoved
	case ev.Has(fsnotify.Write):
		t = EventModified
	default:
		return
	}
	w.enqueue(Event{Type: t, Path: ev.Name, Time: time.Now()})
}

func (w *Watcher) enqueue(ev Event) {
	w.mu.Lock()
	defer w.mu.Unlock()

	select {
	case <-w.done:
		return
	default:
	}

	w.pending = append(w.pending, ev)
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.opts.SettleDelay, w.flush)
}

func (w *Watcher) flush() {
	w.mu.Lock()
	batch := w.pending
	w.pending = nil
	w.mu.Unlock()

	if len(batch) == 0 || w.handler == nil {
		return
	}
	w.logger.Debug("archive directory changed", slog.Int("events", len(batch)))
	w.handler(batch)
}
