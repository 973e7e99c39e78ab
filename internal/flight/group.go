// Package flight provides a typed, context-aware single-flight group.
//
// At most one call per key runs at a time; callers arriving while it runs
// share its result. The shared call is detached from the cancellation of
// whichever caller started it, so one client going away does not fail the
// others. Each caller still stops waiting when its own context ends.
package flight

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Group runs keyed calls returning V.
type Group[V any] struct {
	g      singleflight.Group
	mu     sync.Mutex
	active map[string]struct{}
}

// Do runs fn once per concurrent set of callers sharing key. shared reports
// whether the result was (or will be) handed to more than one caller.
func (g *Group[V]) Do(ctx context.Context, key string, fn func(context.Context) (V, error)) (v V, shared bool, err error) {
	detached := context.WithoutCancel(ctx)
	ch := g.g.DoChan(key, func() (any, error) {
		g.mark(key)
		defer g.unmark(key)
		return fn(detached)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return v, res.Shared, res.Err
		}
		return res.Val.(V), res.Shared, nil
	case <-ctx.Done():
		return v, false, ctx.Err()
	}
}

// InFlight reports whether a call for key is running.
func (g *Group[V]) InFlight(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.active[key]
	return ok
}

// Len returns the number of keys currently running.
func (g *Group[V]) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.active)
}

func (g *Group[V]) mark(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active == nil {
		g.active = make(map[string]struct{})
	}
	g.active[key] = struct{}{}
}

func (g *Group[V]) unmark(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.active, key)
}
