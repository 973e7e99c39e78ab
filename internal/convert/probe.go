package convert

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sadontsev/flibusta-sub001/internal/logger"
)

// ProbeTimeout bounds a single availability check.
const ProbeTimeout = 5 * time.Second

// ProbeFunc checks whether an external converter can be used.
type ProbeFunc func(ctx context.Context) error

// Prober remembers whether the external converter is usable. The first
// check decides for the lifetime of the process; failures are not retried.
type Prober struct {
	probe   ProbeFunc
	timeout time.Duration
	logger  *slog.Logger

	mu        sync.Mutex
	checked   bool
	available bool
}

// NewProber creates a Prober. A nil probe means no external converter is
// configured and Available always reports false.
func NewProber(probe ProbeFunc, log *slog.Logger) *Prober {
	return &Prober{probe: probe, timeout: ProbeTimeout, logger: logger.OrDiscard(log)}
}

// Available runs the probe once and returns the remembered answer.
// Concurrent first callers wait for the same check.
func (p *Prober) Available(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.checked {
		return p.available
	}
	if p.probe == nil {
		p.checked = true
		return false
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	err := p.probe(ctx)
	p.checked = true
	p.available = err == nil
	if err != nil {
		p.logger.Warn("external converter unavailable, using built-in fallback where possible",
			slog.Any("error", err))
	} else {
		p.logger.Info("external converter available")
	}
	return p.available
}
