package providers

import (
	"context"

	"github.com/samber/do/v2"

	"github.com/sadontsev/flibusta-sub001/internal/logger"
	"github.com/sadontsev/flibusta-sub001/internal/sse"
)

// EventManagerHandle wraps the SSE manager with shutdown capability.
type EventManagerHandle struct {
	*sse.Manager
	cancel context.CancelFunc
}

// Shutdown implements do.Shutdownable.
func (h *EventManagerHandle) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := h.Manager.Shutdown(ctx)
	h.cancel()
	return err
}

// ProvideEventManager provides the SSE manager and starts its broadcast loop.
func ProvideEventManager(i do.Injector) (*EventManagerHandle, error) {
	log := do.MustInvoke[*logger.Logger](i)

	m := sse.NewManager(log.Logger)
	ctx, cancel := context.WithCancel(context.Background())
	go m.Start(ctx)

	return &EventManagerHandle{Manager: m, cancel: cancel}, nil
}
