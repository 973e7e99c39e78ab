// Package sse streams archive and cover-cache events to HTTP clients as
// server-sent events.
package sse

import (
	"time"

	"github.com/sadontsev/flibusta-sub001/internal/domain"
)

// EventType names an event on the wire.
type EventType string

const (
	EventConnected        EventType = "connected"
	EventHeartbeat        EventType = "heartbeat"
	EventPrecacheStarted  EventType = "precache.started"
	EventPrecacheProgress EventType = "precache.progress"
	EventPrecacheFinished EventType = "precache.finished"
	EventArchivesChanged  EventType = "archives.changed"
)

// Event is one message delivered to every connected client.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// ArchivesChangedData lists shard files that appeared, changed or vanished.
// An empty list means the whole directory should be considered changed.
type ArchivesChangedData struct {
	Paths []string `json:"paths"`
}

// NewEvent creates an event stamped with the current time.
func NewEvent(t EventType, data any) Event {
	return Event{Type: t, Timestamp: time.Now(), Data: data}
}

// NewHeartbeatEvent creates a keep-alive event.
func NewHeartbeatEvent() Event {
	return NewEvent(EventHeartbeat, nil)
}

// NewProgressEvent picks the event type matching a bulk job snapshot.
func NewProgressEvent(p domain.BulkProgress) Event {
	t := EventPrecacheProgress
	switch {
	case p.Done:
		t = EventPrecacheFinished
	case p.Processed == 0:
		t = EventPrecacheStarted
	}
	return NewEvent(t, p)
}
