package watcher

import "time"

// EventType classifies a change to a watched archive file.
type EventType int

const (
	EventAdded EventType = iota
	EventModified
	EventRemoved
	// EventMoved means the file was renamed away; the new name, if still
	// watched, arrives as EventAdded.
	EventMoved
)

var eventNames = [...]string{"added", "modified", "removed", "moved"}

func (t EventType) String() string {
	if t < 0 || int(t) >= len(eventNames) {
		return "unknown"
	}
	return eventNames[t]
}

// Event is one settled change. Path is empty when the kernel queue
// overflowed and the whole directory must be assumed changed.
type Event struct {
	Type EventType
	Path string
	Time time.Time
}
