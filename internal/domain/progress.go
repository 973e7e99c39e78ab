package domain

import "time"

// PrecacheMode selects which book ids a bulk cover job walks.
type PrecacheMode string

const (
	// PrecacheRecent walks the newest ids.
	PrecacheRecent PrecacheMode = "recent"
	// PrecacheAll walks ids from the oldest.
	PrecacheAll PrecacheMode = "all"
	// PrecacheMissing walks the newest 2N ids and skips cached ones.
	// Older uncached covers are never reached.
	PrecacheMissing PrecacheMode = "missing"
)

// BulkProgress is a snapshot of the bulk cover job.
type BulkProgress struct {
	JobID         string       `json:"job_id,omitempty"`
	Active        bool         `json:"active"`
	Mode          PrecacheMode `json:"mode,omitempty"`
	Limit         int          `json:"limit"`
	Total         int          `json:"total"`
	Processed     int          `json:"processed"`
	Cached        int          `json:"cached"`
	Errors        int          `json:"errors"`
	StartedAt     time.Time    `json:"started_at,omitzero"`
	LastUpdatedAt time.Time    `json:"last_updated_at,omitzero"`
	Done          bool         `json:"done"`
}
