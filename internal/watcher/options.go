package watcher

import (
	"path/filepath"
	"strings"
	"time"
)

// Options configures the file watcher behavior.
type Options struct {
	// Extensions limits events to files with these extensions (without the
	// dot, case-insensitive). Empty means every file.
	Extensions     []string
	IgnorePatterns []string
	// SettleDelay is how long a burst of events must be quiet before the
	// batch is delivered.
	SettleDelay  time.Duration
	IgnoreHidden bool
}

// setDefaults applies default values to unset options.
func (o *Options) setDefaults() {
	if o.SettleDelay == 0 {
		o.SettleDelay = 500 * time.Millisecond
	}

	// Partial downloads and temp files never describe a finished shard.
	if o.IgnorePatterns == nil {
		o.IgnorePatterns = []string{"*.tmp", "*.part", "*.crdownload", "*.swp"}
		o.IgnoreHidden = true
	}
}

// shouldIgnore checks if a path matches ignore patterns or has an unwanted
// extension.
func (o *Options) shouldIgnore(path string) bool {
	base := filepath.Base(path)
	if o.IgnoreHidden && strings.HasPrefix(base, ".") {
		return true
	}
	for _, pattern := range o.IgnorePatterns {
		if matched, err := filepath.Match(pattern, base); err == nil && matched {
			return true
		}
	}
	if len(o.Extensions) == 0 {
		return false
	}
	ext := strings.TrimPrefix(filepath.Ext(base), ".")
	for _, want := range o.Extensions {
		if strings.EqualFold(ext, want) {
			return false
		}
	}
	return true
}
