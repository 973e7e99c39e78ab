package domain

import "strings"

// ArchiveShard is one zip archive containing a contiguous range of book ids.
type ArchiveShard struct {
	Filename     string `json:"filename"`
	StartID      int64  `json:"start_id"`
	EndID        int64  `json:"end_id"`
	FormatTag    string `json:"format_tag"`
	IsUserFormat bool   `json:"is_user_format"`
}

// Valid reports whether the range is well formed.
func (s ArchiveShard) Valid() bool {
	return s.Filename != "" && s.StartID <= s.EndID
}

// Contains reports whether bookID falls inside the shard range.
func (s ArchiveShard) Contains(bookID int64) bool {
	return s.StartID <= bookID && bookID <= s.EndID
}

// Width is the number of ids the shard spans.
func (s ArchiveShard) Width() int64 {
	return s.EndID - s.StartID
}

// userFormatTags mark shards of user-contributed files in arbitrary formats.
var userFormatTags = map[string]bool{"n": true, "usr": true, "user": true}

// IsUserFormatTag reports whether tag names a user-contributed shard.
func IsUserFormatTag(tag string) bool {
	return userFormatTags[strings.ToLower(tag)]
}

// ShardPreference orders shards that may serve requested: a tag equal to the
// requested format first, then canonical format rank, then public before
// user-contributed. Shards it cannot tell apart compare equal.
func ShardPreference(requested string) func(a, b ArchiveShard) int {
	requested = NormalizeFormat(requested)
	return func(a, b ArchiveShard) int {
		am := requested != "" && NormalizeFormat(a.FormatTag) == requested
		bm := requested != "" && NormalizeFormat(b.FormatTag) == requested
		if am != bm {
			if am {
				return -1
			}
			return 1
		}
		if ra, rb := FormatRank(a.FormatTag), FormatRank(b.FormatTag); ra != rb {
			return ra - rb
		}
		if a.IsUserFormat != b.IsUserFormat {
			if !a.IsUserFormat {
				return -1
			}
			return 1
		}
		return 0
	}
}

// ShardLess is ShardPreference with file name as the final tie-break.
func ShardLess(requested string) func(a, b ArchiveShard) int {
	pref := ShardPreference(requested)
	return func(a, b ArchiveShard) int {
		if c := pref(a, b); c != 0 {
			return c
		}
		return strings.Compare(a.Filename, b.Filename)
	}
}
