package domain

import (
	"regexp"
	"slices"
	"strings"
)

// PrimaryFormat is the document format most books are stored in.
const PrimaryFormat = "fb2"

// CanonicalFormats is the fixed preference order used when a request does not
// name a format, or the named one is absent.
var CanonicalFormats = []string{
	PrimaryFormat, "epub", "mobi", "azw3", "pdf", "djvu", "doc", "docx", "rtf", "txt", "html",
}

var formatPattern = regexp.MustCompile(`^[a-z0-9]{2,5}$`)

// NormalizeFormat lower-cases a format name and strips a leading dot.
func NormalizeFormat(format string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(format)), ".")
}

// ValidFormat reports whether format is a plausible file extension.
func ValidFormat(format string) bool {
	return formatPattern.MatchString(NormalizeFormat(format))
}

// FormatRank is the position of format in CanonicalFormats; unknown formats
// sort after every canonical one.
func FormatRank(format string) int {
	if i := slices.Index(CanonicalFormats, NormalizeFormat(format)); i >= 0 {
		return i
	}
	return len(CanonicalFormats)
}

// CandidateExtensions returns the de-duplicated extension list tried when
// matching archive entries: shard tag, requested format, then canonical order.
func CandidateExtensions(shardTag, requested string) []string {
	out := make([]string, 0, len(CanonicalFormats)+2)
	seen := make(map[string]bool, len(CanonicalFormats)+2)
	add := func(f string) {
		f = NormalizeFormat(f)
		if f == "" || seen[f] {
			return
		}
		seen[f] = true
		out = append(out, f)
	}
	add(shardTag)
	add(requested)
	for _, f := range CanonicalFormats {
		add(f)
	}
	return out
}
