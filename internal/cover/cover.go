// Package cover extracts cover images from book files.
//
// Extractors are pure: they take the raw file bytes and return image bytes,
// or nil when nothing usable is found. They never return errors and never
// panic on malformed input; nil means "try the next source".
package cover

import (
	"path"
	"slices"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Kind is a document container family that may embed a cover.
type Kind int

const (
	// KindUnknown has no extractor.
	KindUnknown Kind = iota
	// KindFB2 is XML with inline base64 <binary> blocks.
	KindFB2
	// KindEPUB is a zip package described by an OPF manifest.
	KindEPUB
)

// ImageExtensions are the cover file types the cache stores.
var ImageExtensions = []string{"jpg", "png", "gif", "webp"}

// Strategy is one heuristic for finding a cover in a document.
type Strategy func(data []byte) []byte

// First runs strategies in order and returns the first non-empty result.
func First(data []byte, strategies ...Strategy) []byte {
	for _, s := range strategies {
		if img := s(data); len(img) > 0 {
			return img
		}
	}
	return nil
}

// KindFromName picks the container family from an entry name.
func KindFromName(name string) Kind {
	switch strings.ToLower(path.Ext(name)) {
	case ".fb2":
		return KindFB2
	case ".epub":
		return KindEPUB
	default:
		return KindUnknown
	}
}

// Extract dispatches to the extractor for kind.
func Extract(kind Kind, data []byte) []byte {
	switch kind {
	case KindFB2:
		return FromFB2(data)
	case KindEPUB:
		return FromEPUB(data)
	default:
		return nil
	}
}

// DetectImageType inspects magic bytes and returns the cache extension
// ("jpg", "png", "gif" or "webp"), or "" for anything else.
func DetectImageType(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	ext := strings.TrimPrefix(mimetype.Detect(data).Extension(), ".")
	if ext == "jpeg" {
		ext = "jpg"
	}
	if slices.Contains(ImageExtensions, ext) {
		return ext
	}
	return ""
}

// ContentType returns the MIME type for a cache extension.
func ContentType(ext string) string {
	switch ext {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}

func hasImageExt(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return true
	}
	return false
}
