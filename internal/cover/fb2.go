package cover

import (
	"encoding/base64"
	"regexp"
	"strings"
)

var (
	binaryBlock = regexp.MustCompile(`(?is)<binary\b([^>]*)>(.*?)</binary\s*>`)
	xmlAttr     = regexp.MustCompile(`(?s)([\w:.-]+)\s*=\s*(?:"([^"]*)"|'([^']*)')`)
	base64Space = regexp.MustCompile(`\s+`)
	coverpage   = regexp.MustCompile(`(?is)<coverpage\b[^>]*>(.*?)</coverpage\s*>`)
	imageHref   = regexp.MustCompile(`(?is)<image\b[^>]*?\s[\w.-]*:?href\s*=\s*(?:"([^"]*)"|'([^']*)')`)
)

var imageIDHints = []string{".jpg", ".jpeg", ".png", ".gif", ".webp"}

type binary struct {
	id          string
	contentType string
	payload     string
}

// FromFB2 finds a cover among the document's <binary> blocks.
func FromFB2(data []byte) []byte {
	blocks := parseBinaries(data)
	if len(blocks) == 0 {
		return nil
	}
	ref := coverpageRef(data)
	return First(data,
		pick(blocks, func(b binary) bool { return ref != "" && b.id == ref }),
		pick(blocks, func(b binary) bool { return ref != "" && strings.EqualFold(b.id, ref) }),
		pick(blocks, func(b binary) bool { return strings.Contains(strings.ToLower(b.id), "cover") }),
		pick(blocks, func(b binary) bool { return strings.HasPrefix(strings.ToLower(b.contentType), "image/") }),
		pick(blocks, func(b binary) bool {
			id := strings.ToLower(b.id)
			if strings.Contains(id, "cover") {
				return true
			}
			for _, h := range imageIDHints {
				if strings.Contains(id, h) {
					return true
				}
			}
			return false
		}),
	)
}

// coverpageRef returns the binary id named by the first image inside
// <coverpage>, without the leading '#'.
func coverpageRef(data []byte) string {
	m := coverpage.FindSubmatch(data)
	if m == nil {
		return ""
	}
	img := imageHref.FindSubmatch(m[1])
	if img == nil {
		return ""
	}
	ref := string(img[1])
	if ref == "" {
		ref = string(img[2])
	}
	return strings.TrimPrefix(strings.TrimSpace(ref), "#")
}

// pick returns a strategy yielding the first matching block that decodes.
// Blocks with broken payloads are skipped.
func pick(blocks []binary, ok func(binary) bool) Strategy {
	return func([]byte) []byte {
		for _, b := range blocks {
			if !ok(b) {
				continue
			}
			if img := decodeBase64(b.payload); img != nil {
				return img
			}
		}
		return nil
	}
}

func parseBinaries(data []byte) []binary {
	matches := binaryBlock.FindAllSubmatch(data, -1)
	out := make([]binary, 0, len(matches))
	for _, m := range matches {
		b := binary{payload: string(m[2])}
		for _, a := range xmlAttr.FindAllSubmatch(m[1], -1) {
			val := string(a[2])
			if val == "" {
				val = string(a[3])
			}
			switch strings.ToLower(string(a[1])) {
			case "id":
				b.id = val
			case "content-type":
				b.contentType = val
			}
		}
		out = append(out, b)
	}
	return out
}

func decodeBase64(s string) []byte {
	clean := base64Space.ReplaceAllString(s, "")
	if clean == "" {
		return nil
	}
	if out, err := base64.StdEncoding.DecodeString(clean); err == nil && len(out) > 0 {
		return out
	}
	if out, err := base64.RawStdEncoding.DecodeString(strings.TrimRight(clean, "=")); err == nil && len(out) > 0 {
		return out
	}
	return nil
}
