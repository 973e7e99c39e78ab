// Package convert turns book files into other formats, either through an
// external converter (a local binary or a network service) or with the
// built-in FB2 to EPUB writer.
package convert

import (
	"context"
	"strings"
	"unicode/utf8"
)

// MinOutputSize is the smallest output treated as a real conversion.
// Anything at or below it is considered a failed run.
const MinOutputSize = 100

// maxErrorOutput bounds converter diagnostics carried on errors.
const maxErrorOutput = 500

// Job is one conversion request.
type Job struct {
	BookID int64
	Source string
	Target string
	Input  []byte
}

// Converter produces Job.Target bytes from Job.Input.
type Converter interface {
	Convert(ctx context.Context, job Job) ([]byte, error)
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	cut := s[:n]
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut
}

// limitedBuffer keeps the first max bytes written and drops the rest.
type limitedBuffer struct {
	buf []byte
	max int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.max - len(b.buf); room > 0 {
		b.buf = append(b.buf, p[:min(room, len(p))]...)
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string { return string(b.buf) }
