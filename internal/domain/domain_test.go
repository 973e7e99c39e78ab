package domain

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCandidateExtensions(t *testing.T) {
	got := CandidateExtensions("FB2", "epub")
	assert.Equal(t, "fb2", got[0])
	assert.Equal(t, "epub", got[1])
	assert.Len(t, got, len(CanonicalFormats), "duplicates must be dropped")

	got = CandidateExtensions("n", "")
	assert.Equal(t, "n", got[0])
	assert.Equal(t, CanonicalFormats, got[1:])
}

func TestShardLess(t *testing.T) {
	shards := []ArchiveShard{
		{Filename: "f.n.100-199.zip", StartID: 100, EndID: 199, FormatTag: "n", IsUserFormat: true},
		{Filename: "f.fb2.100-199.zip", StartID: 100, EndID: 199, FormatTag: "fb2"},
		{Filename: "f.epub.100-199.zip", StartID: 100, EndID: 199, FormatTag: "epub"},
		{Filename: "a.fb2.100-199.zip", StartID: 100, EndID: 199, FormatTag: "fb2"},
	}

	t.Run("canonical order without request", func(t *testing.T) {
		s := slices.Clone(shards)
		slices.SortFunc(s, ShardLess(""))
		assert.Equal(t, []string{"a.fb2.100-199.zip", "f.fb2.100-199.zip", "f.epub.100-199.zip", "f.n.100-199.zip"}, names(s))
	})

	t.Run("requested format first", func(t *testing.T) {
		s := slices.Clone(shards)
		slices.SortFunc(s, ShardLess("EPUB"))
		assert.Equal(t, "f.epub.100-199.zip", s[0].Filename)
	})

	t.Run("public before user with same tag", func(t *testing.T) {
		s := []ArchiveShard{
			{Filename: "a.zip", FormatTag: "fb2", IsUserFormat: true},
			{Filename: "b.zip", FormatTag: "fb2"},
		}
		slices.SortFunc(s, ShardLess(""))
		assert.Equal(t, "b.zip", s[0].Filename)
	})
}

func TestShardContains(t *testing.T) {
	s := ArchiveShard{Filename: "x.zip", StartID: 10, EndID: 20}
	assert.True(t, s.Valid())
	assert.True(t, s.Contains(10))
	assert.True(t, s.Contains(20))
	assert.False(t, s.Contains(21))
	assert.False(t, ArchiveShard{Filename: "x.zip", StartID: 5, EndID: 4}.Valid())
}

func TestValidFormat(t *testing.T) {
	assert.True(t, ValidFormat("epub"))
	assert.True(t, ValidFormat(".AZW3"))
	assert.False(t, ValidFormat("../etc"))
	assert.False(t, ValidFormat(""))
}

func names(s []ArchiveShard) []string {
	out := make([]string, len(s))
	for i := range s {
		out[i] = s[i].Filename
	}
	return out
}
