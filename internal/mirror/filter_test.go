package mirror

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/spmirror/spmirror/internal/config"
)

func TestFilter_SizeCap(t *testing.T) {
	t.Parallel()

	f := NewFilter(&config.SyncConfig{MaxFileSizeMB: 1})

	assert.True(t, f.Evaluate("/a.txt", "a.txt", 1024*1024).Allowed)

	d := f.Evaluate("/a.txt", "a.txt", 1024*1024+1)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonTooLarge, d.Reason)

	// Zero disables the cap.
	unlimited := NewFilter(&config.SyncConfig{})
	assert.True(t, unlimited.Evaluate("/huge.bin", "huge.bin", 1<<40).Allowed)
}

func TestFilter_ExtensionAllowList(t *testing.T) {
	t.Parallel()

	f := NewFilter(&config.SyncConfig{IncludeExtensions: []string{"pdf", "DOCX"}})

	assert.True(t, f.Evaluate("/r.pdf", "r.pdf", 1).Allowed)
	assert.True(t, f.Evaluate("/r.PDF", "r.PDF", 1).Allowed, "extension match is case-insensitive")
	assert.True(t, f.Evaluate("/r.docx", "r.docx", 1).Allowed)

	d := f.Evaluate("/r.txt", "r.txt", 1)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonExtNotIncluded, d.Reason)

	d = f.Evaluate("/noext", "noext", 1)
	assert.False(t, d.Allowed)
}

func TestFilter_ExtensionDenyList(t *testing.T) {
	t.Parallel()

	f := NewFilter(&config.SyncConfig{ExcludeExtensions: []string{"tmp", "log"}})

	assert.True(t, f.Evaluate("/a.txt", "a.txt", 1).Allowed)

	d := f.Evaluate("/a.tmp", "a.tmp", 1)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonExtExcluded, d.Reason)
}

func TestFilter_PathPrefixAtBoundary(t *testing.T) {
	t.Parallel()

	f := NewFilter(&config.SyncConfig{IncludePaths: []string{"/Reports"}})

	assert.True(t, f.Evaluate("/Reports", "Reports", 1).Allowed)
	assert.True(t, f.Evaluate("/Reports/q1.pdf", "q1.pdf", 1).Allowed)
	assert.True(t, f.Evaluate("/Reports/2024/q1.pdf", "q1.pdf", 1).Allowed)

	// "/Reports2" shares the string prefix but not the path boundary.
	d := f.Evaluate("/Reports2/q1.pdf", "q1.pdf", 1)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonPathNotIncluded, d.Reason)

	d = f.Evaluate("/Other/q1.pdf", "q1.pdf", 1)
	assert.False(t, d.Allowed)
}

func TestFilter_PatternsFirstMatchWins(t *testing.T) {
	t.Parallel()

	f := NewFilter(&config.SyncConfig{PathPatterns: []string{
		"!draft-*",
		"*.pdf",
		"/Archive/*.txt",
	}})

	// Plain pattern accepts.
	assert.True(t, f.Evaluate("/x/report.pdf", "report.pdf", 1).Allowed)

	// Exclusion wins when it matches first, even for an otherwise-accepted extension.
	d := f.Evaluate("/x/draft-report.pdf", "draft-report.pdf", 1)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonPatternExcluded, d.Reason)

	// Slash patterns match against the full path.
	assert.True(t, f.Evaluate("/Archive/old.txt", "old.txt", 1).Allowed)

	// No pattern matched — reject.
	d = f.Evaluate("/Archive/deep/old.txt", "old.txt", 1)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonNoPatternMatch, d.Reason)

	d = f.Evaluate("/x/notes.md", "notes.md", 1)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonNoPatternMatch, d.Reason)
}

func TestFilter_EmptyConfigAcceptsEverything(t *testing.T) {
	t.Parallel()

	f := NewFilter(&config.SyncConfig{})

	assert.True(t, f.Evaluate("/anything/at/all.xyz", "all.xyz", 123).Allowed)
	assert.True(t, f.Evaluate("/noext", "noext", 0).Allowed)
}

func TestFilter_CascadeOrder(t *testing.T) {
	t.Parallel()

	// Size is checked before extensions: an oversized pdf reports too_large.
	f := NewFilter(&config.SyncConfig{
		MaxFileSizeMB:     1,
		IncludeExtensions: []string{"pdf"},
	})

	d := f.Evaluate("/big.pdf", "big.pdf", 2*1024*1024)
	assert.Equal(t, ReasonTooLarge, d.Reason)
}
