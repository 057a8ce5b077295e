package core

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputePath(t *testing.T) {
	tests := []struct {
		name       string
		node       string
		parentPath string
		expected   string
	}{
		{"root level", "Docs", "", "/Docs"},
		{"nested", "Work", "/Docs", "/Docs/Work"},
		{"deeply nested", "2024", "/Docs/Work/Reports", "/Docs/Work/Reports/2024"},
		{"name with spaces", "My Files", "/Docs", "/Docs/My Files"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ComputePath(tt.node, tt.parentPath))
		})
	}
}

func TestIsDescendantPath(t *testing.T) {
	tests := []struct {
		name      string
		candidate string
		ancestor  string
		expected  bool
	}{
		{"same path", "/A", "/A", true},
		{"direct child", "/A/B", "/A", true},
		{"grandchild", "/A/B/C", "/A", true},
		{"shared prefix is not a descendant", "/AB", "/A", false},
		{"shared prefix below", "/AB/C", "/A", false},
		{"ancestor is not a descendant of its child", "/A", "/A/B", false},
		{"sibling", "/B", "/A", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsDescendantPath(tt.candidate, tt.ancestor))
		})
	}

	t.Run("strict excludes self", func(t *testing.T) {
		assert.False(t, IsStrictDescendantPath("/A", "/A"))
		assert.True(t, IsStrictDescendantPath("/A/B", "/A"))
	})
}

func TestRebasePath(t *testing.T) {
	got, ok := RebasePath("/Docs/Work/2024", "/Docs", "/Documents")
	require.True(t, ok)
	assert.Equal(t, "/Documents/Work/2024", got)

	got, ok = RebasePath("/Docsx/Work", "/Docs", "/Documents")
	assert.False(t, ok)
	assert.Equal(t, "/Docsx/Work", got)
}

func TestPropagatePathRename(t *testing.T) {
	t.Run("rewrites every descendant once", func(t *testing.T) {
		entries := []PathEntry{
			{ID: "work", Path: "/Docs/Work"},
			{ID: "deep", Path: "/Docs/Work/Docs"},
			{ID: "other", Path: "/Docsy"},
		}

		updated := PropagatePathRename("/Docs", "/Documents", entries)

		require.Len(t, updated, 2)
		assert.Equal(t, PathEntry{ID: "work", Path: "/Documents/Work"}, updated[0])
		// The inner "Docs" segment is not a prefix and must survive untouched.
		assert.Equal(t, PathEntry{ID: "deep", Path: "/Documents/Work/Docs"}, updated[1])
	})

	t.Run("new path nested under old path does not double prefix", func(t *testing.T) {
		entries := []PathEntry{{ID: "child", Path: "/A/child"}}

		updated := PropagatePathRename("/A", "/A/A", entries)

		require.Len(t, updated, 1)
		assert.Equal(t, "/A/A/child", updated[0].Path)
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Empty(t, PropagatePathRename("/A", "/B", nil))
	})
}

func TestValidateName(t *testing.T) {
	valid := []string{"Docs", "report.pdf", "My Files", strings.Repeat("a", MaxNameLength), strings.Repeat("é", MaxNameLength), "ünïcødé"}
	for _, name := range valid {
		assert.NoError(t, ValidateName(name), name)
	}

	invalid := []string{"", "   ", "a/b", ".", "..", strings.Repeat("a", MaxNameLength+1), "nul\x00", "bad\xffname", "\xc3"}
	for _, name := range invalid {
		err := ValidateName(name)
		require.Error(t, err, "%q", name)
		var nameErr *NameError
		assert.ErrorAs(t, err, &nameErr)
	}
}

func TestParentPathAndDepth(t *testing.T) {
	assert.Equal(t, "", ParentPath("/Docs"))
	assert.Equal(t, "/Docs", ParentPath("/Docs/Work"))
	assert.Equal(t, 1, Depth("/Docs"))
	assert.Equal(t, 3, Depth("/Docs/Work/2024"))
}

func TestDisambiguateName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		attempt  int
		keepExt  bool
		expected string
	}{
		{"first folder attempt", "Docs", 1, false, "Docs (restored)"},
		{"second folder attempt", "Docs", 2, false, "Docs (restored 2)"},
		{"file keeps extension", "report.pdf", 1, true, "report (restored).pdf"},
		{"dotfile has no extension", ".env", 1, true, ".env (restored)"},
		{"folder ignores dots", "v1.2", 1, false, "v1.2 (restored)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DisambiguateName(tt.input, "(restored)", tt.attempt, tt.keepExt))
		})
	}

	t.Run("stays within the length limit", func(t *testing.T) {
		got := DisambiguateName(strings.Repeat("x", MaxNameLength), "(restored)", 3, false)
		assert.NoError(t, ValidateName(got))
		assert.True(t, strings.HasSuffix(got, " (restored 3)"))
	})
}
