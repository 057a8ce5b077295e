package core

import (
	"fmt"
	"path"
	"strings"
	"unicode/utf8"
)

// Separator joins folder names inside a materialized path.
const Separator = "/"

// MaxNameLength is the longest folder or file name accepted, in characters.
const MaxNameLength = 255

// NameError reports a structurally invalid folder or file name.
type NameError struct {
	Name  string
	Cause string
}

func (e *NameError) Error() string {
	return fmt.Sprintf("invalid name %q: %s", e.Name, e.Cause)
}

// ValidateName checks that name can be stored as a single path segment.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return &NameError{Name: name, Cause: "name is empty"}
	}
	if !utf8.ValidString(name) {
		return &NameError{Name: name, Cause: "name is not valid UTF-8"}
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return &NameError{Name: name, Cause: fmt.Sprintf("name exceeds %d characters", MaxNameLength)}
	}
	if strings.Contains(name, Separator) {
		return &NameError{Name: name, Cause: "name contains a path separator"}
	}
	if strings.ContainsRune(name, 0) {
		return &NameError{Name: name, Cause: "name contains a NUL byte"}
	}
	if name == "." || name == ".." {
		return &NameError{Name: name, Cause: "name is reserved"}
	}
	return nil
}

// ComputePath returns the materialized path of a node named name whose parent
// has parentPath. An empty parentPath means the node lives at the root.
func ComputePath(name, parentPath string) string {
	if parentPath == "" {
		return Separator + name
	}
	return parentPath + Separator + name
}

// IsDescendantPath reports whether candidate is ancestor itself or lies
// anywhere beneath it. "/A" is not an ancestor of "/AB".
func IsDescendantPath(candidate, ancestor string) bool {
	if candidate == ancestor {
		return true
	}
	return strings.HasPrefix(candidate, ancestor+Separator)
}

// IsStrictDescendantPath is IsDescendantPath without the equality case.
func IsStrictDescendantPath(candidate, ancestor string) bool {
	return candidate != ancestor && IsDescendantPath(candidate, ancestor)
}

// RebasePath swaps the oldPrefix of p for newPrefix. ok is false when p is
// not under oldPrefix.
func RebasePath(p, oldPrefix, newPrefix string) (rebased string, ok bool) {
	if !IsDescendantPath(p, oldPrefix) {
		return p, false
	}
	return newPrefix + p[len(oldPrefix):], true
}

// PathEntry pairs a folder id with its materialized path.
type PathEntry struct {
	ID   string
	Path string
}

// PropagatePathRename rewrites every entry under oldPath so that it sits under
// newPath instead. Each entry is rewritten exactly once from its original
// value; entries outside the subtree are left out of the result.
func PropagatePathRename(oldPath, newPath string, entries []PathEntry) []PathEntry {
	updated := make([]PathEntry, 0, len(entries))
	for _, e := range entries {
		rebased, ok := RebasePath(e.Path, oldPath, newPath)
		if !ok {
			continue
		}
		updated = append(updated, PathEntry{ID: e.ID, Path: rebased})
	}
	return updated
}

// ParentPath returns the path of the node containing p, or "" for root-level nodes.
func ParentPath(p string) string {
	i := strings.LastIndex(p, Separator)
	if i <= 0 {
		return ""
	}
	return p[:i]
}

// Depth returns how many segments p has. Root-level nodes have depth 1.
func Depth(p string) int {
	return strings.Count(p, Separator)
}

// DisambiguateName derives the attempt-th alternative of name using suffix,
// e.g. "Docs (restored)", "Docs (restored 2)". With keepExt the file extension
// stays last: "a.txt" becomes "a (restored).txt".
func DisambiguateName(name, suffix string, attempt int, keepExt bool) string {
	tag := suffix
	if attempt > 1 {
		tag = fmt.Sprintf("%s %d", strings.TrimSuffix(suffix, ")"), attempt)
		if strings.HasSuffix(suffix, ")") {
			tag += ")"
		}
	}

	base, ext := name, ""
	if keepExt {
		ext = path.Ext(name)
		if ext == name {
			ext = ""
		}
		base = strings.TrimSuffix(name, ext)
	}

	tail := " " + tag + ext
	if room := MaxNameLength - utf8.RuneCountInString(tail); utf8.RuneCountInString(base) > room {
		base = string([]rune(base)[:max(room, 0)])
	}
	return base + tail
}
