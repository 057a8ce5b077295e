package metadata

import (
	"fmt"

	"vault/internal/core"
)

// DefaultRestoreSuffix tags items renamed by a restore.
const DefaultRestoreSuffix = "(restored)"

const maxRestoreAttempts = 100

// ResolveRestoreName picks the name an item takes when it comes back from the
// trash. taken reports whether a candidate collides with an active sibling.
func ResolveRestoreName(name string, keepExt bool, opts RestoreOptions, taken func(string) (bool, error)) (string, error) {
	busy, err := taken(name)
	if err != nil {
		return "", err
	}
	if !busy {
		return name, nil
	}
	if opts.Policy == ConflictReject {
		return "", fmt.Errorf("%w: %q already exists at the restore destination", ErrConflict, name)
	}

	suffix := opts.Suffix
	if suffix == "" {
		suffix = DefaultRestoreSuffix
	}
	for attempt := 1; attempt <= maxRestoreAttempts; attempt++ {
		candidate := core.DisambiguateName(name, suffix, attempt, keepExt)
		busy, err := taken(candidate)
		if err != nil {
			return "", err
		}
		if !busy {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: no free restore name for %q", ErrConflict, name)
}
