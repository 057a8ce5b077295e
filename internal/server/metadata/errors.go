package metadata

import "errors"

// Errors returned by every Store implementation.
var (
	// ErrNotFound means the entity is missing, owned by someone else, or in
	// the wrong soft-delete state for the lookup.
	ErrNotFound = errors.New("not found")
	// ErrConflict means a uniqueness constraint rejected the write.
	ErrConflict = errors.New("uniqueness conflict")
	// ErrQuotaExceeded means the write would push usage past the quota.
	ErrQuotaExceeded = errors.New("storage quota exceeded")
	// ErrInvalidMove means the destination lies inside the moved subtree.
	ErrInvalidMove = errors.New("destination is inside the moved folder")
)
