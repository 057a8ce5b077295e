package service

import (
	"errors"
	"fmt"

	"vault/internal/core"
	"vault/internal/server/metadata"
)

// Sentinel errors for the service layer. Every failure a caller can act on
// wraps exactly one of these.
var (
	ErrNotFound      = errors.New("not found")
	ErrDuplicateName = errors.New("name already exists")
	ErrQuotaExceeded = errors.New("storage quota exceeded")
	ErrInvalidMove   = errors.New("cannot move a folder into itself or its descendants")
	ErrValidation    = errors.New("validation failed")
	ErrConflict      = errors.New("concurrent modification conflict")
	// ErrInvalidCredentials is returned by Login for any bad username/password pair.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// storeErr translates a store error. A uniqueness rejection that got past
// the service's own pre-check means a concurrent writer won the race.
func storeErr(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, metadata.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	case errors.Is(err, metadata.ErrConflict):
		return fmt.Errorf("%w: %s", ErrConflict, what)
	case errors.Is(err, metadata.ErrQuotaExceeded):
		return ErrQuotaExceeded
	case errors.Is(err, metadata.ErrInvalidMove):
		return ErrInvalidMove
	}
	return fmt.Errorf("%s: %w", what, err)
}

// duplicateErr is storeErr for writes with no pre-check, where a uniqueness
// rejection is a plain duplicate rather than a lost race.
func duplicateErr(err error, what string) error {
	if errors.Is(err, metadata.ErrConflict) {
		return fmt.Errorf("%w: %v", ErrDuplicateName, err)
	}
	return storeErr(err, what)
}

func validateName(name string) error {
	if err := core.ValidateName(name); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

func duplicate(name string) error {
	return fmt.Errorf("%w: %q", ErrDuplicateName, name)
}
