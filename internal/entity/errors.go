package entity

import (
	"errors"
	"fmt"

	"tailwind/internal/coordinator"
)

var (
	// ErrUnavailable is matched by every error that makes a view unavailable
	ErrUnavailable = coordinator.ErrUnavailable

	// ErrMissingEntity means the entity id is absent from the latest snapshot
	ErrMissingEntity = fmt.Errorf("%w: entity missing from snapshot", ErrUnavailable)

	// ErrProjectionFailed means the descriptor's projection panicked
	ErrProjectionFailed = fmt.Errorf("%w: projection failed", ErrUnavailable)

	// ErrDestroyed is reported by a closed view
	ErrDestroyed = fmt.Errorf("%w: entity destroyed", ErrUnavailable)

	ErrInvalidDescriptor = errors.New("entity: invalid descriptor")
	ErrDuplicateKey      = errors.New("entity: duplicate descriptor key")
)

// MissingEntityError names the entity that disappeared from the device
type MissingEntityError struct {
	EntityID string
}

func (e *MissingEntityError) Error() string {
	return fmt.Sprintf("entity %q missing from snapshot", e.EntityID)
}

func (e *MissingEntityError) Unwrap() error {
	return ErrMissingEntity
}
