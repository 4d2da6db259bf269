package feature

import "errors"

var (
	// ErrDuplicateBoundary is returned when a second boundary is created.
	ErrDuplicateBoundary = errors.New("farm already has a boundary")
	// ErrReservedZone is returned when a user tries to assign the boundary zone type.
	ErrReservedZone = errors.New("zone type is reserved for the farm boundary")
	// ErrNotFound is returned for unknown feature IDs.
	ErrNotFound = errors.New("feature not found")
	// ErrInvalidGeometry is returned for empty or malformed geometry.
	ErrInvalidGeometry = errors.New("invalid geometry")
	// ErrNotPending is returned when a label is resolved for a feature that
	// is not awaiting one.
	ErrNotPending = errors.New("feature is not awaiting a label")
)
