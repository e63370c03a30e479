package series

import "errors"

// Error taxonomy shared by the engine and its storage backends. Callers
// should match with errors.Is; everything the library returns wraps one of
// these sentinels.
var (
	// ErrNotFound is returned when a series or exception doesn't exist.
	// It deliberately also covers "exists but owned by someone else" so
	// that the existence of other owners' data never leaks.
	ErrNotFound = errors.New("not found")
	// ErrBadRequest is returned when an operation is invalid for the
	// current state, e.g. splitting a non-recurring series.
	ErrBadRequest = errors.New("bad request")
	// ErrForbidden is returned when the caller is authenticated but not
	// the owner. Most ownership failures collapse into ErrNotFound; this
	// exists for backends that can and want to distinguish.
	ErrForbidden = errors.New("forbidden")
	// ErrConflict is returned when a concurrent mutation is detected,
	// or when a new series overlaps existing occurrences.
	ErrConflict = errors.New("conflict")
	// ErrInternal is returned when the storage layer fails mid-operation.
	ErrInternal = errors.New("internal error")
)
