package apperrors

import "errors"

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")

	// ErrInvalidInput is returned for missing names and similar request problems.
	// Out-of-range alignment and position values are clamped, never rejected.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidParent is returned when a category references a parent that does
	// not exist or belongs to a different identity.
	ErrInvalidParent = errors.New("invalid parent category")

	// ErrLastIdentity is returned when deleting a user's only identity.
	ErrLastIdentity = errors.New("cannot delete last identity")

	// ErrClassifierUnavailable wraps failures and timeouts of the external
	// categorization collaborator. Callers may retry.
	ErrClassifierUnavailable = errors.New("classifier unavailable")

	ErrMaxDepthExceeded = errors.New("category tree too deep")

	// ErrInvalidState is returned when an add-interest flow step is invoked
	// from a state that does not allow it.
	ErrInvalidState = errors.New("invalid flow state")
)
