package apperrors

import "errors"

var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrInvalidArg = errors.New("invalid argument")

	// ErrNotFoundOrForbidden is returned when a scoped mutation matched no record.
	// The record either does not exist or belongs to another tenant; callers
	// must not be able to tell which.
	ErrNotFoundOrForbidden = errors.New("not found or forbidden")

	// ErrInconsistentState is returned when a record that was just updated
	// cannot be read back.
	ErrInconsistentState = errors.New("inconsistent state")

	ErrUnknownEntity = errors.New("unknown entity kind")
)
