package shared

import "errors"

var (
	// ErrNotFound indicates the referenced document does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrValidation indicates the request payload fails a business check.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidState indicates an action attempted from a status that does not permit it.
	ErrInvalidState = errors.New("invalid status transition")
	// ErrImmutableDocument indicates a field-level update on an approved or superseded document.
	ErrImmutableDocument = errors.New("document is immutable")
	// ErrConflict indicates a lost update was detected on a balance or sequence.
	ErrConflict = errors.New("concurrent update conflict")
)
