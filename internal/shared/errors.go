package shared

import "errors"

var (
	// ErrValidation indicates malformed or rejected input. No state change occurred.
	ErrValidation = errors.New("validation failed")
	// ErrConflict indicates a transition attempted on a record already in a
	// terminal or incompatible state. Callers should refresh and re-decide.
	ErrConflict = errors.New("conflict")
	// ErrNotFound indicates the referenced record or driver does not exist.
	ErrNotFound = errors.New("not found")
)
