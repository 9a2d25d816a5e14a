package clinical

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrIllegalTransition = errors.New("illegal state transition")
	// ErrStateConflict means the row moved since it was read.
	ErrStateConflict = errors.New("session state changed concurrently")
	ErrNoteLocked    = errors.New("note is not editable in its current status")
)

// ErrValidation wraps missing or malformed caller input.
var ErrValidation = errors.New("validation failed")
