package core

import "errors"

// Failure taxonomy of the series engine. Callers match with errors.Is; every
// returned error wraps exactly one of these with the offending ids.
var (
	ErrInvalidRule            = errors.New("invalid recurrence rule")
	ErrInvalidScope           = errors.New("invalid scope")
	ErrImmutableOccurrence    = errors.New("occurrence is immutable")
	ErrInvalidTransition      = errors.New("invalid status transition")
	ErrNotFound               = errors.New("not found")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrDuplicateDate          = errors.New("date already taken in series")
)
