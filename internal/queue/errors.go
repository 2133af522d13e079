package queue

import "errors"

// Typed errors crossing the queue boundary. Callers distinguish them with
// errors.Is; no other error kinds escape this package.
var (
	// ErrNotFound means the job or track id is unknown.
	ErrNotFound = errors.New("not found")

	// ErrConflict means an illegal state transition was attempted: progress
	// regression, double completion, update of a terminal job, or deletion
	// of an active one. It is never silently coerced.
	ErrConflict = errors.New("conflict")

	// ErrUnavailable means the store (or a downstream dependency) could not
	// be reached. Callers may retry; the queue itself does not.
	ErrUnavailable = errors.New("unavailable")

	// ErrValidation means the request was malformed before any row was
	// created.
	ErrValidation = errors.New("validation failed")
)
