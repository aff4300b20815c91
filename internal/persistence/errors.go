package persistence

import "errors"

var (
	// ErrTaskNotFound means the store has no record with the requested ID.
	// This is a plan-level absence, not an infrastructure failure.
	ErrTaskNotFound = errors.New("task not found")

	// ErrStatusConflict means a compare-and-set observed a status other than
	// the expected one; another writer got there first.
	ErrStatusConflict = errors.New("task status changed concurrently")

	// ErrStoreUnavailable means the store could not be reached: retries were
	// exhausted or the circuit breaker is open.
	ErrStoreUnavailable = errors.New("store unavailable")
)
