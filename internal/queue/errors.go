package queue

import "errors"

// Admission errors.
var (
	ErrQuotaExceeded = errors.New("daily send limit reached")
)

// Repository errors.
var (
	ErrEntryNotFound = errors.New("queue entry not found")
	// ErrEntryNotQueued is returned when a transition targets an entry that
	// is no longer queued, typically because it was cancelled concurrently.
	ErrEntryNotQueued = errors.New("queue entry is not queued")
)
