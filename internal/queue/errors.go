package queue

import "errors"

var (
	// ErrCapacityExceeded is returned when an enqueue would push the queue past its maximum size
	ErrCapacityExceeded = errors.New("queue capacity exceeded")

	// ErrValidation is returned when a submitted item or option is malformed
	ErrValidation = errors.New("invalid queue item")

	// ErrNotInFlight is returned when completing, failing or releasing an id that is not in flight
	ErrNotInFlight = errors.New("item not in flight")

	// ErrPersistence wraps failures of the snapshot store
	ErrPersistence = errors.New("queue persistence failed")

	// ErrSnapshotNotFound is returned by a SnapshotStore that holds no snapshot yet
	ErrSnapshotNotFound = errors.New("snapshot not found")
)
