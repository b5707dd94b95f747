package engine

import "errors"

var (
	// ErrNotFound is returned when no indicator exists under the given id.
	ErrNotFound = errors.New("indicator not found")

	// ErrCapacityExceeded is returned when an insert would push the corpus
	// past the configured max-indicators cap.
	ErrCapacityExceeded = errors.New("indicator capacity exceeded")

	// ErrJobFinished is returned when feeding or ending a job that has
	// already drained.
	ErrJobFinished = errors.New("ingest job already finished")

	// ErrInvalidQuery is returned when a correlation query cannot be
	// normalized into an indicator.
	ErrInvalidQuery = errors.New("invalid query indicator")
)
