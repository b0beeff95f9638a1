package queue

import "errors"

var (
	// ErrJobNotFound is returned when a job's metadata is missing or its TTL
	// has expired. Status transitions on such jobs are safe no-ops for callers
	// that choose to ignore it.
	ErrJobNotFound = errors.New("job not found")
)
