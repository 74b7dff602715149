package codeindex

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput is returned synchronously, before any side effect,
	// for malformed ids and out-of-range parameters.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound is returned for unknown codebase, job and entity ids.
	ErrNotFound = errors.New("not found")

	// ErrSchedulerClosed is returned when a job is submitted after shutdown.
	ErrSchedulerClosed = errors.New("scheduler is closed")
)

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func notFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}
