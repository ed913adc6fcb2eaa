package errors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrDeliveryFailed      = errors.New("delivery failed")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)

func NewNotFound(format string, a ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, a...))
}

func NewInvalidRequest(format string, a ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, a...))
}

// NewDeliveryFailed marks an adapter-reported failure. These are recorded on the
// delivery row and are eligible for retry.
func NewDeliveryFailed(format string, a ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrDeliveryFailed, fmt.Sprintf(format, a...))
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsInvalidRequest(err error) bool {
	return errors.Is(err, ErrInvalidRequest)
}

func IsDeliveryFailed(err error) bool {
	return errors.Is(err, ErrDeliveryFailed)
}

func IsConcurrencyConflict(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}
