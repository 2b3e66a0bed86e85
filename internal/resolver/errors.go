package resolver

import (
	"errors"
	"fmt"
)

// DefaultHint is attached to NotFoundError.
const DefaultHint = `try adding context, e.g. "City, Country"`

// NotFoundError is returned when no strategy resolves a place.
type NotFoundError struct {
	Input string
	Hint  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("resolver: no boundary found for %q (%s)", e.Input, e.Hint)
}

// IsNotFound reports whether err is or wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
