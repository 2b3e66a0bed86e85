package aoi

import (
	"errors"
	"fmt"
)

// UnsupportedFormatError is returned when an AOI matches none of the
// accepted input shapes.
type UnsupportedFormatError struct {
	Kind   string // Go type or GeoJSON type of the rejected input
	Reason string
}

func (e *UnsupportedFormatError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("aoi: unsupported format %s", e.Kind)
	}
	return fmt.Sprintf("aoi: unsupported format %s: %s", e.Kind, e.Reason)
}

// IsUnsupportedFormat reports whether err is or wraps an UnsupportedFormatError.
func IsUnsupportedFormat(err error) bool {
	var uf *UnsupportedFormatError
	return errors.As(err, &uf)
}

func unsupported(kind, format string, args ...any) error {
	return &UnsupportedFormatError{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}
