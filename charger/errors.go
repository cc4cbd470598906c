package charger

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownPath is returned when a path is not part of the predeclared registry
	ErrUnknownPath = errors.New("unknown attribute path")
	// ErrFormat is returned when an attribute's formatter cannot render its value
	ErrFormat = errors.New("attribute value cannot be formatted")
	// ErrValueType is returned by a device interface that cannot carry a value's type.
	// The publisher treats it as fatal.
	ErrValueType = errors.New("unsupported attribute value type")

	ErrEmptyPayload = errors.New("received message was empty")
	ErrInvalidJSON  = errors.New("received message is not a valid JSON object")
	ErrMissingPower = errors.New("received JSON doesn't contain minimum required values")

	ErrStale        = errors.New("telemetry timeout exceeded")
	ErrNoFirstEvent = errors.New("no telemetry received before timeout")
)

// FatalError marks a condition that must stop the whole process.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return "fatal: " + e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

func fatalf(err error, format string, args ...any) error {
	return &FatalError{Err: fmt.Errorf("%w: "+format, append([]any{err}, args...)...)}
}

// IsFatal reports whether err (or anything it wraps) is a FatalError
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
