// Package stresserrors contains the generic error types returned while setting up a stress run.
//
// Errors are returned wrapped with github.com/pkg/errors.WithStack so that callers logging them
// through logging.WithStacktrace get the point of origin. Use errors.As to recover the typed error.
package stresserrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrInvalidArgument is a generic error to be returned on invalid configuration or argument.
// Message is optional and is omitted from the error message if not provided.
type ErrInvalidArgument struct {
	Name    string      // Name of the field referred to, e.g., "threads"
	Value   interface{} // The invalid value that was provided
	Message string      // An optional message explaining why the value is invalid
}

func (err *ErrInvalidArgument) Error() string {
	if err.Message == "" {
		return fmt.Sprintf("value %v is invalid for field %q", err.Value, err.Name)
	}
	return fmt.Sprintf("value %v is invalid for field %q; %s", err.Value, err.Name, err.Message)
}

// ErrUnsupported is returned when a store is asked to run a statement it has no mapping for.
type ErrUnsupported struct {
	Store     string
	Operation string
}

func (err *ErrUnsupported) Error() string {
	return fmt.Sprintf("store %s does not support %s", err.Store, err.Operation)
}

// InvalidArgument is shorthand for errors.WithStack(&ErrInvalidArgument{...}).
func InvalidArgument(name string, value interface{}, message string) error {
	return errors.WithStack(&ErrInvalidArgument{Name: name, Value: value, Message: message})
}

// IsInvalidArgument reports whether err has an ErrInvalidArgument anywhere in its chain.
func IsInvalidArgument(err error) bool {
	var e *ErrInvalidArgument
	return errors.As(err, &e)
}
