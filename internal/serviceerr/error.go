// Package serviceerr carries the coded errors returned by the storage services.
package serviceerr

import (
	"errors"
	"fmt"
)

// Error wraps a storage failure with a stable "<operation>.<reason>" code.
type Error struct {
	code string
	err  error
}

// New builds an Error for the operation and reason, wrapping cause.
func New(operation, reason string, cause error) error {
	return &Error{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

func (e *Error) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *Error) Unwrap() error {
	return e.err
}

// Code returns the stable error code.
func (e *Error) Code() string {
	return e.code
}

// CodeOf extracts the code of the first Error in err's chain, or "".
func CodeOf(err error) string {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.code
	}
	return ""
}
