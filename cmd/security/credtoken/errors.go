package credtoken

import (
	"errors"
	"fmt"
)

// ErrDecode is the stable error kind for unusable tokens.
var ErrDecode = errors.New("credtoken: invalid token")

// DecodeError describes why a supplied token could not be turned into a bundle.
// Reason is safe to log; it never contains token material.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v: %s", ErrDecode, e.Reason)
	}
	return fmt.Sprintf("%v: %s: %v", ErrDecode, e.Reason, e.Err)
}

func (e *DecodeError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrDecode}
	}
	return []error{ErrDecode, e.Err}
}

func decodeErr(reason string, err error) error {
	return &DecodeError{Reason: reason, Err: err}
}
