package rmi

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned for calls made on, or outstanding when, a closed connection.
	ErrClosed = errors.New("rmi: connection closed")

	// ErrInvalidArgument can be wrapped by handlers to report a bad argument to the caller.
	// It is reported on the wire with CodeInvalidArgument.
	ErrInvalidArgument = errors.New("invalid argument")
)

// CallError is an error reported by the remote side for a single call.
type CallError struct {
	Method  string
	Code    string
	Message string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("remote %s failed (%s): %s", e.Method, e.Code, e.Message)
}

// Is lets errors.Is(err, ErrInvalidArgument) match remote invalid-argument errors.
func (e *CallError) Is(target error) bool {
	return target == ErrInvalidArgument && e.Code == CodeInvalidArgument
}

func codeFor(err error) string {
	if errors.Is(err, ErrInvalidArgument) {
		return CodeInvalidArgument
	}
	return CodeInternal
}
