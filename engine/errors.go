package engine

import (
	"errors"
	"fmt"

	"github.com/guseggert/enginermi/rmi"
)

var (
	// ErrInvalidArgument reports a failed precondition, either checked locally before any call is made
	// or reported by the worker. It is the same value as rmi.ErrInvalidArgument.
	ErrInvalidArgument = rmi.ErrInvalidArgument

	// ErrBusy is returned when a cancellable operation is issued while another one is outstanding.
	ErrBusy = errors.New("cancellable operation already outstanding")

	// ErrNoValue is returned by Outcome.Decode when the outcome carries no value.
	ErrNoValue = errors.New("outcome carries no value")
)

// RemoteFailure is a transport error or an operational error reported by the worker.
// The handle never retries after one.
type RemoteFailure struct {
	Op  string
	Err error
}

func (e *RemoteFailure) Error() string {
	return fmt.Sprintf("invoking %s: %s", e.Op, e.Err)
}

func (e *RemoteFailure) Unwrap() error { return e.Err }

// IsRemoteFailure reports whether err is or wraps a *RemoteFailure.
func IsRemoteFailure(err error) bool {
	var rf *RemoteFailure
	return errors.As(err, &rf)
}
