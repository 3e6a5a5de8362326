package lawicel

import (
	"errors"
	"fmt"
)

type unrecoverableError struct {
	error
}

func (e unrecoverableError) Error() string {
	if e.error == nil {
		return "unrecoverable error"
	}
	return e.error.Error()
}

func (e unrecoverableError) Unwrap() error {
	return e.error
}

// Unrecoverable wraps an error in `unrecoverableError` struct
func Unrecoverable(err error) error {
	return unrecoverableError{err}
}

// IsRecoverable checks if error is an instance of `unrecoverableError`
func IsRecoverable(err error) bool {
	var ue unrecoverableError
	return !errors.As(err, &ue)
}

// Stream conditions. None of them are fatal, the Reassembler recovers from
// all of them locally and reports them through OnDiscard and Stats.
var (
	ErrIncompleteInput = errors.New("incomplete input")
	ErrDesynchronized  = errors.New("stream desynchronized")
	ErrMalformedFrame  = errors.New("malformed frame")
	ErrBufferOverflow  = errors.New("residual buffer overflow")
)

// Message preconditions checked before encoding.
var (
	ErrInvalidLength     = errors.New("invalid data length")
	ErrInvalidIdentifier = errors.New("invalid identifier")
)

var (
	ErrDroppedFrame  = errors.New("adapter incoming channel full")
	ErrCommand       = errors.New("command error")
	ErrNotOpen       = errors.New("adapter not open")
	ErrClosed        = errors.New("transport closed")
	ErrSendTimeout   = errors.New("timeout sending frame")
	ErrUnknownRate   = errors.New("unknown CAN rate")
	ErrNoSerialPorts = errors.New("no serial ports found")
)

// StatusError carries the flags of a non-zero status reply.
type StatusError struct {
	Flags StatusFlags
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("CAN status error: %s", e.Flags)
}
