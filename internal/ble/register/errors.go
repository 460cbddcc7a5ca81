package register

import (
	"errors"
	"fmt"
)

var (
	ErrTimeout         = errors.New("register: request timed out")
	ErrDecode          = errors.New("register: malformed response")
	ErrConflict        = errors.New("register: request already pending for address")
	ErrConnectionLost  = errors.New("register: connection lost")
	ErrNotWritable     = errors.New("register: not writable")
	ErrNotReadable     = errors.New("register: not readable")
	ErrUnknownRegister = errors.New("register: unknown register")
	ErrWriteRejected   = errors.New("register: write rejected by device")
	ErrCancelled       = errors.New("register: request cancelled")
)

// Op is the kind of register request.
type Op uint8

const (
	OpRead Op = iota
	OpWrite
	OpPing
)

func (o Op) String() string {
	switch o {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpPing:
		return "ping"
	default:
		return fmt.Sprintf("op(%d)", uint8(o))
	}
}

// RequestError attaches the request's identity to a failure.
type RequestError struct {
	Op      Op
	Address Address
	Token   uint16 // zero when the request never got a token
	Err     error
}

func (e *RequestError) Error() string {
	if e.Token == 0 {
		return fmt.Sprintf("register: %s %s: %v", e.Op, e.Address, e.Err)
	}
	return fmt.Sprintf("register: %s %s (token %d): %v", e.Op, e.Address, e.Token, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }
