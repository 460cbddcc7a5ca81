package ble

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidState = errors.New("ble: operation not valid in current state")
	ErrConnect      = errors.New("ble: connect failed")
	ErrTransport    = errors.New("ble: transport error")
)

// StateError reports an operation invoked in the wrong session state.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("ble: %s not valid while %s", e.Op, e.State)
}

func (e *StateError) Unwrap() error { return ErrInvalidState }
