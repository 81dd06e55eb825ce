package server

import (
	"errors"
	"fmt"
)

// Sentinel errors for server operations.
var (
	// ErrNotActive is returned when an operation needs a listening server.
	ErrNotActive = errors.New("server: not active")

	// ErrAlreadyListening is returned by a second Listen.
	ErrAlreadyListening = errors.New("server: already listening")

	// ErrConnectionNotFound is returned when a connection id is unknown.
	ErrConnectionNotFound = errors.New("server: connection not found")

	// ErrNilIdentity is returned when an operation is given a nil identity.
	ErrNilIdentity = errors.New("server: nil identity")

	// ErrPlayerControllerID is returned for a player controller id outside 0..32.
	ErrPlayerControllerID = errors.New("server: invalid player controller id")

	// ErrPlayerExists is returned when a player controller slot is taken.
	ErrPlayerExists = errors.New("server: player already exists for controller")

	// ErrPlayerNotFound is returned when a connection has no player for a
	// controller id.
	ErrPlayerNotFound = errors.New("server: player not found")

	// ErrObjectNotFound is returned when a netId is not spawned.
	ErrObjectNotFound = errors.New("server: object not found")
)

// ConnError wraps an error with the connection it happened on.
type ConnError struct {
	ConnID int
	Op     string // Operation that failed
	Err    error  // Underlying error
}

// Error returns the error message with connection context.
func (e *ConnError) Error() string {
	if e.ConnID < 0 {
		return fmt.Sprintf("server: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("server: conn %d: %s: %v", e.ConnID, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConnError) Unwrap() error {
	return e.Err
}

// NewConnError creates a new ConnError.
func NewConnError(connID int, op string, err error) *ConnError {
	return &ConnError{ConnID: connID, Op: op, Err: err}
}
