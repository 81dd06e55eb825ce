package client

import (
	"errors"
	"fmt"

	"github.com/replinet/replinet/pkg/protocol"
)

// Sentinel errors for client operations.
var (
	// ErrNotConnected is returned when an operation needs a connection.
	ErrNotConnected = errors.New("client: not connected")

	// ErrAlreadyConnecting is returned by Connect on a client that is not idle.
	ErrAlreadyConnecting = errors.New("client: already connecting")

	// ErrAlreadyReady is returned by Ready on a ready client.
	ErrAlreadyReady = errors.New("client: already ready")

	// ErrUnknownAsset is returned when a spawn names an asset with no handler.
	ErrUnknownAsset = errors.New("client: no spawn handler for asset")

	// ErrUnknownSceneObject is returned when a scene spawn names an
	// unregistered scene object.
	ErrUnknownSceneObject = errors.New("client: unknown scene object")

	// ErrInvalidAsset is returned when registering a handler for the zero asset id.
	ErrInvalidAsset = errors.New("client: invalid asset id")

	// ErrPlayerControllerID is returned for a player controller id outside 0..32.
	ErrPlayerControllerID = errors.New("client: invalid player controller id")

	// ErrPlayerExists is returned when a local player slot is taken.
	ErrPlayerExists = errors.New("client: local player already exists")

	// ErrPlayerNotFound is returned when no local player uses a controller id.
	ErrPlayerNotFound = errors.New("client: local player not found")

	// ErrCRCMismatch is matched by every CRCError.
	ErrCRCMismatch = errors.New("client: script crc mismatch")
)

// CRCError describes a difference between the host's behaviour table and
// the local one.
type CRCError struct {
	Reason string
	Name   string // behaviour tag, empty for a count mismatch
}

// Error implements the error interface.
func (e *CRCError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("client: script crc mismatch: %s", e.Reason)
	}
	return fmt.Sprintf("client: script crc mismatch: %s: %s", e.Name, e.Reason)
}

// Unwrap returns ErrCRCMismatch.
func (e *CRCError) Unwrap() error {
	return ErrCRCMismatch
}

// ErrorCode reports the mismatch as a CRC mismatch.
func (e *CRCError) ErrorCode() protocol.ErrorCode {
	return protocol.CodeCRCMismatch
}
