// Package transport defines the packet primitive the replication layer sits
// on and ships two implementations: an in-process [Network] used by tests
// and local hosting, and a [WebSocket] transport built on gorilla/websocket.
//
// A transport moves opaque packets between connections on a numbered
// channel. It never parses packets and never retries; reliability,
// batching and fragmentation live in the channel package above it.
// Events are polled by the owning tick through [Transport.Receive].
package transport

import (
	"errors"
	"fmt"

	"github.com/replinet/replinet/pkg/protocol"
)

// EventKind is the type of a transport event.
type EventKind uint8

const (
	EventNothing    EventKind = iota // No event pending
	EventData                        // A packet arrived
	EventConnect                     // A connection was established
	EventDisconnect                  // A connection was closed
)

// String returns the string representation of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventNothing:
		return "Nothing"
	case EventData:
		return "Data"
	case EventConnect:
		return "Connect"
	case EventDisconnect:
		return "Disconnect"
	default:
		return "Unknown"
	}
}

// Event is one item polled from a host.
type Event struct {
	Kind      EventKind
	ConnID    int
	ChannelID int
	Data      []byte // owned by the receiver
	Err       error  // disconnect reason, nil for a clean close
}

// Transport is the packet primitive. All methods are called from the
// owning tick; implementations hand events to it through a bounded queue.
type Transport interface {
	// AddHost opens a host with the given topology. A port of zero opens a
	// host that only makes outgoing connections.
	AddHost(topology HostTopology, port int) (hostID int, err error)

	// Connect starts an outgoing connection. EventConnect or
	// EventDisconnect reports the outcome.
	Connect(hostID int, address string, port int) (connID int, err error)

	// Send queues a copy of data for delivery. ErrNoResources means the
	// transport has no buffer space and the caller may retry later.
	Send(hostID, connID, channelID int, data []byte) error

	// Receive returns the next pending event or an EventNothing event.
	Receive(hostID int) (Event, error)

	// Disconnect closes a connection. No local event is produced.
	Disconnect(hostID, connID int) error

	// RemoveHost closes a host and all its connections.
	RemoveHost(hostID int) error
}

// Error is a transport failure carrying a wire error code.
type Error struct {
	Code protocol.ErrorCode
}

// Error implements the error interface.
func (e Error) Error() string {
	return fmt.Sprintf("transport: %s", e.Code)
}

// ErrorCode returns the wire code of the failure.
func (e Error) ErrorCode() protocol.ErrorCode {
	return e.Code
}

// Transport failures. They compare by code, so errors.Is matches any
// Error with the same code.
var (
	ErrWrongHost       error = Error{Code: protocol.CodeWrongHost}
	ErrWrongConnection error = Error{Code: protocol.CodeWrongConnection}
	ErrWrongChannel    error = Error{Code: protocol.CodeWrongChannel}
	ErrNoResources     error = Error{Code: protocol.CodeNoResources}
	ErrTimeout         error = Error{Code: protocol.CodeTimeout}
	ErrMessageTooLong  error = Error{Code: protocol.CodeMessageTooLong}
	ErrWrongOperation  error = Error{Code: protocol.CodeWrongOperation}
	ErrDNSFailure      error = Error{Code: protocol.CodeDNSFailure}
)

// IsNoResources reports whether err means the transport buffer is full.
func IsNoResources(err error) bool {
	return errors.Is(err, ErrNoResources)
}
