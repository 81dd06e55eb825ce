package protocol

import (
	"errors"
	"fmt"
)

// Error classes shared by every layer of the replication stack.
var (
	// ErrMalformedMessage is matched by every decoding failure.
	ErrMalformedMessage = errors.New("protocol: malformed message")

	// ErrStringTooLong is returned when writing a string of 32768 bytes or more.
	ErrStringTooLong = errors.New("protocol: string too long")

	// ErrPayloadTooLarge is returned when a payload exceeds the channel packet
	// size and the channel cannot fragment.
	ErrPayloadTooLarge = errors.New("protocol: payload too large")

	// ErrChannelBroken is returned once when a reliable channel exceeds its
	// pending packet bound.
	ErrChannelBroken = errors.New("protocol: channel broken")

	// ErrNotAuthority is reported when a peer acts on an entity it does not own.
	ErrNotAuthority = errors.New("protocol: not authority")

	// ErrAuthorityConflict is returned when authority is assigned to a second owner.
	ErrAuthorityConflict = errors.New("protocol: authority conflict")

	// ErrDispatchMiss is reported when an invocation hash, entity or behaviour
	// cannot be resolved.
	ErrDispatchMiss = errors.New("protocol: dispatch miss")

	// ErrUnknownMessage is reported for a frame whose type has no handler.
	ErrUnknownMessage = errors.New("protocol: unknown message type")
)

// MalformedError describes a decoding failure.
type MalformedError struct {
	Op     string // What was being read, e.g. "string"
	Offset int    // Reader position at the failure
	Err    error  // Underlying cause, may be nil
}

// Error implements the error interface.
func (e *MalformedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol: malformed %s at offset %d: %v", e.Op, e.Offset, e.Err)
	}
	return fmt.Sprintf("protocol: malformed %s at offset %d", e.Op, e.Offset)
}

// Unwrap returns ErrMalformedMessage and the underlying cause.
func (e *MalformedError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrMalformedMessage}
	}
	return []error{ErrMalformedMessage, e.Err}
}

// ErrorCode is the uint16 carried by the error message.
type ErrorCode uint16

// Transport level codes.
const (
	CodeOk              ErrorCode = 0
	CodeWrongHost       ErrorCode = 1
	CodeWrongConnection ErrorCode = 2
	CodeWrongChannel    ErrorCode = 3
	CodeNoResources     ErrorCode = 4
	CodeBadMessage      ErrorCode = 5
	CodeTimeout         ErrorCode = 6
	CodeMessageTooLong  ErrorCode = 7
	CodeWrongOperation  ErrorCode = 8
	CodeVersionMismatch ErrorCode = 9
	CodeCRCMismatch     ErrorCode = 10
	CodeDNSFailure      ErrorCode = 11
	CodeUsageError      ErrorCode = 12
)

// Replication level codes.
const (
	CodeNotAuthority      ErrorCode = 0x20
	CodeAuthorityConflict ErrorCode = 0x21
	CodeDispatchMiss      ErrorCode = 0x22
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	switch c {
	case CodeOk:
		return "Ok"
	case CodeWrongHost:
		return "WrongHost"
	case CodeWrongConnection:
		return "WrongConnection"
	case CodeWrongChannel:
		return "WrongChannel"
	case CodeNoResources:
		return "NoResources"
	case CodeBadMessage:
		return "BadMessage"
	case CodeTimeout:
		return "Timeout"
	case CodeMessageTooLong:
		return "MessageTooLong"
	case CodeWrongOperation:
		return "WrongOperation"
	case CodeVersionMismatch:
		return "VersionMismatch"
	case CodeCRCMismatch:
		return "CRCMismatch"
	case CodeDNSFailure:
		return "DNSFailure"
	case CodeUsageError:
		return "UsageError"
	case CodeNotAuthority:
		return "NotAuthority"
	case CodeAuthorityConflict:
		return "AuthorityConflict"
	case CodeDispatchMiss:
		return "DispatchMiss"
	default:
		return fmt.Sprintf("ErrorCode(%d)", uint16(c))
	}
}

// CodeOf maps err to the code reported through the error message.
// Errors implementing ErrorCode() take precedence over the sentinel classes.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return CodeOk
	}
	var coded interface{ ErrorCode() ErrorCode }
	if errors.As(err, &coded) {
		return coded.ErrorCode()
	}
	switch {
	case errors.Is(err, ErrMalformedMessage), errors.Is(err, ErrUnknownMessage):
		return CodeBadMessage
	case errors.Is(err, ErrStringTooLong), errors.Is(err, ErrPayloadTooLarge):
		return CodeMessageTooLong
	case errors.Is(err, ErrChannelBroken):
		return CodeNoResources
	case errors.Is(err, ErrNotAuthority):
		return CodeNotAuthority
	case errors.Is(err, ErrAuthorityConflict):
		return CodeAuthorityConflict
	case errors.Is(err, ErrDispatchMiss):
		return CodeDispatchMiss
	default:
		return CodeUsageError
	}
}
