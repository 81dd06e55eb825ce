// Package protocol implements the binary wire format used by replinet peers.
//
// Every packet handed to the transport carries one or more framed messages.
// Each frame has a 4-byte header followed by the payload:
//
//	┌──────────────────────┬──────────────────────┬───────────────────┐
//	│ Payload Length       │ Message Type         │ Payload           │
//	│ (2 bytes, LE uint16) │ (2 bytes, LE int16)  │ (Length bytes)    │
//	└──────────────────────┴──────────────────────┴───────────────────┘
//
// # Encoding
//
//   - Fixed width: little-endian integers and IEEE-754 floats
//   - Packed: variable length unsigned integers where values up to 240 take
//     a single byte (see [WritePackedUint32])
//   - Strings: uint16 byte length followed by UTF-8 bytes, at most 32767 bytes
//   - Byte arrays: uint16 length prefix followed by the bytes
//   - Ids: NetID and SceneID are packed uint32, AssetID is 16 raw bytes
//
// # Message Types
//
// Ids up to [MsgHighestInternal] are reserved for replication messages
// (spawn, destroy, update-vars, commands and so on). Ids 32 through
// [MsgHighest] are system messages (connect, error, ready, add-player).
// Application handlers use ids above [MsgHighest].
//
// # Errors
//
// Every decoding failure is a [*MalformedError] which matches
// [ErrMalformedMessage] with errors.Is. [CodeOf] maps any error produced by
// the replication stack to the [ErrorCode] carried by the error message.
package protocol
