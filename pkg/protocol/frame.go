package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// FrameHeaderSize is the size of the frame header in bytes.
const FrameHeaderSize = frameHeaderSize

// MaxPayloadSize is the maximum payload size of a single frame.
const MaxPayloadSize = MaxBytesLen

// Frame is one message inside a packet.
//
// Wire format:
//
//	┌──────────────────┬──────────────────┬───────────────────┐
//	│ Length (uint16)  │ Type (int16)     │ Payload           │
//	└──────────────────┴──────────────────┴───────────────────┘
type Frame struct {
	Type    MsgType
	Payload []byte
}

// Size returns the encoded size of the frame.
func (f *Frame) Size() int {
	return FrameHeaderSize + len(f.Payload)
}

// Encode encodes the frame to bytes.
func (f *Frame) Encode() ([]byte, error) {
	return AppendFrame(make([]byte, 0, f.Size()), f.Type, f.Payload)
}

// EncodeTo writes the frame to a writer.
func (f *Frame) EncodeTo(w *Writer) error {
	if len(f.Payload) > MaxPayloadSize {
		return ErrPayloadTooLarge
	}
	w.WriteUint16(uint16(len(f.Payload)))
	w.WriteInt16(int16(f.Type))
	w.WriteBytes(f.Payload)
	return nil
}

// AppendFrame appends a framed message to buf.
func AppendFrame(buf []byte, t MsgType, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return buf, ErrPayloadTooLarge
	}
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(payload)))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(t))
	return append(buf, payload...), nil
}

// DecodeFrame decodes the first frame of data and returns the number of
// bytes consumed. The payload references data.
func DecodeFrame(data []byte) (Frame, int, error) {
	if len(data) < FrameHeaderSize {
		return Frame{}, 0, &MalformedError{Op: "frame header", Err: io.ErrUnexpectedEOF}
	}
	length := int(binary.LittleEndian.Uint16(data))
	t := MsgType(int16(binary.LittleEndian.Uint16(data[2:])))
	end := FrameHeaderSize + length
	if len(data) < end {
		return Frame{}, 0, &MalformedError{
			Op:  "frame payload",
			Err: fmt.Errorf("type %d declares %d bytes, %d available: %w", t, length, len(data)-FrameHeaderSize, io.ErrUnexpectedEOF),
		}
	}
	return Frame{Type: t, Payload: data[FrameHeaderSize:end]}, end, nil
}

// ParseFrames walks every frame of a packet and calls fn for each before
// decoding the next. Parsing stops at the first malformed frame or when fn
// returns an error. Payloads reference data and must be copied to be kept.
func ParseFrames(data []byte, fn func(Frame) error) error {
	offset := 0
	for offset < len(data) {
		f, n, err := DecodeFrame(data[offset:])
		if err != nil {
			if me, ok := err.(*MalformedError); ok {
				me.Offset = offset
			}
			return err
		}
		offset += n
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}
