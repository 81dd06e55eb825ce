package protocol

import (
	"encoding/binary"
	"math"
)

// MaxStringLen is the largest string, in bytes, the codec accepts.
const MaxStringLen = 32767

// MaxBytesLen is the largest length-prefixed byte array the codec accepts.
const MaxBytesLen = math.MaxUint16

// frameHeaderSize is the u16 length plus the i16 message type.
const frameHeaderSize = 4

// Writer is a binary encoder that appends little-endian data to an
// internal buffer. It is designed for reuse: Reset keeps the allocation.
type Writer struct {
	buf      []byte
	msgStart int // offset of the open frame header, -1 when none
}

// NewWriter creates a new writer with a default initial capacity.
func NewWriter() *Writer {
	return NewWriterWithCap(256)
}

// NewWriterWithCap creates a new writer with the specified initial capacity.
func NewWriterWithCap(cap int) *Writer {
	return &Writer{
		buf:      make([]byte, 0, cap),
		msgStart: -1,
	}
}

// Reset resets the writer to empty state, reusing the underlying buffer.
func (w *Writer) Reset() {
	w.buf = w.buf[:0]
	w.msgStart = -1
}

// Bytes returns the encoded bytes. The returned slice is valid until
// the next call to Reset or any Write method.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Len returns the number of bytes currently encoded.
func (w *Writer) Len() int {
	return len(w.buf)
}

// WriteUint8 appends a single byte.
func (w *Writer) WriteUint8(v uint8) {
	w.buf = append(w.buf, v)
}

// WriteInt8 appends a signed byte.
func (w *Writer) WriteInt8(v int8) {
	w.buf = append(w.buf, byte(v))
}

// WriteBool appends a boolean as 0 or 1.
func (w *Writer) WriteBool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
}

// WriteUint16 appends a little-endian uint16.
func (w *Writer) WriteUint16(v uint16) {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}

// WriteInt16 appends a little-endian int16.
func (w *Writer) WriteInt16(v int16) {
	w.WriteUint16(uint16(v))
}

// WriteUint32 appends a little-endian uint32.
func (w *Writer) WriteUint32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

// WriteInt32 appends a little-endian int32.
func (w *Writer) WriteInt32(v int32) {
	w.WriteUint32(uint32(v))
}

// WriteUint64 appends a little-endian uint64.
func (w *Writer) WriteUint64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

// WriteInt64 appends a little-endian int64.
func (w *Writer) WriteInt64(v int64) {
	w.WriteUint64(uint64(v))
}

// WriteFloat32 appends an IEEE-754 single.
func (w *Writer) WriteFloat32(v float32) {
	w.WriteUint32(math.Float32bits(v))
}

// WriteFloat64 appends an IEEE-754 double.
func (w *Writer) WriteFloat64(v float64) {
	w.WriteUint64(math.Float64bits(v))
}

// WritePackedUint32 appends a packed uint32 (1 to 5 bytes).
func (w *Writer) WritePackedUint32(v uint32) {
	w.buf = AppendPackedUint32(w.buf, v)
}

// WritePackedUint64 appends a packed uint64 (1 to 9 bytes).
func (w *Writer) WritePackedUint64(v uint64) {
	w.buf = AppendPackedUint64(w.buf, v)
}

// WriteString appends a uint16 length-prefixed UTF-8 string.
// Strings of 32768 bytes or more are rejected with ErrStringTooLong and
// nothing is written.
func (w *Writer) WriteString(s string) error {
	if len(s) > MaxStringLen {
		return ErrStringTooLong
	}
	w.WriteUint16(uint16(len(s)))
	w.buf = append(w.buf, s...)
	return nil
}

// WriteBytes appends raw bytes without a length prefix.
func (w *Writer) WriteBytes(b []byte) {
	w.buf = append(w.buf, b...)
}

// WriteBytesAndSize appends the first n bytes of b with a uint16 length
// prefix. A nil slice writes a zero length.
func (w *Writer) WriteBytesAndSize(b []byte, n int) error {
	if b == nil {
		w.WriteUint16(0)
		return nil
	}
	if n < 0 || n > len(b) || n > MaxBytesLen {
		return ErrPayloadTooLarge
	}
	w.WriteUint16(uint16(n))
	w.buf = append(w.buf, b[:n]...)
	return nil
}

// WriteBytesFull appends all of b with a uint16 length prefix.
func (w *Writer) WriteBytesFull(b []byte) error {
	return w.WriteBytesAndSize(b, len(b))
}

// WriteNetID appends a packed entity id.
func (w *Writer) WriteNetID(id NetID) {
	w.WritePackedUint32(uint32(id))
}

// WriteSceneID appends a packed scene id.
func (w *Writer) WriteSceneID(id SceneID) {
	w.WritePackedUint32(uint32(id))
}

// WriteAssetID appends the 16 raw bytes of an asset id.
func (w *Writer) WriteAssetID(id AssetID) {
	w.buf = append(w.buf, id[:]...)
}

// StartMessage opens a frame: it reserves the length and writes the type.
// FinishMessage back-patches the length once the payload is written.
func (w *Writer) StartMessage(t MsgType) {
	w.msgStart = len(w.buf)
	w.WriteUint16(0)
	w.WriteInt16(int16(t))
}

// FinishMessage closes the frame opened by StartMessage.
func (w *Writer) FinishMessage() error {
	if w.msgStart < 0 {
		return nil
	}
	size := len(w.buf) - w.msgStart - frameHeaderSize
	if size > MaxBytesLen {
		return ErrPayloadTooLarge
	}
	binary.LittleEndian.PutUint16(w.buf[w.msgStart:], uint16(size))
	w.msgStart = -1
	return nil
}
