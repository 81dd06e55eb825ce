package protocol

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
)

var errInvalidBool = errors.New("invalid boolean value")

// Reader is a binary decoder over a byte slice. Every failure is a
// *MalformedError carrying the operation and offset.
type Reader struct {
	buf []byte
	pos int
}

// NewReader creates a new reader from the given byte slice.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.pos
}

// EOF returns true if all bytes have been read.
func (r *Reader) EOF() bool {
	return r.pos >= len(r.buf)
}

// Position returns the current read position.
func (r *Reader) Position() int {
	return r.pos
}

// Rest returns the unread bytes without consuming them.
func (r *Reader) Rest() []byte {
	return r.buf[r.pos:]
}

func (r *Reader) malformed(op string, err error) error {
	return &MalformedError{Op: op, Offset: r.pos, Err: err}
}

func (r *Reader) take(op string, n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.buf) {
		return nil, r.malformed(op, io.ErrUnexpectedEOF)
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// ReadUint8 reads a single byte.
func (r *Reader) ReadUint8() (uint8, error) {
	b, err := r.take("uint8", 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadInt8 reads a signed byte.
func (r *Reader) ReadInt8() (int8, error) {
	b, err := r.take("int8", 1)
	if err != nil {
		return 0, err
	}
	return int8(b[0]), nil
}

// ReadBool reads a boolean. Bytes other than 0 and 1 are malformed.
func (r *Reader) ReadBool() (bool, error) {
	b, err := r.take("bool", 1)
	if err != nil {
		return false, err
	}
	switch b[0] {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		r.pos--
		return false, r.malformed("bool", errInvalidBool)
	}
}

// ReadUint16 reads a little-endian uint16.
func (r *Reader) ReadUint16() (uint16, error) {
	b, err := r.take("uint16", 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// ReadInt16 reads a little-endian int16.
func (r *Reader) ReadInt16() (int16, error) {
	v, err := r.ReadUint16()
	return int16(v), err
}

// ReadUint32 reads a little-endian uint32.
func (r *Reader) ReadUint32() (uint32, error) {
	b, err := r.take("uint32", 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// ReadInt32 reads a little-endian int32.
func (r *Reader) ReadInt32() (int32, error) {
	v, err := r.ReadUint32()
	return int32(v), err
}

// ReadUint64 reads a little-endian uint64.
func (r *Reader) ReadUint64() (uint64, error) {
	b, err := r.take("uint64", 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// ReadInt64 reads a little-endian int64.
func (r *Reader) ReadInt64() (int64, error) {
	v, err := r.ReadUint64()
	return int64(v), err
}

// ReadFloat32 reads an IEEE-754 single.
func (r *Reader) ReadFloat32() (float32, error) {
	v, err := r.ReadUint32()
	return math.Float32frombits(v), err
}

// ReadFloat64 reads an IEEE-754 double.
func (r *Reader) ReadFloat64() (float64, error) {
	v, err := r.ReadUint64()
	return math.Float64frombits(v), err
}

// ReadPackedUint32 reads a packed uint32. Lead bytes above 251 are
// malformed because they encode values wider than 32 bits.
func (r *Reader) ReadPackedUint32() (uint32, error) {
	if r.pos < len(r.buf) && r.buf[r.pos] > 251 {
		return 0, r.malformed("packed uint32", errors.New("value exceeds 32 bits"))
	}
	v, err := r.readPacked("packed uint32")
	return uint32(v), err
}

// ReadPackedUint64 reads a packed uint64.
func (r *Reader) ReadPackedUint64() (uint64, error) {
	return r.readPacked("packed uint64")
}

func (r *Reader) readPacked(op string) (uint64, error) {
	v, n := DecodePackedUint64(r.buf[r.pos:])
	if n < 0 {
		return 0, r.malformed(op, io.ErrUnexpectedEOF)
	}
	r.pos += n
	return v, nil
}

// ReadString reads a uint16 length-prefixed string.
func (r *Reader) ReadString() (string, error) {
	start := r.pos
	n, err := r.ReadUint16()
	if err != nil {
		return "", err
	}
	if int(n) > MaxStringLen {
		r.pos = start
		return "", r.malformed("string", ErrStringTooLong)
	}
	b, err := r.take("string", int(n))
	if err != nil {
		r.pos = start
		return "", err
	}
	return string(b), nil
}

// ReadBytes reads exactly n bytes. The returned slice references the
// reader's buffer; do not modify.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	return r.take("bytes", n)
}

// ReadBytesAndSize reads a uint16 length-prefixed byte array. A zero length
// returns nil. The returned slice references the reader's buffer.
func (r *Reader) ReadBytesAndSize() ([]byte, error) {
	start := r.pos
	n, err := r.ReadUint16()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	b, err := r.take("bytes", int(n))
	if err != nil {
		r.pos = start
		return nil, err
	}
	return b, nil
}

// ReadNetID reads a packed entity id.
func (r *Reader) ReadNetID() (NetID, error) {
	v, err := r.ReadPackedUint32()
	return NetID(v), err
}

// ReadSceneID reads a packed scene id.
func (r *Reader) ReadSceneID() (SceneID, error) {
	v, err := r.ReadPackedUint32()
	return SceneID(v), err
}

// ReadAssetID reads 16 raw bytes.
func (r *Reader) ReadAssetID() (AssetID, error) {
	var id AssetID
	b, err := r.take("asset id", len(id))
	if err != nil {
		return id, err
	}
	copy(id[:], b)
	return id, nil
}
