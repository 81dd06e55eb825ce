package protocol

import "encoding/binary"

// MaxPackedLen32 and MaxPackedLen64 are the largest encodings of a packed
// uint32 and uint64.
const (
	MaxPackedLen32 = 5
	MaxPackedLen64 = 9
)

// Lead byte boundaries of the packed encoding.
const (
	packedOneByteMax   = 240
	packedTwoByteMax   = 2287
	packedThreeByteMax = 67823
)

// PackedUint64Len returns the number of bytes AppendPackedUint64 writes for v.
func PackedUint64Len(v uint64) int {
	switch {
	case v <= packedOneByteMax:
		return 1
	case v <= packedTwoByteMax:
		return 2
	case v <= packedThreeByteMax:
		return 3
	case v <= 1<<24-1:
		return 4
	case v <= 1<<32-1:
		return 5
	case v <= 1<<40-1:
		return 6
	case v <= 1<<48-1:
		return 7
	case v <= 1<<56-1:
		return 8
	default:
		return 9
	}
}

// AppendPackedUint64 appends the packed encoding of v to buf.
//
// Size classes:
//
//	0..240            1 byte   v
//	241..2287         2 bytes  241+(v-240)/256, (v-240)%256
//	2288..67823       3 bytes  249, (v-2288)/256, (v-2288)%256
//	up to 2^24-1      4 bytes  250, 3 bytes little-endian
//	up to 2^32-1      5 bytes  251, 4 bytes little-endian
//	up to 2^40-1      6 bytes  252, 5 bytes little-endian
//	up to 2^48-1      7 bytes  253, 6 bytes little-endian
//	up to 2^56-1      8 bytes  254, 7 bytes little-endian
//	otherwise         9 bytes  255, 8 bytes little-endian
func AppendPackedUint64(buf []byte, v uint64) []byte {
	switch {
	case v <= packedOneByteMax:
		return append(buf, byte(v))
	case v <= packedTwoByteMax:
		d := v - 240
		return append(buf, byte(d/256+241), byte(d%256))
	case v <= packedThreeByteMax:
		d := v - 2288
		return append(buf, 249, byte(d/256), byte(d%256))
	}

	n := PackedUint64Len(v)
	var le [8]byte
	binary.LittleEndian.PutUint64(le[:], v)
	buf = append(buf, byte(250+n-4))
	return append(buf, le[:n-1]...)
}

// DecodePackedUint64 decodes a packed integer from the start of buf.
// Returns (value, bytesRead). bytesRead is -1 when buf is too short.
func DecodePackedUint64(buf []byte) (uint64, int) {
	if len(buf) == 0 {
		return 0, -1
	}
	a0 := buf[0]
	switch {
	case a0 <= packedOneByteMax:
		return uint64(a0), 1
	case a0 <= 248:
		if len(buf) < 2 {
			return 0, -1
		}
		return 240 + 256*uint64(a0-241) + uint64(buf[1]), 2
	case a0 == 249:
		if len(buf) < 3 {
			return 0, -1
		}
		return 2288 + 256*uint64(buf[1]) + uint64(buf[2]), 3
	}

	size := int(a0-250) + 3
	if len(buf) < size+1 {
		return 0, -1
	}
	var le [8]byte
	copy(le[:], buf[1:1+size])
	return binary.LittleEndian.Uint64(le[:]), size + 1
}

// AppendPackedUint32 appends the packed encoding of v to buf.
func AppendPackedUint32(buf []byte, v uint32) []byte {
	return AppendPackedUint64(buf, uint64(v))
}
