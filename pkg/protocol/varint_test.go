package protocol

import (
	"bytes"
	"math"
	"testing"
)

func TestAppendDecodePackedUint64(t *testing.T) {
	tests := []struct {
		name  string
		value uint64
		bytes int // expected encoded length
	}{
		{"zero", 0, 1},
		{"max_1byte", 240, 1},
		{"min_2byte", 241, 2},
		{"max_2byte", 2287, 2},
		{"min_3byte", 2288, 3},
		{"max_3byte", 67823, 3},
		{"min_4byte", 67824, 4},
		{"max_4byte", 1<<24 - 1, 4},
		{"min_5byte", 1 << 24, 5},
		{"max_uint32", math.MaxUint32, 5},
		{"min_6byte", 1 << 32, 6},
		{"max_7byte", 1<<48 - 1, 7},
		{"min_8byte", 1 << 48, 8},
		{"max_uint64", math.MaxUint64, 9},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			buf := AppendPackedUint64(nil, tc.value)
			if len(buf) != tc.bytes {
				t.Errorf("AppendPackedUint64(%d) = %d bytes, want %d", tc.value, len(buf), tc.bytes)
			}
			if got := PackedUint64Len(tc.value); got != tc.bytes {
				t.Errorf("PackedUint64Len(%d) = %d, want %d", tc.value, got, tc.bytes)
			}

			decoded, read := DecodePackedUint64(buf)
			if read != len(buf) {
				t.Errorf("DecodePackedUint64 read %d bytes, want %d", read, len(buf))
			}
			if decoded != tc.value {
				t.Errorf("DecodePackedUint64 = %d, want %d", decoded, tc.value)
			}
		})
	}
}

func TestPackedOneByteRange(t *testing.T) {
	for v := uint64(0); v <= 240; v++ {
		buf := AppendPackedUint64(nil, v)
		if len(buf) != 1 || buf[0] != byte(v) {
			t.Fatalf("AppendPackedUint64(%d) = %v, want [%d]", v, buf, v)
		}
	}
}

func TestPackedKnownEncodings(t *testing.T) {
	tests := []struct {
		value uint64
		want  []byte
	}{
		{241, []byte{241, 1}},
		{495, []byte{241, 255}},
		{496, []byte{242, 0}},
		{2288, []byte{249, 0, 0}},
		{2289, []byte{249, 0, 1}},
		{67824, []byte{250, 0xF0, 0x08, 0x01}},
		{1 << 24, []byte{251, 0, 0, 0, 1}},
	}

	for _, tc := range tests {
		got := AppendPackedUint64(nil, tc.value)
		if !bytes.Equal(got, tc.want) {
			t.Errorf("AppendPackedUint64(%d) = %v, want %v", tc.value, got, tc.want)
		}
	}
}

func TestDecodePackedUint64Incomplete(t *testing.T) {
	tests := []struct {
		name string
		buf  []byte
	}{
		{"empty", nil},
		{"two_byte_cut", []byte{241}},
		{"three_byte_cut", []byte{249, 0}},
		{"four_byte_cut", []byte{250, 1, 2}},
		{"nine_byte_cut", []byte{255, 1, 2, 3, 4, 5, 6, 7}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, n := DecodePackedUint64(tc.buf); n != -1 {
				t.Errorf("DecodePackedUint64(%v) read = %d, want -1", tc.buf, n)
			}
		})
	}
}
