package avro

import (
	"io"
)

// https://avro.apache.org/docs/1.11.1/specification/#binary-encoding

const maxVarintLen = 10

func zigzag(v int64) uint64 {
	return uint64((v << 1) ^ (v >> 63))
}

func unzigzag(u uint64) int64 {
	return int64(u>>1) ^ -int64(u&1)
}

// AppendVarint appends zig-zag varint encoding of v to b.
func AppendVarint(b []byte, v int64) []byte {
	u := zigzag(v)
	for u >= 0x80 {
		b = append(b, byte(u)|0x80)
		u >>= 7
	}
	return append(b, byte(u))
}

// VarintLen returns the number of bytes AppendVarint would append.
func VarintLen(v int64) int {
	u := zigzag(v)
	n := 1
	for u >= 0x80 {
		u >>= 7
		n++
	}
	return n
}

// ReadVarint decodes one zig-zag varint.
//
// It returns io.EOF if no byte could be read, io.ErrUnexpectedEOF if
// the input ended in the middle of the varint and ErrOverflow if the
// continuation bit is still set after 10 bytes.
func ReadVarint(r io.ByteReader) (int64, int, error) {
	var u uint64
	var shift uint
	for n := 0; n < maxVarintLen; n++ {
		b, err := r.ReadByte()
		if err != nil {
			if err == io.EOF {
				if n == 0 {
					return 0, 0, io.EOF
				}
				return 0, n, io.ErrUnexpectedEOF
			}
			return 0, n, err
		}
		u |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return unzigzag(u), n + 1, nil
		}
		shift += 7
	}
	return 0, maxVarintLen, ErrOverflow
}

// readLong is ReadVarint for fields inside a record, where running
// out of input is always a truncation.
func readLong(r io.ByteReader) (int64, error) {
	v, _, err := ReadVarint(r)
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return v, err
}
