package avro

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// ByteReader is what records are decoded from.
type ByteReader interface {
	io.Reader
	io.ByteReader
}

// skipper is implemented by sources that can move forward without copying.
type skipper interface {
	skip(n int64) error
}

// bounded is implemented by sources that know how many bytes are left.
// final is false when more data may still be written.
type bounded interface {
	remaining() (n int64, final bool)
}

const maxBytesLen = math.MaxInt32

func AppendBytes(b, v []byte) []byte {
	b = AppendVarint(b, int64(len(v)))
	return append(b, v...)
}

func BytesLen(v []byte) int {
	return VarintLen(int64(len(v))) + len(v)
}

func AppendString(b []byte, s string) []byte {
	b = AppendVarint(b, int64(len(s)))
	return append(b, s...)
}

func StringLen(s string) int {
	return VarintLen(int64(len(s))) + len(s)
}

func AppendFloat(b []byte, v float32) []byte {
	return binary.LittleEndian.AppendUint32(b, math.Float32bits(v))
}

func AppendDouble(b []byte, v float64) []byte {
	return binary.LittleEndian.AppendUint64(b, math.Float64bits(v))
}

func AppendBoolean(b []byte, v bool) []byte {
	if v {
		return append(b, 1)
	}
	return append(b, 0)
}

func readLen(r io.ByteReader) (int64, error) {
	n, err := readLong(r)
	if err != nil {
		return 0, err
	}
	if n < 0 || n > maxBytesLen {
		return 0, fmt.Errorf("%w: invalid length %d", ErrMalformed, n)
	}
	return n, nil
}

// ReadBytes reads a length-prefixed byte sequence. It fails with
// io.ErrUnexpectedEOF if fewer bytes are available than declared.
func ReadBytes(r ByteReader) ([]byte, error) {
	n, err := readLen(r)
	if err != nil {
		return nil, err
	}
	if br, ok := r.(bounded); ok {
		if left, final := br.remaining(); n > left {
			if final {
				return nil, fmt.Errorf("%w: length %d exceeds the %d bytes left", ErrMalformed, n, left)
			}
			return nil, io.ErrUnexpectedEOF
		}
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return b, nil
}

func ReadString(r ByteReader) (string, error) {
	b, err := ReadBytes(r)
	return string(b), err
}

// SkipBytes moves past a length-prefixed byte sequence, seeking
// instead of copying when r supports it.
func SkipBytes(r ByteReader) error {
	n, err := readLen(r)
	if err != nil {
		return err
	}
	if s, ok := r.(skipper); ok {
		return s.skip(n)
	}
	m, err := io.CopyN(io.Discard, r, n)
	if m < n && (err == nil || err == io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return err
}

func readFixed(r ByteReader, n int) ([]byte, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:n]); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return buf[:n], nil
}

func ReadFloat(r ByteReader) (float32, error) {
	b, err := readFixed(r, 4)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(b)), nil
}

func ReadDouble(r ByteReader) (float64, error) {
	b, err := readFixed(r, 8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
}

func ReadBoolean(r ByteReader) (bool, error) {
	b, err := r.ReadByte()
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return false, err
	}
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, fmt.Errorf("%w: invalid boolean 0x%02x", ErrMalformed, b)
}
