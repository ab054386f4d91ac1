package binlog

import (
	"bytes"
	"io"
)

// reader decodes little-endian protocol fields from one event payload.
// The first failure is sticky: callers read a group of fields and check
// r.err once.
type reader struct {
	buf []byte
	off int
	err error
}

func newReader(buf []byte) *reader {
	return &reader{buf: buf}
}

func (r *reader) buffer() []byte {
	return r.buf[r.off:]
}

func (r *reader) more() bool {
	return r.err == nil && r.off < len(r.buf)
}

func (r *reader) ensure(n int) error {
	if r.err == nil && (n < 0 || n > len(r.buf)-r.off) {
		r.err = io.ErrUnexpectedEOF
	}
	return r.err
}

func (r *reader) skip(n int) error {
	if err := r.ensure(n); err != nil {
		return err
	}
	r.off += n
	return nil
}

// int ---

func (r *reader) int1() byte {
	if err := r.ensure(1); err != nil {
		return 0
	}
	v := r.buf[r.off]
	r.off++
	return v
}

func (r *reader) int2() uint16 {
	return uint16(r.intFixed(2))
}

func (r *reader) int3() uint32 {
	return uint32(r.intFixed(3))
}

func (r *reader) int4() uint32 {
	return uint32(r.intFixed(4))
}

func (r *reader) int6() uint64 {
	return r.intFixed(6)
}

func (r *reader) int8() uint64 {
	return r.intFixed(8)
}

// intFixed reads an n byte little-endian unsigned integer.
func (r *reader) intFixed(n int) uint64 {
	if err := r.ensure(n); err != nil {
		return 0
	}
	var v uint64
	for i, b := range r.buf[r.off : r.off+n] {
		v |= uint64(b) << (uint(i) * 8)
	}
	r.off += n
	return v
}

// intBig reads an n byte big-endian unsigned integer, as used by the
// packed temporal, decimal and bit column formats.
func (r *reader) intBig(n int) uint64 {
	if err := r.ensure(n); err != nil {
		return 0
	}
	var v uint64
	for _, b := range r.buf[r.off : r.off+n] {
		v = v<<8 | uint64(b)
	}
	r.off += n
	return v
}

// intN reads a length-encoded integer.
func (r *reader) intN() uint64 {
	b := r.int1()
	if r.err != nil {
		return 0
	}
	switch b {
	case 0xfc:
		return uint64(r.int2())
	case 0xfd:
		return uint64(r.int3())
	case 0xfe:
		return r.int8()
	default:
		return uint64(b)
	}
}

// bytes, strings ---

func (r *reader) bytesInternal(n int) []byte {
	if err := r.ensure(n); err != nil {
		return nil
	}
	v := r.buf[r.off : r.off+n]
	r.off += n
	return v
}

func (r *reader) bytes(n int) []byte {
	return append([]byte(nil), r.bytesInternal(n)...)
}

func (r *reader) string(n int) string {
	return string(r.bytesInternal(n))
}

func (r *reader) stringNull() string {
	if r.err != nil {
		return ""
	}
	i := bytes.IndexByte(r.buffer(), 0)
	if i == -1 {
		r.err = io.ErrUnexpectedEOF
		return ""
	}
	v := string(r.buf[r.off : r.off+i])
	r.off += i + 1
	return v
}

func (r *reader) bytesEOF() []byte {
	if r.err != nil {
		return nil
	}
	v := append([]byte(nil), r.buffer()...)
	r.off = len(r.buf)
	return v
}

func (r *reader) stringEOF() string {
	if r.err != nil {
		return ""
	}
	v := string(r.buffer())
	r.off = len(r.buf)
	return v
}

func (r *reader) stringN() string {
	l := r.intN()
	if r.err != nil {
		return ""
	}
	return r.string(int(l))
}
