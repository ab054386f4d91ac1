package avro

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"
)

// Codec compresses block payloads. The name is stored under the
// avro.codec metadata key.
type Codec interface {
	Name() string
	Encode(dst, src []byte) ([]byte, error)
	Decode(dst, src []byte) ([]byte, error)
}

const (
	CodecNull      = "null"
	CodecDeflate   = "deflate"
	CodecZstandard = "zstandard"
)

// NewCodec returns the codec with given name. The empty name means null.
func NewCodec(name string) (Codec, error) {
	switch name {
	case "", CodecNull:
		return nullCodec{}, nil
	case CodecDeflate:
		return deflateCodec{}, nil
	case CodecZstandard:
		return newZstdCodec()
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
}

type nullCodec struct{}

func (nullCodec) Name() string { return CodecNull }

func (nullCodec) Encode(dst, src []byte) ([]byte, error) { return append(dst, src...), nil }

func (nullCodec) Decode(dst, src []byte) ([]byte, error) { return append(dst, src...), nil }

// deflate blocks are raw RFC 1951 streams without zlib framing.
type deflateCodec struct{}

func (deflateCodec) Name() string { return CodecDeflate }

func (deflateCodec) Encode(dst, src []byte) ([]byte, error) {
	buf := bytes.NewBuffer(dst)
	w, err := flate.NewWriter(buf, flate.DefaultCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(src); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (deflateCodec) Decode(dst, src []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(src))
	defer r.Close()
	buf := bytes.NewBuffer(dst)
	if _, err := io.Copy(buf, r); err != nil {
		return nil, fmt.Errorf("avro: deflate: %w", err)
	}
	return buf.Bytes(), nil
}

type zstdCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newZstdCodec() (*zstdCodec, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	return &zstdCodec{enc: enc, dec: dec}, nil
}

func (*zstdCodec) Name() string { return CodecZstandard }

func (c *zstdCodec) Encode(dst, src []byte) ([]byte, error) {
	return c.enc.EncodeAll(src, dst), nil
}

func (c *zstdCodec) Decode(dst, src []byte) ([]byte, error) {
	b, err := c.dec.DecodeAll(src, dst)
	if err != nil {
		return nil, fmt.Errorf("avro: zstandard: %w", err)
	}
	return b, nil
}
