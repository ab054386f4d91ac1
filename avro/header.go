package avro

import (
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// https://avro.apache.org/docs/1.11.1/specification/#object-container-files

var magic = [4]byte{'O', 'b', 'j', 1}

const (
	MetaSchema = "avro.schema"
	MetaCodec  = "avro.codec"

	syncSize = 16
)

var (
	ErrBadMagic      = errors.New("avro: bad magic")
	ErrBadMetadata   = errors.New("avro: malformed metadata")
	ErrNoSchema      = errors.New("avro: no avro.schema in metadata")
	ErrSchema        = errors.New("avro: invalid schema")
	ErrSyncMismatch  = errors.New("avro: sync marker mismatch")
	ErrOverflow      = errors.New("avro: varint overflow")
	ErrMalformed     = errors.New("avro: malformed data")
	ErrNotReady      = errors.New("avro: block not fully written yet")
	ErrBlockTooLarge = errors.New("avro: block too large")
	ErrUnknownCodec  = errors.New("avro: unknown codec")
)

// Metadata is the header key/value map, kept in insertion order.
type Metadata = orderedmap.OrderedMap[string, []byte]

type header struct {
	meta   *Metadata
	schema *Schema
	codec  Codec
	sync   [syncSize]byte
}

func newSync() [syncSize]byte {
	return [syncSize]byte(uuid.New())
}

func newHeader(schema *Schema, codec Codec, extra *Metadata) *header {
	meta := orderedmap.New[string, []byte]()
	meta.Set(MetaSchema, []byte(schema.String()))
	meta.Set(MetaCodec, []byte(codec.Name()))
	if extra != nil {
		for p := extra.Oldest(); p != nil; p = p.Next() {
			if p.Key != MetaSchema && p.Key != MetaCodec {
				meta.Set(p.Key, p.Value)
			}
		}
	}
	return &header{meta: meta, schema: schema, codec: codec, sync: newSync()}
}

func (h *header) appendTo(b []byte) []byte {
	b = append(b, magic[:]...)
	if h.meta.Len() > 0 {
		b = AppendVarint(b, int64(h.meta.Len()))
		for p := h.meta.Oldest(); p != nil; p = p.Next() {
			b = AppendString(b, p.Key)
			b = AppendBytes(b, p.Value)
		}
	}
	b = AppendVarint(b, 0)
	return append(b, h.sync[:]...)
}

func readHeader(r ByteReader) (*header, error) {
	var m [4]byte
	if _, err := io.ReadFull(r, m[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadMagic, err)
	}
	if m != magic {
		return nil, fmt.Errorf("%w: % x", ErrBadMagic, m[:])
	}

	h := &header{meta: orderedmap.New[string, []byte]()}
	for {
		count, err := readLong(r)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadMetadata, err)
		}
		if count == 0 {
			break
		}
		if count < 0 {
			// negative count is followed by the block size in bytes
			count = -count
			if _, err := readLong(r); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrBadMetadata, err)
			}
		}
		for ; count > 0; count-- {
			k, err := ReadString(r)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrBadMetadata, err)
			}
			v, err := ReadBytes(r)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrBadMetadata, err)
			}
			h.meta.Set(k, v)
		}
	}

	text, ok := h.meta.Get(MetaSchema)
	if !ok {
		return nil, ErrNoSchema
	}
	var err error
	if h.schema, err = ParseSchema(string(text)); err != nil {
		return nil, err
	}
	codec, _ := h.meta.Get(MetaCodec)
	if h.codec, err = NewCodec(string(codec)); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, h.sync[:]); err != nil {
		return nil, fmt.Errorf("%w: sync marker: %v", ErrBadMetadata, err)
	}
	return h, nil
}
