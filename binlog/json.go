package binlog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/segmentio/encoding/json"
)

// MySQL binary JSON, as stored in JSON columns of row events.
//
// https://dev.mysql.com/worklog/task/?id=8132#tabs-8132-4
const (
	jsonSmallObj byte = iota
	jsonLargeObj
	jsonSmallArr
	jsonLargeArr
	jsonLiteral
	jsonInt16
	jsonUInt16
	jsonInt32
	jsonUInt32
	jsonInt64
	jsonUInt64
	jsonDouble
	jsonString
	jsonCustom = 0x0f
)

const (
	jsonLiteralNull  = 0x00
	jsonLiteralTrue  = 0x01
	jsonLiteralFalse = 0x02

	// servers refuse documents nested deeper than this
	jsonMaxDepth = 100
)

var errJSONDepth = errors.New("document nested too deep")

// jsonText converts a binary JSON column value into JSON text. Object
// members keep the order they are stored in.
func jsonText(data []byte) (string, error) {
	if len(data) == 0 {
		return "null", nil
	}
	b, err := appendJSON(nil, data[0], data[1:], 0)
	if err != nil {
		return "", fmt.Errorf("%w: json: %v", ErrMalformedEvent, err)
	}
	return string(b), nil
}

func appendJSON(dst []byte, typ byte, data []byte, depth int) ([]byte, error) {
	switch typ {
	case jsonSmallObj, jsonLargeObj, jsonSmallArr, jsonLargeArr:
		if depth >= jsonMaxDepth {
			return nil, errJSONDepth
		}
		c := jsonComposite{
			data:   data,
			small:  typ == jsonSmallObj || typ == jsonSmallArr,
			object: typ == jsonSmallObj || typ == jsonLargeObj,
		}
		return c.appendTo(dst, depth+1)
	case jsonLiteral:
		if len(data) < 1 {
			return nil, io.ErrUnexpectedEOF
		}
		switch data[0] {
		case jsonLiteralNull:
			return append(dst, "null"...), nil
		case jsonLiteralTrue:
			return append(dst, "true"...), nil
		case jsonLiteralFalse:
			return append(dst, "false"...), nil
		}
		return nil, fmt.Errorf("invalid literal 0x%02x", data[0])
	case jsonInt16, jsonUInt16:
		if len(data) < 2 {
			return nil, io.ErrUnexpectedEOF
		}
		v := binary.LittleEndian.Uint16(data)
		if typ == jsonInt16 {
			return strconv.AppendInt(dst, int64(int16(v)), 10), nil
		}
		return strconv.AppendUint(dst, uint64(v), 10), nil
	case jsonInt32, jsonUInt32:
		if len(data) < 4 {
			return nil, io.ErrUnexpectedEOF
		}
		v := binary.LittleEndian.Uint32(data)
		if typ == jsonInt32 {
			return strconv.AppendInt(dst, int64(int32(v)), 10), nil
		}
		return strconv.AppendUint(dst, uint64(v), 10), nil
	case jsonInt64, jsonUInt64, jsonDouble:
		if len(data) < 8 {
			return nil, io.ErrUnexpectedEOF
		}
		v := binary.LittleEndian.Uint64(data)
		switch typ {
		case jsonInt64:
			return strconv.AppendInt(dst, int64(v), 10), nil
		case jsonUInt64:
			return strconv.AppendUint(dst, v, 10), nil
		}
		return json.Append(dst, math.Float64frombits(v), 0)
	case jsonString:
		s, err := jsonBytes(data)
		if err != nil {
			return nil, err
		}
		return json.Append(dst, string(s), 0)
	case jsonCustom:
		return appendJSONOpaque(dst, data)
	}
	return nil, fmt.Errorf("invalid value type 0x%02x", typ)
}

// jsonComposite is an object or array: element count and byte size,
// then the key entries of objects, then one value entry per element.
// Offsets and sizes are 2 bytes wide in small composites, 4 otherwise.
type jsonComposite struct {
	data   []byte
	small  bool
	object bool
}

func (c *jsonComposite) width() int {
	if c.small {
		return 2
	}
	return 4
}

func (c *jsonComposite) offset(off int) (int, error) {
	if off < 0 || off+c.width() > len(c.data) {
		return 0, io.ErrUnexpectedEOF
	}
	if c.small {
		return int(binary.LittleEndian.Uint16(c.data[off:])), nil
	}
	return int(binary.LittleEndian.Uint32(c.data[off:])), nil
}

func (c *jsonComposite) key(i int) ([]byte, error) {
	entry := 2*c.width() + i*(c.width()+2)
	off, err := c.offset(entry)
	if err != nil {
		return nil, err
	}
	if entry+c.width()+2 > len(c.data) {
		return nil, io.ErrUnexpectedEOF
	}
	n := int(binary.LittleEndian.Uint16(c.data[entry+c.width():]))
	if off+n > len(c.data) {
		return nil, io.ErrUnexpectedEOF
	}
	return c.data[off : off+n], nil
}

// inlined reports whether values of typ are stored in the value entry
// itself instead of at an offset.
func (c *jsonComposite) inlined(typ byte) bool {
	switch typ {
	case jsonLiteral, jsonInt16, jsonUInt16:
		return true
	case jsonInt32, jsonUInt32:
		return !c.small
	}
	return false
}

func (c *jsonComposite) appendTo(dst []byte, depth int) ([]byte, error) {
	count, err := c.offset(0)
	if err != nil {
		return nil, err
	}
	values := 2 * c.width()
	open, end := byte('['), byte(']')
	if c.object {
		values += count * (c.width() + 2)
		open, end = '{', '}'
	}
	dst = append(dst, open)
	for i := 0; i < count; i++ {
		if i > 0 {
			dst = append(dst, ',')
		}
		if c.object {
			key, err := c.key(i)
			if err != nil {
				return nil, err
			}
			if dst, err = json.Append(dst, string(key), 0); err != nil {
				return nil, err
			}
			dst = append(dst, ':')
		}
		entry := values + i*(1+c.width())
		if entry >= len(c.data) {
			return nil, io.ErrUnexpectedEOF
		}
		typ := c.data[entry]
		if c.inlined(typ) {
			dst, err = appendJSON(dst, typ, c.data[entry+1:], depth)
		} else {
			var off int
			if off, err = c.offset(entry + 1); err != nil {
				return nil, err
			}
			if off > len(c.data) {
				return nil, io.ErrUnexpectedEOF
			}
			dst, err = appendJSON(dst, typ, c.data[off:], depth)
		}
		if err != nil {
			return nil, err
		}
	}
	return append(dst, end), nil
}

// jsonBytes reads a value prefixed by its variable length size: 7 bits
// per byte, high bit set on all but the last byte.
func jsonBytes(data []byte) ([]byte, error) {
	var size uint64
	for i := 0; ; i++ {
		if i == 5 {
			return nil, errors.New("invalid data length")
		}
		if i >= len(data) {
			return nil, io.ErrUnexpectedEOF
		}
		b := data[i]
		size |= uint64(b&0x7f) << (7 * uint(i))
		if b&0x80 == 0 {
			data = data[i+1:]
			break
		}
	}
	if uint64(len(data)) < size {
		return nil, io.ErrUnexpectedEOF
	}
	return data[:size], nil
}

// appendJSONOpaque appends an opaque value: a column type followed by a
// value in that type's binary form. Decimals become numbers, temporal
// values strings and anything else its raw bytes as a string.
func appendJSONOpaque(dst []byte, data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, io.ErrUnexpectedEOF
	}
	typ := ColumnType(data[0])
	v, err := jsonBytes(data[1:])
	if err != nil {
		return nil, err
	}

	switch typ {
	case TypeNewDecimal:
		if len(v) < 2 {
			return nil, io.ErrUnexpectedEOF
		}
		s, _, err := decodeDecimal(v[2:], int(v[0]), int(v[1]))
		if err != nil {
			return nil, err
		}
		return append(dst, s...), nil
	case TypeTime:
		if len(v) < 8 {
			return nil, io.ErrUnexpectedEOF
		}
		packed := int64(binary.LittleEndian.Uint64(v))
		sign := ""
		if packed < 0 {
			packed, sign = -packed, "-"
		}
		frac, hms := packed%(1<<24), packed>>24
		s := fmt.Sprintf("%s%02d:%02d:%02d.%06d", sign, (hms>>12)%(1<<10), (hms>>6)%(1<<6), hms%(1<<6), frac)
		return json.Append(dst, s, 0)
	case TypeDate, TypeDateTime, TypeTimestamp:
		if len(v) < 8 {
			return nil, io.ErrUnexpectedEOF
		}
		packed := binary.LittleEndian.Uint64(v)
		frac, ymdhms := packed%(1<<24), packed>>24
		ymd, hms := ymdhms>>17, ymdhms%(1<<17)
		year, month, day := (ymd>>5)/13, (ymd>>5)%13, ymd%(1<<5)
		s := fmt.Sprintf("%04d-%02d-%02d", year, month, day)
		if typ != TypeDate {
			s += fmt.Sprintf(" %02d:%02d:%02d.%06d", hms>>12, (hms>>6)%(1<<6), hms%(1<<6), frac)
		}
		return json.Append(dst, s, 0)
	}
	return json.Append(dst, string(v), 0)
}
