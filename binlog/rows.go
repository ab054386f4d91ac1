package binlog

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// https://dev.mysql.com/doc/internals/en/rows-event.html

// table id of the dummy rows event that ends a statement
const dummyTableID = 0x00ffffff

type RowsEvent struct {
	Type    EventType
	TableID uint64
	Flags   uint16
	NumCol  int
	Present bitmap // columns in the (before) image
	Update  bitmap // columns in the after image of update events

	rows *reader
}

func (e *RowsEvent) decode(r *reader, typ EventType, fde *FormatDescriptionEvent) error {
	e.Type = typ
	if fde.postHeaderLength(typ, 8) == 6 {
		e.TableID = uint64(r.int4())
	} else {
		e.TableID = r.int6()
	}
	e.Flags = r.int2()
	switch typ {
	case WRITE_ROWS_EVENTv2, UPDATE_ROWS_EVENTv2, DELETE_ROWS_EVENTv2:
		extraDataLength := r.int2()
		if r.err != nil {
			return r.err
		}
		r.skip(int(extraDataLength) - 2)
	}
	numCol := r.intN()
	if r.err != nil {
		return r.err
	}
	if numCol > maxColumns {
		return fmt.Errorf("%w: rows event with %d columns", ErrMalformedEvent, numCol)
	}
	e.NumCol = int(numCol)
	e.Present = bitmap(r.bytesInternal(bitmapSize(e.NumCol)))
	if typ.IsUpdateRows() {
		e.Update = bitmap(r.bytesInternal(bitmapSize(e.NumCol)))
	}
	e.rows = r
	return r.err
}

func (e *RowsEvent) Dummy() bool {
	return e.TableID == dummyTableID
}

// more reports whether another row image follows.
func (e *RowsEvent) more() bool {
	return e.rows.more()
}

// RowImage is one decoded row: a value per column of the table, nil for
// SQL NULL and for columns missing from a partial image.
type RowImage []interface{}

// decodeRow decodes the next row image of the event. The null bitmap in
// front of the image has a bit for every column present in the image.
func (e *RowsEvent) decodeRow(t *TableMapEntry, def *TableDefinition, present bitmap) (RowImage, error) {
	r := e.rows
	n := len(t.Types)
	npresent := 0
	for i := 0; i < n; i++ {
		if present.isSet(i) {
			npresent++
		}
	}
	nulls := bitmap(r.bytesInternal(bitmapSize(npresent)))
	if r.err != nil {
		return nil, fmt.Errorf("%w: row image of %s: %v", ErrMalformedEvent, t.Ident(), r.err)
	}

	row := make(RowImage, n)
	j := 0
	for i := 0; i < n; i++ {
		if !present.isSet(i) {
			continue
		}
		isNull := nulls.isSet(j)
		j++
		if isNull {
			continue
		}
		var symbols []string
		if def != nil && i < len(def.Columns) {
			symbols = def.Columns[i].Symbols
		}
		v, err := decodeValue(r, t.Types[i], t.Meta[i], t.Unsigned[i], symbols)
		if err == nil {
			err = r.err
		}
		if err != nil {
			return nil, fmt.Errorf("%s column %d (%s): %w", t.Ident(), i, t.Types[i], err)
		}
		row[i] = v
	}
	return row, nil
}

// decodeValue decodes a non-null column value into the Go type of the
// column's container field.
//
// https://dev.mysql.com/doc/internals/en/binary-protocol-value.html
func decodeValue(r *reader, typ ColumnType, meta []byte, unsigned bool, symbols []string) (interface{}, error) {
	switch typ {
	case TypeTiny:
		v := r.int1()
		if unsigned {
			return int32(v), nil
		}
		return int32(int8(v)), nil
	case TypeShort:
		v := r.int2()
		if unsigned {
			return int32(v), nil
		}
		return int32(int16(v)), nil
	case TypeInt24:
		v := r.int3()
		if unsigned {
			return int32(v), nil
		}
		return int32(v<<8) >> 8, nil
	case TypeLong:
		v := r.int4()
		if unsigned {
			return int64(v), nil
		}
		return int32(v), nil
	case TypeLongLong:
		return int64(r.int8()), nil
	case TypeFloat:
		return math.Float32frombits(r.int4()), nil
	case TypeDouble:
		return math.Float64frombits(r.int8()), nil
	case TypeNewDecimal:
		if len(meta) < 2 {
			return nil, fmt.Errorf("%w: decimal metadata", ErrMalformedEvent)
		}
		s, n, err := decodeDecimal(r.buffer(), int(meta[0]), int(meta[1]))
		if err != nil {
			return nil, err
		}
		r.skip(n)
		return strconv.ParseFloat(s, 64)
	case TypeYear, TypeDate, TypeNewDate, TypeTime, TypeDateTime, TypeTimestamp,
		TypeTimestamp2, TypeDateTime2, TypeTime2:
		return decodeTemporal(r, typ, meta)
	case TypeVarchar, TypeVarString:
		var n int
		if maxLen := int(meta[0]) | int(meta[1])<<8; maxLen < 256 {
			n = int(r.int1())
		} else {
			n = int(r.int2())
		}
		return r.string(n), nil
	case TypeString:
		return decodeString(r, meta, symbols)
	case TypeTinyBlob, TypeMediumBlob, TypeLongBlob, TypeBlob, TypeGeometry:
		n := r.intFixed(blobWidth(typ, meta))
		return r.bytes(int(n)), nil
	case TypeJSON:
		n := r.intFixed(blobWidth(typ, meta))
		b := r.bytesInternal(int(n))
		if r.err != nil {
			return nil, r.err
		}
		return jsonText(b)
	case TypeBit:
		width := bitWidth(meta)
		v := r.intBig((width + 7) / 8)
		if width <= 32 {
			return int32(v), nil
		}
		return int64(v), nil
	case TypeEnum, TypeSet:
		return int32(r.intFixed(int(meta[1]))), nil
	case TypeNull:
		return nil, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, typ)
}

func blobWidth(typ ColumnType, meta []byte) int {
	if len(meta) > 0 && meta[0] >= 1 && meta[0] <= 4 {
		return int(meta[0])
	}
	switch typ {
	case TypeTinyBlob:
		return 1
	case TypeMediumBlob:
		return 3
	case TypeLongBlob:
		return 4
	}
	return 2
}

// decodeString decodes a fixed length CHAR column. ENUM and SET columns
// are logged with this type and carry their real type in the metadata.
func decodeString(r *reader, meta []byte, symbols []string) (interface{}, error) {
	realType, length := TypeString, int(meta[0])<<8|int(meta[1])
	if length >= 256 {
		b0, b1 := int(meta[0]), int(meta[1])
		if b0&0x30 != 0x30 {
			// the two high bits of the length are stored inverted in b0
			realType, length = ColumnType(b0|0x30), b1|((b0&0x30)^0x30)<<4
		} else {
			realType, length = ColumnType(b0), b1
		}
	}
	switch realType {
	case TypeEnum:
		return enumSymbol(r.intFixed(length), symbols), nil
	case TypeSet:
		return setSymbols(r.intFixed(length), symbols), nil
	}
	var n int
	if length > 255 {
		n = int(r.int2())
	} else {
		n = int(r.int1())
	}
	return r.string(n), nil
}

// enumSymbol returns the symbol of an 1-based ENUM ordinal. Zero is the
// empty string mysql stores for invalid values.
func enumSymbol(v uint64, symbols []string) string {
	switch {
	case v == 0:
		return ""
	case v <= uint64(len(symbols)):
		return symbols[v-1]
	}
	return strconv.FormatUint(v, 10)
}

// setSymbols returns the comma separated members of a SET bitmask, or
// the mask in decimal when a member is unknown.
func setSymbols(v uint64, symbols []string) string {
	var members []string
	for i := 0; i < 64; i++ {
		if v&(1<<uint(i)) == 0 {
			continue
		}
		if i >= len(symbols) {
			return strconv.FormatUint(v, 10)
		}
		members = append(members, symbols[i])
	}
	return strings.Join(members, ",")
}
