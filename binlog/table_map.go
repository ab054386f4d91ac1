package binlog

import "fmt"

// https://dev.mysql.com/doc/internals/en/table-map-event.html

// maximum number of columns in a mysql table
const maxColumns = 4096

// optional metadata types of TABLE_MAP_EVENT
const (
	metaSignedness = 1
	metaColumnName = 4
)

// TableMapEntry is the column layout a TABLE_MAP_EVENT binds to a
// transient numeric table id.
type TableMapEntry struct {
	ID       uint64
	Flags    uint16
	Database string
	Table    string
	Types    []ColumnType
	Meta     [][]byte
	Nullable []bool
	Unsigned []bool
	Names    []string // only with binlog_row_metadata=FULL

	Version int    // version of the definition the entry was matched with
	GTID    string // gtid active when the map was seen
}

func (e *TableMapEntry) Ident() string {
	return e.Database + "." + e.Table
}

func (e *TableMapEntry) sameLayout(o *TableMapEntry) bool {
	if len(e.Types) != len(o.Types) {
		return false
	}
	for i := range e.Types {
		if e.Types[i] != o.Types[i] {
			return false
		}
	}
	return true
}

func (e *TableMapEntry) decode(r *reader, fde *FormatDescriptionEvent) error {
	if fde.postHeaderLength(TABLE_MAP_EVENT, 8) == 6 {
		e.ID = uint64(r.int4())
	} else {
		e.ID = r.int6()
	}
	e.Flags = r.int2()
	_ = r.int1() // schema name length
	e.Database = r.stringNull()
	_ = r.int1() // table name length
	e.Table = r.stringNull()
	numCol := r.intN()
	if r.err != nil {
		return r.err
	}
	if numCol > maxColumns {
		return fmt.Errorf("%w: table map with %d columns", ErrMalformedEvent, numCol)
	}
	n := int(numCol)
	e.Types = make([]ColumnType, n)
	for i := range e.Types {
		e.Types[i] = ColumnType(r.int1())
	}

	mr := newReader(r.bytesInternal(int(r.intN())))
	e.Meta = make([][]byte, n)
	for i, t := range e.Types {
		e.Meta[i] = mr.bytes(t.metaSize())
	}
	if r.err != nil {
		return r.err
	}
	if mr.err != nil {
		return fmt.Errorf("%w: column metadata of %s is short", ErrMalformedEvent, e.Ident())
	}

	nullability := bitmap(r.bytesInternal(bitmapSize(n)))
	e.Nullable = make([]bool, n)
	for i := range e.Nullable {
		e.Nullable[i] = nullability.isSet(i)
	}

	e.Unsigned = make([]bool, n)
	for r.more() {
		typ := r.int1()
		size := int(r.intN())
		if r.err != nil {
			break
		}
		switch typ {
		case metaSignedness:
			signedness := msbBitmap(r.bytesInternal(size))
			inum := 0
			for i, t := range e.Types {
				if t.isNumeric() {
					e.Unsigned[i] = signedness.isSet(inum)
					inum++
				}
			}
		case metaColumnName:
			cr := newReader(r.bytesInternal(size))
			names := make([]string, 0, n)
			for cr.more() {
				names = append(names, cr.stringN())
			}
			if cr.err == nil {
				e.Names = names
			}
		default:
			r.skip(size)
		}
	}
	return r.err
}

// bitmap ---

type bitmap []byte

func bitmapSize(numCol int) int {
	return (numCol + 7) / 8
}

// isSet tests bit i, counting from the least significant bit of the
// first byte.
func (bm bitmap) isSet(i int) bool {
	return i/8 < len(bm) && bm[i/8]&(1<<uint(i%8)) != 0
}

// msbBitmap counts bits from the most significant bit of each byte, as
// the optional metadata of TABLE_MAP_EVENT does.
type msbBitmap []byte

func (bm msbBitmap) isSet(i int) bool {
	return i/8 < len(bm) && bm[i/8]&(1<<uint(7-i%8)) != 0
}
