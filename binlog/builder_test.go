package binlog

import (
	"encoding/binary"
	"hash/crc32"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// binlogBuilder synthesises binlog files event by event.
type binlogBuilder struct {
	buf      []byte
	checksum bool
	serverID uint32
	ts       uint32
}

func newBinlogBuilder(checksum bool) *binlogBuilder {
	b := &binlogBuilder{
		buf:      append([]byte(nil), binlogMagic...),
		checksum: checksum,
		serverID: 1,
		ts:       1700000000,
	}
	b.formatDescription()
	return b
}

func (b *binlogBuilder) pos() int64 { return int64(len(b.buf)) }

// event appends an event and returns its offset.
func (b *binlogBuilder) event(typ EventType, body []byte) int64 {
	pos := b.pos()
	size := eventHeaderSize + len(body)
	if b.checksum {
		size += 4
	}
	var h [eventHeaderSize]byte
	binary.LittleEndian.PutUint32(h[0:], b.ts)
	h[4] = byte(typ)
	binary.LittleEndian.PutUint32(h[5:], b.serverID)
	binary.LittleEndian.PutUint32(h[9:], uint32(size))
	binary.LittleEndian.PutUint32(h[13:], uint32(int(pos)+size))
	start := len(b.buf)
	b.buf = append(b.buf, h[:]...)
	b.buf = append(b.buf, body...)
	if b.checksum {
		b.buf = binary.LittleEndian.AppendUint32(b.buf, crc32.ChecksumIEEE(b.buf[start:]))
	}
	return pos
}

func (b *binlogBuilder) formatDescription() int64 {
	const start = 2 + 50 + 4 + 1
	lengths := make([]byte, int(maxEventType))
	lengths[QUERY_EVENT-1] = 13
	lengths[ROTATE_EVENT-1] = 8
	lengths[TABLE_MAP_EVENT-1] = 8
	for _, typ := range []EventType{WRITE_ROWS_EVENTv1, UPDATE_ROWS_EVENTv1, DELETE_ROWS_EVENTv1} {
		lengths[typ-1] = 8
	}
	for _, typ := range []EventType{WRITE_ROWS_EVENTv2, UPDATE_ROWS_EVENTv2, DELETE_ROWS_EVENTv2} {
		lengths[typ-1] = 10
	}
	lengths[FORMAT_DESCRIPTION_EVENT-1] = byte(start + len(lengths))

	body := binary.LittleEndian.AppendUint16(nil, 4)
	version := make([]byte, 50)
	copy(version, "10.6.12-MariaDB-log")
	body = append(body, version...)
	body = binary.LittleEndian.AppendUint32(body, b.ts)
	body = append(body, eventHeaderSize)
	body = append(body, lengths...)
	if b.checksum {
		body = append(body, ChecksumCRC32)
	} else {
		// checksum aware servers write the algorithm and a checksum
		// even when checksums are off
		body = append(body, ChecksumOff, 0, 0, 0, 0)
	}
	return b.event(FORMAT_DESCRIPTION_EVENT, body)
}

func (b *binlogBuilder) query(schema, sql string) int64 {
	body := binary.LittleEndian.AppendUint32(nil, 1) // slave proxy id
	body = binary.LittleEndian.AppendUint32(body, 0)  // execution time
	body = append(body, byte(len(schema)))
	body = binary.LittleEndian.AppendUint16(body, 0) // error code
	body = binary.LittleEndian.AppendUint16(body, 0) // status vars
	body = append(body, schema...)
	body = append(body, 0)
	body = append(body, sql...)
	return b.event(QUERY_EVENT, body)
}

type column struct {
	typ      ColumnType
	meta     []byte
	unsigned bool
}

func (b *binlogBuilder) tableMap(id uint64, db, table string, cols ...column) int64 {
	body := appendUint48(nil, id)
	body = binary.LittleEndian.AppendUint16(body, 0)
	body = append(body, byte(len(db)))
	body = append(body, db...)
	body = append(body, 0)
	body = append(body, byte(len(table)))
	body = append(body, table...)
	body = append(body, 0)
	body = append(body, byte(len(cols)))
	var meta []byte
	for _, c := range cols {
		body = append(body, byte(c.typ))
		meta = append(meta, c.meta...)
	}
	body = append(body, byte(len(meta)))
	body = append(body, meta...)
	nullable := make([]byte, bitmapSize(len(cols)))
	for i := range nullable {
		nullable[i] = 0xff
	}
	body = append(body, nullable...)

	var signedness []byte
	var hasUnsigned bool
	inum := 0
	for _, c := range cols {
		if !c.typ.isNumeric() {
			continue
		}
		if inum%8 == 0 {
			signedness = append(signedness, 0)
		}
		if c.unsigned {
			signedness[inum/8] |= 1 << uint(7-inum%8)
			hasUnsigned = true
		}
		inum++
	}
	if hasUnsigned {
		body = append(body, metaSignedness, byte(len(signedness)))
		body = append(body, signedness...)
	}
	return b.event(TABLE_MAP_EVENT, body)
}

// rows appends a v2 rows event. Every row image has all ncols columns.
func (b *binlogBuilder) rows(typ EventType, id uint64, ncols int, images ...[]byte) int64 {
	body := appendUint48(nil, id)
	body = binary.LittleEndian.AppendUint16(body, 0)
	body = binary.LittleEndian.AppendUint16(body, 2) // extra data length
	body = append(body, byte(ncols))
	present := make([]byte, bitmapSize(ncols))
	for i := 0; i < ncols; i++ {
		present[i/8] |= 1 << uint(i%8)
	}
	body = append(body, present...)
	if typ.IsUpdateRows() {
		body = append(body, present...)
	}
	for _, img := range images {
		body = append(body, img...)
	}
	return b.event(typ, body)
}

func (b *binlogBuilder) xid(xid uint64) int64 {
	return b.event(XID_EVENT, binary.LittleEndian.AppendUint64(nil, xid))
}

func (b *binlogBuilder) rotate(next string) int64 {
	body := binary.LittleEndian.AppendUint64(nil, 4)
	return b.event(ROTATE_EVENT, append(body, next...))
}

func (b *binlogBuilder) stop() int64 {
	return b.event(STOP_EVENT, nil)
}

func (b *binlogBuilder) mariadbGTID(domain uint32, seq uint64, standalone bool) int64 {
	body := binary.LittleEndian.AppendUint64(nil, seq)
	body = binary.LittleEndian.AppendUint32(body, domain)
	var flags byte
	if standalone {
		flags |= gtidStandalone
	}
	return b.event(MARIADB_GTID_EVENT, append(body, flags))
}

func (b *binlogBuilder) writeFile(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), b.buf, 0o644))
}

func appendUint48(b []byte, v uint64) []byte {
	return append(b, byte(v), byte(v>>8), byte(v>>16), byte(v>>24), byte(v>>32), byte(v>>40))
}

// rowImage builds a row image with no nulls from the encoded values.
func rowImage(ncols int, values ...[]byte) []byte {
	img := make([]byte, bitmapSize(ncols))
	for _, v := range values {
		img = append(img, v...)
	}
	return img
}

func int4(v int32) []byte {
	return binary.LittleEndian.AppendUint32(nil, uint32(v))
}

func varchar(s string) []byte {
	return append([]byte{byte(len(s))}, s...)
}
