package binlog

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// https://dev.mysql.com/doc/internals/en/binlog-event-type.html
// https://dev.mysql.com/doc/internals/en/event-meanings.html
// https://mariadb.com/kb/en/replication-protocol/

type EventType uint8

const (
	UNKNOWN_EVENT            EventType = 0x00
	START_EVENT_V3           EventType = 0x01
	QUERY_EVENT              EventType = 0x02
	STOP_EVENT               EventType = 0x03
	ROTATE_EVENT             EventType = 0x04
	INTVAR_EVENT             EventType = 0x05
	LOAD_EVENT               EventType = 0x06
	SLAVE_EVENT              EventType = 0x07
	CREATE_FILE_EVENT        EventType = 0x08
	APPEND_BLOCK_EVENT       EventType = 0x09
	EXEC_LOAD_EVENT          EventType = 0x0a
	DELETE_FILE_EVENT        EventType = 0x0b
	NEW_LOAD_EVENT           EventType = 0x0c
	RAND_EVENT               EventType = 0x0d
	USER_VAR_EVENT           EventType = 0x0e
	FORMAT_DESCRIPTION_EVENT EventType = 0x0f
	XID_EVENT                EventType = 0x10
	BEGIN_LOAD_QUERY_EVENT   EventType = 0x11
	EXECUTE_LOAD_QUERY_EVENT EventType = 0x12
	TABLE_MAP_EVENT          EventType = 0x13
	WRITE_ROWS_EVENTv0       EventType = 0x14
	UPDATE_ROWS_EVENTv0      EventType = 0x15
	DELETE_ROWS_EVENTv0      EventType = 0x16
	WRITE_ROWS_EVENTv1       EventType = 0x17
	UPDATE_ROWS_EVENTv1      EventType = 0x18
	DELETE_ROWS_EVENTv1      EventType = 0x19
	INCIDENT_EVENT           EventType = 0x1a
	HEARTBEAT_EVENT          EventType = 0x1b
	IGNORABLE_EVENT          EventType = 0x1c
	ROWS_QUERY_EVENT         EventType = 0x1d
	WRITE_ROWS_EVENTv2       EventType = 0x1e
	UPDATE_ROWS_EVENTv2      EventType = 0x1f
	DELETE_ROWS_EVENTv2      EventType = 0x20
	GTID_EVENT               EventType = 0x21
	ANONYMOUS_GTID_EVENT     EventType = 0x22
	PREVIOUS_GTIDS_EVENT     EventType = 0x23

	// MariaDB
	ANNOTATE_ROWS_EVENT     EventType = 0xa0
	BINLOG_CHECKPOINT_EVENT EventType = 0xa1
	MARIADB_GTID_EVENT      EventType = 0xa2
	GTID_LIST_EVENT         EventType = 0xa3
	START_ENCRYPTION_EVENT  EventType = 0xa4

	maxEventType = START_ENCRYPTION_EVENT
)

var eventTypeNames = map[EventType]string{
	UNKNOWN_EVENT:            "unknown",
	START_EVENT_V3:           "startV3",
	QUERY_EVENT:              "query",
	STOP_EVENT:               "stop",
	ROTATE_EVENT:             "rotate",
	INTVAR_EVENT:             "intVar",
	LOAD_EVENT:               "load",
	SLAVE_EVENT:              "slave",
	CREATE_FILE_EVENT:        "createFile",
	APPEND_BLOCK_EVENT:       "appendBlock",
	EXEC_LOAD_EVENT:          "execLoad",
	DELETE_FILE_EVENT:        "deleteFile",
	NEW_LOAD_EVENT:           "newLoad",
	RAND_EVENT:               "rand",
	USER_VAR_EVENT:           "userVar",
	FORMAT_DESCRIPTION_EVENT: "formatDescription",
	XID_EVENT:                "xid",
	BEGIN_LOAD_QUERY_EVENT:   "beginLoadQuery",
	EXECUTE_LOAD_QUERY_EVENT: "executeLoadQuery",
	TABLE_MAP_EVENT:          "tableMap",
	WRITE_ROWS_EVENTv0:       "writeRowsV0",
	UPDATE_ROWS_EVENTv0:      "updateRowsV0",
	DELETE_ROWS_EVENTv0:      "deleteRowsV0",
	WRITE_ROWS_EVENTv1:       "writeRowsV1",
	UPDATE_ROWS_EVENTv1:      "updateRowsV1",
	DELETE_ROWS_EVENTv1:      "deleteRowsV1",
	INCIDENT_EVENT:           "incident",
	HEARTBEAT_EVENT:          "heartbeat",
	IGNORABLE_EVENT:          "ignorable",
	ROWS_QUERY_EVENT:         "rowsQuery",
	WRITE_ROWS_EVENTv2:       "writeRowsV2",
	UPDATE_ROWS_EVENTv2:      "updateRowsV2",
	DELETE_ROWS_EVENTv2:      "deleteRowsV2",
	GTID_EVENT:               "gtid",
	ANONYMOUS_GTID_EVENT:     "anonymousGTID",
	PREVIOUS_GTIDS_EVENT:     "previousGTID",
	ANNOTATE_ROWS_EVENT:      "annotateRows",
	BINLOG_CHECKPOINT_EVENT:  "binlogCheckpoint",
	MARIADB_GTID_EVENT:       "mariadbGTID",
	GTID_LIST_EVENT:          "gtidList",
	START_ENCRYPTION_EVENT:   "startEncryption",
}

func (t EventType) String() string {
	if s, ok := eventTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("0x%02x", uint8(t))
}

func (t EventType) IsWriteRows() bool {
	return t == WRITE_ROWS_EVENTv0 || t == WRITE_ROWS_EVENTv1 || t == WRITE_ROWS_EVENTv2
}

func (t EventType) IsUpdateRows() bool {
	return t == UPDATE_ROWS_EVENTv0 || t == UPDATE_ROWS_EVENTv1 || t == UPDATE_ROWS_EVENTv2
}

func (t EventType) IsDeleteRows() bool {
	return t == DELETE_ROWS_EVENTv0 || t == DELETE_ROWS_EVENTv1 || t == DELETE_ROWS_EVENTv2
}

func (t EventType) IsRows() bool {
	return t.IsWriteRows() || t.IsUpdateRows() || t.IsDeleteRows()
}

// https://dev.mysql.com/doc/internals/en/binlog-event-header.html
// https://dev.mysql.com/doc/internals/en/event-header-fields.html

const (
	eventHeaderSize = 19

	// max_allowed_packet cannot exceed 1G
	maxEventSize = 1 << 30

	// LOG_EVENT_ARTIFICIAL_F: the event was generated by the server, its
	// next position does not describe a real file offset.
	flagArtificial = 0x20
)

type EventHeader struct {
	Timestamp uint32
	EventType EventType
	ServerID  uint32
	EventSize uint32
	NextPos   uint32
	Flags     uint16

	LogFile string
	LogPos  int64 // file offset of the event
}

func (h *EventHeader) decode(b []byte) {
	h.Timestamp = binary.LittleEndian.Uint32(b)
	h.EventType = EventType(b[4])
	h.ServerID = binary.LittleEndian.Uint32(b[5:])
	h.EventSize = binary.LittleEndian.Uint32(b[9:])
	h.NextPos = binary.LittleEndian.Uint32(b[13:])
	h.Flags = binary.LittleEndian.Uint16(b[17:])
}

// validate checks the header against the offset it was read from.
func (h *EventHeader) validate() error {
	if h.EventSize < eventHeaderSize || h.EventSize > maxEventSize {
		return fmt.Errorf("%w: event size %d at %d", ErrMalformedEvent, h.EventSize, h.LogPos)
	}
	if h.EventType > maxEventType {
		return fmt.Errorf("%w: event type 0x%02x at %d", ErrMalformedEvent, uint8(h.EventType), h.LogPos)
	}
	if h.Flags&flagArtificial == 0 && h.NextPos != 0 && int64(h.NextPos) != h.LogPos+int64(h.EventSize) {
		return fmt.Errorf("%w: next position %d != %d+%d", ErrMalformedEvent, h.NextPos, h.LogPos, h.EventSize)
	}
	return nil
}

// Event is a decoded binlog event. Data holds one of the *Event types
// of this package, or nil for events that are not interpreted.
type Event struct {
	Header EventHeader
	Data   interface{}
}

// checksum algorithms of FORMAT_DESCRIPTION_EVENT
const (
	ChecksumOff   = 0
	ChecksumCRC32 = 1
)

// FormatDescriptionEvent is written to the beginning of the each binary log file.
// This event is used as of MySQL 5.0; it supersedes START_EVENT_V3.
//
// https://dev.mysql.com/doc/internals/en/format-description-event.html
type FormatDescriptionEvent struct {
	BinlogVersion          uint16
	ServerVersion          string
	CreateTimestamp        uint32
	EventHeaderLength      uint8
	EventTypeHeaderLengths []byte
	ChecksumAlg            byte
}

func (e *FormatDescriptionEvent) decode(r *reader) error {
	e.BinlogVersion = r.int2()
	e.ServerVersion = r.string(50)
	if i := strings.IndexByte(e.ServerVersion, 0); i != -1 {
		e.ServerVersion = e.ServerVersion[:i]
	}
	e.CreateTimestamp = r.int4()
	e.EventHeaderLength = r.int1()
	if r.err != nil {
		return r.err
	}
	// the post-header length of this event type covers everything but
	// the trailing checksum algorithm and checksum
	const start = 2 + 50 + 4 + 1
	lengths := r.bytesEOF()
	if len(lengths) < int(FORMAT_DESCRIPTION_EVENT) {
		return fmt.Errorf("%w: format description with %d header lengths", ErrMalformedEvent, len(lengths))
	}
	fdeLen := int(lengths[FORMAT_DESCRIPTION_EVENT-1])
	e.ChecksumAlg = ChecksumOff
	if e.checksumAware() && fdeLen >= start && start+len(lengths) >= fdeLen+1+4 {
		e.ChecksumAlg = lengths[fdeLen-start]
		lengths = lengths[:fdeLen-start]
	}
	e.EventTypeHeaderLengths = lengths
	return nil
}

// checksumAware reports whether the server writes the checksum
// algorithm into FORMAT_DESCRIPTION_EVENT.
func (e *FormatDescriptionEvent) checksumAware() bool {
	sv, err := parseServerVersion(e.ServerVersion)
	if err != nil {
		return true
	}
	return sv.checksumAware()
}

func (e *FormatDescriptionEvent) postHeaderLength(typ EventType, def int) int {
	if e != nil && typ > 0 && len(e.EventTypeHeaderLengths) >= int(typ) {
		return int(e.EventTypeHeaderLengths[typ-1])
	}
	return def
}

func (e *FormatDescriptionEvent) checksumSize() int {
	if e != nil && e.ChecksumAlg == ChecksumCRC32 {
		return 4
	}
	return 0
}

// RotateEvent is written when mysqld switches to a new binary log file.
// This occurs when someone issues a FLUSH LOGS statement or
// the current binary log file becomes too large.
// The maximum size is determined by max_binlog_size.
//
// https://dev.mysql.com/doc/internals/en/rotate-event.html
type RotateEvent struct {
	Position   uint64
	NextBinlog string
}

const maxFileNameLen = 255

func (e *RotateEvent) decode(r *reader, fde *FormatDescriptionEvent) error {
	if fde == nil || fde.BinlogVersion > 1 {
		e.Position = r.int8()
	}
	e.NextBinlog = r.stringEOF()
	if len(e.NextBinlog) > maxFileNameLen {
		e.NextBinlog = e.NextBinlog[:maxFileNameLen]
	}
	return r.err
}

// QueryEvent is written when an updating statement is done.
// The query event is used to send text query right the binlog.
//
// https://dev.mysql.com/doc/internals/en/query-event.html
type QueryEvent struct {
	SlaveProxyID  uint32
	ExecutionTime uint32
	ErrorCode     uint16
	StatusVars    []byte
	Schema        string
	Query         string
}

func (e *QueryEvent) decode(r *reader, fde *FormatDescriptionEvent) error {
	e.SlaveProxyID = r.int4()
	e.ExecutionTime = r.int4()
	schemaLen := r.int1()
	e.ErrorCode = r.int2()
	if fde.postHeaderLength(QUERY_EVENT, 13) >= 13 {
		statusVarsLen := r.int2()
		if r.err != nil {
			return r.err
		}
		e.StatusVars = r.bytes(int(statusVarsLen))
	}
	e.Schema = r.string(int(schemaLen))
	r.skip(1)
	e.Query = r.stringEOF()
	return r.err
}

// XidEvent is generated for a commit of a transaction that modifies
// one or more tables of an XA-capable storage engine.
//
// https://dev.mysql.com/doc/internals/en/xid-event.html
type XidEvent struct {
	Xid uint64
}

func (e *XidEvent) decode(r *reader) error {
	e.Xid = r.int8()
	return r.err
}

// MariaDB GTID event flags
const (
	gtidStandalone    = 0x01
	gtidGroupCommitID = 0x02
)

// MariadbGTIDEvent marks the start of a new event group.
//
// https://mariadb.com/kb/en/gtid_event/
type MariadbGTIDEvent struct {
	Sequence      uint64
	Domain        uint32
	ServerID      uint32
	Flags         byte
	GroupCommitID uint64
}

func (e *MariadbGTIDEvent) decode(r *reader, h *EventHeader) error {
	e.Sequence = r.int8()
	e.Domain = r.int4()
	e.Flags = r.int1()
	if e.Flags&gtidGroupCommitID != 0 {
		e.GroupCommitID = r.int8()
	}
	e.ServerID = h.ServerID
	return r.err
}

// Standalone reports whether the group is a single statement that is
// not wrapped in BEGIN/COMMIT, such as DDL.
func (e *MariadbGTIDEvent) Standalone() bool {
	return e.Flags&gtidStandalone != 0
}

func (e *MariadbGTIDEvent) String() string {
	return fmt.Sprintf("%d-%d-%d", e.Domain, e.ServerID, e.Sequence)
}

// GTIDEvent precedes every transaction when MySQL gtid_mode is ON.
//
// https://dev.mysql.com/doc/dev/mysql-server/latest/classbinary__log_1_1Gtid__event.html
type GTIDEvent struct {
	Flags byte
	SID   uuid.UUID
	GNO   uint64
}

func (e *GTIDEvent) decode(r *reader) error {
	e.Flags = r.int1()
	copy(e.SID[:], r.bytesInternal(16))
	e.GNO = r.int8()
	return r.err
}

func (e *GTIDEvent) String() string {
	return fmt.Sprintf("%s:%d", e.SID, e.GNO)
}

// StopEvent signals last event in the file.
//
// https://dev.mysql.com/doc/internals/en/stop-event.html
type StopEvent struct{}

// decodeEvent decodes the body of an event, without header and
// checksum. Events this package does not interpret have nil Data.
func decodeEvent(h EventHeader, body []byte, fde *FormatDescriptionEvent) (*Event, error) {
	r := newReader(body)
	var data interface{}
	var err error
	switch typ := h.EventType; {
	case typ == FORMAT_DESCRIPTION_EVENT:
		e := &FormatDescriptionEvent{}
		data, err = e, e.decode(r)
	case typ == QUERY_EVENT:
		e := &QueryEvent{}
		data, err = e, e.decode(r, fde)
	case typ == ROTATE_EVENT:
		e := &RotateEvent{}
		data, err = e, e.decode(r, fde)
	case typ == XID_EVENT:
		e := &XidEvent{}
		data, err = e, e.decode(r)
	case typ == STOP_EVENT:
		data = &StopEvent{}
	case typ == TABLE_MAP_EVENT:
		e := &TableMapEntry{}
		data, err = e, e.decode(r, fde)
	case typ.IsRows():
		e := &RowsEvent{}
		data, err = e, e.decode(r, typ, fde)
	case typ == GTID_EVENT:
		e := &GTIDEvent{}
		data, err = e, e.decode(r)
	case typ == MARIADB_GTID_EVENT:
		e := &MariadbGTIDEvent{}
		data, err = e, e.decode(r, &h)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s event at %s:%d: %v", ErrMalformedEvent, h.EventType, h.LogFile, h.LogPos, err)
	}
	return &Event{Header: h, Data: data}, nil
}
