package binlog

import "errors"

var (
	// ErrMalformedEvent reports an event whose header or body cannot be
	// trusted. It ends the pass over the file with OutcomeBinlogError.
	ErrMalformedEvent = errors.New("binlog: malformed event")

	ErrNestedTransaction = errors.New("binlog: transaction already open")

	// table scoped: the event is skipped and conversion continues
	ErrMalformedDDL    = errors.New("binlog: malformed DDL")
	ErrNoTableMap      = errors.New("binlog: no table map for table id")
	ErrNoDefinition    = errors.New("binlog: no table definition")
	ErrColumnMismatch  = errors.New("binlog: table map and definition column counts differ")
	ErrUnsupportedType = errors.New("binlog: unsupported column type")
)
