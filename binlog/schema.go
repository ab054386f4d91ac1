package binlog

import (
	"fmt"
	"path/filepath"

	"github.com/santhosh-tekuri/avrorouter/avro"
)

const (
	schemaName      = "ChangeRecord"
	schemaNamespace = "MaxScaleChangeDataSchema.avro"

	FieldGTID      = "GTID"
	FieldTimestamp = "timestamp"
	FieldEventType = "event_type"
)

// values of the event_type field
const (
	Insert       = "insert"
	UpdateBefore = "update_before"
	UpdateAfter  = "update_after"
	Delete       = "delete"
)

var eventTypeSymbols = []string{Insert, UpdateBefore, UpdateAfter, Delete}

// numLeadingFields is the number of fields in front of the columns.
const numLeadingFields = 3

// tableSchema builds the container schema of rows decoded with t under
// def. Every column is a union with null.
func tableSchema(def *TableDefinition, t *TableMapEntry) *avro.Schema {
	fields := []avro.Field{
		{Name: FieldGTID, Type: avro.String},
		{Name: FieldTimestamp, Type: avro.Int},
		{Name: FieldEventType, Type: avro.Enum, EnumName: "EVENT_TYPES", Symbols: eventTypeSymbols},
	}
	for i, col := range def.Columns {
		typ := t.Types[i].avroType(t.Meta[i], t.Unsigned[i])
		f := avro.Field{Name: col.Name, Type: typ}
		if typ != avro.Null {
			f.Union = []avro.Type{typ, avro.Null}
		}
		fields = append(fields, f)
	}
	return avro.NewSchema(schemaName, schemaNamespace, fields)
}

// containerName returns the file name of the container of a table
// version, without extension.
func containerName(db, table string, version int) string {
	return fmt.Sprintf("%s.%s.%06d", db, table, version)
}

func ContainerFile(dir, db, table string, version int) string {
	return filepath.Join(dir, containerName(db, table, version)+".avro")
}

func SchemaFile(dir, db, table string, version int) string {
	return filepath.Join(dir, containerName(db, table, version)+".avsc")
}

func writeSchemaFile(file string, schema *avro.Schema) error {
	return writeFileAtomic(file, []byte(schema.String()))
}

// openContainer opens the container of a table version for appending,
// creating it if needed. A container without blocks is recreated when
// its schema differs; one with blocks written with a different layout
// is an error.
func openContainer(file string, schema *avro.Schema, opts avro.WriterOptions) (*avro.Writer, error) {
	ok, err := fileExists(file)
	if err != nil {
		return nil, err
	}
	if !ok {
		return avro.Create(file, schema, opts)
	}
	w, err := avro.OpenAppend(file, opts)
	if err != nil {
		return nil, err
	}
	if !w.Schema().Equal(schema) {
		_ = w.Close()
		if w.Blocks() == 0 {
			return avro.Create(file, schema, opts)
		}
		return nil, fmt.Errorf("%w: %s was written with schema %s", ErrColumnMismatch, file, w.Schema())
	}
	return w, nil
}
