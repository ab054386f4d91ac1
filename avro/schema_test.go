package avro

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseSchema(t *testing.T) {
	s, err := ParseSchema(`{
		"namespace": "MaxScaleChangeDataSchema.avro",
		"type": "record",
		"name": "ChangeRecord",
		"fields": [
			{"name": "GTID", "type": "string"},
			{"name": "timestamp", "type": "int"},
			{"name": "event_type", "type": {"type": "enum", "name": "EVENT_TYPES", "symbols": ["insert", "update_before", "update_after", "delete"]}},
			{"name": "id", "type": ["long", "null"]},
			{"name": "flag", "type": "bool"},
			{"name": "nested", "type": {"type": "double"}},
			{"name": "tags", "type": {"type": "array", "items": "string"}},
			{"name": "odd", "type": "decimal"}
		]
	}`)
	require.NoError(t, err)
	require.Equal(t, "ChangeRecord", s.Name)
	require.Equal(t, "MaxScaleChangeDataSchema.avro", s.Namespace)

	var types []Type
	for _, f := range s.Fields {
		types = append(types, f.Type)
	}
	require.Equal(t, []Type{String, Int, Enum, Long, Boolean, Double, Unknown, Unknown}, types)
	require.Equal(t, []string{"insert", "update_before", "update_after", "delete"}, s.Fields[2].Symbols)
	require.Equal(t, []Type{Long, Null}, s.Fields[3].Union)
	require.True(t, s.Fields[3].Nullable())
	require.Equal(t, 3, s.Index("id"))
	require.Equal(t, -1, s.Index("missing"))
}

func TestParseSchema_Errors(t *testing.T) {
	testCases := []struct {
		name string
		text string
	}{
		{"invalid json", `{"type": "record"`},
		{"not a record", `{"type": "enum", "symbols": []}`},
		{"no fields", `{"type": "record", "name": "r"}`},
		{"field without name", `{"type": "record", "name": "r", "fields": [{"type": "int"}]}`},
		{"empty union", `{"type": "record", "name": "r", "fields": [{"name": "a", "type": []}]}`},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseSchema(tc.text)
			require.True(t, errors.Is(err, ErrSchema), "got %v", err)
		})
	}
}

func TestSchema_MarshalRoundTrip(t *testing.T) {
	s := testSchema()
	parsed, err := ParseSchema(s.String())
	require.NoError(t, err)
	require.True(t, s.Equal(parsed), "%s", s.String())

	other := NewSchema(s.Name, s.Namespace, append([]Field(nil), s.Fields[:3]...))
	require.False(t, s.Equal(other))
}

func TestSchema_UnknownTypeFailsOnUse(t *testing.T) {
	s, err := ParseSchema(`{"type": "record", "name": "r", "fields": [{"name": "m", "type": "map"}]}`)
	require.NoError(t, err)
	_, err = s.AppendRecord(nil, Record{"x"})
	require.Error(t, err)
}
