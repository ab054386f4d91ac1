package avro

import (
	"fmt"
	"math"
)

// Record holds field values in schema order. Values are nil, bool,
// int32, int64, float32, float64, []byte or string; enum values are
// their symbol strings.
type Record []interface{}

// Get returns the value of the named field.
func (s *Schema) Get(rec Record, name string) (interface{}, bool) {
	i := s.Index(name)
	if i < 0 || i >= len(rec) {
		return nil, false
	}
	return rec[i], true
}

func toInt64(v interface{}) (int64, bool) {
	switch v := v.(type) {
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint64:
		if v > math.MaxInt64 {
			return 0, false
		}
		return int64(v), true
	}
	return 0, false
}

func toFloat64(v interface{}) (float64, bool) {
	switch v := v.(type) {
	case float32:
		return float64(v), true
	case float64:
		return v, true
	}
	if i, ok := toInt64(v); ok {
		return float64(i), true
	}
	return 0, false
}

func symbolIndex(f Field, v interface{}) (int, error) {
	s, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("avro: field %q: enum value must be string, got %T", f.Name, v)
	}
	for i, sym := range f.Symbols {
		if sym == s {
			return i, nil
		}
	}
	return 0, fmt.Errorf("avro: field %q: %q is not an enum symbol", f.Name, s)
}

// branch picks the union branch for v.
func (f Field) branch(v interface{}) (int, Type, error) {
	for i, t := range f.Union {
		if (v == nil) == (t == Null) {
			return i, t, nil
		}
	}
	return 0, Unknown, fmt.Errorf("avro: field %q: no union branch for %T", f.Name, v)
}

func appendValue(b []byte, f Field, t Type, v interface{}) ([]byte, error) {
	switch t {
	case Null:
		if v != nil {
			return nil, fmt.Errorf("avro: field %q: null value expected, got %T", f.Name, v)
		}
		return b, nil
	case Boolean:
		x, ok := v.(bool)
		if !ok {
			break
		}
		return AppendBoolean(b, x), nil
	case Int:
		x, ok := toInt64(v)
		if !ok || x < math.MinInt32 || x > math.MaxInt32 {
			break
		}
		return AppendVarint(b, x), nil
	case Long:
		x, ok := toInt64(v)
		if !ok {
			break
		}
		return AppendVarint(b, x), nil
	case Float:
		x, ok := toFloat64(v)
		if !ok {
			break
		}
		return AppendFloat(b, float32(x)), nil
	case Double:
		x, ok := toFloat64(v)
		if !ok {
			break
		}
		return AppendDouble(b, x), nil
	case Bytes:
		switch x := v.(type) {
		case []byte:
			return AppendBytes(b, x), nil
		case string:
			return AppendString(b, x), nil
		}
	case String:
		switch x := v.(type) {
		case string:
			return AppendString(b, x), nil
		case []byte:
			return AppendBytes(b, x), nil
		}
	case Enum:
		i, err := symbolIndex(f, v)
		if err != nil {
			return nil, err
		}
		return AppendVarint(b, int64(i)), nil
	default:
		return nil, fmt.Errorf("avro: field %q: unsupported type %s", f.Name, t)
	}
	return nil, fmt.Errorf("avro: field %q: cannot encode %T as %s", f.Name, v, t)
}

func valueLen(f Field, t Type, v interface{}) (int, error) {
	switch t {
	case Null:
		return 0, nil
	case Boolean:
		return 1, nil
	case Int, Long:
		x, _ := toInt64(v)
		return VarintLen(x), nil
	case Float:
		return 4, nil
	case Double:
		return 8, nil
	case Bytes, String:
		switch x := v.(type) {
		case []byte:
			return BytesLen(x), nil
		case string:
			return StringLen(x), nil
		}
	case Enum:
		i, err := symbolIndex(f, v)
		if err != nil {
			return 0, err
		}
		return VarintLen(int64(i)), nil
	}
	return 0, fmt.Errorf("avro: field %q: cannot encode %T as %s", f.Name, v, t)
}

// AppendRecord appends the binary encoding of rec to b.
func (s *Schema) AppendRecord(b []byte, rec Record) ([]byte, error) {
	if len(rec) != len(s.Fields) {
		return nil, fmt.Errorf("avro: record has %d values, schema has %d fields", len(rec), len(s.Fields))
	}
	var err error
	for i, f := range s.Fields {
		t := f.Type
		if len(f.Union) > 0 {
			var idx int
			if idx, t, err = f.branch(rec[i]); err != nil {
				return nil, err
			}
			b = AppendVarint(b, int64(idx))
		}
		if b, err = appendValue(b, f, t, rec[i]); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// RecordLen returns the number of bytes AppendRecord would append.
func (s *Schema) RecordLen(rec Record) (int, error) {
	if len(rec) != len(s.Fields) {
		return 0, fmt.Errorf("avro: record has %d values, schema has %d fields", len(rec), len(s.Fields))
	}
	n := 0
	for i, f := range s.Fields {
		t := f.Type
		if len(f.Union) > 0 {
			idx, bt, err := f.branch(rec[i])
			if err != nil {
				return 0, err
			}
			n += VarintLen(int64(idx))
			t = bt
		}
		m, err := valueLen(f, t, rec[i])
		if err != nil {
			return 0, err
		}
		n += m
	}
	return n, nil
}

func readValue(r ByteReader, f Field, t Type) (interface{}, error) {
	switch t {
	case Null:
		return nil, nil
	case Boolean:
		return ReadBoolean(r)
	case Int:
		v, err := readLong(r)
		if err != nil {
			return nil, err
		}
		if v < math.MinInt32 || v > math.MaxInt32 {
			return nil, fmt.Errorf("%w: field %q: int out of range", ErrMalformed, f.Name)
		}
		return int32(v), nil
	case Long:
		return readLong(r)
	case Float:
		return ReadFloat(r)
	case Double:
		return ReadDouble(r)
	case Bytes:
		return ReadBytes(r)
	case String:
		return ReadString(r)
	case Enum:
		i, err := readLong(r)
		if err != nil {
			return nil, err
		}
		if i < 0 || int(i) >= len(f.Symbols) {
			return nil, fmt.Errorf("%w: field %q: enum index %d out of range", ErrMalformed, f.Name, i)
		}
		return f.Symbols[i], nil
	}
	return nil, fmt.Errorf("%w: field %q has unsupported type", ErrSchema, f.Name)
}

func skipValue(r ByteReader, f Field, t Type) error {
	switch t {
	case Bytes, String:
		return SkipBytes(r)
	case Float:
		_, err := readFixed(r, 4)
		return err
	case Double:
		_, err := readFixed(r, 8)
		return err
	}
	_, err := readValue(r, f, t)
	return err
}

func unionType(r ByteReader, f Field) (Type, error) {
	idx, err := readLong(r)
	if err != nil {
		return Unknown, err
	}
	if idx < 0 || int(idx) >= len(f.Union) {
		return Unknown, fmt.Errorf("%w: field %q: union index %d out of range", ErrMalformed, f.Name, idx)
	}
	return f.Union[idx], nil
}

func (s *Schema) readRecord(r ByteReader) (Record, error) {
	rec := make(Record, len(s.Fields))
	for i, f := range s.Fields {
		t := f.Type
		if len(f.Union) > 0 {
			var err error
			if t, err = unionType(r, f); err != nil {
				return nil, err
			}
		}
		v, err := readValue(r, f, t)
		if err != nil {
			return nil, err
		}
		rec[i] = v
	}
	return rec, nil
}

func (s *Schema) skipRecord(r ByteReader) error {
	for _, f := range s.Fields {
		t := f.Type
		if len(f.Union) > 0 {
			var err error
			if t, err = unionType(r, f); err != nil {
				return err
			}
		}
		if err := skipValue(r, f, t); err != nil {
			return err
		}
	}
	return nil
}
