package avro

import (
	"fmt"

	"github.com/segmentio/encoding/json"
	"github.com/tidwall/gjson"
)

// Type is the primitive type of a record field.
type Type uint8

const (
	Unknown Type = iota
	Null
	Boolean
	Int
	Long
	Float
	Double
	Bytes
	String
	Enum
)

var typeNames = map[Type]string{
	Null:    "null",
	Boolean: "boolean",
	Int:     "int",
	Long:    "long",
	Float:   "float",
	Double:  "double",
	Bytes:   "bytes",
	String:  "string",
	Enum:    "enum",
}

func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return "unknown"
}

func typeOf(name string) Type {
	switch name {
	case "bool":
		return Boolean
	case "record", "array", "map", "fixed":
		return Unknown
	}
	for t, s := range typeNames {
		if s == name {
			return t
		}
	}
	return Unknown
}

// Field is one record field. For unions, Union holds the branches in
// declaration order and Type is the first branch.
type Field struct {
	Name     string
	Type     Type
	Union    []Type
	EnumName string
	Symbols  []string
}

// Nullable reports whether the field accepts nil values.
func (f Field) Nullable() bool {
	if f.Type == Null {
		return true
	}
	for _, t := range f.Union {
		if t == Null {
			return true
		}
	}
	return false
}

// Schema is an Avro record schema reduced to its ordered field list.
type Schema struct {
	Name      string
	Namespace string
	Fields    []Field

	text string
}

// ParseSchema parses the JSON text of a record schema. Unsupported
// field types are kept as Unknown and fail when a value of that field
// is read or written.
func ParseSchema(text string) (*Schema, error) {
	if !gjson.Valid(text) {
		return nil, fmt.Errorf("%w: invalid json", ErrSchema)
	}
	root := gjson.Parse(text)
	if root.Get("type").String() != "record" {
		return nil, fmt.Errorf("%w: top-level type is %q, want record", ErrSchema, root.Get("type").String())
	}
	fields := root.Get("fields")
	if !fields.IsArray() {
		return nil, fmt.Errorf("%w: no fields array", ErrSchema)
	}
	s := &Schema{
		Name:      root.Get("name").String(),
		Namespace: root.Get("namespace").String(),
		text:      text,
	}
	var err error
	fields.ForEach(func(_, v gjson.Result) bool {
		name := v.Get("name")
		if name.Type != gjson.String {
			err = fmt.Errorf("%w: field without name", ErrSchema)
			return false
		}
		f := Field{Name: name.Str}
		t := v.Get("type")
		if t.IsArray() {
			for _, b := range t.Array() {
				bt, enumName, symbols := parseType(b)
				if bt == Enum {
					f.EnumName, f.Symbols = enumName, symbols
				}
				f.Union = append(f.Union, bt)
			}
			if len(f.Union) == 0 {
				err = fmt.Errorf("%w: empty union for field %q", ErrSchema, f.Name)
				return false
			}
			f.Type = f.Union[0]
		} else {
			f.Type, f.EnumName, f.Symbols = parseType(t)
		}
		s.Fields = append(s.Fields, f)
		return true
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func parseType(t gjson.Result) (Type, string, []string) {
	switch {
	case t.Type == gjson.String:
		return typeOf(t.Str), "", nil
	case t.IsObject():
		inner := t.Get("type")
		if inner.Type != gjson.String {
			return Unknown, "", nil
		}
		if inner.Str != "enum" {
			return typeOf(inner.Str), "", nil
		}
		var symbols []string
		for _, sym := range t.Get("symbols").Array() {
			symbols = append(symbols, sym.String())
		}
		return Enum, t.Get("name").String(), symbols
	}
	return Unknown, "", nil
}

// NewSchema builds a record schema from fields.
func NewSchema(name, namespace string, fields []Field) *Schema {
	return &Schema{Name: name, Namespace: namespace, Fields: fields}
}

type jsonEnum struct {
	Type    string   `json:"type"`
	Name    string   `json:"name"`
	Symbols []string `json:"symbols"`
}

type jsonField struct {
	Name string      `json:"name"`
	Type interface{} `json:"type"`
}

type jsonSchema struct {
	Namespace string      `json:"namespace,omitempty"`
	Type      string      `json:"type"`
	Name      string      `json:"name"`
	Fields    []jsonField `json:"fields"`
}

func (f Field) jsonType(t Type) interface{} {
	if t == Enum {
		return jsonEnum{Type: "enum", Name: f.EnumName, Symbols: f.Symbols}
	}
	return t.String()
}

func (s *Schema) MarshalJSON() ([]byte, error) {
	js := jsonSchema{Namespace: s.Namespace, Type: "record", Name: s.Name}
	for _, f := range s.Fields {
		jf := jsonField{Name: f.Name}
		if len(f.Union) > 0 {
			var branches []interface{}
			for _, t := range f.Union {
				branches = append(branches, f.jsonType(t))
			}
			jf.Type = branches
		} else {
			jf.Type = f.jsonType(f.Type)
		}
		js.Fields = append(js.Fields, jf)
	}
	return json.Marshal(js)
}

// String returns the JSON text of the schema: the parsed text for
// parsed schemas, generated otherwise.
func (s *Schema) String() string {
	if s.text != "" {
		return s.text
	}
	b, err := s.MarshalJSON()
	if err != nil {
		return ""
	}
	s.text = string(b)
	return s.text
}

// Index returns the position of the named field, or -1.
func (s *Schema) Index(name string) int {
	for i, f := range s.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Equal reports whether both schemas describe the same record layout.
func (s *Schema) Equal(o *Schema) bool {
	if s.Name != o.Name || s.Namespace != o.Namespace || len(s.Fields) != len(o.Fields) {
		return false
	}
	for i, f := range s.Fields {
		g := o.Fields[i]
		if f.Name != g.Name || f.Type != g.Type || len(f.Union) != len(g.Union) || len(f.Symbols) != len(g.Symbols) {
			return false
		}
		for j := range f.Union {
			if f.Union[j] != g.Union[j] {
				return false
			}
		}
		for j := range f.Symbols {
			if f.Symbols[j] != g.Symbols[j] {
				return false
			}
		}
	}
	return true
}
