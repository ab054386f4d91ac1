package binlog

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJSONText(t *testing.T) {
	// {"a":1,"b":[true,"x"]}
	array := []byte{
		0x02, 0x00, 0x0c, 0x00,
		jsonLiteral, jsonLiteralTrue, 0x00,
		jsonString, 0x0a, 0x00,
		0x01, 'x',
	}
	object := []byte{
		0x02, 0x00, 0x20, 0x00,
		0x12, 0x00, 0x01, 0x00,
		0x13, 0x00, 0x01, 0x00,
		jsonInt16, 0x01, 0x00,
		jsonSmallArr, 0x14, 0x00,
		'a', 'b',
	}
	object = append(object, array...)

	testCases := []struct {
		name string
		data []byte
		want string
	}{
		{"empty", nil, "null"},
		{"object", append([]byte{jsonSmallObj}, object...), `{"a":1,"b":[true,"x"]}`},
		{"array", append([]byte{jsonSmallArr}, array...), `[true,"x"]`},
		{"false", []byte{jsonLiteral, jsonLiteralFalse}, "false"},
		{"uint32", []byte{jsonUInt32, 0xff, 0xff, 0xff, 0xff}, "4294967295"},
		{"int64", []byte{jsonInt64, 0xfe, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, "-2"},
		{"double", binary.LittleEndian.AppendUint64([]byte{jsonDouble}, 0x3ff8000000000000), "1.5"},
		{"escaped", []byte{jsonString, 3, 'a', '"', '\n'}, `"a\"\n"`},
		{"opaque", []byte{jsonCustom, byte(TypeBlob), 2, 'h', 'i'}, `"hi"`},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := jsonText(tc.data)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestJSONText_Malformed(t *testing.T) {
	for name, data := range map[string][]byte{
		"type":      {0x0e},
		"literal":   {jsonLiteral, 0x07},
		"short":     {jsonInt32, 0x01},
		"string":    {jsonString, 5, 'a'},
		"length":    {jsonString, 0x80, 0x80, 0x80, 0x80, 0x80, 0x01},
		"composite": {jsonSmallObj, 0x02, 0x00, 0x20, 0x00, 0x12},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := jsonText(data)
			require.ErrorIs(t, err, ErrMalformedEvent)
		})
	}
}

// nestedArrays returns depth arrays, each holding the next one.
func nestedArrays(depth int) []byte {
	inner := []byte{0x00, 0x00, 0x04, 0x00}
	for i := 1; i < depth; i++ {
		outer := binary.LittleEndian.AppendUint16([]byte{0x01, 0x00}, uint16(7+len(inner)))
		outer = append(outer, jsonSmallArr, 0x07, 0x00)
		inner = append(outer, inner...)
	}
	return append([]byte{jsonSmallArr}, inner...)
}

func TestJSONText_Depth(t *testing.T) {
	got, err := jsonText(nestedArrays(jsonMaxDepth))
	require.NoError(t, err)
	require.Equal(t, strings.Repeat("[", jsonMaxDepth)+strings.Repeat("]", jsonMaxDepth), got)

	_, err = jsonText(nestedArrays(jsonMaxDepth + 1))
	require.ErrorIs(t, err, ErrMalformedEvent)
}
