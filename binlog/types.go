package binlog

import (
	"fmt"

	"github.com/santhosh-tekuri/avrorouter/avro"
)

// ColumnType is the column type byte of TABLE_MAP_EVENT.
//
// https://dev.mysql.com/doc/internals/en/com-query-response.html#column-type
type ColumnType uint8

const (
	TypeDecimal    ColumnType = 0x00
	TypeTiny       ColumnType = 0x01
	TypeShort      ColumnType = 0x02
	TypeLong       ColumnType = 0x03
	TypeFloat      ColumnType = 0x04
	TypeDouble     ColumnType = 0x05
	TypeNull       ColumnType = 0x06
	TypeTimestamp  ColumnType = 0x07
	TypeLongLong   ColumnType = 0x08
	TypeInt24      ColumnType = 0x09
	TypeDate       ColumnType = 0x0a
	TypeTime       ColumnType = 0x0b
	TypeDateTime   ColumnType = 0x0c
	TypeYear       ColumnType = 0x0d
	TypeNewDate    ColumnType = 0x0e
	TypeVarchar    ColumnType = 0x0f
	TypeBit        ColumnType = 0x10
	TypeTimestamp2 ColumnType = 0x11
	TypeDateTime2  ColumnType = 0x12
	TypeTime2      ColumnType = 0x13
	TypeJSON       ColumnType = 0xf5
	TypeNewDecimal ColumnType = 0xf6
	TypeEnum       ColumnType = 0xf7
	TypeSet        ColumnType = 0xf8
	TypeTinyBlob   ColumnType = 0xf9
	TypeMediumBlob ColumnType = 0xfa
	TypeLongBlob   ColumnType = 0xfb
	TypeBlob       ColumnType = 0xfc
	TypeVarString  ColumnType = 0xfd
	TypeString     ColumnType = 0xfe
	TypeGeometry   ColumnType = 0xff
)

var columnTypeNames = map[ColumnType]string{
	TypeDecimal:    "decimal",
	TypeTiny:       "tiny",
	TypeShort:      "short",
	TypeLong:       "long",
	TypeFloat:      "float",
	TypeDouble:     "double",
	TypeNull:       "null",
	TypeTimestamp:  "timestamp",
	TypeLongLong:   "longlong",
	TypeInt24:      "int24",
	TypeDate:       "date",
	TypeTime:       "time",
	TypeDateTime:   "datetime",
	TypeYear:       "year",
	TypeNewDate:    "newdate",
	TypeVarchar:    "varchar",
	TypeBit:        "bit",
	TypeTimestamp2: "timestamp2",
	TypeDateTime2:  "datetime2",
	TypeTime2:      "time2",
	TypeJSON:       "json",
	TypeNewDecimal: "newdecimal",
	TypeEnum:       "enum",
	TypeSet:        "set",
	TypeTinyBlob:   "tinyblob",
	TypeMediumBlob: "mediumblob",
	TypeLongBlob:   "longblob",
	TypeBlob:       "blob",
	TypeVarString:  "varstring",
	TypeString:     "string",
	TypeGeometry:   "geometry",
}

func (t ColumnType) String() string {
	if s, ok := columnTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("0x%02x", uint8(t))
}

// metaSize returns the number of metadata bytes TABLE_MAP_EVENT carries
// for a column of this type.
func (t ColumnType) metaSize() int {
	switch t {
	case TypeBlob, TypeDouble, TypeFloat, TypeGeometry, TypeJSON,
		TypeTime2, TypeDateTime2, TypeTimestamp2:
		return 1
	case TypeVarchar, TypeBit, TypeDecimal, TypeNewDecimal,
		TypeSet, TypeEnum, TypeString, TypeVarString:
		return 2
	default:
		return 0
	}
}

func (t ColumnType) isNumeric() bool {
	switch t {
	case TypeTiny, TypeShort, TypeInt24, TypeLong, TypeLongLong,
		TypeFloat, TypeDouble, TypeDecimal, TypeNewDecimal:
		return true
	}
	return false
}

// avroType maps a column onto the type of its container field.
func (t ColumnType) avroType(meta []byte, unsigned bool) avro.Type {
	switch t {
	case TypeTiny, TypeShort, TypeInt24, TypeEnum, TypeSet:
		return avro.Int
	case TypeLong:
		if unsigned {
			return avro.Long
		}
		return avro.Int
	case TypeLongLong:
		return avro.Long
	case TypeBit:
		if bitWidth(meta) <= 32 {
			return avro.Int
		}
		return avro.Long
	case TypeFloat:
		return avro.Float
	case TypeDouble, TypeNewDecimal, TypeDecimal:
		return avro.Double
	case TypeTinyBlob, TypeMediumBlob, TypeLongBlob, TypeBlob, TypeGeometry:
		return avro.Bytes
	case TypeNull:
		return avro.Null
	default:
		return avro.String
	}
}

func bitWidth(meta []byte) int {
	if len(meta) < 2 {
		return 0
	}
	return int(meta[0]) + int(meta[1])*8
}
