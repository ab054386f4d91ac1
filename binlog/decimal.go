package binlog

import (
	"fmt"
	"strings"
)

// https://dev.mysql.com/doc/refman/8.0/en/precision-math-decimal-characteristics.html
//
// A packed decimal stores groups of nine digits in four big-endian
// bytes; leftover digits use the minimal number of bytes. The sign bit
// of the first byte is inverted, and negative values have every byte
// inverted.

const digitsPerGroup = 9

var compressedBytes = [...]int{0, 1, 1, 2, 2, 3, 3, 4, 4, 4}

func decimalSize(precision, scale int) int {
	intg := precision - scale
	return intg/digitsPerGroup*4 + compressedBytes[intg%digitsPerGroup] +
		scale/digitsPerGroup*4 + compressedBytes[scale%digitsPerGroup]
}

// decodeDecimal returns the decimal text and the number of bytes used.
func decodeDecimal(data []byte, precision, scale int) (string, int, error) {
	if precision <= 0 || precision > 65 || scale < 0 || scale > precision {
		return "", 0, fmt.Errorf("%w: decimal(%d,%d)", ErrMalformedEvent, precision, scale)
	}
	size := decimalSize(precision, scale)
	if len(data) < size {
		return "", 0, fmt.Errorf("%w: decimal(%d,%d) needs %d bytes, got %d",
			ErrMalformedEvent, precision, scale, size, len(data))
	}
	buf := append([]byte(nil), data[:size]...)
	negative := buf[0]&0x80 == 0
	buf[0] ^= 0x80
	if negative {
		for i := range buf {
			buf[i] ^= 0xff
		}
	}

	off := 0
	group := func(n, digits int, sb *strings.Builder) {
		var v uint32
		for _, b := range buf[off : off+n] {
			v = v<<8 | uint32(b)
		}
		off += n
		fmt.Fprintf(sb, "%0*d", digits, v)
	}

	intg := precision - scale
	var ip, fp strings.Builder
	if x := intg % digitsPerGroup; x > 0 {
		group(compressedBytes[x], x, &ip)
	}
	for i := 0; i < intg/digitsPerGroup; i++ {
		group(4, digitsPerGroup, &ip)
	}
	for i := 0; i < scale/digitsPerGroup; i++ {
		group(4, digitsPerGroup, &fp)
	}
	if x := scale % digitsPerGroup; x > 0 {
		group(compressedBytes[x], x, &fp)
	}

	var sb strings.Builder
	if negative {
		sb.WriteByte('-')
	}
	if s := strings.TrimLeft(ip.String(), "0"); s != "" {
		sb.WriteString(s)
	} else {
		sb.WriteByte('0')
	}
	if scale > 0 {
		sb.WriteByte('.')
		sb.WriteString(fp.String())
	}
	return sb.String(), size, nil
}
