package binlog

import (
	"fmt"
	"strings"
	"time"

	"github.com/ncruces/go-strftime"
)

const (
	layoutDateTime = "%Y-%m-%d %H:%M:%S"
	layoutDate     = "%Y-%m-%d"
	layoutTime     = "%H:%M:%S"
	layoutYear     = "%Y"
)

// calendar holds unpacked temporal fields. Unlike time.Time it can
// represent zero dates and TIME values outside a day.
type calendar struct {
	negative                    bool
	year, month, day            int
	hour, minute, second, micro int
}

// toTime converts c to a time.Time. It fails for values time.Date
// would normalise, such as February 31st or a zero month.
func (c calendar) toTime() (time.Time, bool) {
	if c.negative || c.year <= 0 {
		return time.Time{}, false
	}
	t := time.Date(c.year, time.Month(c.month), c.day, c.hour, c.minute, c.second, 0, time.UTC)
	if fromTime(t) != (calendar{year: c.year, month: c.month, day: c.day, hour: c.hour, minute: c.minute, second: c.second}) {
		return time.Time{}, false
	}
	return t, true
}

// format renders c with a strftime layout, followed by fsp digits of
// fractional seconds.
func (c calendar) format(layout string, fsp int) string {
	var s string
	if t, ok := c.toTime(); ok {
		s = strftime.Format(layout, t)
	} else {
		s = strings.NewReplacer(
			"%Y", fmt.Sprintf("%04d", c.year),
			"%m", fmt.Sprintf("%02d", c.month),
			"%d", fmt.Sprintf("%02d", c.day),
			"%H", fmt.Sprintf("%02d", c.hour),
			"%M", fmt.Sprintf("%02d", c.minute),
			"%S", fmt.Sprintf("%02d", c.second),
		).Replace(layout)
		if c.negative {
			s = "-" + s
		}
	}
	if fsp > 0 {
		if fsp > 6 {
			fsp = 6
		}
		s += fmt.Sprintf(".%06d", c.micro)[:fsp+1]
	}
	return s
}

func fromTime(t time.Time) calendar {
	return calendar{
		year: t.Year(), month: int(t.Month()), day: t.Day(),
		hour: t.Hour(), minute: t.Minute(), second: t.Second(),
		micro: t.Nanosecond() / 1000,
	}
}

// readFrac reads the fractional seconds tail of the *2 temporal types
// and returns it in microseconds.
func readFrac(r *reader, fsp int) int {
	switch (fsp + 1) / 2 {
	case 1:
		return int(r.intBig(1)) * 10000
	case 2:
		return int(r.intBig(2)) * 100
	case 3:
		return int(r.intBig(3))
	}
	return 0
}

func fsp(meta []byte) int {
	if len(meta) == 0 {
		return 0
	}
	return int(meta[0])
}

// https://dev.mysql.com/doc/internals/en/date-and-time-data-type-representation.html
func decodeTemporal(r *reader, typ ColumnType, meta []byte) (string, error) {
	var c calendar
	switch typ {
	case TypeYear:
		if v := int(r.int1()); v != 0 {
			c.year = 1900 + v
		}
		c.month, c.day = 1, 1
		return c.format(layoutYear, 0), r.err
	case TypeDate, TypeNewDate:
		v := r.int3()
		c.day, c.month, c.year = int(v&31), int(v>>5&15), int(v>>9)
		return c.format(layoutDate, 0), r.err
	case TypeTime:
		v := int32(r.int3()<<8) >> 8
		if v < 0 {
			c.negative, v = true, -v
		}
		c.hour, c.minute, c.second = int(v/10000), int(v%10000/100), int(v%100)
		c.year, c.month, c.day = 2000, 1, 1
		return c.format(layoutTime, 0), r.err
	case TypeDateTime:
		v := r.int8()
		d, t := v/1000000, v%1000000
		c.year, c.month, c.day = int(d/10000), int(d/100%100), int(d%100)
		c.hour, c.minute, c.second = int(t/10000), int(t/100%100), int(t%100)
		return c.format(layoutDateTime, 0), r.err
	case TypeTimestamp:
		v := r.int4()
		if v == 0 {
			return c.format(layoutDateTime, 0), r.err
		}
		return fromTime(time.Unix(int64(v), 0).UTC()).format(layoutDateTime, 0), r.err
	case TypeTimestamp2:
		sec := r.intBig(4)
		micro := readFrac(r, fsp(meta))
		if sec == 0 && micro == 0 {
			return c.format(layoutDateTime, fsp(meta)), r.err
		}
		c = fromTime(time.Unix(int64(sec), int64(micro)*1000).UTC())
		return c.format(layoutDateTime, fsp(meta)), r.err
	case TypeDateTime2:
		datetime := r.intBig(5)
		slice := func(off, len int) int {
			v := datetime >> (40 - (off + len))
			return int(v & ((1 << len) - 1))
		}
		yearMonth := slice(1, 17)
		c.year, c.month = yearMonth/13, yearMonth%13
		c.day = slice(18, 5)
		c.hour = slice(23, 5)
		c.minute = slice(28, 6)
		c.second = slice(34, 6)
		c.micro = readFrac(r, fsp(meta))
		return c.format(layoutDateTime, fsp(meta)), r.err
	case TypeTime2:
		v := int64(r.intBig(3)) - 0x800000
		if v < 0 {
			c.negative, v = true, -v
		}
		c.hour, c.minute, c.second = int(v>>12&0x3ff), int(v>>6&0x3f), int(v&0x3f)
		c.year, c.month, c.day = 2000, 1, 1
		c.micro = readFrac(r, fsp(meta))
		return c.format(layoutTime, fsp(meta)), r.err
	}
	return "", fmt.Errorf("%w: %s is not temporal", ErrUnsupportedType, typ)
}
