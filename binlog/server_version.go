package binlog

import (
	"fmt"
	"strconv"
	"strings"
)

// serverVersion is the major.minor.patch triple of a server version
// string such as "10.6.12-MariaDB-log".
type serverVersion struct {
	major, minor, patch int
	mariadb             bool
}

func parseServerVersion(s string) (serverVersion, error) {
	v := serverVersion{mariadb: strings.Contains(strings.ToLower(s), "mariadb")}
	num := s
	if i := strings.IndexAny(num, "-+"); i != -1 {
		num = num[:i]
	}
	parts := strings.Split(num, ".")
	if len(parts) != 3 {
		return v, fmt.Errorf("binlog: invalid server version %q", s)
	}
	for i, dst := range []*int{&v.major, &v.minor, &v.patch} {
		n, err := strconv.Atoi(parts[i])
		if err != nil {
			return v, fmt.Errorf("binlog: invalid server version %q", s)
		}
		*dst = n
	}
	return v, nil
}

func (v serverVersion) atLeast(major, minor, patch int) bool {
	if v.major != major {
		return v.major > major
	}
	if v.minor != minor {
		return v.minor > minor
	}
	return v.patch >= patch
}

// checksumAware reports whether servers of this version write the
// checksum algorithm into FORMAT_DESCRIPTION_EVENT: MariaDB since 5.3,
// MySQL since 5.6.1.
func (v serverVersion) checksumAware() bool {
	if v.mariadb {
		return v.atLeast(5, 3, 0)
	}
	return v.atLeast(5, 6, 1)
}
