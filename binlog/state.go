package binlog

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-mysql-org/go-mysql/mysql"
	"gopkg.in/ini.v1"
)

const stateSection = "avro-conversion"

// State is the resume point of a conversion: the binlog file, the offset
// of the next event to process and the last committed GTID.
type State struct {
	File     string
	Position int64
	GTID     string
}

func (s State) String() string {
	return fmt.Sprintf("%s:%d gtid=%q", s.File, s.Position, s.GTID)
}

// ValidateGTID accepts the empty string, MariaDB domain-server-sequence
// GTIDs and MySQL uuid:sequence GTIDs.
func ValidateGTID(gtid string) error {
	if gtid == "" {
		return nil
	}
	var err error
	if strings.Contains(gtid, ":") {
		_, err = mysql.ParseUUIDSet(gtid)
	} else {
		_, err = mysql.ParseMariadbGTID(gtid)
	}
	if err != nil {
		return fmt.Errorf("invalid gtid %q: %w", gtid, err)
	}
	return nil
}

// LoadState reads the state file. ok is false if the file does not
// exist.
func LoadState(file string) (s State, ok bool, err error) {
	cfg, err := ini.Load(file)
	if errors.Is(err, os.ErrNotExist) {
		return s, false, nil
	}
	if err != nil {
		return s, false, fmt.Errorf("binlog.LoadState %s: %w", file, err)
	}
	sec, err := cfg.GetSection(stateSection)
	if err != nil {
		return s, false, fmt.Errorf("binlog.LoadState %s: %w", file, err)
	}
	s.File = sec.Key("file").String()
	s.GTID = sec.Key("gtid").String()
	if s.Position, err = sec.Key("position").Int64(); err != nil {
		return s, false, fmt.Errorf("binlog.LoadState %s: position: %w", file, err)
	}
	if s.File == "" || s.Position < int64(len(binlogMagic)) {
		return s, false, fmt.Errorf("binlog.LoadState %s: invalid state %s", file, s)
	}
	if err := ValidateGTID(s.GTID); err != nil {
		return s, false, fmt.Errorf("binlog.LoadState %s: %w", file, err)
	}
	return s, true, nil
}

// SaveState writes s to file atomically.
func SaveState(file string, s State) error {
	if err := ValidateGTID(s.GTID); err != nil {
		return err
	}
	cfg := ini.Empty()
	sec, err := cfg.NewSection(stateSection)
	if err != nil {
		return err
	}
	sec.Key("position").SetValue(fmt.Sprint(s.Position))
	sec.Key("gtid").SetValue(s.GTID)
	sec.Key("file").SetValue(s.File)

	var sb strings.Builder
	if _, err := cfg.WriteTo(&sb); err != nil {
		return err
	}
	return writeFileAtomic(file, []byte(sb.String()))
}

// writeFileAtomic replaces file with b by renaming a temporary file.
func writeFileAtomic(file string, b []byte) error {
	tmp := file + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	_, err = f.Write(b)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp, file)
	}
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write %s: %w", file, err)
	}
	return nil
}
