package main

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/santhosh-tekuri/avrorouter/binlog"
)

type viewCmd struct {
	Follow bool `long:"follow" description:"Continue with the next file after a rotation"`
	Args   struct {
		Location string `positional-arg-name:"FILE[:POS]" description:"binlog file, optionally with the offset of the first event"`
	} `positional-args:"yes" required:"yes"`
}

func parseLocation(arg string) (file string, pos int64, err error) {
	colon := strings.LastIndexByte(arg, ':')
	if colon == -1 {
		return arg, 4, nil
	}
	pos, err = strconv.ParseInt(arg[colon+1:], 0, 64)
	return arg[:colon], pos, err
}

func (c *viewCmd) Execute(_ []string) error {
	file, pos, err := parseLocation(c.Args.Location)
	if err != nil {
		return err
	}
	for {
		next, err := view(file, pos)
		if err != nil || next == "" || !c.Follow {
			return err
		}
		file, pos = filepath.Join(filepath.Dir(file), next), 4
	}
}

// view prints the events of file from pos and returns the file named
// by its ROTATE event, if any.
func view(file string, pos int64) (string, error) {
	r, err := binlog.OpenFile(file)
	if err != nil {
		return "", err
	}
	defer r.Close()
	if err := r.Seek(pos); err != nil {
		return "", err
	}
	var next string
	for {
		e, err := r.Next()
		if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
			return next, nil
		}
		if err != nil {
			return "", err
		}
		fmt.Printf("%s %s:0x%04x %-17s",
			time.Unix(int64(e.Header.Timestamp), 0).UTC().Format("2006-01-02 15:04:05"),
			e.Header.LogFile,
			e.Header.LogPos,
			e.Header.EventType,
		)
		switch d := e.Data.(type) {
		case *binlog.FormatDescriptionEvent:
			fmt.Println(" ", "v"+strconv.Itoa(int(d.BinlogVersion)), d.ServerVersion)
		case *binlog.TableMapEntry:
			fmt.Printf(" %s id=%d columns=%d\n", d.Ident(), d.ID, len(d.Types))
		case *binlog.RowsEvent:
			fmt.Printf(" id=%d columns=%d\n", d.TableID, d.NumCol)
		case *binlog.QueryEvent:
			fmt.Printf(" [%s] %s\n", d.Schema, strings.Join(strings.Fields(d.Query), " "))
		case *binlog.RotateEvent:
			next = d.NextBinlog
			fmt.Println(" ", d.NextBinlog)
		case *binlog.XidEvent:
			fmt.Println(" ", d.Xid)
		case *binlog.MariadbGTIDEvent:
			fmt.Println(" ", d)
		case *binlog.GTIDEvent:
			fmt.Println(" ", d)
		default:
			fmt.Println()
		}
	}
}
