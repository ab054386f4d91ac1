package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/segmentio/encoding/json"
	log "github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/santhosh-tekuri/avrorouter/avro"
	"github.com/santhosh-tekuri/avrorouter/binlog"
	"github.com/santhosh-tekuri/avrorouter/index"
)

type catCmd struct {
	From   int64 `long:"from" default:"0" description:"Index of the first record to print"`
	Schema bool  `long:"schema" description:"Print the schema instead of the records"`
	Args   struct {
		Files []string `positional-arg-name:"FILE" required:"1"`
	} `positional-args:"yes"`
}

func (c *catCmd) Execute(_ []string) error {
	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()
	for _, file := range c.Args.Files {
		if err := c.cat(out, file); err != nil {
			return err
		}
	}
	return nil
}

func (c *catCmd) cat(out io.Writer, file string) error {
	r, err := avro.Open(file)
	if err != nil {
		return err
	}
	defer r.Close()
	if c.Schema {
		_, err := fmt.Fprintln(out, r.Schema())
		return err
	}
	if c.From > 0 {
		if err := r.Seek(c.From); err != nil {
			return err
		}
	}
	return printRecords(out, r, func(avro.Record) (bool, bool) { return true, true })
}

// printRecords prints the records of r as JSON objects. filter decides
// whether a record is printed and whether reading goes on.
func printRecords(out io.Writer, r *avro.Reader, filter func(avro.Record) (show, more bool)) error {
	enc := json.NewEncoder(out)
	fields := r.Schema().Fields
	for {
		rec, err := r.Next()
		if err == io.EOF || errors.Is(err, avro.ErrNotReady) {
			return nil
		}
		if err != nil {
			return err
		}
		show, more := filter(rec)
		if show {
			obj := orderedmap.New[string, interface{}]()
			for i, f := range fields {
				obj.Set(f.Name, rec[i])
			}
			if err := enc.Encode(obj); err != nil {
				return err
			}
		}
		if !more {
			return nil
		}
	}
}

type checkCmd struct {
	Args struct {
		Files []string `positional-arg-name:"FILE" required:"1"`
	} `positional-args:"yes"`
}

func (c *checkCmd) Execute(_ []string) error {
	failed := 0
	for _, file := range c.Args.Files {
		flog := log.WithField("file", file)
		st, err := check(file)
		fields := log.Fields{"blocks": st.blocks, "records": st.records, "bytes": st.bytes, "codec": st.codec}
		switch {
		case errors.Is(err, avro.ErrNotReady):
			flog.WithFields(fields).WithField("pos", st.end).Warn("last block is incomplete")
		case err != nil:
			failed++
			flog.WithFields(fields).WithError(err).Error("check failed")
		default:
			flog.WithFields(fields).Info("ok")
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(c.Args.Files))
	}
	return nil
}

type checkStats struct {
	codec                  string
	blocks, records, bytes int64
	end                    int64 // offset after the last complete block
}

// check verifies the sync marker of every block of file.
func check(file string) (checkStats, error) {
	r, err := avro.Open(file)
	if err != nil {
		return checkStats{}, err
	}
	defer r.Close()
	st := checkStats{codec: r.Codec()}
	for {
		err = r.NextBlock()
		st.blocks, st.records, st.bytes = r.BlocksRead(), r.RecordsRead(), r.BytesRead()
		st.end = r.BlockOffset()
		if err == io.EOF {
			return st, nil
		}
		if err != nil {
			return st, err
		}
	}
}

type indexCmd struct {
	ctx context.Context

	Index string `long:"index" description:"GTID index database (default AVRODIR/avro.index)"`
	Args  struct {
		AvroDir string `positional-arg-name:"AVRODIR"`
	} `positional-args:"yes" required:"yes"`
}

func openIndex(path, avroDir string) (*index.Index, error) {
	if path == "" {
		path = filepath.Join(avroDir, index.DefaultFile)
	}
	return index.Open(path)
}

func (c *indexCmd) Execute(_ []string) error {
	ix, err := openIndex(c.Index, c.Args.AvroDir)
	if err != nil {
		return err
	}
	defer ix.Close()
	n, err := ix.IndexDir(c.ctx, c.Args.AvroDir)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{"dir": c.Args.AvroDir, "gtids": n}).Info("indexed")
	return nil
}

type lookupCmd struct {
	ctx context.Context

	Index string `long:"index" description:"GTID index database (default AVRODIR/avro.index)"`
	Show  bool   `long:"show" description:"Print the records of the transaction"`
	Args  struct {
		AvroDir string `positional-arg-name:"AVRODIR"`
		GTID    string `positional-arg-name:"GTID"`
	} `positional-args:"yes" required:"yes"`
}

func (c *lookupCmd) Execute(_ []string) error {
	ix, err := openIndex(c.Index, c.Args.AvroDir)
	if err != nil {
		return err
	}
	defer ix.Close()
	locs, err := ix.Lookup(c.ctx, c.Args.GTID)
	if err != nil {
		return err
	}
	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()
	for _, loc := range locs {
		fmt.Fprintf(out, "%s:%d\n", loc.File, loc.Position)
		if c.Show {
			if err := c.show(out, loc); err != nil {
				return err
			}
		}
	}
	return nil
}

// show prints the records of the gtid, which start in the block at
// loc.Position.
func (c *lookupCmd) show(out io.Writer, loc index.Location) error {
	r, err := avro.Open(filepath.Join(c.Args.AvroDir, loc.File))
	if err != nil {
		return err
	}
	defer r.Close()
	col := r.Schema().Index(binlog.FieldGTID)
	if err := r.SeekBlock(loc.Position); err != nil {
		return err
	}
	found := false
	return printRecords(out, r, func(rec avro.Record) (bool, bool) {
		if rec[col] == c.Args.GTID {
			found = true
			return true, true
		}
		return false, !found
	})
}
