// Package index maps GTIDs to the container blocks holding their rows.
//
// Container files are indexed block by block: the first occurrence of
// every GTID is recorded with the offset of its block, so a reader can
// SeekBlock there and skip records until the GTID field matches. Per
// file progress is remembered, so files still being appended to can be
// indexed repeatedly.
package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-mysql-org/go-mysql/mysql"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite" // register pure-Go SQLite driver

	"github.com/santhosh-tekuri/avrorouter/avro"
	"github.com/santhosh-tekuri/avrorouter/binlog"
)

// DefaultFile is the index database name inside the avro directory.
const DefaultFile = "avro.index"

var (
	ErrNotFound    = errors.New("index: gtid not found")
	ErrNoGTIDField = errors.New("index: container has no GTID field")
)

const schema = `
CREATE TABLE IF NOT EXISTS gtid(
	uuid      TEXT    NOT NULL DEFAULT '',
	domain    INTEGER NOT NULL,
	server_id INTEGER NOT NULL,
	sequence  INTEGER NOT NULL,
	avrofile  TEXT    NOT NULL,
	position  INTEGER NOT NULL,
	PRIMARY KEY (uuid, domain, server_id, sequence, avrofile)
);
CREATE TABLE IF NOT EXISTS indexing_progress(
	filename TEXT    NOT NULL PRIMARY KEY,
	position INTEGER NOT NULL
);`

// Location is where the rows of a GTID start in one container file.
type Location struct {
	File     string // base name of the container file
	Position int64  // offset of the block
}

type Index struct {
	db *sql.DB
}

// Open opens or creates the index database at path.
func Open(path string) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("index.Open %s: %w", path, err)
	}
	return &Index{db: db}, nil
}

func (ix *Index) Close() error {
	return ix.db.Close()
}

type gtidKey struct {
	uuid     string
	domain   uint32
	serverID uint32
	sequence uint64
}

// parseGTID accepts MariaDB domain-server-sequence and MySQL uuid:n
// GTIDs.
func parseGTID(s string) (gtidKey, error) {
	if strings.Contains(s, ":") {
		set, err := mysql.ParseUUIDSet(s)
		if err != nil {
			return gtidKey{}, err
		}
		if len(set.Intervals) != 1 || set.Intervals[0].Stop != set.Intervals[0].Start+1 {
			return gtidKey{}, fmt.Errorf("%q is not a single gtid", s)
		}
		return gtidKey{uuid: set.SID.String(), sequence: uint64(set.Intervals[0].Start)}, nil
	}
	g, err := mysql.ParseMariadbGTID(s)
	if err != nil {
		return gtidKey{}, err
	}
	return gtidKey{domain: g.DomainID, serverID: g.ServerID, sequence: g.SequenceNumber}, nil
}

// Progress returns the offset up to which file was indexed, 0 if it was
// never indexed.
func (ix *Index) Progress(ctx context.Context, file string) (int64, error) {
	var pos int64
	err := ix.db.QueryRowContext(ctx, `SELECT position FROM indexing_progress WHERE filename = ?`, filepath.Base(file)).Scan(&pos)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return pos, err
}

// IndexFile indexes the blocks of file written since the previous call
// and returns the number of GTIDs added.
func (ix *Index) IndexFile(ctx context.Context, file string) (int, error) {
	name := filepath.Base(file)
	progress, err := ix.Progress(ctx, file)
	if err != nil {
		return 0, err
	}
	r, err := avro.Open(file)
	if err != nil {
		return 0, err
	}
	defer r.Close()
	col := r.Schema().Index(binlog.FieldGTID)
	if col == -1 {
		return 0, fmt.Errorf("%w: %s", ErrNoGTIDField, name)
	}

	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()
	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO gtid(uuid, domain, server_id, sequence, avrofile, position) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	flog := log.WithField("file", name)
	n := 0
	var last string
	if progress > 0 {
		err = r.SeekBlock(progress)
	}
	for err == nil {
		if err = ctx.Err(); err != nil {
			return n, err
		}
		off := r.BlockOffset()
		for {
			rec, rerr := r.ReadRecord()
			if rerr == io.EOF {
				break
			}
			if rerr != nil {
				return n, rerr
			}
			gtid, _ := rec[col].(string)
			if gtid == "" || gtid == last {
				continue
			}
			last = gtid
			k, perr := parseGTID(gtid)
			if perr != nil {
				flog.WithError(perr).WithField("pos", off).Warn("skipping gtid")
				continue
			}
			res, xerr := stmt.ExecContext(ctx, k.uuid, k.domain, k.serverID, int64(k.sequence), name, off)
			if xerr != nil {
				return n, xerr
			}
			if added, _ := res.RowsAffected(); added > 0 {
				n++
			}
		}
		err = r.NextBlock()
	}
	if err != io.EOF && !errors.Is(err, avro.ErrNotReady) {
		return n, err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO indexing_progress(filename, position) VALUES (?, ?)`, name, r.BlockOffset()); err != nil {
		return n, err
	}
	if err := tx.Commit(); err != nil {
		return n, err
	}
	flog.WithFields(log.Fields{"gtids": n, "from": progress, "to": r.BlockOffset()}).Debug("indexed")
	return n, nil
}

// IndexDir indexes every container file in dir.
func (ix *Index) IndexDir(ctx context.Context, dir string) (int, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.avro"))
	if err != nil {
		return 0, err
	}
	sort.Strings(files)
	total := 0
	for _, file := range files {
		n, err := ix.IndexFile(ctx, file)
		total += n
		if err != nil {
			return total, fmt.Errorf("index %s: %w", filepath.Base(file), err)
		}
	}
	return total, nil
}

// Lookup returns the locations of gtid, one per container file holding
// its rows, ordered by file name.
func (ix *Index) Lookup(ctx context.Context, gtid string) ([]Location, error) {
	k, err := parseGTID(gtid)
	if err != nil {
		return nil, err
	}
	rows, err := ix.db.QueryContext(ctx,
		`SELECT avrofile, position FROM gtid WHERE uuid = ? AND domain = ? AND server_id = ? AND sequence = ? ORDER BY avrofile`,
		k.uuid, k.domain, k.serverID, int64(k.sequence))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var locs []Location
	for rows.Next() {
		var loc Location
		if err := rows.Scan(&loc.File, &loc.Position); err != nil {
			return nil, err
		}
		locs = append(locs, loc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(locs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, gtid)
	}
	return locs, nil
}
