package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/santhosh-tekuri/avrorouter/avro"
	"github.com/santhosh-tekuri/avrorouter/binlog"
)

func gtidSchema() *avro.Schema {
	return avro.NewSchema("ChangeRecord", "test", []avro.Field{
		{Name: binlog.FieldGTID, Type: avro.String},
		{Name: "a", Type: avro.Int},
	})
}

// appendBlocks writes one block per element of blocks, each record
// carrying the given gtid.
func appendBlocks(t *testing.T, w *avro.Writer, blocks ...[]string) {
	t.Helper()
	for _, gtids := range blocks {
		for i, g := range gtids {
			require.NoError(t, w.Append(avro.Record{g, int32(i)}))
		}
		require.NoError(t, w.Flush())
	}
}

func blockOffsets(t *testing.T, file string) []int64 {
	t.Helper()
	r, err := avro.Open(file)
	require.NoError(t, err)
	defer r.Close()
	var offs []int64
	for {
		offs = append(offs, r.BlockOffset())
		if err := r.NextBlock(); err != nil {
			return offs[:len(offs)-1]
		}
	}
}

func openIndex(t *testing.T) *Index {
	t.Helper()
	ix, err := Open(filepath.Join(t.TempDir(), DefaultFile))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ix.Close() })
	return ix
}

func TestIndexFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	file := filepath.Join(dir, "db.t1.000001.avro")
	w, err := avro.Create(file, gtidSchema(), avro.WriterOptions{})
	require.NoError(t, err)
	appendBlocks(t, w,
		[]string{"0-1-1", "0-1-1", "0-1-2"},
		[]string{"0-1-2", "0-1-3"},
	)

	ix := openIndex(t)
	n, err := ix.IndexFile(ctx, file)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	offs := blockOffsets(t, file)
	require.Len(t, offs, 2)

	for gtid, off := range map[string]int64{"0-1-1": offs[0], "0-1-2": offs[0], "0-1-3": offs[1]} {
		locs, err := ix.Lookup(ctx, gtid)
		require.NoError(t, err, gtid)
		require.Equal(t, []Location{{File: "db.t1.000001.avro", Position: off}}, locs, gtid)
	}
	_, err = ix.Lookup(ctx, "0-1-4")
	require.ErrorIs(t, err, ErrNotFound)

	// nothing new
	n, err = ix.IndexFile(ctx, file)
	require.NoError(t, err)
	require.Equal(t, 0, n)
	fi, err := os.Stat(file)
	require.NoError(t, err)
	progress, err := ix.Progress(ctx, file)
	require.NoError(t, err)
	require.Equal(t, fi.Size(), progress)

	// appended blocks are picked up from the saved progress
	appendBlocks(t, w, []string{"0-1-4", "0-2-5"})
	n, err = ix.IndexFile(ctx, file)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	locs, err := ix.Lookup(ctx, "0-2-5")
	require.NoError(t, err)
	require.Equal(t, progress, locs[0].Position)
	require.NoError(t, w.Close())
}

func TestIndexFile_PartialBlock(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	file := filepath.Join(dir, "db.t1.000001.avro")
	w, err := avro.Create(file, gtidSchema(), avro.WriterOptions{})
	require.NoError(t, err)
	appendBlocks(t, w, []string{"0-1-1"}, []string{"0-1-2"})
	require.NoError(t, w.Close())

	// cut the second block short, as if it were still being written
	offs := blockOffsets(t, file)
	full, err := os.ReadFile(file)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(file, offs[1]+3))

	ix := openIndex(t)
	n, err := ix.IndexFile(ctx, file)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	progress, err := ix.Progress(ctx, file)
	require.NoError(t, err)
	require.Equal(t, offs[1], progress)

	// the writer finishes the block
	require.NoError(t, os.WriteFile(file, full, 0o644))
	n, err = ix.IndexFile(ctx, file)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	locs, err := ix.Lookup(ctx, "0-1-2")
	require.NoError(t, err)
	require.Equal(t, offs[1], locs[0].Position)
}

func TestIndexDir_MySQLGTIDs(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	const uuid = "3e11fa47-71ca-11e1-9e33-c80aa9429562"
	for _, name := range []string{"db.t1.000001.avro", "db.t2.000001.avro"} {
		w, err := avro.Create(filepath.Join(dir, name), gtidSchema(), avro.WriterOptions{})
		require.NoError(t, err)
		appendBlocks(t, w, []string{uuid + ":7", uuid + ":8"})
		require.NoError(t, w.Close())
	}
	// files without a GTID field are refused
	noGTID := avro.NewSchema("Other", "test", []avro.Field{{Name: "a", Type: avro.Int}})
	w, err := avro.Create(filepath.Join(dir, "other.avro"), noGTID, avro.WriterOptions{})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	ix := openIndex(t)
	n, err := ix.IndexDir(ctx, dir)
	require.ErrorIs(t, err, ErrNoGTIDField)
	require.Equal(t, 4, n)

	locs, err := ix.Lookup(ctx, uuid+":8")
	require.NoError(t, err)
	require.Len(t, locs, 2)
	require.Equal(t, "db.t1.000001.avro", locs[0].File)
	require.Equal(t, "db.t2.000001.avro", locs[1].File)

	_, err = ix.Lookup(ctx, uuid+":1-5")
	require.Error(t, err)
}

func TestParseGTID(t *testing.T) {
	k, err := parseGTID("1-100-987654321")
	require.NoError(t, err)
	require.Equal(t, gtidKey{domain: 1, serverID: 100, sequence: 987654321}, k)

	k, err = parseGTID("3E11FA47-71CA-11E1-9E33-C80AA9429562:23")
	require.NoError(t, err)
	require.Equal(t, gtidKey{uuid: "3e11fa47-71ca-11e1-9e33-c80aa9429562", sequence: 23}, k)

	for _, s := range []string{"1-2", "x:1", "3e11fa47-71ca-11e1-9e33-c80aa9429562:1-3"} {
		_, err := parseGTID(s)
		require.Error(t, err, s)
	}
}
