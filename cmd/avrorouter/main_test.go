package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/santhosh-tekuri/avrorouter/avro"
)

func TestParseLocation(t *testing.T) {
	testCases := []struct {
		arg  string
		file string
		pos  int64
	}{
		{"mysql-bin.000001", "mysql-bin.000001", 4},
		{"mysql-bin.000001:120", "mysql-bin.000001", 120},
		{"dir/mysql-bin.000001:0x100", "dir/mysql-bin.000001", 256},
	}
	for _, tc := range testCases {
		t.Run(tc.arg, func(t *testing.T) {
			file, pos, err := parseLocation(tc.arg)
			require.NoError(t, err)
			require.Equal(t, tc.file, file)
			require.Equal(t, tc.pos, pos)
		})
	}
	_, _, err := parseLocation("mysql-bin.000001:x")
	require.Error(t, err)
}

func writeContainer(t *testing.T, file string, blocks ...int) *avro.Schema {
	t.Helper()
	s := avro.NewSchema("ChangeRecord", "test", []avro.Field{
		{Name: "GTID", Type: avro.String},
		{Name: "a", Type: avro.Int, Union: []avro.Type{avro.Int, avro.Null}},
	})
	w, err := avro.Create(file, s, avro.WriterOptions{})
	require.NoError(t, err)
	seq := 0
	for _, n := range blocks {
		for i := 0; i < n; i++ {
			seq++
			require.NoError(t, w.Append(avro.Record{"0-1-" + strconv.Itoa(seq), int32(seq)}))
		}
		require.NoError(t, w.Flush())
	}
	require.NoError(t, w.Close())
	return s
}

func TestCheck(t *testing.T) {
	file := filepath.Join(t.TempDir(), "db.t.000001.avro")
	writeContainer(t, file, 2, 3)
	st, err := check(file)
	require.NoError(t, err)
	require.EqualValues(t, 2, st.blocks)
	require.EqualValues(t, 5, st.records)
	require.Equal(t, "null", st.codec)
	fi, err := os.Stat(file)
	require.NoError(t, err)
	require.Equal(t, fi.Size(), st.end)

	// a damaged sync marker is reported
	b, err := os.ReadFile(file)
	require.NoError(t, err)
	b[len(b)-1] ^= 0xff
	require.NoError(t, os.WriteFile(file, b, 0o644))
	_, err = check(file)
	require.ErrorIs(t, err, avro.ErrSyncMismatch)
}

func TestPrintRecords(t *testing.T) {
	file := filepath.Join(t.TempDir(), "db.t.000001.avro")
	writeContainer(t, file, 1, 2)
	r, err := avro.Open(file)
	require.NoError(t, err)
	defer r.Close()

	var out bytes.Buffer
	require.NoError(t, printRecords(&out, r, func(rec avro.Record) (bool, bool) {
		return rec[1] != int32(2), true
	}))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Equal(t, []string{
		`{"GTID":"0-1-1","a":1}`,
		`{"GTID":"0-1-3","a":3}`,
	}, lines)
}
