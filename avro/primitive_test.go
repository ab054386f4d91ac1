package avro

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestString_RoundTrip(t *testing.T) {
	for _, s := range []string{"", "a", "hello world", "nul\x00inside", "\x00", "ünïcödé", string(make([]byte, 300))} {
		b := AppendString(nil, s)
		require.Len(t, b, StringLen(s))
		got, err := ReadString(bytes.NewReader(b))
		require.NoError(t, err)
		require.Equal(t, s, got)
	}
}

func TestReadBytes_Truncated(t *testing.T) {
	b := AppendBytes(nil, []byte("abcdef"))
	_, err := ReadBytes(bytes.NewReader(b[:len(b)-1]))
	require.Equal(t, io.ErrUnexpectedEOF, err)

	// negative length
	_, err = ReadBytes(bytes.NewReader(AppendVarint(nil, -3)))
	require.True(t, errors.Is(err, ErrMalformed))

	// a length beyond the block is refused before allocating
	huge := append(AppendVarint(nil, maxBytesLen), "abc"...)
	_, err = ReadBytes(blockReader{bytes.NewReader(huge)})
	require.ErrorIs(t, err, ErrMalformed)

	file := filepath.Join(t.TempDir(), "data")
	require.NoError(t, os.WriteFile(file, huge, 0o644))
	f, err := os.Open(file)
	require.NoError(t, err)
	defer f.Close()
	_, err = ReadBytes(&fileReader{f: f, br: bufio.NewReader(f), end: int64(len(huge))})
	require.ErrorIs(t, err, ErrMalformed)

	// outside a block the rest may not be written yet
	_, err = f.Seek(0, io.SeekStart)
	require.NoError(t, err)
	_, err = ReadBytes(&fileReader{f: f, br: bufio.NewReader(f)})
	require.Equal(t, io.ErrUnexpectedEOF, err)
}

func TestSkipBytes(t *testing.T) {
	b := AppendString(nil, "skipped")
	b = AppendString(b, "kept")
	r := bytes.NewReader(b)
	require.NoError(t, SkipBytes(r))
	s, err := ReadString(r)
	require.NoError(t, err)
	require.Equal(t, "kept", s)

	require.Equal(t, io.ErrUnexpectedEOF, SkipBytes(bytes.NewReader(AppendVarint(nil, 10))))
}

func TestFloat_Layout(t *testing.T) {
	require.Equal(t, []byte{0x00, 0x00, 0x80, 0x3f}, AppendFloat(nil, 1))
	require.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0xf0, 0x3f}, AppendDouble(nil, 1))

	for _, v := range []float64{0, -1.5, math.Pi, math.MaxFloat64, math.SmallestNonzeroFloat64, math.Inf(-1)} {
		got, err := ReadDouble(bytes.NewReader(AppendDouble(nil, v)))
		require.NoError(t, err)
		require.Equal(t, v, got)
	}
	for _, v := range []float32{0, -1.5, math.MaxFloat32} {
		got, err := ReadFloat(bytes.NewReader(AppendFloat(nil, v)))
		require.NoError(t, err)
		require.Equal(t, v, got)
	}
	_, err := ReadDouble(bytes.NewReader([]byte{1, 2, 3}))
	require.Equal(t, io.ErrUnexpectedEOF, err)
}

func TestBoolean(t *testing.T) {
	require.Equal(t, []byte{1, 0}, AppendBoolean(AppendBoolean(nil, true), false))
	_, err := ReadBoolean(bytes.NewReader([]byte{2}))
	require.True(t, errors.Is(err, ErrMalformed))
}
