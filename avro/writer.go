package avro

import (
	"errors"
	"fmt"
	"io"
	"os"
)

const (
	DefaultMaxBlockSize = 64 << 20
	initialBlockSize    = 4 << 10
)

type WriterOptions struct {
	Codec        string    // block codec name, null when empty
	MaxBlockSize int       // upper bound of the uncompressed block buffer
	Metadata     *Metadata // extra header metadata
	Fsync        bool      // sync the file after every block
}

// File is the subset of *os.File the writer needs.
type File interface {
	io.WriteSeeker
	io.Closer
	Truncate(size int64) error
	Sync() error
}

// Writer appends blocks of records to a container file. Records are
// buffered until Flush; a block is either written completely or the
// file is truncated back to where the block began.
type Writer struct {
	f    File
	name string
	h    *header

	buf          []byte
	records      int64
	maxBlockSize int
	fsync        bool
	scratch      []byte
	block        []byte

	blocks int64
}

// Create creates the named file and writes the container header.
func Create(name string, schema *Schema, opts WriterOptions) (*Writer, error) {
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	w, err := NewWriter(f, schema, opts)
	if err != nil {
		_ = f.Close()
		_ = os.Remove(name)
		return nil, fmt.Errorf("avro.Create %s: %w", name, err)
	}
	w.name = name
	return w, nil
}

// NewWriter writes a fresh header with a random sync marker to f.
func NewWriter(f File, schema *Schema, opts WriterOptions) (*Writer, error) {
	codec, err := NewCodec(opts.Codec)
	if err != nil {
		return nil, err
	}
	w := newWriter(f, newHeader(schema, codec, opts.Metadata), opts)
	if _, err := f.Write(w.h.appendTo(nil)); err != nil {
		return nil, err
	}
	return w, nil
}

func newWriter(f File, h *header, opts WriterOptions) *Writer {
	w := &Writer{f: f, h: h, maxBlockSize: opts.MaxBlockSize, fsync: opts.Fsync}
	if w.maxBlockSize <= 0 {
		w.maxBlockSize = DefaultMaxBlockSize
	}
	return w
}

// OpenAppend opens an existing container file for appending. Every
// block is verified, and a trailing partially written block is cut
// off. The codec and sync marker of the file are kept; opts.Codec is
// ignored.
func OpenAppend(name string, opts WriterOptions) (*Writer, error) {
	r, err := Open(name)
	if err != nil {
		return nil, err
	}
	for err == nil {
		err = r.NextBlock()
	}
	end, h, blocks := r.BlockOffset(), r.h, r.BlocksRead()
	_ = r.Close()
	if err != io.EOF && !errors.Is(err, ErrNotReady) {
		return nil, err
	}

	f, err := os.OpenFile(name, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err == nil && fi.Size() > end {
		err = f.Truncate(end)
	}
	if err == nil {
		_, err = f.Seek(end, io.SeekStart)
	}
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("avro.OpenAppend %s: %w", name, err)
	}
	w := newWriter(f, h, opts)
	w.name, w.blocks = name, blocks
	return w, nil
}

func (w *Writer) Name() string    { return w.name }
func (w *Writer) Schema() *Schema { return w.h.schema }

// Blocks returns the number of blocks in the file, counting those found
// by OpenAppend.
func (w *Writer) Blocks() int64 { return w.blocks }

// Buffered returns the number of records and bytes not yet flushed.
func (w *Writer) Buffered() (int64, int) {
	return w.records, len(w.buf)
}

// grow makes room for n more bytes, doubling the buffer capacity.
func (w *Writer) grow(n int) error {
	need := len(w.buf) + n
	if need <= cap(w.buf) {
		return nil
	}
	if need > w.maxBlockSize {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrBlockTooLarge, need, w.maxBlockSize)
	}
	c := cap(w.buf)
	if c == 0 {
		c = initialBlockSize
	}
	for c < need {
		c *= 2
	}
	if c > w.maxBlockSize {
		c = w.maxBlockSize
	}
	buf := make([]byte, len(w.buf), c)
	copy(buf, w.buf)
	w.buf = buf
	return nil
}

// Append encodes rec into the current block buffer. On error the
// buffer is left as it was.
func (w *Writer) Append(rec Record) error {
	n, err := w.h.schema.RecordLen(rec)
	if err != nil {
		return err
	}
	if err := w.grow(n); err != nil {
		return err
	}
	b, err := w.h.schema.AppendRecord(w.buf, rec)
	if err != nil {
		return err
	}
	w.buf = b
	w.records++
	return nil
}

// Discard drops the buffered records.
func (w *Writer) Discard() {
	w.buf = w.buf[:0]
	w.records = 0
}

// Rewind drops the records appended after Buffered returned records
// and size.
func (w *Writer) Rewind(records int64, size int) error {
	if records < 0 || records > w.records || size < 0 || size > len(w.buf) {
		return fmt.Errorf("avro: %s: rewind to %d records, %d bytes of %d, %d", w.name, records, size, w.records, len(w.buf))
	}
	w.buf = w.buf[:size]
	w.records = records
	return nil
}

// Flush writes the buffered records as one block.
func (w *Writer) Flush() error {
	if w.records == 0 {
		return nil
	}
	payload := w.buf
	if w.h.codec.Name() != CodecNull {
		var err error
		if w.scratch, err = w.h.codec.Encode(w.scratch[:0], w.buf); err != nil {
			return err
		}
		payload = w.scratch
	}

	off, err := w.f.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}
	b := AppendVarint(w.block[:0], w.records)
	b = AppendVarint(b, int64(len(payload)))
	b = append(b, payload...)
	b = append(b, w.h.sync[:]...)
	w.block = b
	if _, err := w.f.Write(b); err != nil {
		w.rollback(off)
		return fmt.Errorf("avro: %s: write block: %w", w.name, err)
	}
	if w.fsync {
		if err := w.f.Sync(); err != nil {
			w.rollback(off)
			return fmt.Errorf("avro: %s: sync: %w", w.name, err)
		}
	}
	w.Discard()
	w.blocks++
	return nil
}

func (w *Writer) rollback(off int64) {
	_ = w.f.Truncate(off)
	_, _ = w.f.Seek(off, io.SeekStart)
}

// Close flushes buffered records and closes the file.
func (w *Writer) Close() error {
	err := w.Flush()
	if cerr := w.f.Close(); err == nil {
		err = cerr
	}
	return err
}
