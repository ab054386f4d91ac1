package avro

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
)

// fileReader is a buffered reader over the container file that keeps
// track of the file offset of the next unread byte.
type fileReader struct {
	f   *os.File
	br  *bufio.Reader
	pos int64
	end int64 // end of the current block payload, 0 outside blocks
}

func (r *fileReader) remaining() (int64, bool) {
	if r.end > 0 {
		return r.end - r.pos, true
	}
	fi, err := r.f.Stat()
	if err != nil {
		return 0, false
	}
	return fi.Size() - r.pos, false
}

func (r *fileReader) Read(p []byte) (int, error) {
	n, err := r.br.Read(p)
	r.pos += int64(n)
	return n, err
}

func (r *fileReader) ReadByte() (byte, error) {
	b, err := r.br.ReadByte()
	if err == nil {
		r.pos++
	}
	return b, err
}

func (r *fileReader) skip(n int64) error {
	return r.seek(r.pos + n)
}

func (r *fileReader) seek(off int64) error {
	if off == r.pos {
		return nil
	}
	if d := off - r.pos; d > 0 && d <= int64(r.br.Buffered()) {
		_, err := r.br.Discard(int(d))
		r.pos = off
		return err
	}
	if _, err := r.f.Seek(off, io.SeekStart); err != nil {
		return err
	}
	r.br.Reset(r.f)
	r.pos = off
	return nil
}

// blockReader reads records of a decompressed block.
type blockReader struct {
	*bytes.Reader
}

func (r blockReader) remaining() (int64, bool) { return int64(r.Len()), true }

func (r blockReader) skip(n int64) error {
	if n > int64(r.Len()) {
		_, _ = r.Seek(0, io.SeekEnd)
		return io.ErrUnexpectedEOF
	}
	_, err := r.Seek(n, io.SeekCurrent)
	return err
}

// Reader reads records from an Avro object container file.
//
// A Reader only trusts blocks that are completely written, including
// their trailing sync marker. Reaching the end of the data written so
// far is reported as io.EOF or ErrNotReady, and the same call can be
// retried once the file has grown.
type Reader struct {
	name string
	fr   *fileReader
	h    *header

	firstBlock int64
	next       int64 // offset of the next block header, when no block is loaded

	hasBlock     bool
	blockStart   int64
	dataStart    int64
	blockSize    int64
	blockRecords int64
	blockRead    int64
	src          ByteReader
	payload      []byte
	decoded      []byte

	recordsRead int64
	blocksRead  int64
	bytesRead   int64

	err error
}

// Open opens the named container file and primes the first block.
// A file holding only a header is valid and has no block loaded.
func Open(name string) (*Reader, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	r := &Reader{
		name: name,
		fr:   &fileReader{f: f, br: bufio.NewReader(f)},
	}
	if r.h, err = readHeader(r.fr); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("avro.Open %s: %w", name, err)
	}
	r.firstBlock = r.fr.pos
	r.next = r.firstBlock
	if err := r.loadBlock(); err != nil && err != io.EOF && !errors.Is(err, ErrNotReady) {
		_ = f.Close()
		return nil, err
	}
	return r, nil
}

func (r *Reader) Close() error {
	return r.fr.f.Close()
}

func (r *Reader) Name() string { return r.name }
func (r *Reader) Schema() *Schema { return r.h.schema }
func (r *Reader) Metadata() *Metadata { return r.h.meta }
func (r *Reader) Codec() string { return r.h.codec.Name() }
func (r *Reader) Sync() [syncSize]byte { return r.h.sync }
func (r *Reader) Err() error { return r.err }
func (r *Reader) RecordsRead() int64 { return r.recordsRead }
func (r *Reader) BlocksRead() int64 { return r.blocksRead }
func (r *Reader) BytesRead() int64 { return r.bytesRead }
func (r *Reader) BlockRecords() int64 { return r.blockRecords }
func (r *Reader) FirstBlockOffset() int64 { return r.firstBlock }

// BlockOffset returns the file offset of the current block, or of the
// next expected block when none is loaded.
func (r *Reader) BlockOffset() int64 {
	if r.hasBlock {
		return r.blockStart
	}
	return r.next
}

// Exhausted reports whether the current block has no unread records.
func (r *Reader) Exhausted() bool {
	return !r.hasBlock || r.blockRead >= r.blockRecords
}

func (r *Reader) fail(err error) error {
	r.err = fmt.Errorf("avro: %s: %w", r.name, err)
	return r.err
}

// loadBlock reads the block header at r.next.
func (r *Reader) loadBlock() error {
	r.fr.end = 0
	if err := r.fr.seek(r.next); err != nil {
		return r.fail(err)
	}
	count, _, err := ReadVarint(r.fr)
	switch {
	case err == io.EOF:
		return io.EOF
	case err == io.ErrUnexpectedEOF:
		return ErrNotReady
	case err != nil:
		return r.fail(err)
	}
	size, _, err := ReadVarint(r.fr)
	switch {
	case err == io.EOF, err == io.ErrUnexpectedEOF:
		return ErrNotReady
	case err != nil:
		return r.fail(err)
	}
	if count < 0 || size < 0 {
		return r.fail(fmt.Errorf("%w: block at %d: count=%d size=%d", ErrMalformed, r.next, count, size))
	}
	dataStart := r.fr.pos
	fi, err := r.fr.f.Stat()
	if err != nil {
		return r.fail(err)
	}
	if fi.Size() < dataStart+size+syncSize {
		return ErrNotReady
	}

	if r.h.codec.Name() == CodecNull {
		r.fr.end = dataStart + size
		r.src = r.fr
	} else {
		if int64(cap(r.payload)) < size {
			r.payload = make([]byte, size)
		}
		r.payload = r.payload[:size]
		if _, err := io.ReadFull(r.fr, r.payload); err != nil {
			return r.fail(err)
		}
		if r.decoded, err = r.h.codec.Decode(r.decoded[:0], r.payload); err != nil {
			return r.fail(err)
		}
		r.src = blockReader{bytes.NewReader(r.decoded)}
	}
	r.hasBlock = true
	r.blockStart, r.dataStart, r.blockSize = r.next, dataStart, size
	r.blockRecords, r.blockRead = count, 0
	return nil
}

func (r *Reader) verifySync() error {
	var sync [syncSize]byte
	if _, err := io.ReadFull(r.fr, sync[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return ErrNotReady
		}
		return r.fail(err)
	}
	if sync != r.h.sync {
		return r.fail(fmt.Errorf("%w: block at %d", ErrSyncMismatch, r.blockStart))
	}
	return nil
}

// NextBlock skips the unread records of the current block by seeking
// past its payload, verifies its sync marker and loads the next block.
// It returns io.EOF when no further block has been written yet.
func (r *Reader) NextBlock() error {
	if r.err != nil {
		return r.err
	}
	if r.hasBlock {
		end := r.dataStart + r.blockSize
		if err := r.fr.seek(end); err != nil {
			return r.fail(err)
		}
		if err := r.verifySync(); err != nil {
			return err
		}
		r.recordsRead += r.blockRecords - r.blockRead
		r.blocksRead++
		r.bytesRead += r.blockSize
		r.hasBlock = false
		r.next = end + syncSize
	}
	return r.loadBlock()
}

// ReadRecord decodes the next record of the current block. It returns
// io.EOF when the block is exhausted; NextBlock must be called before
// further records are returned.
func (r *Reader) ReadRecord() (Record, error) {
	if r.err != nil {
		return nil, r.err
	}
	if r.Exhausted() {
		return nil, io.EOF
	}
	rec, err := r.h.schema.readRecord(r.src)
	if err != nil {
		return nil, r.fail(fmt.Errorf("record %d: %w", r.recordsRead, err))
	}
	r.blockRead++
	r.recordsRead++
	return rec, nil
}

// Next returns the next record, moving to the following block when
// the current one is exhausted.
func (r *Reader) Next() (Record, error) {
	for {
		rec, err := r.ReadRecord()
		if err != io.EOF {
			return rec, err
		}
		if err := r.NextBlock(); err != nil {
			return nil, err
		}
	}
}

func (r *Reader) skipRecord() error {
	if err := r.h.schema.skipRecord(r.src); err != nil {
		return r.fail(fmt.Errorf("record %d: %w", r.recordsRead, err))
	}
	r.blockRead++
	r.recordsRead++
	return nil
}

// Skip moves n records forward. Whole blocks are skipped by their
// declared length; only records of the destination block are decoded.
func (r *Reader) Skip(n int64) error {
	if r.err != nil {
		return r.err
	}
	for n > 0 {
		if r.hasBlock {
			remaining := r.blockRecords - r.blockRead
			if n < remaining {
				for ; n > 0; n-- {
					if err := r.skipRecord(); err != nil {
						return err
					}
				}
				return nil
			}
			n -= remaining
		}
		if err := r.NextBlock(); err != nil {
			return err
		}
	}
	return nil
}

// Seek positions the reader before the record with the given index,
// counted from the start of the file.
func (r *Reader) Seek(index int64) error {
	if r.err != nil {
		return r.err
	}
	if index < r.recordsRead {
		r.hasBlock = false
		r.next = r.firstBlock
		r.recordsRead, r.blocksRead, r.bytesRead = 0, 0, 0
		if err := r.loadBlock(); err != nil {
			return err
		}
	}
	return r.Skip(index - r.recordsRead)
}

// SeekBlock positions the reader at the block starting at off, which
// must be an offset previously returned by BlockOffset. Record counters
// then count from that block.
func (r *Reader) SeekBlock(off int64) error {
	if r.err != nil {
		return r.err
	}
	r.hasBlock = false
	r.next = off
	r.recordsRead, r.blocksRead, r.bytesRead = 0, 0, 0
	return r.loadBlock()
}

// ReadRawBlock returns the current block as stored in the file, from
// its header to its sync marker, and moves to the next block.
func (r *Reader) ReadRawBlock() ([]byte, error) {
	if r.err != nil {
		return nil, r.err
	}
	if !r.hasBlock {
		if err := r.loadBlock(); err != nil {
			return nil, err
		}
	}
	end := r.dataStart + r.blockSize + syncSize
	b := make([]byte, end-r.blockStart)
	if _, err := r.fr.f.ReadAt(b, r.blockStart); err != nil {
		return nil, r.fail(err)
	}
	if !bytes.Equal(b[len(b)-syncSize:], r.h.sync[:]) {
		return nil, r.fail(fmt.Errorf("%w: block at %d", ErrSyncMismatch, r.blockStart))
	}
	if err := r.NextBlock(); err != nil && err != io.EOF && !errors.Is(err, ErrNotReady) {
		return nil, err
	}
	return b, nil
}
