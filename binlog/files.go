package binlog

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

var binlogMagic = []byte{0xfe, 'b', 'i', 'n'}

// openBinlogFile opens file and checks the binlog file header.
func openBinlogFile(file string) (*os.File, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	header := make([]byte, len(binlogMagic))
	if _, err = io.ReadFull(f, header); err != nil {
		_ = f.Close()
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("%w: %s has no file header yet", io.ErrUnexpectedEOF, file)
		}
		return nil, err
	}
	if !bytes.Equal(header, binlogMagic) {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %s has invalid file header", ErrMalformedEvent, file)
	}
	return f, nil
}

func binlogSeq(name string) (int, error) {
	dot := strings.LastIndexByte(name, '.')
	if dot == -1 {
		return 0, errors.New("no dot in binlog file " + name)
	}
	suffix := name[dot+1:]
	for len(suffix) > 1 && suffix[0] == '0' {
		suffix = suffix[1:]
	}
	i, err := strconv.Atoi(suffix)
	if err != nil {
		return 0, errors.New("invalid binlog file suffix " + name)
	}
	return i, nil
}

// nextBinlogFile returns the name that follows name in the
// basename.NNNNNN numbering.
func nextBinlogFile(name string) (string, error) {
	i, err := binlogSeq(name)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%06d", name[:strings.LastIndexByte(name, '.')+1], i+1), nil
}

// FirstBinlogFile returns the lowest numbered binlog file with the given
// basename in dir.
func FirstBinlogFile(dir, basename string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, basename+".[0-9]*"))
	if err != nil {
		return "", err
	}
	var names []string
	for _, m := range matches {
		if _, err := binlogSeq(filepath.Base(m)); err == nil {
			names = append(names, filepath.Base(m))
		}
	}
	if len(names) == 0 {
		return "", fmt.Errorf("no %s.NNNNNN binlog files in %s: %w", basename, dir, os.ErrNotExist)
	}
	sort.Slice(names, func(i, j int) bool {
		a, _ := binlogSeq(names[i])
		b, _ := binlogSeq(names[j])
		return a < b
	})
	return names[0], nil
}

func fileExists(file string) (bool, error) {
	_, err := os.Stat(file)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// FileReader reads the events of one binlog file. The file may still be
// growing: an event that is not completely written yet is reported as
// io.ErrUnexpectedEOF and can be read again later.
type FileReader struct {
	f    *os.File
	name string
	pos  int64
	fde  *FormatDescriptionEvent
	hdr  [eventHeaderSize]byte
}

// OpenFile opens a binlog file positioned at its first event.
func OpenFile(file string) (*FileReader, error) {
	f, err := openBinlogFile(file)
	if err != nil {
		return nil, err
	}
	return &FileReader{f: f, name: filepath.Base(file), pos: int64(len(binlogMagic))}, nil
}

func (r *FileReader) Name() string { return r.name }

// Pos returns the offset of the next event.
func (r *FileReader) Pos() int64 { return r.pos }

// FormatDescription returns the FORMAT_DESCRIPTION_EVENT of the file,
// or nil if it was not read yet.
func (r *FileReader) FormatDescription() *FormatDescriptionEvent { return r.fde }

// Seek positions the reader at the event starting at pos. The format
// description event at the start of the file is read first, since
// decoding the events after it depends on it.
func (r *FileReader) Seek(pos int64) error {
	if pos < int64(len(binlogMagic)) {
		return fmt.Errorf("binlog.Seek %s: invalid position %d", r.name, pos)
	}
	if r.fde == nil && pos > int64(len(binlogMagic)) {
		r.pos = int64(len(binlogMagic))
		e, err := r.Next()
		if err != nil {
			return err
		}
		if e.Header.EventType != FORMAT_DESCRIPTION_EVENT {
			return fmt.Errorf("%w: %s starts with %s event", ErrMalformedEvent, r.name, e.Header.EventType)
		}
	}
	r.pos = pos
	return nil
}

// Next reads the event at the current position. It returns io.EOF if
// the file ends at an event boundary.
func (r *FileReader) Next() (*Event, error) {
	n, err := r.f.ReadAt(r.hdr[:], r.pos)
	switch {
	case n == 0 && err == io.EOF:
		return nil, io.EOF
	case n < len(r.hdr) && err == io.EOF:
		return nil, fmt.Errorf("%w: partial event header at %s:%d", io.ErrUnexpectedEOF, r.name, r.pos)
	case err != nil && n < len(r.hdr):
		return nil, err
	}
	h := EventHeader{LogFile: r.name, LogPos: r.pos}
	h.decode(r.hdr[:])
	if err := h.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", r.name, err)
	}
	if r.fde == nil && h.EventType != FORMAT_DESCRIPTION_EVENT {
		return nil, fmt.Errorf("%w: %s event at %s:%d before format description", ErrMalformedEvent, h.EventType, r.name, r.pos)
	}

	fi, err := r.f.Stat()
	if err != nil {
		return nil, err
	}
	if r.pos+int64(h.EventSize) > fi.Size() {
		return nil, fmt.Errorf("%w: partial %s event at %s:%d", io.ErrUnexpectedEOF, h.EventType, r.name, r.pos)
	}
	event := make([]byte, h.EventSize)
	copy(event, r.hdr[:])
	n, err = r.f.ReadAt(event[eventHeaderSize:], r.pos+eventHeaderSize)
	if n < len(event)-eventHeaderSize {
		if err == io.EOF {
			return nil, fmt.Errorf("%w: partial %s event at %s:%d", io.ErrUnexpectedEOF, h.EventType, r.name, r.pos)
		}
		return nil, err
	}

	fde := r.fde
	body := event[eventHeaderSize:]
	if h.EventType == FORMAT_DESCRIPTION_EVENT {
		fde = nil
	}
	if fde != nil && fde.ChecksumAlg == ChecksumCRC32 {
		if body, err = verifyChecksum(h, event); err != nil {
			return nil, err
		}
	}
	e, err := decodeEvent(h, body, fde)
	if err != nil {
		return nil, err
	}
	if fde, ok := e.Data.(*FormatDescriptionEvent); ok {
		if fde.ChecksumAlg == ChecksumCRC32 {
			if _, err := verifyChecksum(h, event); err != nil {
				return nil, err
			}
		}
		r.fde = fde
	}
	r.pos += int64(h.EventSize)
	return e, nil
}

// verifyChecksum checks the CRC32 trailer of event and returns the body
// without it.
func verifyChecksum(h EventHeader, event []byte) ([]byte, error) {
	if len(event) < eventHeaderSize+4 {
		return nil, fmt.Errorf("%w: %s event at %s:%d too short for checksum", ErrMalformedEvent, h.EventType, h.LogFile, h.LogPos)
	}
	n := len(event) - 4
	if want, got := binary.LittleEndian.Uint32(event[n:]), crc32.ChecksumIEEE(event[:n]); want != got {
		return nil, fmt.Errorf("%w: %s event at %s:%d checksum 0x%08x, computed 0x%08x",
			ErrMalformedEvent, h.EventType, h.LogFile, h.LogPos, want, got)
	}
	return event[eventHeaderSize:n], nil
}

func (r *FileReader) Close() error {
	return r.f.Close()
}
