package trace

import (
	"bufio"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
	"os"
)

var errCRCMismatch = errors.New("trace: crc mismatch")

// Reader iterates the frames of a single segment file.
type Reader struct {
	file   *os.File
	reader *bufio.Reader
	rec    *Record
	err    error
}

func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &Reader{
		file:   f,
		reader: bufio.NewReader(f),
	}, nil
}

func (r *Reader) Next() bool {
	if r.err != nil {
		return false
	}
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r.reader, header[:]); err != nil {
		if err != io.EOF {
			r.err = err
		}
		return false
	}
	bodyLen := binary.LittleEndian.Uint32(header[:4])
	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r.reader, body); err != nil {
		r.err = err
		return false
	}
	if crc32.ChecksumIEEE(body) != binary.LittleEndian.Uint32(header[4:]) {
		r.err = errCRCMismatch
		return false
	}
	rec, err := DecodeRecord(body)
	if err != nil {
		r.err = err
		return false
	}
	r.rec = rec
	return true
}

func (r *Reader) Record() *Record {
	return r.rec
}

func (r *Reader) Err() error {
	return r.err
}

func (r *Reader) Close() {
	_ = r.file.Close()
}
