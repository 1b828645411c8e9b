// Package trace records collector lifecycle events to an append-only
// segmented log. Each frame is length, CRC32, then a wire-format body,
// so a truncated tail or torn write is detected and dropped on reopen.
package trace

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const frameHeaderSize = 8

type coreLog struct {
	cfg             Config
	file            *os.File
	writer          *bufio.Writer
	seq             uint64
	segmentID       int
	segmentStartSeq uint64
	bytesWritten    uint64
	lastRotationAt  time.Time
}

func newCoreLog(cfg Config) (*coreLog, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}

	last, _ := loadLastIndex(cfg.Dir)
	var segID int
	var seq uint64
	if last != nil {
		id, _ := strconv.Atoi(strings.TrimSuffix(filepath.Base(last.File), ".trace"))
		segID = id
		seq = last.LastSeq
	}

	path := filepath.Join(cfg.Dir, "current.trace")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}

	l := &coreLog{
		cfg:             cfg,
		file:            f,
		segmentID:       segID,
		segmentStartSeq: seq + 1,
		seq:             seq,
		lastRotationAt:  time.Now(),
	}

	if err := l.recoverCurrentState(); err != nil {
		return nil, err
	}
	if _, err := l.file.Seek(0, io.SeekEnd); err != nil {
		return nil, err
	}
	l.writer = bufio.NewWriterSize(f, 1<<20)

	return l, nil
}

func (l *coreLog) append(rec *Record) error {
	rec.Seq = l.seq + 1
	body := EncodeRecord(rec)

	recordSize := frameHeaderSize + len(body)
	if l.shouldRotate(recordSize) {
		if err := l.rotate(); err != nil {
			return err
		}
	}

	l.seq++
	if err := writeFrame(l.writer, body); err != nil {
		return err
	}
	l.bytesWritten += uint64(recordSize)
	return nil
}

func (l *coreLog) shouldRotate(nextSize int) bool {
	return l.bytesWritten+uint64(nextSize) >= l.cfg.SegmentSize ||
		time.Since(l.lastRotationAt) >= l.cfg.SegmentDuration
}

func (l *coreLog) rotate() error {
	_ = l.writer.Flush()
	_ = l.file.Sync()
	_ = l.file.Close()

	newID := l.segmentID + 1
	newFile := fmt.Sprintf("%06d.trace", newID)
	oldPath := filepath.Join(l.cfg.Dir, "current.trace")
	newPath := filepath.Join(l.cfg.Dir, newFile)

	if err := os.Rename(oldPath, newPath); err != nil {
		return err
	}

	entry := indexEntry{
		File:      newFile,
		FirstSeq:  l.segmentStartSeq,
		LastSeq:   l.seq,
		Timestamp: time.Now().Format(time.RFC3339),
	}
	_ = appendIndexEntry(l.cfg.Dir, entry)

	f, err := os.OpenFile(oldPath, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	l.file = f
	l.writer = bufio.NewWriterSize(f, 1<<20)
	l.segmentID = newID
	l.segmentStartSeq = l.seq + 1
	l.bytesWritten = 0
	l.lastRotationAt = time.Now()
	return nil
}

func (l *coreLog) sync() error {
	if err := l.writer.Flush(); err != nil {
		return err
	}
	return l.file.Sync()
}

func (l *coreLog) close() error {
	_ = l.writer.Flush()
	_ = l.file.Sync()
	_ = l.file.Close()

	if l.seq < l.segmentStartSeq {
		// empty current segment, nothing to finalize
		return nil
	}

	newFile := fmt.Sprintf("%06d.trace", l.segmentID+1)
	oldPath := filepath.Join(l.cfg.Dir, "current.trace")
	newPath := filepath.Join(l.cfg.Dir, newFile)

	if err := os.Rename(oldPath, newPath); err != nil {
		return err
	}

	entry := indexEntry{
		File:      newFile,
		FirstSeq:  l.segmentStartSeq,
		LastSeq:   l.seq,
		Timestamp: time.Now().Format(time.RFC3339),
	}
	return appendIndexEntry(l.cfg.Dir, entry)
}

// recoverCurrentState walks the open segment frame by frame and
// truncates at the first incomplete or corrupt frame, so the log
// always reopens at a clean boundary.
func (l *coreLog) recoverCurrentState() error {
	info, err := l.file.Stat()
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		l.bytesWritten = 0
		return nil
	}
	path := filepath.Join(l.cfg.Dir, "current.trace")
	r, err := os.Open(path)
	if err != nil {
		return err
	}
	defer r.Close()
	var (
		validBytes int64
		header     [frameHeaderSize]byte
	)
	for {
		if _, err := io.ReadFull(r, header[:]); err != nil {
			if err == io.EOF {
				break
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return l.truncateCurrent(validBytes)
			}
			return err
		}
		bodyLen := binary.LittleEndian.Uint32(header[:4])
		body := make([]byte, bodyLen)
		if _, err := io.ReadFull(r, body); err != nil {
			if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
				return l.truncateCurrent(validBytes)
			}
			return err
		}
		checksum := binary.LittleEndian.Uint32(header[4:])
		if crc32.ChecksumIEEE(body) != checksum {
			return l.truncateCurrent(validBytes)
		}
		rec, err := DecodeRecord(body)
		if err != nil {
			return l.truncateCurrent(validBytes)
		}
		l.seq = rec.Seq
		validBytes += int64(frameHeaderSize + len(body))
	}
	l.bytesWritten = uint64(validBytes)
	return nil
}

func (l *coreLog) truncateCurrent(validBytes int64) error {
	if err := l.file.Truncate(validBytes); err != nil {
		return err
	}
	if _, err := l.file.Seek(validBytes, io.SeekStart); err != nil {
		return err
	}
	l.bytesWritten = uint64(validBytes)
	return nil
}

func writeFrame(wr io.Writer, body []byte) error {
	var header [frameHeaderSize]byte
	binary.LittleEndian.PutUint32(header[:4], uint32(len(body)))
	binary.LittleEndian.PutUint32(header[4:], crc32.ChecksumIEEE(body))
	if _, err := wr.Write(header[:]); err != nil {
		return err
	}
	_, err := wr.Write(body)
	return err
}
