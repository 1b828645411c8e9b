// Package census persists a durable per-cycle summary keyed by cycle
// sequence. Each entry doubles as an outbox row for the broadcaster:
// it moves NEW -> SENT -> ACKED and is deleted once acknowledged.
package census

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
)

// -------------------- State --------------------

type State uint8

const (
	StateNew State = iota
	StateSent
	StateAcked
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateSent:
		return "SENT"
	case StateAcked:
		return "ACKED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// -------------------- Record --------------------

// Record is one collection cycle's durable summary plus its outbox
// bookkeeping.
type Record struct {
	State       State
	Retries     uint32
	LastAttempt int64

	Kind           uint8
	DurationNanos  int64
	PauseNanos     int64
	BytesPromoted  uint64
	BytesCopied    uint64
	BytesReclaimed uint64
	LiveBytes      uint64
}

const recordLen = 1 + 4 + 8 + 1 + 8 + 8 + 8 + 8 + 8 + 8

// binary encoding: [state:1][retries:4][lastAttempt:8][kind:1]
// [duration:8][pause:8][promoted:8][copied:8][reclaimed:8][live:8]
func encodeRecord(r Record) []byte {
	buf := make([]byte, recordLen)
	buf[0] = byte(r.State)
	binary.BigEndian.PutUint32(buf[1:5], r.Retries)
	binary.BigEndian.PutUint64(buf[5:13], uint64(r.LastAttempt))
	buf[13] = r.Kind
	binary.BigEndian.PutUint64(buf[14:22], uint64(r.DurationNanos))
	binary.BigEndian.PutUint64(buf[22:30], uint64(r.PauseNanos))
	binary.BigEndian.PutUint64(buf[30:38], r.BytesPromoted)
	binary.BigEndian.PutUint64(buf[38:46], r.BytesCopied)
	binary.BigEndian.PutUint64(buf[46:54], r.BytesReclaimed)
	binary.BigEndian.PutUint64(buf[54:62], r.LiveBytes)
	return buf
}

func decodeRecord(b []byte) (Record, error) {
	if len(b) != recordLen {
		return Record{}, errors.New("invalid census record length")
	}
	return Record{
		State:          State(b[0]),
		Retries:        binary.BigEndian.Uint32(b[1:5]),
		LastAttempt:    int64(binary.BigEndian.Uint64(b[5:13])),
		Kind:           b[13],
		DurationNanos:  int64(binary.BigEndian.Uint64(b[14:22])),
		PauseNanos:     int64(binary.BigEndian.Uint64(b[22:30])),
		BytesPromoted:  binary.BigEndian.Uint64(b[30:38]),
		BytesCopied:    binary.BigEndian.Uint64(b[38:46]),
		BytesReclaimed: binary.BigEndian.Uint64(b[46:54]),
		LiveBytes:      binary.BigEndian.Uint64(b[54:62]),
	}, nil
}

// -------------------- Store --------------------

type Store struct {
	db *pebble.DB
}

func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{
		DisableWAL: false,
	})
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// -------------------- API --------------------

// Put inserts a new cycle summary in StateNew.
func (s *Store) Put(seq uint64, rec Record) error {
	rec.State = StateNew
	rec.Retries = 0
	rec.LastAttempt = 0
	return s.db.Set(keyFor(seq), encodeRecord(rec), pebble.Sync)
}

// Get returns the record for a cycle.
func (s *Store) Get(seq uint64) (Record, error) {
	val, closer, err := s.db.Get(keyFor(seq))
	if err != nil {
		return Record{}, err
	}
	defer closer.Close()

	return decodeRecord(val)
}

// MarkSent moves the entry to StateSent and counts the attempt.
func (s *Store) MarkSent(seq uint64) error {
	return s.transition(seq, StateSent)
}

// MarkAcked moves the entry to StateAcked.
func (s *Store) MarkAcked(seq uint64) error {
	return s.transition(seq, StateAcked)
}

// MarkFailed moves the entry back to StateFailed so it is retried.
func (s *Store) MarkFailed(seq uint64) error {
	return s.transition(seq, StateFailed)
}

func (s *Store) transition(seq uint64, state State) error {
	rec, err := s.Get(seq)
	if err != nil {
		return err
	}
	rec.State = state
	if state == StateSent {
		rec.Retries++
	}
	rec.LastAttempt = time.Now().UnixNano()
	return s.db.Set(keyFor(seq), encodeRecord(rec), pebble.Sync)
}

// Delete removes acknowledged records.
func (s *Store) Delete(seq uint64) error {
	return s.db.Delete(keyFor(seq), pebble.Sync)
}

// -------------------- Scan --------------------

// ScanPending iterates records still awaiting acknowledgement, in
// cycle order. New and failed entries both count as pending.
func (s *Store) ScanPending(fn func(seq uint64, rec Record) error) error {
	return s.scan(func(seq uint64, rec Record) error {
		if rec.State != StateNew && rec.State != StateFailed {
			return nil
		}
		return fn(seq, rec)
	})
}

// ScanByState iterates all records in the given state.
func (s *Store) ScanByState(state State, fn func(seq uint64, rec Record) error) error {
	return s.scan(func(seq uint64, rec Record) error {
		if rec.State != state {
			return nil
		}
		return fn(seq, rec)
	})
}

func (s *Store) scan(fn func(seq uint64, rec Record) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte("cycle/"),
		UpperBound: []byte("cycle/~"),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		rec, err := decodeRecord(iter.Value())
		if err != nil {
			return err
		}
		seq, err := parseKey(iter.Key())
		if err != nil {
			return err
		}
		if err := fn(seq, rec); err != nil {
			return err
		}
	}
	return iter.Error()
}

// -------------------- Helpers --------------------

func keyFor(seq uint64) []byte {
	return []byte(fmt.Sprintf("cycle/%020d", seq))
}

func parseKey(b []byte) (uint64, error) {
	var seq uint64
	_, err := fmt.Sscanf(string(bytes.TrimPrefix(b, []byte("cycle/"))), "%d", &seq)
	return seq, err
}
