package trace

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// CycleEvent is the body of RecordCycleBegin and RecordCycleEnd
// records. Begin records carry only Kind; end records carry the full
// accounting.
type CycleEvent struct {
	Kind           uint32
	DurationNanos  int64
	PauseNanos     int64
	BytesPromoted  uint64
	BytesCopied    uint64
	BytesReclaimed uint64
	LiveBytes      uint64
	Degraded       bool
}

func (e *CycleEvent) Encode() []byte {
	var buf []byte
	buf = appendVarintField(buf, 1, uint64(e.Kind))
	buf = appendVarintField(buf, 2, uint64(e.DurationNanos))
	buf = appendVarintField(buf, 3, uint64(e.PauseNanos))
	buf = appendVarintField(buf, 4, e.BytesPromoted)
	buf = appendVarintField(buf, 5, e.BytesCopied)
	buf = appendVarintField(buf, 6, e.BytesReclaimed)
	buf = appendVarintField(buf, 7, e.LiveBytes)
	if e.Degraded {
		buf = appendVarintField(buf, 8, 1)
	}
	return buf
}

func (e *CycleEvent) Decode(body []byte) error {
	return eachVarintField(body, func(num protowire.Number, v uint64) {
		switch num {
		case 1:
			e.Kind = uint32(v)
		case 2:
			e.DurationNanos = int64(v)
		case 3:
			e.PauseNanos = int64(v)
		case 4:
			e.BytesPromoted = v
		case 5:
			e.BytesCopied = v
		case 6:
			e.BytesReclaimed = v
		case 7:
			e.LiveBytes = v
		case 8:
			e.Degraded = v != 0
		}
	})
}

// OOMEvent is the body of a RecordOOM record.
type OOMEvent struct {
	RequestBytes uint64
	LiveBytes    uint64
	BudgetBytes  uint64
}

func (e *OOMEvent) Encode() []byte {
	var buf []byte
	buf = appendVarintField(buf, 1, e.RequestBytes)
	buf = appendVarintField(buf, 2, e.LiveBytes)
	buf = appendVarintField(buf, 3, e.BudgetBytes)
	return buf
}

func (e *OOMEvent) Decode(body []byte) error {
	return eachVarintField(body, func(num protowire.Number, v uint64) {
		switch num {
		case 1:
			e.RequestBytes = v
		case 2:
			e.LiveBytes = v
		case 3:
			e.BudgetBytes = v
		}
	})
}

// StallEvent is the body of a RecordStall record, written when a
// safepoint request waits past its timeout.
type StallEvent struct {
	WaitedNanos int64
	Mutators    uint32
}

func (e *StallEvent) Encode() []byte {
	var buf []byte
	buf = appendVarintField(buf, 1, uint64(e.WaitedNanos))
	buf = appendVarintField(buf, 2, uint64(e.Mutators))
	return buf
}

func (e *StallEvent) Decode(body []byte) error {
	return eachVarintField(body, func(num protowire.Number, v uint64) {
		switch num {
		case 1:
			e.WaitedNanos = int64(v)
		case 2:
			e.Mutators = uint32(v)
		}
	})
}

func appendVarintField(buf []byte, num protowire.Number, v uint64) []byte {
	buf = protowire.AppendTag(buf, num, protowire.VarintType)
	return protowire.AppendVarint(buf, v)
}

func eachVarintField(body []byte, fn func(protowire.Number, uint64)) error {
	for len(body) > 0 {
		num, typ, n := protowire.ConsumeTag(body)
		if n < 0 {
			return fmt.Errorf("%w: bad tag", ErrCorruptRecord)
		}
		body = body[n:]
		if typ != protowire.VarintType {
			n := protowire.ConsumeFieldValue(num, typ, body)
			if n < 0 {
				return fmt.Errorf("%w: field %d", ErrCorruptRecord, num)
			}
			body = body[n:]
			continue
		}
		v, n := protowire.ConsumeVarint(body)
		if n < 0 {
			return fmt.Errorf("%w: field %d", ErrCorruptRecord, num)
		}
		fn(num, v)
		body = body[n:]
	}
	return nil
}
