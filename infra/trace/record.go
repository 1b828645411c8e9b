package trace

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// RecordType defines trace intent.
type RecordType uint32

const (
	RecordCycleBegin RecordType = 1
	RecordCycleEnd   RecordType = 2
	RecordPromote    RecordType = 3
	RecordOOM        RecordType = 4
	RecordStall      RecordType = 5
)

var ErrCorruptRecord = errors.New("trace: corrupted record")

// Record is an immutable trace entry. Data carries the event body,
// itself wire-format encoded per tracepb.proto.
type Record struct {
	Seq  uint64
	Time int64
	Type RecordType
	Data []byte
}

func NewRecord(t RecordType, data []byte) *Record {
	return &Record{
		Type: t,
		Time: time.Now().UnixNano(),
		Data: data,
	}
}

// EncodeRecord serializes a record into protobuf wire format.
func EncodeRecord(rec *Record) []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, 1, protowire.VarintType)
	buf = protowire.AppendVarint(buf, rec.Seq)
	buf = protowire.AppendTag(buf, 2, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(rec.Time))
	buf = protowire.AppendTag(buf, 3, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(rec.Type))
	if len(rec.Data) > 0 {
		buf = protowire.AppendTag(buf, 4, protowire.BytesType)
		buf = protowire.AppendBytes(buf, rec.Data)
	}
	return buf
}

// DecodeRecord parses a record from protobuf wire format.
func DecodeRecord(body []byte) (*Record, error) {
	rec := &Record{}
	for len(body) > 0 {
		num, typ, n := protowire.ConsumeTag(body)
		if n < 0 {
			return nil, fmt.Errorf("%w: bad tag", ErrCorruptRecord)
		}
		body = body[n:]
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(body)
			if n < 0 {
				return nil, fmt.Errorf("%w: seq", ErrCorruptRecord)
			}
			rec.Seq = v
			body = body[n:]
		case num == 2 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(body)
			if n < 0 {
				return nil, fmt.Errorf("%w: time", ErrCorruptRecord)
			}
			rec.Time = int64(v)
			body = body[n:]
		case num == 3 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(body)
			if n < 0 {
				return nil, fmt.Errorf("%w: type", ErrCorruptRecord)
			}
			rec.Type = RecordType(v)
			body = body[n:]
		case num == 4 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(body)
			if n < 0 {
				return nil, fmt.Errorf("%w: data", ErrCorruptRecord)
			}
			rec.Data = append([]byte(nil), v...)
			body = body[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, body)
			if n < 0 {
				return nil, fmt.Errorf("%w: field %d", ErrCorruptRecord, num)
			}
			body = body[n:]
		}
	}
	return rec, nil
}
