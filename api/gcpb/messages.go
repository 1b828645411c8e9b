package gcpb

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

var errMalformed = fmt.Errorf("gcpb: malformed message")

// -------------------- Stats --------------------

type StatsRequest struct{}

func (*StatsRequest) MarshalWire() []byte          { return nil }
func (*StatsRequest) UnmarshalWire(b []byte) error { return discardAll(b) }

type StatsResponse struct {
	Cycles      uint64
	MinorCycles uint64
	MajorCycles uint64

	PauseTotalNanos uint64
	LastPauseNanos  uint64

	BytesPromoted  uint64
	BytesCopied    uint64
	BytesReclaimed uint64

	SafepointStalls uint64

	LiveBytes      uint64
	YoungOccupancy float64
	OldOccupancy   float64
}

func (m *StatsResponse) MarshalWire() []byte {
	var b []byte
	b = appendVarint(b, 1, m.Cycles)
	b = appendVarint(b, 2, m.MinorCycles)
	b = appendVarint(b, 3, m.MajorCycles)
	b = appendVarint(b, 4, m.PauseTotalNanos)
	b = appendVarint(b, 5, m.LastPauseNanos)
	b = appendVarint(b, 6, m.BytesPromoted)
	b = appendVarint(b, 7, m.BytesCopied)
	b = appendVarint(b, 8, m.BytesReclaimed)
	b = appendVarint(b, 9, m.SafepointStalls)
	b = appendVarint(b, 10, m.LiveBytes)
	b = appendDouble(b, 11, m.YoungOccupancy)
	b = appendDouble(b, 12, m.OldOccupancy)
	return b
}

func (m *StatsResponse) UnmarshalWire(b []byte) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v uint64, _ []byte) {
		switch num {
		case 1:
			m.Cycles = v
		case 2:
			m.MinorCycles = v
		case 3:
			m.MajorCycles = v
		case 4:
			m.PauseTotalNanos = v
		case 5:
			m.LastPauseNanos = v
		case 6:
			m.BytesPromoted = v
		case 7:
			m.BytesCopied = v
		case 8:
			m.BytesReclaimed = v
		case 9:
			m.SafepointStalls = v
		case 10:
			m.LiveBytes = v
		case 11:
			m.YoungOccupancy = math.Float64frombits(v)
		case 12:
			m.OldOccupancy = math.Float64frombits(v)
		}
	})
}

// -------------------- Collect --------------------

type CollectRequest struct {
	// Kind selects the cycle: 0 minor, 1 major, 2 full.
	Kind uint32
}

func (m *CollectRequest) MarshalWire() []byte {
	var b []byte
	b = appendVarint(b, 1, uint64(m.Kind))
	return b
}

func (m *CollectRequest) UnmarshalWire(b []byte) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v uint64, _ []byte) {
		if num == 1 {
			m.Kind = uint32(v)
		}
	})
}

type CollectResponse struct {
	Kind           uint32
	DurationNanos  int64
	PauseNanos     int64
	BytesPromoted  uint64
	BytesCopied    uint64
	BytesReclaimed uint64
	LiveBytes      uint64
	Degraded       bool
}

func (m *CollectResponse) MarshalWire() []byte {
	var b []byte
	b = appendVarint(b, 1, uint64(m.Kind))
	b = appendVarint(b, 2, uint64(m.DurationNanos))
	b = appendVarint(b, 3, uint64(m.PauseNanos))
	b = appendVarint(b, 4, m.BytesPromoted)
	b = appendVarint(b, 5, m.BytesCopied)
	b = appendVarint(b, 6, m.BytesReclaimed)
	b = appendVarint(b, 7, m.LiveBytes)
	if m.Degraded {
		b = appendVarint(b, 8, 1)
	}
	return b
}

func (m *CollectResponse) UnmarshalWire(b []byte) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v uint64, _ []byte) {
		switch num {
		case 1:
			m.Kind = uint32(v)
		case 2:
			m.DurationNanos = int64(v)
		case 3:
			m.PauseNanos = int64(v)
		case 4:
			m.BytesPromoted = v
		case 5:
			m.BytesCopied = v
		case 6:
			m.BytesReclaimed = v
		case 7:
			m.LiveBytes = v
		case 8:
			m.Degraded = v != 0
		}
	})
}

// -------------------- Regions --------------------

type RegionsRequest struct{}

func (*RegionsRequest) MarshalWire() []byte          { return nil }
func (*RegionsRequest) UnmarshalWire(b []byte) error { return discardAll(b) }

type RegionInfo struct {
	Id         uint32
	SizeClass  int32
	BlockSize  uint32
	Generation uint32
	State      string
	LiveBytes  uint64
	Capacity   uint64
}

func (m *RegionInfo) MarshalWire() []byte {
	var b []byte
	b = appendVarint(b, 1, uint64(m.Id))
	b = appendVarint(b, 2, uint64(int64(m.SizeClass)))
	b = appendVarint(b, 3, uint64(m.BlockSize))
	b = appendVarint(b, 4, uint64(m.Generation))
	if m.State != "" {
		b = protowire.AppendTag(b, 5, protowire.BytesType)
		b = protowire.AppendString(b, m.State)
	}
	b = appendVarint(b, 6, m.LiveBytes)
	b = appendVarint(b, 7, m.Capacity)
	return b
}

func (m *RegionInfo) UnmarshalWire(b []byte) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v uint64, raw []byte) {
		switch num {
		case 1:
			m.Id = uint32(v)
		case 2:
			m.SizeClass = int32(int64(v))
		case 3:
			m.BlockSize = uint32(v)
		case 4:
			m.Generation = uint32(v)
		case 5:
			m.State = string(raw)
		case 6:
			m.LiveBytes = v
		case 7:
			m.Capacity = v
		}
	})
}

type RegionsResponse struct {
	Regions []*RegionInfo
}

func (m *RegionsResponse) MarshalWire() []byte {
	var b []byte
	for _, r := range m.Regions {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, r.MarshalWire())
	}
	return b
}

func (m *RegionsResponse) UnmarshalWire(b []byte) error {
	var inner error
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, _ uint64, raw []byte) {
		if num != 1 || typ != protowire.BytesType || inner != nil {
			return
		}
		r := &RegionInfo{}
		if err := r.UnmarshalWire(raw); err != nil {
			inner = err
			return
		}
		m.Regions = append(m.Regions, r)
	})
	if err != nil {
		return err
	}
	return inner
}

// -------------------- Helpers --------------------

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

// walkFields visits each field, passing the numeric value for varint
// and fixed64 fields and the raw bytes for length-delimited ones.
func walkFields(b []byte, fn func(protowire.Number, protowire.Type, uint64, []byte)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return errMalformed
		}
		b = b[n:]
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return errMalformed
			}
			fn(num, typ, v, nil)
			b = b[n:]
		case protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return errMalformed
			}
			fn(num, typ, v, nil)
			b = b[n:]
		case protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return errMalformed
			}
			fn(num, typ, 0, raw)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return errMalformed
			}
			b = b[n:]
		}
	}
	return nil
}

func discardAll(b []byte) error {
	return walkFields(b, func(protowire.Number, protowire.Type, uint64, []byte) {})
}
