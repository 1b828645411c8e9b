package heap

import "sync/atomic"

// Metrics are the read-only observability counters. All fields are
// updated with atomics so reads never block a cycle.
type Metrics struct {
	cycles      atomic.Uint64
	minorCycles atomic.Uint64
	majorCycles atomic.Uint64

	pauseTotalNS atomic.Uint64
	lastPauseNS  atomic.Uint64

	bytesPromoted  atomic.Uint64
	bytesCopied    atomic.Uint64
	bytesReclaimed atomic.Uint64

	safepointStalls atomic.Uint64
}

// MetricsSnapshot is a point-in-time copy of the counters plus the
// derived occupancy ratios.
type MetricsSnapshot struct {
	Cycles      uint64
	MinorCycles uint64
	MajorCycles uint64

	PauseTotalNS uint64
	LastPauseNS  uint64

	BytesPromoted  uint64
	BytesCopied    uint64
	BytesReclaimed uint64

	SafepointStalls uint64

	LiveBytes      uint64
	YoungOccupancy float64
	OldOccupancy   float64
}

// Metrics returns a snapshot of the heap's counters.
func (h *Heap) Metrics() MetricsSnapshot {
	return MetricsSnapshot{
		Cycles:          h.metrics.cycles.Load(),
		MinorCycles:     h.metrics.minorCycles.Load(),
		MajorCycles:     h.metrics.majorCycles.Load(),
		PauseTotalNS:    h.metrics.pauseTotalNS.Load(),
		LastPauseNS:     h.metrics.lastPauseNS.Load(),
		BytesPromoted:   h.metrics.bytesPromoted.Load(),
		BytesCopied:     h.metrics.bytesCopied.Load(),
		BytesReclaimed:  h.metrics.bytesReclaimed.Load(),
		SafepointStalls: h.sp.stalls.Load(),
		LiveBytes:       h.gen.usage(),
		YoungOccupancy:  h.gen.occupancy(Young),
		OldOccupancy:    h.gen.occupancy(Old),
	}
}
