package service

import (
	"log"
	"time"

	"loam/heap"
	"loam/infra/census"
	"loam/infra/sequence"
	"loam/infra/trace"
)

/*
HeapService is the single observation point for a managed heap.

All coordination between:
- heap (collector, metrics)
- infra (trace, census, sequence)
- snapshot
happens here.
*/

type HeapService struct {
	heap   *heap.Heap
	trace  trace.Log
	store  *census.Store
	seqGen *sequence.Sequencer
}

// NewHeapService wires all dependencies and installs the cycle and
// stall hooks. The trace log and census store may be nil, in which
// case cycles are observed but not persisted.
func NewHeapService(
	h *heap.Heap,
	tr trace.Log,
	store *census.Store,
	seqGen *sequence.Sequencer,
) *HeapService {
	s := &HeapService{
		heap:   h,
		trace:  tr,
		store:  store,
		seqGen: seqGen,
	}

	h.OnCycle(s.recordCycle)
	h.OnSafepointStall(s.recordStall)
	return s
}

//
// ──────────────────────────────────────────────────────────
// Commands
// ──────────────────────────────────────────────────────────
//

// Collect forces a collection cycle of the given kind. It must be
// called from a goroutine that is not a registered mutator.
func (s *HeapService) Collect(kind heap.CycleKind) heap.CycleStats {
	stats := s.heap.Collect(kind)
	log.Printf("[service] forced %s cycle: pause=%v reclaimed=%d live=%d",
		kind, stats.Pause, stats.BytesReclaimed, stats.LiveBytes)
	return stats
}

//
// ──────────────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────────────
//

// Stats returns the heap's counter snapshot.
func (s *HeapService) Stats() heap.MetricsSnapshot {
	return s.heap.Metrics()
}

// Regions returns the diagnostic region dump.
func (s *HeapService) Regions() []heap.RegionInfo {
	return s.heap.Regions()
}

// Seq returns the last issued cycle sequence.
func (s *HeapService) Seq() uint64 {
	return s.seqGen.Current()
}

//
// ──────────────────────────────────────────────────────────
// Hooks
// ──────────────────────────────────────────────────────────
//

// recordCycle runs after every collection cycle, on the collector's
// goroutine. It assigns the cycle its sequence, appends the trace
// record, and stages the census entry for the broadcaster.
func (s *HeapService) recordCycle(stats heap.CycleStats) {
	seq := s.seqGen.Next()

	if s.trace != nil {
		ev := trace.CycleEvent{
			Kind:           uint32(stats.Kind),
			DurationNanos:  stats.Duration.Nanoseconds(),
			PauseNanos:     stats.Pause.Nanoseconds(),
			BytesPromoted:  stats.BytesPromoted,
			BytesCopied:    stats.BytesCopied,
			BytesReclaimed: stats.BytesReclaimed,
			LiveBytes:      stats.LiveBytes,
			Degraded:       stats.Degraded,
		}
		if err := s.trace.Append(trace.NewRecord(trace.RecordCycleEnd, ev.Encode())); err != nil {
			log.Printf("[service] trace append failed: %v", err)
		}
	}

	if s.store != nil {
		rec := census.Record{
			Kind:           uint8(stats.Kind),
			DurationNanos:  stats.Duration.Nanoseconds(),
			PauseNanos:     stats.Pause.Nanoseconds(),
			BytesPromoted:  stats.BytesPromoted,
			BytesCopied:    stats.BytesCopied,
			BytesReclaimed: stats.BytesReclaimed,
			LiveBytes:      stats.LiveBytes,
		}
		if err := s.store.Put(seq, rec); err != nil {
			log.Printf("[service] census put failed: %v", err)
		}
	}
}

func (s *HeapService) recordStall(waited time.Duration, mutators int) {
	if s.trace == nil {
		return
	}
	ev := trace.StallEvent{
		WaitedNanos: waited.Nanoseconds(),
		Mutators:    uint32(mutators),
	}
	if err := s.trace.Append(trace.NewRecord(trace.RecordStall, ev.Encode())); err != nil {
		log.Printf("[service] trace append failed: %v", err)
	}
}

// Close flushes and closes the persistence layers.
func (s *HeapService) Close() error {
	var first error
	if s.trace != nil {
		if err := s.trace.Close(); err != nil {
			first = err
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
