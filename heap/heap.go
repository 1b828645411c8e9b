// Package heap implements a generational, concurrent, region-based
// memory manager: a size-classed region allocator with per-mutator
// caches, a copying young generation, a mark-compact old generation, a
// parallel work-stealing tracer with an insertion write barrier, and
// an adaptive collection trigger.
//
// The heap is an explicit context object owned by the embedding
// runtime; several independent heaps can coexist. Mutator threads
// participate through Mutator handles and must pass safepoint
// checkpoints for collection to make progress.
package heap

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"loam/infra/arena"
)

// Heap is one independent managed heap.
type Heap struct {
	cfg    Config
	table  *SizeClassTable
	arena  *arena.Arena
	gen    *generations
	sp     *safepointCoordinator
	layout Layout

	trigger  *TriggerPolicy
	metrics  Metrics
	overflow greyOverflow

	// markingActive gates the write barrier; allocColor is black while
	// concurrent marking runs so new objects are never swept.
	markingActive atomic.Bool
	allocColor    atomic.Uint32

	collectMu sync.Mutex

	rootsMu     sync.Mutex
	globalRoots []RootProvider

	hooksMu sync.Mutex
	hooks   []func(CycleStats)
}

// New builds a heap from the startup configuration.
func New(cfg Config) (*Heap, error) {
	cfg = cfg.withDefaults()
	table, err := newSizeClassTable(cfg.SizeClasses, cfg.LargeThreshold)
	if err != nil {
		return nil, err
	}
	for i := 0; i < table.NumClasses(); i++ {
		bs := table.BlockSize(SizeClass(i))
		if bs == 0 || bs%objectAlign != 0 {
			return nil, fmt.Errorf("heap: size class %d (%dB) not %d-byte aligned", i, bs, objectAlign)
		}
		if bs > cfg.RegionBytes {
			return nil, fmt.Errorf("heap: size class %dB exceeds region size %dB", bs, cfg.RegionBytes)
		}
	}
	a := arena.New(cfg.MaxHeapBytes, cfg.RegionBytes)
	h := &Heap{
		cfg:     cfg,
		table:   table,
		arena:   a,
		layout:  cfg.Layout,
		trigger: newTriggerPolicy(cfg.BaseThreshold, cfg.GrowthFactor),
		sp:      newSafepointCoordinator(cfg.SafepointStallTimeout),
	}
	h.gen = newGenerations(a, table, cfg)
	h.allocColor.Store(colorWhite)
	return h, nil
}

// RegisterMutator joins a mutator thread to the heap. roots enumerates
// the thread's live root slots at safepoints; nil means the thread
// holds no roots of its own.
func (h *Heap) RegisterMutator(roots RootProvider) *Mutator {
	return h.sp.register(h, roots)
}

// AddGlobalRoots registers a process-wide root provider (globals,
// statics).
func (h *Heap) AddGlobalRoots(fn RootProvider) {
	h.rootsMu.Lock()
	h.globalRoots = append(h.globalRoots, fn)
	h.rootsMu.Unlock()
}

// OnCycle registers a hook invoked after every finished collection
// cycle, outside the stop-the-world window.
func (h *Heap) OnCycle(fn func(CycleStats)) {
	h.hooksMu.Lock()
	h.hooks = append(h.hooks, fn)
	h.hooksMu.Unlock()
}

// OnSafepointStall installs the hook called when a safepoint request
// waits past the configured timeout. fn receives the wait so far and
// the number of mutators being waited on. Set before any cycle runs.
func (h *Heap) OnSafepointStall(fn func(waited time.Duration, mutators int)) {
	h.sp.onStall = fn
}

// Collect forces a collection cycle. It must be called from a
// non-mutator goroutine (or via Mutator.Collect), because every
// registered mutator has to reach a safepoint for the cycle to start.
func (h *Heap) Collect(kind CycleKind) CycleStats {
	return h.collect(nil, kind)
}

func (h *Heap) region(p Pointer) *Region {
	r := h.gen.regions.lookup(p.regionID())
	if r == nil {
		panic(fmt.Sprintf("heap: dangling pointer %#x", uint64(p)))
	}
	return r
}

// Header returns the metadata view of an object.
func (h *Heap) Header(p Pointer) ObjectHeader {
	r := h.region(p)
	slot := r.slotOf(p.offset())
	var c Color
	switch r.colors[slot].Load() {
	case colorGrey:
		c = Grey
	case colorBlack:
		c = Black
	default:
		c = White
	}
	return ObjectHeader{
		Mark:       c,
		Age:        r.ages[slot],
		Generation: r.generation,
		SizeClass:  r.class,
		Kind:       r.kinds[slot],
		Size:       r.sizes[slot],
	}
}

// Bytes returns the object's payload for non-reference data access.
// The slice is only valid until the owning mutator's next safepoint;
// relocation may move the object.
func (h *Heap) Bytes(p Pointer) []byte {
	r := h.region(p)
	slot := r.slotOf(p.offset())
	return r.data[p.offset() : p.offset()+r.sizes[slot]]
}

func (h *Heap) recordCycle(st CycleStats) {
	h.metrics.cycles.Add(1)
	if st.Kind == MinorCycle {
		h.metrics.minorCycles.Add(1)
	} else {
		h.metrics.majorCycles.Add(1)
	}
	h.metrics.pauseTotalNS.Add(uint64(st.Pause.Nanoseconds()))
	h.metrics.lastPauseNS.Store(uint64(st.Pause.Nanoseconds()))
	h.metrics.bytesPromoted.Add(st.BytesPromoted)
	h.metrics.bytesCopied.Add(st.BytesCopied)
	h.metrics.bytesReclaimed.Add(st.BytesReclaimed)

	h.hooksMu.Lock()
	hooks := append([]func(CycleStats){}, h.hooks...)
	h.hooksMu.Unlock()
	for _, fn := range hooks {
		fn(st)
	}
}

// RegionInfo is the read-only description of one region, for
// diagnostics (snapshots, debug API).
type RegionInfo struct {
	ID         uint32
	SizeClass  int32
	BlockSize  uint32
	Generation Generation
	State      string
	LiveBytes  uint64
	Capacity   uint64
}

// Regions returns a diagnostic dump of the current region table.
func (h *Heap) Regions() []RegionInfo {
	var out []RegionInfo
	dump := func(rs []*Region) {
		for _, r := range rs {
			out = append(out, RegionInfo{
				ID:         r.id,
				SizeClass:  int32(r.class),
				BlockSize:  r.blockSize,
				Generation: r.generation,
				State:      regionStateName(r.state.Load()),
				LiveBytes:  r.liveBytes(),
				Capacity:   uint64(r.capacity),
			})
		}
	}
	dump(h.gen.snapshotYoung())
	dump(h.gen.snapshotOld())
	return out
}

func regionStateName(s uint32) string {
	switch s {
	case regionActive:
		return "active"
	case regionRetired:
		return "retired"
	case regionScanning:
		return "scanning"
	default:
		return "free"
	}
}

// InUseBytes reports backing memory currently held from the arena.
func (h *Heap) InUseBytes() uint64 { return h.arena.InUse() }
