package heap

import (
	"sync"
	"sync/atomic"
)

// Region states.
const (
	regionFree uint32 = iota
	regionActive
	regionRetired
	regionScanning
)

const (
	ownerShared int32 = -1
)

// Region is a contiguous extent dedicated to one size class and one
// generation. All blocks in a region are the same size, so the free
// list is O(1) first-fit by construction. Only the owning mutator
// allocates from an active region; the collector touches regions only
// at safepoints or after the compaction barrier.
type Region struct {
	id         uint32
	class      SizeClass
	blockSize  uint32
	capacity   uint32
	generation Generation

	state atomic.Uint32
	owner atomic.Int32

	data []byte

	// cursor is the bump pointer; valid while the region is open for
	// bump allocation. Owner-only, no synchronization.
	cursor uint32

	// freeHead/freeNext form an intrusive free list of reclaimed
	// slots. -1 terminates.
	freeHead int32
	freeNext []int32

	// slot-indexed side metadata; colors are atomic because concurrent
	// marking races them against mutator loads.
	colors  []atomic.Uint32
	ages    []uint8
	kinds   []ObjectKind
	sizes   []uint32 // requested size; 0 marks a dead slot
	forward []Pointer

	// allocated counts live blocks, maintained by allocate/reclaim.
	allocated atomic.Uint32

	// remembered logs old-generation objects in this region that may
	// hold references into the young generation.
	remMu      sync.Mutex
	remembered []Pointer
}

func newRegion(id uint32, class SizeClass, blockSize uint32, gen Generation, data []byte) *Region {
	nslots := uint32(len(data)) / blockSize
	r := &Region{
		id:         id,
		class:      class,
		blockSize:  blockSize,
		capacity:   nslots * blockSize,
		generation: gen,
		data:       data,
		freeHead:   -1,
		freeNext:   make([]int32, nslots),
		colors:     make([]atomic.Uint32, nslots),
		ages:       make([]uint8, nslots),
		kinds:      make([]ObjectKind, nslots),
		sizes:      make([]uint32, nslots),
		forward:    make([]Pointer, nslots),
	}
	r.state.Store(regionFree)
	r.owner.Store(ownerShared)
	return r
}

func (r *Region) slots() uint32 { return uint32(len(r.sizes)) }

func (r *Region) slotOf(off uint32) uint32 { return off / r.blockSize }

// allocate carves one block for a size-byte object. It returns the
// payload offset and false when the region is exhausted; exhaustion is
// a signal, not an error.
func (r *Region) allocate(size uint32, kind ObjectKind, color uint32) (uint32, bool) {
	var off uint32
	switch {
	case r.cursor+r.blockSize <= r.capacity:
		off = r.cursor
		r.cursor += r.blockSize
	case r.freeHead >= 0:
		slot := uint32(r.freeHead)
		r.freeHead = r.freeNext[slot]
		off = slot * r.blockSize
	default:
		return 0, false
	}
	slot := r.slotOf(off)
	r.sizes[slot] = size
	r.kinds[slot] = kind
	r.ages[slot] = 0
	r.colors[slot].Store(color)
	r.allocated.Add(1)
	return off, true
}

// reclaim returns one block to the free list. Collector-only, during
// sweep.
func (r *Region) reclaim(off uint32) {
	slot := r.slotOf(off)
	if r.sizes[slot] == 0 {
		return
	}
	r.sizes[slot] = 0
	r.kinds[slot] = 0
	r.ages[slot] = 0
	r.colors[slot].Store(colorWhite)
	r.freeNext[slot] = r.freeHead
	r.freeHead = int32(slot)
	r.allocated.Add(^uint32(0))
}

// reset wipes the region wholesale so its extent can be reused, possibly
// under a different class or generation. Idempotent on a free region.
func (r *Region) reset() {
	r.cursor = 0
	r.freeHead = -1
	for i := range r.sizes {
		r.sizes[i] = 0
		r.kinds[i] = 0
		r.ages[i] = 0
		r.freeNext[i] = 0
		r.forward[i] = Nil
		r.colors[i].Store(colorWhite)
	}
	r.allocated.Store(0)
	r.remMu.Lock()
	r.remembered = r.remembered[:0]
	r.remMu.Unlock()
	r.owner.Store(ownerShared)
	r.state.Store(regionFree)
}

// liveBytes is the block-granular occupancy of the region.
func (r *Region) liveBytes() uint64 {
	return uint64(r.allocated.Load()) * uint64(r.blockSize)
}

// compact slides live (black) blocks toward the region start,
// recording forwarding entries keyed by the original slot. Metadata
// moves with the payload; the forwarding table is left intact for the
// fixup pass and cleared by the caller afterwards. World stopped.
func (r *Region) compact() {
	n := r.slots()
	var dst uint32
	for slot := uint32(0); slot < n; slot++ {
		if r.sizes[slot] == 0 || r.colors[slot].Load() != colorBlack {
			continue
		}
		r.forward[slot] = makePointer(r.id, dst*r.blockSize)
		if dst != slot {
			copy(r.data[dst*r.blockSize:(dst+1)*r.blockSize],
				r.data[slot*r.blockSize:(slot+1)*r.blockSize])
			r.sizes[dst] = r.sizes[slot]
			r.kinds[dst] = r.kinds[slot]
			r.ages[dst] = r.ages[slot]
			r.colors[dst].Store(colorBlack)
		}
		dst++
	}
	for slot := dst; slot < n; slot++ {
		r.sizes[slot] = 0
		r.kinds[slot] = 0
		r.ages[slot] = 0
		r.freeNext[slot] = 0
		r.colors[slot].Store(colorWhite)
	}
	r.cursor = dst * r.blockSize
	r.freeHead = -1
	r.allocated.Store(dst)
}

// rememberObject logs ptr as a possible old-to-young referrer.
// Best-effort deduplication; duplicates only cost rescans.
func (r *Region) rememberObject(ptr Pointer) {
	r.remMu.Lock()
	n := len(r.remembered)
	if n == 0 || r.remembered[n-1] != ptr {
		r.remembered = append(r.remembered, ptr)
	}
	r.remMu.Unlock()
}

func (r *Region) takeRemembered() []Pointer {
	r.remMu.Lock()
	out := r.remembered
	r.remembered = nil
	r.remMu.Unlock()
	return out
}
