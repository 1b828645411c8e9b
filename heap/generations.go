package heap

import (
	"sync"
	"sync/atomic"

	"loam/infra/arena"
)

// regionTable maps region ids to regions with lock-free lookup on the
// hot path; growth copies the slice under the mutex.
type regionTable struct {
	mu sync.Mutex
	v  atomic.Pointer[[]*Region]
}

func (t *regionTable) lookup(id uint32) *Region {
	s := t.v.Load()
	if s == nil || id == 0 || int(id) > len(*s) {
		return nil
	}
	return (*s)[id-1]
}

func (t *regionTable) add(r *Region) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	old := t.v.Load()
	var next []*Region
	if old != nil {
		next = append(next, *old...)
	}
	next = append(next, r)
	t.v.Store(&next)
	return uint32(len(next))
}

func (t *regionTable) clear(id uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	old := t.v.Load()
	next := append([]*Region(nil), *old...)
	next[id-1] = nil
	t.v.Store(&next)
}

// generations owns the full region set, partitioned young/old, plus
// the free-region pool. Structural changes are guarded by mu; this is
// the only lock on the allocation slow path.
type generations struct {
	arena *arena.Arena
	table *SizeClassTable
	cfg   Config

	regions regionTable

	mu    sync.Mutex
	young []*Region
	old   []*Region
	free  []*Region
}

// freePoolCap bounds how many reset regions keep their extents before
// the extents go back to the arena ring.
const freePoolCap = 16

func newGenerations(a *arena.Arena, t *SizeClassTable, cfg Config) *generations {
	return &generations{arena: a, table: t, cfg: cfg}
}

// requestRegion hands out an active region of the given class and
// generation. The second return is false when the memory budget is
// exhausted; the caller escalates to collection.
func (g *generations) requestRegion(class SizeClass, gen Generation, owner int32) (*Region, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	blockSize := g.table.BlockSize(class)
	var r *Region
	if n := len(g.free); n > 0 {
		r = g.free[n-1]
		g.free = g.free[:n-1]
		if r.blockSize != blockSize {
			r.reclass(class, blockSize)
		}
		r.class = class
		r.generation = gen
	} else {
		data, err := g.arena.Acquire(g.cfg.RegionBytes)
		if err != nil {
			return nil, false
		}
		r = newRegion(0, class, blockSize, gen, data)
		r.id = g.regions.add(r)
	}
	r.generation = gen
	r.state.Store(regionActive)
	r.owner.Store(owner)
	g.attach(r, gen)
	return r, true
}

// allocateLarge serves a single-object region for allocations above
// the large threshold. Large regions never pass through caches.
func (g *generations) allocateLarge(size uint32, kind ObjectKind, gen Generation, color uint32) (Pointer, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	blockSize := alignUp(size, objectAlign)
	data, err := g.arena.Acquire(blockSize)
	if err != nil {
		return Nil, false
	}
	r := newRegion(0, classLarge, blockSize, gen, data)
	r.id = g.regions.add(r)
	r.state.Store(regionRetired) // never cached, immediately shared
	g.attach(r, gen)
	off, ok := r.allocate(size, kind, color)
	if !ok {
		return Nil, false
	}
	return makePointer(r.id, off), true
}

// retire hands a consumed region back to the shared pool. It keeps its
// live objects; only its bump space is spent.
func (g *generations) retire(r *Region) {
	r.owner.Store(ownerShared)
	r.state.Store(regionRetired)
}

// release resets a fully dead region and recycles its extent.
func (g *generations) release(r *Region) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.detach(r)
	r.reset()
	if r.class != classLarge && uint32(len(r.data)) == g.cfg.RegionBytes && len(g.free) < freePoolCap {
		g.free = append(g.free, r)
		return
	}
	g.regions.clear(r.id)
	g.arena.Release(r.data)
}

// promoteLargeRegion retags a surviving young single-object region as
// old. The object does not move, so no references need rewriting; its
// age resets and freezes.
func (g *generations) promoteLargeRegion(r *Region) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.detach(r)
	r.generation = Old
	r.ages[0] = 0
	r.colors[0].Store(colorWhite)
	g.old = append(g.old, r)
}

func (g *generations) attach(r *Region, gen Generation) {
	if gen == Young {
		g.young = append(g.young, r)
	} else {
		g.old = append(g.old, r)
	}
}

func (g *generations) detach(r *Region) {
	set := &g.young
	if r.generation == Old {
		set = &g.old
	}
	for i, x := range *set {
		if x == r {
			(*set)[i] = (*set)[len(*set)-1]
			*set = (*set)[:len(*set)-1]
			return
		}
	}
}

// snapshotYoung and snapshotOld copy the membership slices so the
// collector can walk them without holding the lock across the cycle.
func (g *generations) snapshotYoung() []*Region {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*Region(nil), g.young...)
}

func (g *generations) snapshotOld() []*Region {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*Region(nil), g.old...)
}

func (g *generations) occupancy(gen Generation) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	set := g.young
	if gen == Old {
		set = g.old
	}
	var live, capacity uint64
	for _, r := range set {
		live += r.liveBytes()
		capacity += uint64(r.capacity)
	}
	if capacity == 0 {
		return 0
	}
	return float64(live) / float64(capacity)
}

// usage is the total block-granular live byte count across the heap,
// the input to the trigger policy.
func (g *generations) usage() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	var live uint64
	for _, r := range g.young {
		live += r.liveBytes()
	}
	for _, r := range g.old {
		live += r.liveBytes()
	}
	return live
}

// reclass rebuilds a region's geometry for a new block size. Only ever
// called on a reset region pulled from the free pool.
func (r *Region) reclass(class SizeClass, blockSize uint32) {
	nslots := uint32(len(r.data)) / blockSize
	r.class = class
	r.blockSize = blockSize
	r.capacity = nslots * blockSize
	r.freeHead = -1
	r.freeNext = make([]int32, nslots)
	r.colors = make([]atomic.Uint32, nslots)
	r.ages = make([]uint8, nslots)
	r.kinds = make([]ObjectKind, nslots)
	r.sizes = make([]uint32, nslots)
	r.forward = make([]Pointer, nslots)
}
