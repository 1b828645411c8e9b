package heap

// threadLocalCache holds one active region per size class, owned
// exclusively by one mutator. The fast path touches no locks; only the
// refill path contends on the shared region lock.
type threadLocalCache struct {
	owner  int32
	active []*Region
}

func newThreadLocalCache(owner int32, classes int) *threadLocalCache {
	return &threadLocalCache{owner: owner, active: make([]*Region, classes)}
}

// flush retires every active region back to the shared pool.
// Collector-only, at a safepoint.
func (c *threadLocalCache) flush(g *generations) {
	for i, r := range c.active {
		if r != nil {
			g.retire(r)
			c.active[i] = nil
		}
	}
}

// Mutator is the per-thread handle into the heap. One goroutine owns
// it; the collector touches its cache only while the mutator is parked
// at a safepoint.
type Mutator struct {
	id    int32
	heap  *Heap
	cache *threadLocalCache
	roots RootProvider

	// inNative marks a foreign call that promises not to touch the
	// heap; the safepoint coordinator counts it as parked. Guarded by
	// the coordinator's mutex.
	inNative bool
}

// Allocate returns a pointer to size zeroed bytes tagged with kind.
// It may run a collection cycle internally; ErrOutOfMemory means the
// full escalation chain could not free enough space.
func (m *Mutator) Allocate(size uint32, kind ObjectKind) (Pointer, error) {
	// Allocation entry is a safepoint checkpoint; an allocation never
	// suspends once it has started.
	m.Safepoint()

	h := m.heap
	sc, rounded, err := h.table.Lookup(size)
	if err != nil {
		return Nil, err
	}
	if sc == classLarge {
		return m.allocateLarge(rounded, kind)
	}

	c := m.cache
	if r := c.active[sc]; r != nil {
		if off, ok := r.allocate(size, kind, h.allocColor.Load()); ok {
			return makePointer(r.id, off), nil
		}
		// Exhausted: retire and fall through to a refill. Retirement
		// is the trigger policy's evaluation point.
		h.gen.retire(r)
		c.active[sc] = nil
		h.maybeCollect(m)
	}

	for attempt := 0; ; attempt++ {
		r, ok := h.gen.requestRegion(sc, Young, m.id)
		if ok {
			c.active[sc] = r
			if off, ok := r.allocate(size, kind, h.allocColor.Load()); ok {
				return makePointer(r.id, off), nil
			}
			// A fresh region that cannot fit one block is a
			// configuration bug.
			panic("heap: region smaller than one block")
		}
		if !h.collectForAlloc(m, attempt) {
			return Nil, ErrOutOfMemory
		}
	}
}

func (m *Mutator) allocateLarge(size uint32, kind ObjectKind) (Pointer, error) {
	h := m.heap
	for attempt := 0; ; attempt++ {
		p, ok := h.gen.allocateLarge(size, kind, Young, h.allocColor.Load())
		if ok {
			return p, nil
		}
		if !h.collectForAlloc(m, attempt) {
			return Nil, ErrOutOfMemory
		}
	}
}

// Safepoint is the cooperative checkpoint. Mutator code must call it
// at loop back-edges and function entries; a mutator that never does
// stalls collection (a liveness hazard, not a crash).
func (m *Mutator) Safepoint() {
	sp := m.heap.sp
	if sp.flag.Load() {
		sp.park(m)
	}
}

// EnterNative marks the start of a foreign call during which this
// mutator will not touch the heap. The collector treats it as parked.
func (m *Mutator) EnterNative() { m.heap.sp.enterNative(m) }

// LeaveNative re-enters managed code, blocking if a safepoint is
// active.
func (m *Mutator) LeaveNative() { m.heap.sp.leaveNative(m) }

// Deregister ends this mutator's participation. Its active regions are
// retired to the shared pool; their live objects survive.
func (m *Mutator) Deregister() {
	m.heap.sp.deregister(m)
}

// Collect forces a collection cycle from mutator context.
func (m *Mutator) Collect(kind CycleKind) CycleStats {
	return m.heap.collect(m, kind)
}
