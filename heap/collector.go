package heap

import (
	"fmt"
	"runtime"
	"time"
)

// CycleKind selects the collection flavor.
type CycleKind uint8

const (
	// MinorCycle copies the young generation, stop-the-world.
	MinorCycle CycleKind = iota
	// MajorCycle mark-compacts the old generation with marking running
	// concurrently with mutators.
	MajorCycle
	// FullCycle is a major cycle with no concurrent phase, the last
	// escalation step before OutOfMemory.
	FullCycle
)

func (k CycleKind) String() string {
	switch k {
	case MinorCycle:
		return "minor"
	case MajorCycle:
		return "major"
	default:
		return "full"
	}
}

// CycleStats describes one finished collection cycle.
type CycleStats struct {
	Kind     CycleKind
	Started  time.Time
	Duration time.Duration
	Pause    time.Duration

	BytesPromoted  uint64
	BytesCopied    uint64
	BytesReclaimed uint64
	LiveBytes      uint64
	YoungOccupancy float64
	OldOccupancy   float64

	// Degraded reports that the minor pause budget was exceeded and
	// the cycle fell back to partial promotion.
	Degraded bool
}

// collect runs one cycle. Only one cycle runs at a time; a mutator
// racing to start one instead parks at the safepoint the winner
// raises, then returns once the winner's cycle has freed space.
func (h *Heap) collect(initiator *Mutator, kind CycleKind) CycleStats {
	for !h.collectMu.TryLock() {
		if initiator != nil {
			initiator.Safepoint()
		}
		runtime.Gosched()
	}
	defer h.collectMu.Unlock()

	var st CycleStats
	switch kind {
	case MinorCycle:
		st = h.minorCycle(initiator)
	case MajorCycle:
		st = h.majorCycle(initiator, true)
	default:
		st = h.majorCycle(initiator, false)
	}
	h.trigger.observeCycle(st.LiveBytes)
	h.recordCycle(st)
	return st
}

// maybeCollect is the trigger policy's evaluation point, called after
// a region retirement on the allocation slow path.
func (h *Heap) maybeCollect(m *Mutator) {
	if !h.trigger.ShouldCollect(h.gen.usage(), h.cfg.MaxHeapBytes) {
		return
	}
	kind := MinorCycle
	if h.gen.occupancy(Old) > h.cfg.BaseThreshold {
		kind = MajorCycle
	}
	h.collect(m, kind)
}

// collectForAlloc escalates minor -> major -> full on behalf of a
// starved allocation. Returns false once escalation is exhausted and
// the caller must surface OutOfMemory.
func (h *Heap) collectForAlloc(m *Mutator, attempt int) bool {
	switch attempt {
	case 0:
		h.collect(m, MinorCycle)
	case 1:
		h.collect(m, MajorCycle)
	case 2:
		h.collect(m, FullCycle)
	default:
		return false
	}
	return true
}

// ---------------- Minor cycle ---------------- //

func (h *Heap) minorCycle(initiator *Mutator) CycleStats {
	start := time.Now()
	st := CycleStats{Kind: MinorCycle, Started: start}

	h.sp.request(initiator)
	defer h.sp.resume()

	// With the world stopped the collector owns every cache; flushing
	// moves all young regions to the shared pool so from-space is
	// complete.
	h.sp.each(func(m *Mutator) { m.cache.flush(h.gen) })

	fromSpace := h.gen.snapshotYoung()
	liveBefore := h.gen.usage()
	roots := h.collectRoots(scopeYoung)

	mk := newMarker(h, scopeYoung, h.cfg.GCWorkers)
	mk.seed(roots.seeds(h))
	mk.run()

	if h.cfg.VerifyInvariants {
		h.verifyMarking(scopeYoung)
	}

	// Relocate survivors: copy within young, or promote past the age
	// threshold. Past the pause budget the cycle degrades to partial
	// promotion rather than retrying.
	ev := &evacuator{
		h:         h,
		destYoung: make(map[SizeClass]*Region),
		destOld:   make(map[SizeClass]*Region),
	}
	deadline := start.Add(h.cfg.MaxPauseTarget)
	var survivors, largeSurvivors []Pointer
	pinned := make(map[*Region]bool)

	for _, r := range fromSpace {
		if r.class == classLarge {
			if p, ok := h.relocateLarge(r, &st, deadline); ok {
				largeSurvivors = append(largeSurvivors, p)
			}
			continue
		}
		for slot := uint32(0); slot < r.slots(); slot++ {
			if r.sizes[slot] == 0 || r.colors[slot].Load() != colorBlack {
				continue
			}
			if !st.Degraded && time.Now().After(deadline) {
				st.Degraded = true
			}
			age := r.ages[slot] + 1
			if age > maxAge {
				age = maxAge
			}
			gen, destAge := Young, age
			if age >= h.cfg.PromotionThreshold && !st.Degraded {
				gen, destAge = Old, 0
			}
			dst, ok := ev.alloc(gen, r.class, r.sizes[slot], r.kinds[slot], destAge)
			if !ok {
				// To-space exhausted. The object survives in place and
				// its region is swept slot-wise instead of released;
				// OutOfMemory is surfaced by the allocator after
				// escalation, never from inside a cycle.
				st.Degraded = true
				r.ages[slot] = age
				pinned[r] = true
				survivors = append(survivors, makePointer(r.id, slot*r.blockSize))
				continue
			}
			off := slot * r.blockSize
			dr := h.region(dst)
			copy(dr.data[dst.offset():dst.offset()+r.blockSize], r.data[off:off+r.blockSize])
			r.forward[slot] = dst
			r.colors[slot].Store(colorForwarded)
			if gen == Old {
				st.BytesPromoted += uint64(r.sizes[slot])
			} else {
				st.BytesCopied += uint64(r.sizes[slot])
			}
			survivors = append(survivors, dst)
		}
	}

	// Reference fixup: roots, the copied survivors' own fields, and
	// the remembered old objects that fed the root set.
	for _, slot := range roots.slots {
		*slot = h.translate(*slot)
	}
	for _, p := range survivors {
		h.fixupObject(p)
	}
	for _, p := range largeSurvivors {
		h.fixupObject(p)
	}
	for _, p := range roots.remembered {
		h.fixupObject(p)
	}

	// Sweep: from-space regions are reset wholesale, O(live) not
	// O(heap). Promoted large regions already left the young set, and
	// pinned regions still hold in-place survivors, so those are swept
	// slot by slot instead.
	for _, r := range fromSpace {
		if r.generation == Old {
			continue
		}
		if r.class == classLarge && r.sizes[0] != 0 && r.colors[0].Load() == colorBlack {
			r.colors[0].Store(colorWhite)
			continue
		}
		if pinned[r] {
			for slot := uint32(0); slot < r.slots(); slot++ {
				r.forward[slot] = Nil
				if r.sizes[slot] == 0 {
					continue
				}
				if r.colors[slot].Load() == colorBlack {
					r.colors[slot].Store(colorWhite)
				} else {
					r.reclaim(slot * r.blockSize)
				}
			}
			continue
		}
		h.gen.release(r)
	}
	ev.finish()

	st.LiveBytes = h.gen.usage()
	if liveBefore > st.LiveBytes {
		st.BytesReclaimed = liveBefore - st.LiveBytes
	}
	st.YoungOccupancy = h.gen.occupancy(Young)
	st.OldOccupancy = h.gen.occupancy(Old)
	st.Pause = time.Since(start)
	st.Duration = st.Pause
	return st
}

// relocateLarge handles a young single-object region: promotion is a
// retag, survival is an age bump, death is handled by the sweep.
func (h *Heap) relocateLarge(r *Region, st *CycleStats, deadline time.Time) (Pointer, bool) {
	if r.sizes[0] == 0 || r.colors[0].Load() != colorBlack {
		return Nil, false
	}
	if !st.Degraded && time.Now().After(deadline) {
		st.Degraded = true
	}
	age := r.ages[0] + 1
	if age > maxAge {
		age = maxAge
	}
	if age >= h.cfg.PromotionThreshold && !st.Degraded {
		h.gen.promoteLargeRegion(r)
		st.BytesPromoted += uint64(r.sizes[0])
	} else {
		r.ages[0] = age
	}
	return makePointer(r.id, 0), true
}

// ---------------- Major cycle ---------------- //

func (h *Heap) majorCycle(initiator *Mutator, concurrent bool) CycleStats {
	start := time.Now()
	st := CycleStats{Kind: MajorCycle, Started: start}
	if !concurrent {
		st.Kind = FullCycle
	}

	h.sp.request(initiator)
	liveBefore := h.gen.usage()

	roots := h.collectRoots(scopeFull)
	mk := newMarker(h, scopeFull, h.cfg.GCWorkers)
	h.markingActive.Store(true)
	h.allocColor.Store(colorBlack)
	mk.seed(roots.seeds(h))

	var pause time.Duration
	if concurrent {
		pause = time.Since(start)
		h.sp.resume()
	}

	mk.run()

	var stwStart time.Time
	if concurrent {
		stwStart = time.Now()
		h.sp.request(initiator)
	}
	defer h.sp.resume()

	// Mark termination: the barrier covers heap stores but not root
	// stores, so roots are re-scanned before the final drain.
	roots = h.collectRoots(scopeFull)
	mk.seed(roots.seeds(h))
	mk.drainSTW()

	h.markingActive.Store(false)
	h.allocColor.Store(colorWhite)

	if h.cfg.VerifyInvariants {
		h.verifyMarking(scopeFull)
	}

	// Compact old regions in place; forwarding entries survive until
	// the fixup pass is done.
	oldRegions := h.gen.snapshotOld()
	for _, r := range oldRegions {
		if r.class != classLarge {
			r.compact()
		}
	}

	// The remembered sets are rebuilt from scratch by the fixup pass:
	// pre-cycle entries may name objects that died this cycle or
	// pre-compaction addresses, so they are drained and discarded.
	for _, r := range oldRegions {
		r.takeRemembered()
	}
	for _, slot := range roots.slots {
		*slot = h.translate(*slot)
	}
	h.forEachLive(func(p Pointer) { h.fixupObject(p) })
	for _, r := range oldRegions {
		for i := range r.forward {
			r.forward[i] = Nil
		}
	}

	// Sweep young by free list, release fully dead regions, release
	// dead large regions, and whiten everything for the next cycle.
	h.majorSweep(oldRegions)

	st.LiveBytes = h.gen.usage()
	if liveBefore > st.LiveBytes {
		st.BytesReclaimed = liveBefore - st.LiveBytes
	}
	st.YoungOccupancy = h.gen.occupancy(Young)
	st.OldOccupancy = h.gen.occupancy(Old)
	st.Duration = time.Since(start)
	if concurrent {
		st.Pause = pause + time.Since(stwStart)
	} else {
		st.Pause = st.Duration
	}
	return st
}

func (h *Heap) majorSweep(oldRegions []*Region) {
	for _, r := range h.gen.snapshotYoung() {
		if r.class == classLarge {
			if r.sizes[0] == 0 || r.colors[0].Load() != colorBlack {
				h.gen.release(r)
			} else {
				r.colors[0].Store(colorWhite)
			}
			continue
		}
		for slot := uint32(0); slot < r.slots(); slot++ {
			if r.sizes[slot] == 0 {
				continue
			}
			if r.colors[slot].Load() == colorBlack {
				r.colors[slot].Store(colorWhite)
			} else {
				r.reclaim(slot * r.blockSize)
			}
		}
		if r.allocated.Load() == 0 && r.state.Load() == regionRetired {
			h.gen.release(r)
		}
	}
	for _, r := range oldRegions {
		if r.class == classLarge {
			if r.sizes[0] == 0 || r.colors[0].Load() != colorBlack {
				h.gen.release(r)
			} else {
				r.colors[0].Store(colorWhite)
			}
			continue
		}
		// compact already whitened the tail; whiten the survivors
		for slot := uint32(0); slot < r.slots(); slot++ {
			if r.sizes[slot] != 0 {
				r.colors[slot].Store(colorWhite)
			}
		}
		if r.allocated.Load() == 0 {
			h.gen.release(r)
		}
	}
}

// ---------------- Relocation helpers ---------------- //

// evacuator allocates destination blocks for minor-cycle survivors,
// one open region per size class and generation.
type evacuator struct {
	h         *Heap
	destYoung map[SizeClass]*Region
	destOld   map[SizeClass]*Region
}

func (e *evacuator) alloc(gen Generation, class SizeClass, size uint32, kind ObjectKind, age uint8) (Pointer, bool) {
	dest := e.destYoung
	if gen == Old {
		dest = e.destOld
	}
	for {
		if r := dest[class]; r != nil {
			if off, ok := r.allocate(size, kind, colorWhite); ok {
				r.ages[r.slotOf(off)] = age
				return makePointer(r.id, off), true
			}
			e.h.gen.retire(r)
			delete(dest, class)
		}
		r, ok := e.h.gen.requestRegion(class, gen, ownerShared)
		if !ok {
			return Nil, false
		}
		dest[class] = r
	}
}

func (e *evacuator) finish() {
	for _, r := range e.destYoung {
		e.h.gen.retire(r)
	}
	for _, r := range e.destOld {
		e.h.gen.retire(r)
	}
}

// translate maps a pointer through its region's forwarding table.
func (h *Heap) translate(p Pointer) Pointer {
	if p == Nil {
		return Nil
	}
	r := h.region(p)
	if f := r.forward[r.slotOf(p.offset())]; f != Nil {
		return f
	}
	return p
}

// fixupObject rewrites every forwarded reference in one object and
// re-logs it in the remembered set if it is an old object still
// holding young references.
func (h *Heap) fixupObject(p Pointer) {
	if h.layout == nil {
		return
	}
	r := h.region(p)
	slot := r.slotOf(p.offset())
	for _, field := range h.layout.FieldOffsets(r.kinds[slot]) {
		w := fieldWord(r, p.offset(), field)
		v := Pointer(w.Load())
		nv := h.translate(v)
		if nv != v {
			w.Store(uint64(nv))
		}
		if nv != Nil && r.generation == Old && h.region(nv).generation == Young {
			r.rememberObject(p)
		}
	}
}

// forEachLive visits every live object heap-wide. Live means an
// occupied slot marked black; only valid right after a full-scope
// mark.
func (h *Heap) forEachLive(fn func(Pointer)) {
	visit := func(rs []*Region) {
		for _, r := range rs {
			for slot := uint32(0); slot < r.slots(); slot++ {
				if r.sizes[slot] != 0 && r.colors[slot].Load() == colorBlack {
					fn(makePointer(r.id, slot*r.blockSize))
				}
			}
		}
	}
	visit(h.gen.snapshotYoung())
	visit(h.gen.snapshotOld())
}

// verifyMarking asserts the tri-color invariant after a mark phase: no
// black object references a white in-scope object. A violation is a
// collector bug, fatal by design decision in debug configurations.
func (h *Heap) verifyMarking(scope markScope) {
	if h.layout == nil {
		return
	}
	check := func(rs []*Region) {
		for _, r := range rs {
			for slot := uint32(0); slot < r.slots(); slot++ {
				if r.sizes[slot] == 0 || r.colors[slot].Load() != colorBlack {
					continue
				}
				p := makePointer(r.id, slot*r.blockSize)
				for _, field := range h.layout.FieldOffsets(r.kinds[slot]) {
					ref := Pointer(fieldWord(r, p.offset(), field).Load())
					if ref == Nil {
						continue
					}
					rr := h.region(ref)
					if scope == scopeYoung && rr.generation != Young {
						continue
					}
					if rr.colors[rr.slotOf(ref.offset())].Load() == colorWhite {
						panic(fmt.Sprintf("heap: marking invariant violated: black %#x -> white %#x", uint64(p), uint64(ref)))
					}
				}
			}
		}
	}
	if scope == scopeFull {
		check(h.gen.snapshotOld())
	}
	check(h.gen.snapshotYoung())
}
