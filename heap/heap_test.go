package heap

import (
	"sync"
	"testing"
)

const (
	kindLeaf ObjectKind = iota
	kindNode
	kindPair
)

// testLayout: kindNode has one reference at offset 0, kindPair two at
// 0 and 8, kindLeaf none.
type testLayout struct{}

func (testLayout) FieldOffsets(kind ObjectKind) []uint32 {
	switch kind {
	case kindNode:
		return []uint32{0}
	case kindPair:
		return []uint32{0, 8}
	}
	return nil
}

func newTestHeap(t *testing.T, mut func(*Config)) *Heap {
	t.Helper()
	cfg := Config{
		RegionBytes:      4 << 10,
		MaxHeapBytes:     4 << 20,
		Layout:           testLayout{},
		GCWorkers:        2,
		VerifyInvariants: true,
	}
	if mut != nil {
		mut(&cfg)
	}
	h, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func TestAllocateZeroSizeRejected(t *testing.T) {
	h := newTestHeap(t, nil)
	m := h.RegisterMutator(nil)
	defer m.Deregister()
	if _, err := m.Allocate(0, kindLeaf); err != ErrInvalidSize {
		t.Errorf("expected ErrInvalidSize, got %v", err)
	}
}

func TestAllocateSoundness(t *testing.T) {
	h := newTestHeap(t, nil)
	m := h.RegisterMutator(nil)
	defer m.Deregister()

	type span struct{ lo, hi uint64 }
	seen := make(map[uint32][]span)
	sizes := []uint32{1, 8, 15, 16, 33, 100, 1000, 4096, 5000}

	for round := 0; round < 50; round++ {
		for _, size := range sizes {
			p, err := m.Allocate(size, kindLeaf)
			if err != nil {
				t.Fatalf("Allocate(%d): %v", size, err)
			}
			if p.offset()%objectAlign != 0 {
				t.Fatalf("pointer %#x not %d-byte aligned", uint64(p), objectAlign)
			}
			hdr := h.Header(p)
			if hdr.Size != size {
				t.Fatalf("header size %d, want %d", hdr.Size, size)
			}
			if uint64(len(h.Bytes(p))) != uint64(size) {
				t.Fatalf("payload %dB, want %d", len(h.Bytes(p)), size)
			}
			lo := uint64(p.offset())
			hi := lo + uint64(size)
			for _, s := range seen[p.regionID()] {
				if lo < s.hi && s.lo < hi {
					t.Fatalf("allocation [%d,%d) overlaps [%d,%d) in region %d",
						lo, hi, s.lo, s.hi, p.regionID())
				}
			}
			seen[p.regionID()] = append(seen[p.regionID()], span{lo, hi})
		}
	}
}

func TestMinorCollectionReclaimsDroppedObjects(t *testing.T) {
	var roots []*Pointer
	h := newTestHeap(t, nil)
	m := h.RegisterMutator(func() []*Pointer { return roots })
	defer m.Deregister()

	// allocate 1000 tiny objects, keep no references
	for i := 0; i < 1000; i++ {
		if _, err := m.Allocate(16, kindLeaf); err != nil {
			t.Fatal(err)
		}
	}
	st := m.Collect(MinorCycle)

	if occ := h.gen.occupancy(Young); occ > 0.01 {
		t.Errorf("young occupancy %.3f after drop-all minor, want ~0", occ)
	}
	if st.BytesReclaimed == 0 {
		t.Error("expected reclaimed bytes")
	}

	// all slots reusable
	for i := 0; i < 1000; i++ {
		if _, err := m.Allocate(16, kindLeaf); err != nil {
			t.Fatalf("realloc %d: %v", i, err)
		}
	}
}

func TestLiveObjectsSurviveMinor(t *testing.T) {
	var head Pointer
	h := newTestHeap(t, nil)
	m := h.RegisterMutator(func() []*Pointer { return []*Pointer{&head} })
	defer m.Deregister()

	// linked list of 50 nodes, payload byte i at offset 8
	for i := 49; i >= 0; i-- {
		p, err := m.Allocate(16, kindNode)
		if err != nil {
			t.Fatal(err)
		}
		h.Bytes(p)[8] = byte(i)
		h.Store(p, 0, head)
		head = p
	}

	m.Collect(MinorCycle)

	p := head
	for i := 0; i < 50; i++ {
		if p == Nil {
			t.Fatalf("list truncated at %d", i)
		}
		if got := h.Bytes(p)[8]; got != byte(i) {
			t.Fatalf("node %d payload %d after copy", i, got)
		}
		p = h.Load(p, 0)
	}
	if p != Nil {
		t.Error("list longer than allocated")
	}
}

func TestPromotionAfterThirdSurvival(t *testing.T) {
	var keep Pointer
	h := newTestHeap(t, nil)
	m := h.RegisterMutator(func() []*Pointer { return []*Pointer{&keep} })
	defer m.Deregister()

	p, err := m.Allocate(32, kindLeaf)
	if err != nil {
		t.Fatal(err)
	}
	h.Bytes(p)[0] = 0xAB
	keep = p

	for survival := 1; survival <= 4; survival++ {
		m.Collect(MinorCycle)
		hdr := h.Header(keep)
		switch {
		case survival < 3 && hdr.Generation != Young:
			t.Fatalf("promoted after %d survivals, threshold is 3", survival)
		case survival < 3 && hdr.Age != uint8(survival):
			t.Fatalf("age %d after %d survivals", hdr.Age, survival)
		case survival >= 3 && hdr.Generation != Old:
			t.Fatalf("still young after %d survivals", survival)
		}
		if h.Bytes(keep)[0] != 0xAB {
			t.Fatalf("payload lost after survival %d", survival)
		}
	}
}

func TestAgeNeverDecreases(t *testing.T) {
	var keep Pointer
	h := newTestHeap(t, nil)
	m := h.RegisterMutator(func() []*Pointer { return []*Pointer{&keep} })
	defer m.Deregister()

	p, _ := m.Allocate(16, kindLeaf)
	keep = p
	prev := uint8(0)
	for i := 0; i < 6; i++ {
		m.Collect(MinorCycle)
		hdr := h.Header(keep)
		if hdr.Age < prev && hdr.Generation == Young {
			t.Fatalf("age decreased %d -> %d", prev, hdr.Age)
		}
		if hdr.Generation == Old {
			old := keep
			m.Collect(MinorCycle)
			if h.Header(keep).Generation != Old || keep != old {
				t.Fatal("promoted object moved back to young")
			}
			return
		}
		prev = hdr.Age
	}
	t.Fatal("object never promoted")
}

func TestRememberedSetTracksOldToYoung(t *testing.T) {
	var keep Pointer
	h := newTestHeap(t, nil)
	m := h.RegisterMutator(func() []*Pointer { return []*Pointer{&keep} })
	defer m.Deregister()

	p, _ := m.Allocate(16, kindNode)
	keep = p
	for i := 0; i < 3; i++ {
		m.Collect(MinorCycle)
	}
	if h.Header(keep).Generation != Old {
		t.Fatal("setup: node not promoted")
	}

	// store a fresh young object into the old node; it is reachable
	// only through the remembered set
	young, _ := m.Allocate(16, kindLeaf)
	h.Bytes(young)[0] = 0x7F
	h.Store(keep, 0, young)

	m.Collect(MinorCycle)

	got := h.Load(keep, 0)
	if got == Nil {
		t.Fatal("old->young reference lost in minor cycle")
	}
	if h.Bytes(got)[0] != 0x7F {
		t.Fatal("young referent corrupted")
	}
	if h.Header(got).Generation != Young {
		t.Error("referent should still be young after one survival")
	}
}

// TestFullCycleDropsStaleRememberedEntries kills an old object whose
// remembered entry points at a young large object. The entry must die
// with the object; a later minor cycle chasing it would dereference a
// released region.
func TestFullCycleDropsStaleRememberedEntries(t *testing.T) {
	var keep Pointer
	h := newTestHeap(t, nil)
	m := h.RegisterMutator(func() []*Pointer { return []*Pointer{&keep} })
	defer m.Deregister()

	p, _ := m.Allocate(16, kindNode)
	keep = p
	for i := 0; i < 3; i++ {
		m.Collect(MinorCycle)
	}
	if h.Header(keep).Generation != Old {
		t.Fatal("setup: node not promoted")
	}

	// young large object reachable only through the old node; the
	// store logs the node in its region's remembered set
	lp, err := m.Allocate(10_000, kindLeaf)
	if err != nil {
		t.Fatal(err)
	}
	h.Store(keep, 0, lp)

	// drop the node; both it and the large object die here
	keep = Nil
	m.Collect(FullCycle)

	m.Collect(MinorCycle)
	if _, err := m.Allocate(16, kindLeaf); err != nil {
		t.Fatal(err)
	}
}

func TestMajorCycleCompactsOld(t *testing.T) {
	var keeps []*Pointer
	h := newTestHeap(t, nil)
	m := h.RegisterMutator(func() []*Pointer { return keeps })
	defer m.Deregister()

	// promote 40 leaves
	ptrs := make([]Pointer, 40)
	for i := range ptrs {
		p, _ := m.Allocate(24, kindLeaf)
		h.Bytes(p)[0] = byte(i)
		ptrs[i] = p
		keeps = append(keeps, &ptrs[i])
	}
	for i := 0; i < 3; i++ {
		m.Collect(MinorCycle)
	}
	for i := range ptrs {
		if h.Header(ptrs[i]).Generation != Old {
			t.Fatal("setup: not promoted")
		}
	}

	// drop every other object, compact
	survivors := make([]Pointer, 0, 20)
	keeps = keeps[:0]
	for i := range ptrs {
		if i%2 == 0 {
			survivors = append(survivors, ptrs[i])
		}
	}
	for i := range survivors {
		keeps = append(keeps, &survivors[i])
	}
	before := h.gen.usage()
	m.Collect(FullCycle)

	if after := h.gen.usage(); after >= before {
		t.Errorf("usage %d -> %d, expected compaction to drop dead bytes", before, after)
	}
	for i, p := range survivors {
		if h.Bytes(p)[0] != byte(i*2) {
			t.Fatalf("survivor %d payload %d after compaction", i, h.Bytes(p)[0])
		}
		if h.Header(p).Generation != Old {
			t.Error("survivor left the old generation")
		}
	}
}

func TestLargeObjectLifecycle(t *testing.T) {
	var keep Pointer
	h := newTestHeap(t, nil)
	m := h.RegisterMutator(func() []*Pointer { return []*Pointer{&keep} })
	defer m.Deregister()

	p, err := m.Allocate(10_000, kindLeaf)
	if err != nil {
		t.Fatal(err)
	}
	h.Bytes(p)[9999] = 0x5A
	keep = p

	for i := 0; i < 3; i++ {
		m.Collect(MinorCycle)
	}
	if h.Header(keep).Generation != Old {
		t.Error("large object not promoted")
	}
	if keep != p {
		t.Error("large object moved; promotion should retag in place")
	}
	if h.Bytes(keep)[9999] != 0x5A {
		t.Error("large payload corrupted")
	}

	keep = Nil
	m.Collect(FullCycle)
	// region memory is back under budget; allocating again must work
	if _, err := m.Allocate(10_000, kindLeaf); err != nil {
		t.Fatal(err)
	}
}

func TestOutOfMemorySurfacesAndRecovers(t *testing.T) {
	var keeps []*Pointer
	h := newTestHeap(t, func(c *Config) {
		c.MaxHeapBytes = 64 << 10
		c.RegionBytes = 8 << 10
	})
	m := h.RegisterMutator(func() []*Pointer { return keeps })
	defer m.Deregister()

	// preallocated so the root slots stay stable across appends
	ptrs := make([]Pointer, 0, 10_000)
	var sawOOM bool
	for i := 0; i < 10_000; i++ {
		p, err := m.Allocate(1024, kindLeaf)
		if err == ErrOutOfMemory {
			sawOOM = true
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		h.Bytes(p)[0] = byte(i)
		ptrs = append(ptrs, p)
		keeps = append(keeps, &ptrs[len(ptrs)-1])
	}
	if !sawOOM {
		t.Fatal("never hit OutOfMemory with a 64KB budget")
	}

	// every live object survived the escalation cycles intact, even
	// the ones the exhausted evacuator left in place
	for i, p := range ptrs {
		if h.Bytes(p)[0] != byte(i) {
			t.Fatalf("object %d payload %d after escalation", i, h.Bytes(p)[0])
		}
	}

	// drop everything; the next allocation must succeed
	keeps = keeps[:0]
	if _, err := m.Allocate(1024, kindLeaf); err != nil {
		t.Fatalf("allocation after freeing roots: %v", err)
	}
}

func TestCrossThreadAllocationNoAliasing(t *testing.T) {
	h := newTestHeap(t, nil)

	const perThread = 2000
	results := make([][]Pointer, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			m := h.RegisterMutator(nil)
			defer m.Deregister()
			out := make([]Pointer, 0, perThread)
			for j := 0; j < perThread; j++ {
				p, err := m.Allocate(128, kindLeaf)
				if err != nil {
					t.Error(err)
					return
				}
				out = append(out, p)
			}
			results[idx] = out
		}(i)
	}
	wg.Wait()

	seen := make(map[Pointer]int)
	for idx, ptrs := range results {
		for _, p := range ptrs {
			if prev, dup := seen[p]; dup {
				t.Fatalf("pointer %#x returned to threads %d and %d", uint64(p), prev, idx)
			}
			seen[p] = idx
		}
	}
}

// TestDeregisterDuringCollectionRetiresSafely churns mutator
// registration against a collection loop; the cache flush in
// deregister must not race the collector over the same regions.
func TestDeregisterDuringCollectionRetiresSafely(t *testing.T) {
	h := newTestHeap(t, nil)

	stop := make(chan struct{})
	var collector sync.WaitGroup
	collector.Add(1)
	go func() {
		defer collector.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			h.Collect(MinorCycle)
		}
	}()

	var churn sync.WaitGroup
	for i := 0; i < 2; i++ {
		churn.Add(1)
		go func() {
			defer churn.Done()
			for j := 0; j < 50; j++ {
				m := h.RegisterMutator(nil)
				for k := 0; k < 20; k++ {
					if _, err := m.Allocate(64, kindLeaf); err != nil {
						t.Error(err)
						break
					}
				}
				m.Deregister()
			}
		}()
	}
	churn.Wait()
	close(stop)
	collector.Wait()
}

func TestMetricsAccumulate(t *testing.T) {
	h := newTestHeap(t, nil)
	m := h.RegisterMutator(nil)
	defer m.Deregister()

	for i := 0; i < 100; i++ {
		m.Allocate(64, kindLeaf)
	}
	m.Collect(MinorCycle)
	m.Collect(FullCycle)

	ms := h.Metrics()
	if ms.Cycles != 2 || ms.MinorCycles != 1 || ms.MajorCycles != 1 {
		t.Errorf("cycle counts: %+v", ms)
	}
	if ms.PauseTotalNS == 0 {
		t.Error("no pause time recorded")
	}
}

func TestCycleHookObservesStats(t *testing.T) {
	h := newTestHeap(t, nil)
	m := h.RegisterMutator(nil)
	defer m.Deregister()

	var got []CycleStats
	h.OnCycle(func(st CycleStats) { got = append(got, st) })

	m.Allocate(64, kindLeaf)
	m.Collect(MinorCycle)

	if len(got) != 1 || got[0].Kind != MinorCycle {
		t.Fatalf("hook saw %+v", got)
	}
}

func BenchmarkAllocateTiny(b *testing.B) {
	h, err := New(Config{RegionBytes: 64 << 10, MaxHeapBytes: 1 << 30})
	if err != nil {
		b.Fatal(err)
	}
	b.RunParallel(func(pb *testing.PB) {
		m := h.RegisterMutator(nil)
		defer m.Deregister()
		for pb.Next() {
			if _, err := m.Allocate(16, kindLeaf); err != nil {
				b.Fatal(err)
			}
		}
	})
}
