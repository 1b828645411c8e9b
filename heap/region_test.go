package heap

import "testing"

func testRegion(blockSize, capacity uint32) *Region {
	return newRegion(1, 0, blockSize, Young, make([]byte, capacity))
}

func TestRegionBumpAllocation(t *testing.T) {
	r := testRegion(16, 64)
	var offs []uint32
	for {
		off, ok := r.allocate(10, 0, colorWhite)
		if !ok {
			break
		}
		offs = append(offs, off)
	}
	if len(offs) != 4 {
		t.Fatalf("expected 4 blocks, got %d", len(offs))
	}
	for i, off := range offs {
		if off != uint32(i)*16 {
			t.Errorf("block %d at offset %d", i, off)
		}
	}
}

func TestRegionFreeListReuse(t *testing.T) {
	r := testRegion(16, 64)
	for {
		if _, ok := r.allocate(16, 0, colorWhite); !ok {
			break
		}
	}
	r.reclaim(16)
	r.reclaim(48)
	off, ok := r.allocate(16, 0, colorWhite)
	if !ok || off != 48 {
		t.Errorf("expected reuse of slot at 48, got %d ok=%v", off, ok)
	}
	off, ok = r.allocate(16, 0, colorWhite)
	if !ok || off != 16 {
		t.Errorf("expected reuse of slot at 16, got %d ok=%v", off, ok)
	}
	if _, ok = r.allocate(16, 0, colorWhite); ok {
		t.Error("expected exhaustion after free list drained")
	}
}

func TestRegionExhaustedIsSignal(t *testing.T) {
	r := testRegion(32, 32)
	if _, ok := r.allocate(20, 0, colorWhite); !ok {
		t.Fatal("first allocation failed")
	}
	if _, ok := r.allocate(20, 0, colorWhite); ok {
		t.Error("expected exhaustion")
	}
}

func TestRegionResetIdempotent(t *testing.T) {
	r := testRegion(16, 64)
	r.allocate(16, 0, colorWhite)
	r.allocate(16, 0, colorWhite)
	r.reclaim(0)

	r.reset()
	if r.cursor != 0 || r.freeHead != -1 || r.allocated.Load() != 0 {
		t.Fatal("reset did not clear region")
	}
	if r.state.Load() != regionFree {
		t.Fatal("reset did not free region")
	}

	// second reset on an already-free region is a no-op
	r.reset()
	if r.cursor != 0 || r.freeHead != -1 || r.allocated.Load() != 0 || r.state.Load() != regionFree {
		t.Fatal("double reset changed observable state")
	}

	if off, ok := r.allocate(8, 0, colorWhite); !ok || off != 0 {
		t.Errorf("allocation after reset: off=%d ok=%v", off, ok)
	}
}

func TestRegionCompactSlidesLive(t *testing.T) {
	r := testRegion(16, 96)
	for i := 0; i < 6; i++ {
		off, _ := r.allocate(16, 0, colorWhite)
		r.data[off] = byte(i + 1)
	}
	// keep slots 1, 3, 4
	for _, slot := range []uint32{1, 3, 4} {
		r.colors[slot].Store(colorBlack)
	}
	r.compact()

	if got := r.allocated.Load(); got != 3 {
		t.Fatalf("allocated=%d after compact", got)
	}
	if r.cursor != 48 {
		t.Errorf("cursor=%d, want 48", r.cursor)
	}
	want := []byte{2, 4, 5}
	for i, b := range want {
		if r.data[uint32(i)*16] != b {
			t.Errorf("slot %d payload=%d want %d", i, r.data[uint32(i)*16], b)
		}
	}
	// forwarding keyed by original slot
	if r.forward[3] != makePointer(1, 16) {
		t.Errorf("forward[3]=%#x", uint64(r.forward[3]))
	}
	if r.forward[4] != makePointer(1, 32) {
		t.Errorf("forward[4]=%#x", uint64(r.forward[4]))
	}
}

func TestDequePushPopSteal(t *testing.T) {
	d := &markDeque{}
	d.push(makePointer(1, 0))
	d.push(makePointer(1, 16))
	d.push(makePointer(1, 32))

	if p := d.steal(); p != makePointer(1, 0) {
		t.Errorf("steal got %#x, want oldest", uint64(p))
	}
	if p := d.pop(); p != makePointer(1, 32) {
		t.Errorf("pop got %#x, want newest", uint64(p))
	}
	if p := d.pop(); p != makePointer(1, 16) {
		t.Errorf("pop got %#x", uint64(p))
	}
	if d.pop() != Nil || d.steal() != Nil {
		t.Error("expected empty deque")
	}
}
