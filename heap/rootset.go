package heap

// rootSet is the transient snapshot of top-level references built at
// the start of a cycle and discarded after marking. It holds slot
// addresses, not values, because relocation must rewrite the slots.
type rootSet struct {
	slots []*Pointer

	// remembered lists old-generation objects that may hold young
	// references; minor cycles scan them instead of the whole old
	// generation. Empty for full-scope cycles.
	remembered []Pointer
}

// collectRoots builds the root set. World must be stopped (or the
// callers parked) so the providers see a consistent stack picture.
func (h *Heap) collectRoots(scope markScope) *rootSet {
	rs := &rootSet{}
	h.sp.each(func(m *Mutator) {
		if m.roots != nil {
			rs.slots = append(rs.slots, m.roots()...)
		}
	})
	h.rootsMu.Lock()
	for _, fn := range h.globalRoots {
		rs.slots = append(rs.slots, fn()...)
	}
	h.rootsMu.Unlock()

	if scope == scopeYoung {
		for _, r := range h.gen.snapshotOld() {
			rs.remembered = append(rs.remembered, r.takeRemembered()...)
		}
	}
	return rs
}

// seeds returns the mark seeds: the values in the root slots, plus,
// for a young-scope cycle, the young references found in remembered
// old objects.
func (rs *rootSet) seeds(h *Heap) []Pointer {
	out := make([]Pointer, 0, len(rs.slots))
	for _, slot := range rs.slots {
		if *slot != Nil {
			out = append(out, *slot)
		}
	}
	for _, old := range rs.remembered {
		r := h.region(old)
		if h.layout == nil {
			continue
		}
		slot := r.slotOf(old.offset())
		for _, field := range h.layout.FieldOffsets(r.kinds[slot]) {
			ref := Pointer(fieldWord(r, old.offset(), field).Load())
			if ref != Nil && h.region(ref).generation == Young {
				out = append(out, ref)
			}
		}
	}
	return out
}
