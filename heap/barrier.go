package heap

import (
	"sync"
	"sync/atomic"
	"unsafe"
)

// Reference fields are 8-byte aligned words inside the payload,
// accessed atomically so concurrent marking never tears a read
// against a mutator store.

func fieldWord(r *Region, off, field uint32) *atomic.Uint64 {
	return (*atomic.Uint64)(unsafe.Pointer(&r.data[off+field]))
}

// Load reads the reference field at the given byte offset of obj.
func (h *Heap) Load(obj Pointer, field uint32) Pointer {
	r := h.region(obj)
	return Pointer(fieldWord(r, obj.offset(), field).Load())
}

// Store writes a reference field, running the write barrier first.
// This is the hook the code generator must call for every
// reference-typed store; plain data goes through Bytes.
func (h *Heap) Store(obj Pointer, field uint32, val Pointer) {
	h.writeBarrier(obj, val)
	r := h.region(obj)
	fieldWord(r, obj.offset(), field).Store(uint64(val))
}

// writeBarrier keeps the two collector invariants:
//   - during concurrent marking no black object may point at a white
//     one, so the stored target is shaded grey before the store
//     becomes visible (Dijkstra-style insertion barrier);
//   - old objects holding young references are logged in their
//     region's remembered set so minor cycles need not scan the old
//     generation.
func (h *Heap) writeBarrier(obj, val Pointer) {
	if val == Nil {
		return
	}
	if h.markingActive.Load() {
		h.shade(val)
	}
	if obj == Nil {
		return
	}
	ro := h.region(obj)
	if ro.generation == Old && h.region(val).generation == Young {
		ro.rememberObject(obj)
	}
}

// greyOverflow is the barrier-fed grey stack. Workers drain it along
// with their deques; mark termination requires it empty.
type greyOverflow struct {
	mu    sync.Mutex
	stack []Pointer
}

func (o *greyOverflow) push(p Pointer) {
	o.mu.Lock()
	o.stack = append(o.stack, p)
	o.mu.Unlock()
}

func (o *greyOverflow) pop() Pointer {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := len(o.stack)
	if n == 0 {
		return Nil
	}
	p := o.stack[n-1]
	o.stack = o.stack[:n-1]
	return p
}

func (o *greyOverflow) empty() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.stack) == 0
}

// shade moves a white object to grey and queues it for scanning.
// Losing the CAS means another thread already shaded it.
func (h *Heap) shade(p Pointer) {
	r := h.region(p)
	slot := r.slotOf(p.offset())
	if r.colors[slot].CompareAndSwap(colorWhite, colorGrey) {
		h.overflow.push(p)
	}
}
