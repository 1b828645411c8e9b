package heap

import (
	"math/rand"
	"runtime"
	"sync"
	"sync/atomic"
)

type markScope uint8

const (
	scopeYoung markScope = iota
	scopeFull
)

// marker drives one tri-color tracing phase with a pool of
// work-stealing workers. It is built fresh per cycle.
type marker struct {
	h       *Heap
	scope   markScope
	deques  []*markDeque
	workers int

	idle        atomic.Int32
	done        atomic.Bool
	bytesMarked atomic.Uint64
}

func newMarker(h *Heap, scope markScope, workers int) *marker {
	mk := &marker{h: h, scope: scope, workers: workers}
	mk.deques = make([]*markDeque, workers)
	for i := range mk.deques {
		mk.deques[i] = &markDeque{}
	}
	return mk
}

func (mk *marker) inScope(r *Region) bool {
	return mk.scope == scopeFull || r.generation == Young
}

// seed greys the root targets and distributes them round-robin across
// the worker deques.
func (mk *marker) seed(roots []Pointer) {
	i := 0
	for _, p := range roots {
		if p == Nil {
			continue
		}
		r := mk.h.region(p)
		if !mk.inScope(r) {
			continue
		}
		slot := r.slotOf(p.offset())
		if r.colors[slot].CompareAndSwap(colorWhite, colorGrey) {
			mk.deques[i%mk.workers].push(p)
			i++
		}
	}
}

// run traces until every reachable in-scope object is black and all
// queues, including the barrier overflow, are drained.
func (mk *marker) run() {
	var wg sync.WaitGroup
	for i := 0; i < mk.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			mk.work(id)
		}(i)
	}
	wg.Wait()
}

func (mk *marker) work(id int) {
	for {
		p := mk.getWork(id)
		if p != Nil {
			mk.scan(id, p)
			continue
		}
		if mk.quiesce(id) {
			return
		}
	}
}

// getWork pops local work, then steals from a random peer, then falls
// back to the barrier overflow stack.
func (mk *marker) getWork(id int) Pointer {
	if p := mk.deques[id].pop(); p != Nil {
		return p
	}
	if mk.workers > 1 {
		victim := rand.Intn(mk.workers)
		for i := 0; i < mk.workers; i++ {
			v := (victim + i) % mk.workers
			if v == id {
				continue
			}
			if p := mk.deques[v].steal(); p != Nil {
				return p
			}
		}
	}
	return mk.h.overflow.pop()
}

// quiesce implements distributed termination: a worker only declares
// the phase done when every worker is idle and every queue is empty in
// the same observation. Workers holding unscanned work are never
// counted idle, so "all idle and all empty" implies no work exists.
func (mk *marker) quiesce(id int) bool {
	mk.idle.Add(1)
	for {
		if mk.done.Load() {
			mk.idle.Add(-1)
			return true
		}
		if mk.haveWork() {
			mk.idle.Add(-1)
			return false
		}
		if int(mk.idle.Load()) == mk.workers && !mk.haveWork() {
			mk.done.Store(true)
			mk.idle.Add(-1)
			return true
		}
		runtime.Gosched()
	}
}

func (mk *marker) haveWork() bool {
	for _, d := range mk.deques {
		if !d.empty() {
			return true
		}
	}
	return !mk.h.overflow.empty()
}

// scan blackens one grey object, shading its in-scope white referents
// grey onto the local deque.
func (mk *marker) scan(id int, p Pointer) {
	h := mk.h
	r := h.region(p)
	slot := r.slotOf(p.offset())

	if h.layout != nil {
		for _, field := range h.layout.FieldOffsets(r.kinds[slot]) {
			ref := Pointer(fieldWord(r, p.offset(), field).Load())
			if ref == Nil {
				continue
			}
			rr := h.region(ref)
			if !mk.inScope(rr) {
				continue
			}
			rslot := rr.slotOf(ref.offset())
			if rr.colors[rslot].CompareAndSwap(colorWhite, colorGrey) {
				mk.deques[id].push(ref)
			}
		}
	}
	r.colors[slot].Store(colorBlack)
	mk.bytesMarked.Add(uint64(r.sizes[slot]))
}

// drainSTW empties the barrier overflow with a single worker while the
// world is stopped. Used for mark termination after concurrent
// marking.
func (mk *marker) drainSTW() {
	for {
		p := mk.h.overflow.pop()
		if p == Nil {
			for _, d := range mk.deques {
				if p = d.pop(); p != Nil {
					break
				}
			}
		}
		if p == Nil {
			return
		}
		mk.scan(0, p)
	}
}
