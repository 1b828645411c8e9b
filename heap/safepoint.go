package heap

import (
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// safepointCoordinator parks mutators cooperatively. A collection
// request raises flag; mutators observe it at their next checkpoint
// and block until resume. Mutators in native code count as parked.
type safepointCoordinator struct {
	flag atomic.Bool

	mu        sync.Mutex
	cond      *sync.Cond
	requested bool
	parked    int
	native    int
	mutators  map[int32]*Mutator
	nextID    int32

	stallTimeout time.Duration
	stalls       atomic.Uint64
	onStall      func(d time.Duration, mutators int)
}

func newSafepointCoordinator(stallTimeout time.Duration) *safepointCoordinator {
	sp := &safepointCoordinator{
		mutators:     make(map[int32]*Mutator),
		stallTimeout: stallTimeout,
	}
	sp.cond = sync.NewCond(&sp.mu)
	return sp
}

func (sp *safepointCoordinator) register(h *Heap, roots RootProvider) *Mutator {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	// New mutators may not join mid-safepoint.
	for sp.requested {
		sp.cond.Wait()
	}
	sp.nextID++
	m := &Mutator{
		id:    sp.nextID,
		heap:  h,
		cache: newThreadLocalCache(sp.nextID, h.table.NumClasses()),
		roots: roots,
	}
	sp.mutators[m.id] = m
	return m
}

func (sp *safepointCoordinator) deregister(m *Mutator) {
	sp.mu.Lock()
	// Count as parked while a pending safepoint drains, or the
	// coordinator would wait on us forever.
	for sp.requested {
		sp.parked++
		sp.cond.Broadcast()
		sp.cond.Wait()
		sp.parked--
	}
	// Flush before releasing the lock: a request landing between the
	// map delete and a late flush would race the collector against
	// retire on the same regions.
	m.cache.flush(m.heap.gen)
	delete(sp.mutators, m.id)
	sp.cond.Broadcast()
	sp.mu.Unlock()
}

// park blocks the mutator until the collector resumes the world.
func (sp *safepointCoordinator) park(m *Mutator) {
	sp.mu.Lock()
	for sp.requested {
		sp.parked++
		sp.cond.Broadcast()
		sp.cond.Wait()
		sp.parked--
	}
	sp.mu.Unlock()
}

func (sp *safepointCoordinator) enterNative(m *Mutator) {
	sp.mu.Lock()
	m.inNative = true
	sp.native++
	sp.cond.Broadcast()
	sp.mu.Unlock()
}

func (sp *safepointCoordinator) leaveNative(m *Mutator) {
	sp.mu.Lock()
	for sp.requested {
		sp.cond.Wait()
	}
	m.inNative = false
	sp.native--
	sp.mu.Unlock()
}

// request stops the world. initiator, when non-nil, is the mutator
// driving the collection and is exempt from parking. Blocks until all
// other mutators are parked or in native code; a stall past the
// timeout is logged as a liveness hazard and waited out.
func (sp *safepointCoordinator) request(initiator *Mutator) {
	sp.mu.Lock()
	sp.requested = true
	sp.flag.Store(true)

	want := len(sp.mutators)
	if initiator != nil {
		want--
	}
	start := time.Now()
	warned := false
	// The cond has no timed wait; a timer broadcast wakes the loop so
	// the stall check runs even if no mutator parks.
	timer := time.AfterFunc(sp.stallTimeout, func() {
		sp.mu.Lock()
		sp.cond.Broadcast()
		sp.mu.Unlock()
	})
	defer timer.Stop()

	for sp.parked+sp.native < want {
		if !warned && time.Since(start) > sp.stallTimeout {
			warned = true
			sp.stalls.Add(1)
			log.Printf("[safepoint] stall: %d/%d mutators parked after %v (unbounded native call?)",
				sp.parked+sp.native, want, time.Since(start).Round(time.Millisecond))
			if sp.onStall != nil {
				sp.onStall(time.Since(start), want)
			}
		}
		sp.cond.Wait()
	}
	sp.mu.Unlock()
}

// resume releases all parked mutators.
func (sp *safepointCoordinator) resume() {
	sp.mu.Lock()
	sp.requested = false
	sp.flag.Store(false)
	sp.cond.Broadcast()
	sp.mu.Unlock()
}

// each runs fn over every registered mutator. Only valid while the
// world is stopped.
func (sp *safepointCoordinator) each(fn func(*Mutator)) {
	sp.mu.Lock()
	ms := make([]*Mutator, 0, len(sp.mutators))
	for _, m := range sp.mutators {
		ms = append(ms, m)
	}
	sp.mu.Unlock()
	for _, m := range ms {
		fn(m)
	}
}
