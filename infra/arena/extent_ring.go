package arena

import "sync/atomic"

// SPSC ring for recycled extents (collector -> allocator).
type extentRing struct {
	// align head/tail to separate cache lines
	head  uint64
	_pad1 [56]byte
	tail  uint64
	_pad2 [56]byte

	buf  [][]byte
	mask uint64
}

// newExtentRing allocates a fixed-size circular buffer (power-of-2 length).
func newExtentRing(pow2 uint64) *extentRing {
	return &extentRing{buf: make([][]byte, pow2), mask: pow2 - 1}
}

// push inserts an extent into the ring.
// Returns false if the buffer is full.
func (q *extentRing) push(b []byte) bool {
	h := q.head
	t := atomic.LoadUint64(&q.tail)
	if h-t == uint64(len(q.buf)) {
		return false // full
	}
	q.buf[h&q.mask] = b
	atomic.StoreUint64(&q.head, h+1)
	return true
}

// pop removes the next extent from the ring.
// Returns nil if the buffer is empty.
func (q *extentRing) pop() []byte {
	t := q.tail
	h := atomic.LoadUint64(&q.head)
	if t == h {
		return nil
	}
	b := q.buf[t&q.mask]
	q.buf[t&q.mask] = nil
	atomic.StoreUint64(&q.tail, t+1)
	return b
}

// len returns the number of extents currently stored.
func (q *extentRing) len() int {
	h := atomic.LoadUint64(&q.head)
	t := atomic.LoadUint64(&q.tail)
	return int(h - t)
}
