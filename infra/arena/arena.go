// Package arena provides the backing memory layer for heap regions:
// page-aligned byte extents with a bounded total, plus a reuse ring so
// retired regions hand their memory back without churning the host
// allocator.
package arena

import (
	"errors"
	"sync/atomic"
	"unsafe"
)

// ErrLimit is returned when acquiring an extent would exceed the
// configured memory cap.
var ErrLimit = errors.New("arena: memory limit exceeded")

const extentAlign = 4096

// Arena hands out aligned byte extents and recycles uniform-size ones.
type Arena struct {
	limit      uint64
	extentSize uint32

	total atomic.Uint64
	peak  atomic.Uint64

	ring *extentRing
}

// New creates an arena capped at limit bytes. extentSize is the
// uniform region size eligible for recycling; other sizes are released
// to the host runtime.
func New(limit uint64, extentSize uint32) *Arena {
	return &Arena{
		limit:      limit,
		extentSize: extentSize,
		ring:       newExtentRing(1 << 10),
	}
}

// Acquire returns an aligned, zeroed extent of exactly size bytes.
func (a *Arena) Acquire(size uint32) ([]byte, error) {
	if size == a.extentSize {
		if buf := a.ring.pop(); buf != nil {
			clear(buf)
			return buf, nil
		}
	}
	for {
		cur := a.total.Load()
		if cur+uint64(size) > a.limit {
			return nil, ErrLimit
		}
		if a.total.CompareAndSwap(cur, cur+uint64(size)) {
			break
		}
	}
	a.bumpPeak()
	return alignedExtent(size), nil
}

// Release returns an extent to the arena. Uniform-size extents go to
// the reuse ring; everything else is dropped and its budget refunded.
func (a *Arena) Release(buf []byte) {
	if uint32(len(buf)) == a.extentSize && a.ring.push(buf) {
		return
	}
	a.total.Add(^(uint64(len(buf)) - 1))
}

// InUse returns the bytes currently counted against the limit.
func (a *Arena) InUse() uint64 { return a.total.Load() }

// Peak returns the high-water mark of InUse.
func (a *Arena) Peak() uint64 { return a.peak.Load() }

func (a *Arena) bumpPeak() {
	cur := a.total.Load()
	for {
		p := a.peak.Load()
		if cur <= p || a.peak.CompareAndSwap(p, cur) {
			return
		}
	}
}

// alignedExtent allocates size bytes whose base is page aligned, so
// every block offset inherits the alignment guarantee.
func alignedExtent(size uint32) []byte {
	mem := make([]byte, uint64(size)+extentAlign)
	base := uintptr(unsafe.Pointer(unsafe.SliceData(mem)))
	off := (extentAlign - base%extentAlign) % extentAlign
	return mem[off : uint64(off)+uint64(size) : uint64(off)+uint64(size)]
}
