package heap

import "errors"

var (
	// ErrInvalidSize is returned for a zero-byte allocation request.
	ErrInvalidSize = errors.New("heap: invalid allocation size")

	// ErrOutOfMemory is returned when a full collection still cannot
	// free enough space for a pending allocation. It is fatal for the
	// allocation, not for the heap.
	ErrOutOfMemory = errors.New("heap: out of memory")
)
