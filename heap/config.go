package heap

import "time"

// ObjectKind identifies an object layout to the embedding runtime.
type ObjectKind uint32

// Layout is the narrow contract the embedding runtime supplies for
// reference enumeration: the byte offsets of reference-typed fields
// for a given kind. Offsets must be 8-byte aligned and inside the
// object payload.
type Layout interface {
	FieldOffsets(kind ObjectKind) []uint32
}

// RootProvider enumerates the addresses of a mutator's live root
// slots at a safepoint. The collector reads roots through the slots
// and rewrites them after relocation.
type RootProvider func() []*Pointer

// Config is the startup configuration surface. It is read once by New.
type Config struct {
	// SizeClasses lists the block sizes in ascending order; nil keeps
	// the default tiny/small tiers.
	SizeClasses []uint32

	// LargeThreshold is the byte size above which allocations bypass
	// thread-local caching; 0 means the largest configured class.
	LargeThreshold uint32

	// RegionBytes is the capacity of one standard region.
	RegionBytes uint32

	// MaxHeapBytes caps total backing memory; 0 means 256MB.
	MaxHeapBytes uint64

	// PromotionThreshold is the number of survived minor cycles after
	// which a young object is promoted; 0 means 3.
	PromotionThreshold uint8

	// BaseThreshold and GrowthFactor parameterize the adaptive
	// collection trigger. Zero values mean 0.72 and 1.5.
	BaseThreshold float64
	GrowthFactor  float64

	// GCWorkers is the marker worker count; 0 means 4.
	GCWorkers int

	// MaxPauseTarget is a tuning hint only: a minor cycle past this
	// budget degrades to partial promotion. 0 means 2ms.
	MaxPauseTarget time.Duration

	// SafepointStallTimeout bounds the wait for a mutator to park
	// before the stall is logged as a liveness hazard. 0 means 100ms.
	SafepointStallTimeout time.Duration

	// Layout supplies reference enumeration; nil means no object
	// carries references.
	Layout Layout

	// VerifyInvariants enables the post-mark black-to-white edge check.
	// A violation is a collector bug and panics.
	VerifyInvariants bool
}

func (c Config) withDefaults() Config {
	if c.RegionBytes == 0 {
		c.RegionBytes = 64 << 10
	}
	if c.MaxHeapBytes == 0 {
		c.MaxHeapBytes = 256 << 20
	}
	if c.PromotionThreshold == 0 {
		c.PromotionThreshold = 3
	}
	if c.BaseThreshold == 0 {
		c.BaseThreshold = 0.72
	}
	if c.GrowthFactor == 0 {
		c.GrowthFactor = 1.5
	}
	if c.GCWorkers == 0 {
		c.GCWorkers = 4
	}
	if c.MaxPauseTarget == 0 {
		c.MaxPauseTarget = 2 * time.Millisecond
	}
	if c.SafepointStallTimeout == 0 {
		c.SafepointStallTimeout = 100 * time.Millisecond
	}
	return c
}
