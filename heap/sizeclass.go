package heap

import "fmt"

// SizeClass indexes into the size-class table. The sentinel
// classLarge marks allocations served by a dedicated single-object
// region instead of a block class.
type SizeClass int32

const classLarge SizeClass = -1

// SizeClassTable maps requested byte sizes onto block classes.
// The table is immutable after New; reconfiguration happens only
// through Config at startup.
type SizeClassTable struct {
	// block sizes in ascending order, tiny tier first
	classes []uint32
	// lookup[s/8] is the class for rounded size s, precomputed up to
	// the large threshold
	lookup         []int32
	largeThreshold uint32
}

// defaultSizeClasses is the tiny tier (<=64B, power-of-two steps)
// followed by the small tier (<=4KB).
var defaultSizeClasses = []uint32{8, 16, 32, 64, 128, 256, 512, 1024, 2048, 4096}

func newSizeClassTable(classes []uint32, largeThreshold uint32) (*SizeClassTable, error) {
	if len(classes) == 0 {
		classes = defaultSizeClasses
	}
	if largeThreshold == 0 {
		largeThreshold = classes[len(classes)-1]
	}
	if largeThreshold > classes[len(classes)-1] {
		return nil, fmt.Errorf("heap: large threshold %dB exceeds largest size class %dB",
			largeThreshold, classes[len(classes)-1])
	}
	t := &SizeClassTable{
		classes:        classes,
		largeThreshold: largeThreshold,
		lookup:         make([]int32, largeThreshold/8+1),
	}
	ci := 0
	for i := uint32(8); i <= largeThreshold; i += 8 {
		for t.classes[ci] < i {
			ci++
		}
		t.lookup[i/8] = int32(ci)
	}
	return t, nil
}

// Lookup returns the size class and rounded block size for a request.
// Requests above the large threshold get classLarge and a size rounded
// up to the heap alignment.
func (t *SizeClassTable) Lookup(size uint32) (SizeClass, uint32, error) {
	if size == 0 {
		return 0, 0, ErrInvalidSize
	}
	if size > t.largeThreshold {
		return classLarge, alignUp(size, objectAlign), nil
	}
	sc := SizeClass(t.lookup[(size+7)/8])
	return sc, t.classes[sc], nil
}

// BlockSize returns the block size of a class.
func (t *SizeClassTable) BlockSize(sc SizeClass) uint32 { return t.classes[sc] }

// NumClasses returns the number of block classes (the large tier not
// included).
func (t *SizeClassTable) NumClasses() int { return len(t.classes) }

func alignUp(n, align uint32) uint32 {
	return (n + align - 1) &^ (align - 1)
}
