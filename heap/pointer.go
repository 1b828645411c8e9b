package heap

// Pointer is a packed heap address: the high 32 bits carry the region
// id, the low 32 bits the byte offset of the object payload inside the
// region. Region ids start at 1, so the zero value is the nil pointer.
type Pointer uint64

// Nil is the null heap pointer.
const Nil Pointer = 0

func makePointer(region, offset uint32) Pointer {
	return Pointer(uint64(region)<<32 | uint64(offset))
}

func (p Pointer) regionID() uint32 { return uint32(p >> 32) }
func (p Pointer) offset() uint32   { return uint32(p) }

// IsNil reports whether p is the null pointer.
func (p Pointer) IsNil() bool { return p == Nil }
