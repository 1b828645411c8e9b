package heap

// Tri-color mark states. White objects are unvisited, grey objects are
// queued for scanning, black objects are fully scanned. The extra
// forwarded state is only ever observed inside a relocation phase.
const (
	colorWhite uint32 = iota
	colorGrey
	colorBlack
	colorForwarded
)

// Generation tags a region or object as young (nursery) or old.
type Generation uint8

const (
	Young Generation = iota
	Old
)

func (g Generation) String() string {
	if g == Old {
		return "old"
	}
	return "young"
}

// Color is the externally visible tri-color state of an object.
type Color uint8

const (
	White Color = iota
	Grey
	Black
)

// ObjectHeader is the metadata view of one heap object. The fields are
// stored in slot-indexed side arrays owned by the region, not in the
// payload bytes; Heap.Header assembles the view.
type ObjectHeader struct {
	Mark       Color
	Age        uint8
	Generation Generation
	SizeClass  SizeClass
	Kind       ObjectKind
	Size       uint32
}

// objectAlign is the payload alignment guarantee. Block sizes are all
// multiples of it and region bases are aligned to it.
const objectAlign = 8

// maxAge saturates the survival counter.
const maxAge = 15
