package snapshot

import "time"

type Snapshot struct {
	Seq     uint64
	Created time.Time
	Regions []RegionEntry
}

type RegionEntry struct {
	ID         uint32
	SizeClass  int32
	BlockSize  uint32
	Generation uint8
	State      string
	LiveBytes  uint64
	Capacity   uint64
}
