package snapshot

import (
	"encoding/gob"
	"os"
	"path/filepath"
	"time"

	"loam/heap"
)

type Writer struct {
	Dir string
}

// Write dumps the region census to Dir/snapshot.bin, replacing any
// previous snapshot.
func (w *Writer) Write(seq uint64, regions []heap.RegionInfo) error {
	if err := os.MkdirAll(w.Dir, 0755); err != nil {
		return err
	}

	path := filepath.Join(w.Dir, "snapshot.bin")
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	s := Snapshot{
		Seq:     seq,
		Created: time.Now(),
		Regions: make([]RegionEntry, 0, len(regions)),
	}

	for _, r := range regions {
		s.Regions = append(s.Regions, RegionEntry{
			ID:         r.ID,
			SizeClass:  r.SizeClass,
			BlockSize:  r.BlockSize,
			Generation: uint8(r.Generation),
			State:      r.State,
			LiveBytes:  r.LiveBytes,
			Capacity:   r.Capacity,
		})
	}

	return gob.NewEncoder(f).Encode(&s)
}
