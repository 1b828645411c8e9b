package service

import (
	"log"
	"time"

	"loam/snapshot"
)

// StartSnapshotJob periodically writes a region census snapshot to
// dir. It runs until the returned stop function is called.
func (s *HeapService) StartSnapshotJob(
	dir string,
	interval time.Duration,
) (stop func()) {
	w := &snapshot.Writer{Dir: dir}
	done := make(chan struct{})

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()

		for {
			select {
			case <-done:
				return
			case <-t.C:
				seq := s.seqGen.Current()
				if err := w.Write(seq, s.heap.Regions()); err != nil {
					log.Printf("[service] snapshot write failed: %v", err)
				}
			}
		}
	}()

	return func() { close(done) }
}
