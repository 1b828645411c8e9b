// Package sequence issues the global cycle sequence.
package sequence

import "sync/atomic"

// Sequencer generates strictly monotonic cycle sequence IDs. IDs are
// replay-safe: after recovering the trace log, Reset to the last
// recorded sequence and numbering continues without gaps or reuse.
type Sequencer struct {
	next atomic.Uint64
}

// New creates a sequencer starting from a given value. Fresh heaps
// start at 0; recovered heaps start at the last replayed sequence.
func New(start uint64) *Sequencer {
	s := &Sequencer{}
	s.next.Store(start)
	return s
}

// Next returns the next cycle sequence ID.
func (s *Sequencer) Next() uint64 {
	return s.next.Add(1)
}

// Current returns the last issued sequence.
func (s *Sequencer) Current() uint64 {
	return s.next.Load()
}

// Reset sets the sequencer after trace replay.
func (s *Sequencer) Reset(v uint64) {
	s.next.Store(v)
}
