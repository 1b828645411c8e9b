package service

import (
	"fmt"

	"loam/infra/sequence"
	"loam/infra/trace"
)

/*
RecoverSequence rebuilds the cycle sequence from the trace log.

IMPORTANT:
- This MUST run before the heap serves allocations
- One cycle-end record was appended per cycle, so the count of
  replayed cycle ends is the last issued sequence
*/

func RecoverSequence(tr trace.Log, seqGen *sequence.Sequencer) (uint64, error) {
	var cycles uint64
	err := tr.ReplayFrom(0, func(rec *trace.Record) {
		if rec.Type == trace.RecordCycleEnd {
			cycles++
		}
	})
	if err != nil {
		return 0, fmt.Errorf("trace replay: %w", err)
	}

	seqGen.Reset(cycles)
	return cycles, nil
}
