// Package snapshot persists point-in-time region censuses of the
// heap. A snapshot pairs the cycle sequence it was taken at with a
// dump of every region's occupancy, so an operator can diff heap
// shape across restarts.
//
// Snapshots are diagnostic only. Heap contents are never serialized;
// recovery of the cycle sequence itself goes through the trace log.
package snapshot
