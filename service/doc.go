// Package service orchestrates the heap's supporting components:
// trace log, census store, sequencer, and snapshots.
//
// It provides a clean API for inspecting and driving the collector,
// decoupled from network transports like gRPC.
package service
