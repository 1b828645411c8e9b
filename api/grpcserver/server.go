package grpcserver

import (
	"context"
	"log"

	"loam/api/gcpb"
	"loam/heap"
	"loam/service"
)

// Server adapts HeapService to gRPC.
type Server struct {
	svc *service.HeapService
}

func NewServer(svc *service.HeapService) *Server {
	return &Server{svc: svc}
}

// -------------------- Commands --------------------

func (s *Server) Collect(
	ctx context.Context,
	req *gcpb.CollectRequest,
) (*gcpb.CollectResponse, error) {
	kind := toKind(req.Kind)
	stats := s.svc.Collect(kind)

	log.Printf(
		"[gRPC] Collect kind=%v pause=%v reclaimed=%d live=%d",
		kind, stats.Pause, stats.BytesReclaimed, stats.LiveBytes,
	)

	return &gcpb.CollectResponse{
		Kind:           fromKind(stats.Kind),
		DurationNanos:  stats.Duration.Nanoseconds(),
		PauseNanos:     stats.Pause.Nanoseconds(),
		BytesPromoted:  stats.BytesPromoted,
		BytesCopied:    stats.BytesCopied,
		BytesReclaimed: stats.BytesReclaimed,
		LiveBytes:      stats.LiveBytes,
		Degraded:       stats.Degraded,
	}, nil
}

// -------------------- Queries --------------------

func (s *Server) GetStats(
	ctx context.Context,
	req *gcpb.StatsRequest,
) (*gcpb.StatsResponse, error) {
	m := s.svc.Stats()

	return &gcpb.StatsResponse{
		Cycles:          m.Cycles,
		MinorCycles:     m.MinorCycles,
		MajorCycles:     m.MajorCycles,
		PauseTotalNanos: m.PauseTotalNS,
		LastPauseNanos:  m.LastPauseNS,
		BytesPromoted:   m.BytesPromoted,
		BytesCopied:     m.BytesCopied,
		BytesReclaimed:  m.BytesReclaimed,
		SafepointStalls: m.SafepointStalls,
		LiveBytes:       m.LiveBytes,
		YoungOccupancy:  m.YoungOccupancy,
		OldOccupancy:    m.OldOccupancy,
	}, nil
}

func (s *Server) GetRegions(
	ctx context.Context,
	req *gcpb.RegionsRequest,
) (*gcpb.RegionsResponse, error) {
	regions := s.svc.Regions()

	resp := &gcpb.RegionsResponse{
		Regions: make([]*gcpb.RegionInfo, 0, len(regions)),
	}

	for _, r := range regions {
		resp.Regions = append(resp.Regions, &gcpb.RegionInfo{
			Id:         r.ID,
			SizeClass:  r.SizeClass,
			BlockSize:  r.BlockSize,
			Generation: uint32(r.Generation),
			State:      r.State,
			LiveBytes:  r.LiveBytes,
			Capacity:   r.Capacity,
		})
	}

	return resp, nil
}

// -------------------- Converters --------------------

func toKind(k uint32) heap.CycleKind {
	switch k {
	case 1:
		return heap.MajorCycle
	case 2:
		return heap.FullCycle
	default:
		return heap.MinorCycle
	}
}

func fromKind(k heap.CycleKind) uint32 {
	switch k {
	case heap.MajorCycle:
		return 1
	case heap.FullCycle:
		return 2
	default:
		return 0
	}
}
