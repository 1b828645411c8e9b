// Package grpcserver exposes the heap debug service over gRPC. The
// service descriptor and handlers are written by hand against
// gcpb/heapdebug.proto, in the shape protoc-gen-go-grpc would emit.
package grpcserver

import (
	"context"

	"loam/api/gcpb"

	"google.golang.org/grpc"
)

const ServiceName = "gcpb.HeapDebug"

// HeapDebugServer is the server API for the HeapDebug service.
type HeapDebugServer interface {
	GetStats(context.Context, *gcpb.StatsRequest) (*gcpb.StatsResponse, error)
	Collect(context.Context, *gcpb.CollectRequest) (*gcpb.CollectResponse, error)
	GetRegions(context.Context, *gcpb.RegionsRequest) (*gcpb.RegionsResponse, error)
}

// Register registers the service implementation with a grpc.Server.
func Register(s *grpc.Server, srv HeapDebugServer) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*HeapDebugServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetStats",
			Handler:    getStatsHandler,
		},
		{
			MethodName: "Collect",
			Handler:    collectHandler,
		},
		{
			MethodName: "GetRegions",
			Handler:    getRegionsHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "api/gcpb/heapdebug.proto",
}

func getStatsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(gcpb.StatsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(HeapDebugServer).GetStats(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/" + ServiceName + "/GetStats",
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(HeapDebugServer).GetStats(ctx, req.(*gcpb.StatsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func collectHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(gcpb.CollectRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(HeapDebugServer).Collect(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/" + ServiceName + "/Collect",
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(HeapDebugServer).Collect(ctx, req.(*gcpb.CollectRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getRegionsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(gcpb.RegionsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(HeapDebugServer).GetRegions(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/" + ServiceName + "/GetRegions",
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(HeapDebugServer).GetRegions(ctx, req.(*gcpb.RegionsRequest))
	}
	return interceptor(ctx, in, info, handler)
}
