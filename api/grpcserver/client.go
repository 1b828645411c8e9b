package grpcserver

import (
	"context"

	"loam/api/gcpb"

	"google.golang.org/grpc"
)

// Client is a thin HeapDebug client over an existing connection.
type Client struct {
	cc *grpc.ClientConn
}

func NewClient(cc *grpc.ClientConn) *Client {
	return &Client{cc: cc}
}

func (c *Client) GetStats(ctx context.Context) (*gcpb.StatsResponse, error) {
	out := new(gcpb.StatsResponse)
	err := c.invoke(ctx, "GetStats", new(gcpb.StatsRequest), out)
	return out, err
}

func (c *Client) Collect(ctx context.Context, kind uint32) (*gcpb.CollectResponse, error) {
	out := new(gcpb.CollectResponse)
	err := c.invoke(ctx, "Collect", &gcpb.CollectRequest{Kind: kind}, out)
	return out, err
}

func (c *Client) GetRegions(ctx context.Context) (*gcpb.RegionsResponse, error) {
	out := new(gcpb.RegionsResponse)
	err := c.invoke(ctx, "GetRegions", new(gcpb.RegionsRequest), out)
	return out, err
}

func (c *Client) invoke(ctx context.Context, method string, in, out gcpb.Message) error {
	return c.cc.Invoke(
		ctx,
		"/"+ServiceName+"/"+method,
		in,
		out,
		grpc.ForceCodec(gcpb.Codec{}),
	)
}
