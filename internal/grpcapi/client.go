package grpcapi

import (
	"context"

	"github.com/signalsfoundry/conveyor-simulator/model"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// GridClient is a thin client for beltsim.v1.GridService.
type GridClient struct {
	cc grpc.ClientConnInterface
}

// NewGridClient wraps an established connection.
func NewGridClient(cc grpc.ClientConnInterface) *GridClient {
	return &GridClient{cc: cc}
}

// PlaceOrRotate rotates or creates the belt at at.
func (c *GridClient) PlaceOrRotate(ctx context.Context, at model.Coord, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, placeOrRotateMethod, coordFields(at), opts...)
}

// PlaceBelt places a belt facing d at at, replacing any belt there.
func (c *GridClient) PlaceBelt(ctx context.Context, at model.Coord, d model.Direction, opts ...grpc.CallOption) (*structpb.Struct, error) {
	fields := coordFields(at)
	fields[fieldDirection] = d.String()
	return c.invoke(ctx, placeBeltMethod, fields, opts...)
}

// SpawnItem spawns a fresh item on the belt at at.
func (c *GridClient) SpawnItem(ctx context.Context, at model.Coord, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, spawnItemMethod, coordFields(at), opts...)
}

// GetSnapshot fetches the grid.
func (c *GridClient) GetSnapshot(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, getSnapshotMethod, map[string]any{}, opts...)
}

// Watch opens a snapshot stream.
func (c *GridClient) Watch(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error) {
	if req == nil {
		req = &structpb.Struct{}
	}
	stream, err := c.cc.NewStream(ctx, &GridService_ServiceDesc.Streams[0], watchMethod, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

func (c *GridClient) invoke(ctx context.Context, method string, fields map[string]any, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func coordFields(at model.Coord) map[string]any {
	return map[string]any{fieldX: at.X, fieldY: at.Y}
}
