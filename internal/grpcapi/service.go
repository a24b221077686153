// Package grpcapi exposes the conveyor grid over gRPC as the
// beltsim.v1.GridService. Messages are google.protobuf.Struct values so the
// service needs no generated code.
package grpcapi

import (
	"context"
	"time"

	"github.com/signalsfoundry/conveyor-simulator/core"
	"github.com/signalsfoundry/conveyor-simulator/internal/logging"
	"github.com/signalsfoundry/conveyor-simulator/model"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "beltsim.v1.GridService"

const (
	placeOrRotateMethod = "/" + ServiceName + "/PlaceOrRotate"
	placeBeltMethod     = "/" + ServiceName + "/PlaceBelt"
	spawnItemMethod     = "/" + ServiceName + "/SpawnItem"
	getSnapshotMethod   = "/" + ServiceName + "/GetSnapshot"
	watchMethod         = "/" + ServiceName + "/Watch"
)

// GridServer is the server API for the grid service.
type GridServer interface {
	PlaceOrRotate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	PlaceBelt(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SpawnItem(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetSnapshot(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Watch(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error
}

// GridService implements GridServer on top of a core.Registry.
type GridService struct {
	registry *core.Registry
	bounds   model.Bounds
	log      logging.Logger
}

// NewGridService constructs a GridService. Commands outside bounds are
// rejected with InvalidArgument.
func NewGridService(registry *core.Registry, bounds model.Bounds, log logging.Logger) *GridService {
	if log == nil {
		log = logging.Noop()
	}
	return &GridService{
		registry: registry,
		bounds:   bounds,
		log:      log,
	}
}

// PlaceOrRotate takes {x, y} and returns {created, direction, belt_id}.
func (s *GridService) PlaceOrRotate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := logging.FromContext(ctx, s.log)
	at, err := coordFrom(req, s.bounds)
	if err != nil {
		log.Debug(ctx, "rejecting place-or-rotate", logging.Err(err))
		return nil, ToStatusError(err)
	}

	b, created := s.registry.PlaceOrRotate(at)
	return structResponse(map[string]any{
		fieldCreated:   created,
		fieldDirection: b.Direction().String(),
		fieldBeltID:    b.ID(),
	})
}

// PlaceBelt takes {x, y, direction} and returns {belt_id, replaced}.
func (s *GridService) PlaceBelt(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := logging.FromContext(ctx, s.log)
	at, err := coordFrom(req, s.bounds)
	if err != nil {
		log.Debug(ctx, "rejecting place", logging.Err(err))
		return nil, ToStatusError(err)
	}
	d, err := directionFrom(req)
	if err != nil {
		log.Debug(ctx, "rejecting place", logging.Err(err))
		return nil, ToStatusError(err)
	}

	b, replaced := s.registry.PlaceBelt(at, d)
	if replaced {
		log.Info(ctx, "belt replaced over gRPC", logging.String("coord", at.String()))
	}
	return structResponse(map[string]any{
		fieldBeltID:   b.ID(),
		fieldReplaced: replaced,
	})
}

// SpawnItem takes {x, y} and returns {spawned, item_id}. Spawning on an
// empty cell is not an error; spawned is false.
func (s *GridService) SpawnItem(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	at, err := coordFrom(req, s.bounds)
	if err != nil {
		return nil, ToStatusError(err)
	}

	item, ok := s.registry.SpawnItem(at)
	resp := map[string]any{fieldSpawned: ok}
	if ok {
		resp[fieldItemID] = item.ID
	}
	return structResponse(resp)
}

// GetSnapshot returns the current grid.
func (s *GridService) GetSnapshot(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	out, err := snapshotStruct(s.registry.Snapshot())
	if err != nil {
		return nil, ToStatusError(err)
	}
	return out, nil
}

// Watch streams the grid once immediately and again after changes. Bursts of
// changes are coalesced into one message; an optional min_interval_ms in the
// request throttles the stream further.
func (s *GridService) Watch(req *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	ctx := stream.Context()
	log := logging.FromContext(ctx, s.log)

	var minInterval time.Duration
	if v, ok := req.GetFields()["min_interval_ms"]; ok {
		minInterval = time.Duration(v.GetNumberValue()) * time.Millisecond
	}

	changed := make(chan struct{}, 1)
	unsubscribe := s.registry.Watch(func(uint64) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	var lastVersion uint64
	send := func() error {
		snap := s.registry.Snapshot()
		if snap.Version == lastVersion && lastVersion != 0 {
			return nil
		}
		lastVersion = snap.Version
		msg, err := snapshotStruct(snap)
		if err != nil {
			return ToStatusError(err)
		}
		return stream.Send(msg)
	}

	if err := send(); err != nil {
		return err
	}
	log.Debug(ctx, "watch stream opened")
	for {
		select {
		case <-ctx.Done():
			log.Debug(ctx, "watch stream closed")
			return nil
		case <-changed:
		}
		if minInterval > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(minInterval):
			}
		}
		if err := send(); err != nil {
			return err
		}
	}
}

func structResponse(fields map[string]any) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, ToStatusError(err)
	}
	return out, nil
}

// RegisterGridServiceServer registers srv on s.
func RegisterGridServiceServer(s grpc.ServiceRegistrar, srv GridServer) {
	s.RegisterService(&GridService_ServiceDesc, srv)
}

// GridService_ServiceDesc describes beltsim.v1.GridService for grpc.ServiceRegistrar.
var GridService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*GridServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "PlaceOrRotate", Handler: unaryHandler(placeOrRotateMethod, GridServer.PlaceOrRotate)},
		{MethodName: "PlaceBelt", Handler: unaryHandler(placeBeltMethod, GridServer.PlaceBelt)},
		{MethodName: "SpawnItem", Handler: unaryHandler(spawnItemMethod, GridServer.SpawnItem)},
		{MethodName: "GetSnapshot", Handler: unaryHandler(getSnapshotMethod, GridServer.GetSnapshot)},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Watch",
			Handler:       watchHandler,
			ServerStreams: true,
		},
	},
	Metadata: "beltsim/v1/grid.proto",
}

type unaryMethod func(GridServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryMethod) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(GridServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(GridServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func watchHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(GridServer).Watch(in, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}
